package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect subscribes in the background and funnels received messages into a
// channel the test can drain with a timeout.
func collect(t *testing.T, b Bus, topics ...string) (<-chan Message, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Message, 32)
	go func() {
		_ = b.Subscribe(ctx, topics, func(_ context.Context, m Message) error {
			out <- m
			return nil
		})
	}()
	// MemoryBus registers synchronously inside Subscribe; give the goroutine
	// a beat to get there before the test publishes.
	time.Sleep(10 * time.Millisecond)
	return out, cancel
}

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus message")
		return Message{}
	}
}

func TestMemoryBusDeliversToSubscribedTopics(t *testing.T) {
	b := NewMemoryBus()
	out, cancel := collect(t, b, TopicNewMessage)
	defer cancel()

	ev := NewMessageEvent{ChatID: "c1", Message: MessagePayload{ID: "m1", UserID: "u1", Message: "hi"}}
	require.NoError(t, b.Publish(context.Background(), TopicNewMessage, ev))

	m := recv(t, out)
	assert.Equal(t, TopicNewMessage, m.Topic)
	var got NewMessageEvent
	require.NoError(t, json.Unmarshal(m.Data, &got))
	assert.Equal(t, "c1", got.ChatID)
	assert.Equal(t, "m1", got.Message.ID)
}

func TestMemoryBusFiltersTopics(t *testing.T) {
	b := NewMemoryBus()
	out, cancel := collect(t, b, TopicMessageRead)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, TopicMessageDelivered, DeliveredEvent{MessageID: "m1", UserID: "u1"}))
	require.NoError(t, b.Publish(ctx, TopicMessageRead, ReadEvent{MessageID: "m2", UserID: "u1"}))

	m := recv(t, out)
	assert.Equal(t, TopicMessageRead, m.Topic, "delivered event must not reach a read-only subscriber")
	select {
	case extra := <-out:
		t.Fatalf("unexpected extra message on topic %s", extra.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusFanOutToAllSubscribers(t *testing.T) {
	b := NewMemoryBus()
	out1, cancel1 := collect(t, b, TopicStatusChanged)
	defer cancel1()
	out2, cancel2 := collect(t, b, TopicStatusChanged)
	defer cancel2()

	ev := StatusChangedEvent{MessageID: "m1", UserID: "sender", Status: "read"}
	require.NoError(t, b.Publish(context.Background(), TopicStatusChanged, ev))

	for _, out := range []<-chan Message{out1, out2} {
		var got StatusChangedEvent
		require.NoError(t, json.Unmarshal(recv(t, out).Data, &got))
		assert.Equal(t, "read", got.Status)
	}
}

func TestMemoryBusPublishWithoutSubscribers(t *testing.T) {
	b := NewMemoryBus()
	// at-least-once toward live subscribers only; no replay, no error
	assert.NoError(t, b.Publish(context.Background(), TopicNewMessage, NewMessageEvent{ChatID: "c1"}))
}

func TestMemoryBusSubscribeStopsOnCancel(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, []string{TopicNewMessage}, func(context.Context, Message) error { return nil })
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestBackoffCapsAndJitters(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		d := backoff(attempt)
		assert.GreaterOrEqual(t, d, 180*time.Millisecond)
		assert.Less(t, d, 6*time.Second)
	}
}
