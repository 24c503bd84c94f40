package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatSync/module/status"
	"ChatSync/service/bus"
	"ChatSync/tools/errs"
)

// fakeRepo is an in-memory Repo good enough for the write-path contract
// tests: fixed membership, recorded CreateMessage calls.
type fakeRepo struct {
	mu           sync.Mutex
	participants map[string][]string // chatID -> userIDs
	users        map[string]string   // userID -> name
	created      []Message
	senders      map[string]string // messageID -> senderID
	pending      []PendingRead
	failCreate   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		participants: map[string][]string{"chat-1": {"alice", "bob", "carol"}},
		users:        map[string]string{"alice": "Alice", "bob": "Bob", "carol": "Carol"},
		senders:      map[string]string{},
	}
}

func (r *fakeRepo) IsParticipant(_ context.Context, chatID, userID string) (bool, error) {
	for _, u := range r.participants[chatID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) Recipients(_ context.Context, chatID, senderID string) ([]string, error) {
	var out []string
	for _, u := range r.participants[chatID] {
		if u != senderID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateMessage(_ context.Context, m Message, _ []string) error {
	if r.failCreate != nil {
		return r.failCreate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, m)
	r.senders[m.ID] = m.UserID
	return nil
}

func (r *fakeRepo) MessageSender(_ context.Context, messageID string) (string, error) {
	if s, ok := r.senders[messageID]; ok {
		return s, nil
	}
	return "", errs.ErrNotFound
}

func (r *fakeRepo) ListChats(_ context.Context, _ string) ([]ChatSummary, error) {
	return nil, nil
}

func (r *fakeRepo) ListMessages(_ context.Context, _, _ string) ([]MessageView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MessageView
	for _, m := range r.created {
		out = append(out, MessageView{Message: m})
	}
	return out, nil
}

func (r *fakeRepo) PendingReads(_ context.Context, _, _ string) ([]PendingRead, error) {
	return r.pending, nil
}

func (r *fakeRepo) EnsurePrivateChat(_ context.Context, userID, otherID string) (Chat, error) {
	return Chat{ID: "chat-priv", Type: TypePrivate, CreatedBy: userID, CreatedAt: time.Now().UTC()}, nil
}

func (r *fakeRepo) ListUsers(_ context.Context, excludeID string) ([]User, error) {
	var out []User
	for id, name := range r.users {
		if id != excludeID {
			out = append(out, User{ID: id, Name: name})
		}
	}
	return out, nil
}

func (r *fakeRepo) UserName(_ context.Context, userID string) (string, error) {
	if name, ok := r.users[userID]; ok {
		return name, nil
	}
	return "", errs.ErrNotFound
}

type capturedBus struct {
	mu        sync.Mutex
	published []bus.Message
	failWith  error
}

func (b *capturedBus) Publish(ctx context.Context, topic string, v any) error {
	if b.failWith != nil {
		return b.failWith
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, bus.Message{Topic: topic, Data: data})
	return nil
}

func (b *capturedBus) Subscribe(ctx context.Context, _ []string, _ bus.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *capturedBus) Healthy() bool { return true }
func (b *capturedBus) Close() error  { return nil }

func (b *capturedBus) topic(topic string) []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bus.Message
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *fakeRepo, *capturedBus, *status.MemStore) {
	t.Helper()
	repo := newFakeRepo()
	b := &capturedBus{}
	store := status.NewMemStore()
	svc := NewService(repo, store, b, false, 100)
	return svc, repo, b, store
}

func TestSendPersistsStatusesAndPublishes(t *testing.T) {
	ctx := context.Background()
	svc, repo, b, store := newTestService(t)

	m, err := svc.Send(ctx, "chat-1", "alice", "hello")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "Alice", m.UserName)
	require.Len(t, repo.created, 1)

	// one sent row per recipient, none for the sender
	for _, uid := range []string{"bob", "carol"} {
		rec, err := store.Get(ctx, m.ID, uid)
		require.NoError(t, err)
		assert.Equal(t, status.StatusSent, rec.Status)
	}
	_, err = store.Get(ctx, m.ID, "alice")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	events := b.topic(bus.TopicNewMessage)
	require.Len(t, events, 1)
	var ev bus.NewMessageEvent
	require.NoError(t, json.Unmarshal(events[0].Data, &ev))
	assert.Equal(t, "chat-1", ev.ChatID)
	assert.Equal(t, m.ID, ev.Message.ID)
	assert.Equal(t, "hello", ev.Message.Message)
}

func TestSendRejectsEmptyAndOversized(t *testing.T) {
	ctx := context.Background()
	svc, repo, b, _ := newTestService(t)

	_, err := svc.Send(ctx, "chat-1", "alice", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Send(ctx, "chat-1", "alice", strings.Repeat("x", 101))
	assert.ErrorIs(t, err, ErrMessageTooLong)

	assert.Empty(t, repo.created)
	assert.Empty(t, b.topic(bus.TopicNewMessage), "rejected sends never reach the bus")
}

func TestSendRejectsNonParticipant(t *testing.T) {
	svc, _, b, _ := newTestService(t)

	_, err := svc.Send(context.Background(), "chat-1", "mallory", "hi")
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Empty(t, b.topic(bus.TopicNewMessage))
}

func TestSendFailedWriteIsNotAnnounced(t *testing.T) {
	svc, repo, b, _ := newTestService(t)
	repo.failCreate = errs.New("db down")

	_, err := svc.Send(context.Background(), "chat-1", "alice", "hi")
	assert.Error(t, err)
	assert.Empty(t, b.topic(bus.TopicNewMessage), "publish happens only after the commit")
}

func TestSendSurvivesPublishFailure(t *testing.T) {
	svc, repo, b, _ := newTestService(t)
	b.failWith = errs.New("bus down")

	m, err := svc.Send(context.Background(), "chat-1", "alice", "hi")
	require.NoError(t, err, "the committed write is the success result")
	require.NotNil(t, m)
	assert.Len(t, repo.created, 1)
}

func TestOpenChatMarksPendingRead(t *testing.T) {
	ctx := context.Background()
	svc, repo, b, store := newTestService(t)

	m, err := svc.Send(ctx, "chat-1", "alice", "hello")
	require.NoError(t, err)
	repo.pending = []PendingRead{{MessageID: m.ID, SenderID: "alice"}}

	views, err := svc.OpenChat(ctx, "chat-1", "bob")
	require.NoError(t, err)
	assert.Len(t, views, 1)

	rec, err := store.Get(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, status.StatusRead, rec.Status)

	events := b.topic(bus.TopicStatusChanged)
	require.Len(t, events, 1)
	var ev bus.StatusChangedEvent
	require.NoError(t, json.Unmarshal(events[0].Data, &ev))
	assert.Equal(t, "alice", ev.UserID, "addressed to the sender")
	assert.Equal(t, "read", ev.Status)

	// second open: rows already read, nothing new on the bus
	_, err = svc.OpenChat(ctx, "chat-1", "bob")
	require.NoError(t, err)
	assert.Len(t, b.topic(bus.TopicStatusChanged), 1)
}

func TestOpenChatRejectsNonParticipant(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.OpenChat(context.Background(), "chat-1", "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSendInlineStatusesSkipsStore(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	b := &capturedBus{}
	store := status.NewMemStore()
	svc := NewService(repo, store, b, true, 100)

	m, err := svc.Send(ctx, "chat-1", "alice", "hello")
	require.NoError(t, err)

	// repo owns the status rows in its own transaction; the store sees nothing
	_, err = store.Get(ctx, m.ID, "bob")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Len(t, b.topic(bus.TopicNewMessage), 1)
}

func TestEnsurePrivateChatUnknownPeer(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.EnsurePrivateChat(context.Background(), "alice", "nobody")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListUsersExcludesCaller(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	users, err := svc.ListUsers(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, users, 2)
	for _, u := range users {
		assert.NotEqual(t, "alice", u.ID)
	}
}
