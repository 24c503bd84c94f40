package bus

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"
)

// Topics are the wire contract between the persistence side and the gateway
// side. Names are exact; both processes must agree.
const (
	// TopicNewMessage carries a freshly committed message to the gateway for
	// room fan-out. Published by the API after the insert transaction commits.
	TopicNewMessage = "new-message"

	// TopicStatusChanged carries a real status transition back to the
	// original sender's sessions. Published by the relay (and by the API's
	// mark-read-on-open path).
	TopicStatusChanged = "status-changed"

	// TopicMessageDelivered and TopicMessageRead carry client-observed acks
	// from the gateway upstream for durable persistence.
	TopicMessageDelivered = "message-delivered"
	TopicMessageRead      = "message-read"
)

// Message is one consumed event. Data is the raw JSON payload.
type Message struct {
	Topic string
	Data  []byte
}

// Handler processes one consumed event. A returned error is logged and the
// event dropped; redelivery is the bus's responsibility, so handlers must be
// idempotent.
type Handler func(ctx context.Context, m Message) error

// Bus is an ordered, at-least-once pub/sub channel. It keeps no state beyond
// in-flight delivery to currently connected subscribers; the authoritative
// state lives in the status store.
type Bus interface {
	// Publish marshals v as JSON and publishes it on topic.
	Publish(ctx context.Context, topic string, v any) error

	// Subscribe consumes all listed topics until ctx is done. Implementations
	// reconnect internally with bounded exponential backoff and resubscribe
	// to every topic before resuming consumption; they never give up.
	Subscribe(ctx context.Context, topics []string, h Handler) error

	// Healthy reports current upstream connectivity (for liveness probes).
	Healthy() bool

	Close() error
}

func marshal(v any) ([]byte, error) {
	if raw, ok := v.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// backoff returns the bounded, jittered reconnect delay for the given
// attempt: 200ms base doubling up to a 5s cap, +/-10% jitter.
func backoff(attempt int) time.Duration {
	const (
		base = 200 * time.Millisecond
		cap  = 5 * time.Second
	)
	d := base << uint(attempt)
	if d > cap || d <= 0 {
		d = cap
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	return d - d/10 + jitter
}
