package bus

import (
	"context"
	"sync"

	"ChatSync/logger"
)

// MemoryBus is an in-process Bus used by unit tests and single-binary dev
// runs. Same contract as the network drivers: no replay, lossy toward absent
// subscribers.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []*memSub
	closed bool
}

type memSub struct {
	topics map[string]struct{}
	ch     chan Message
}

func NewMemoryBus() *MemoryBus { return &MemoryBus{} }

func (b *MemoryBus) Publish(ctx context.Context, topic string, v any) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if _, ok := s.topics[topic]; !ok {
			continue
		}
		select {
		case s.ch <- Message{Topic: topic, Data: data}:
		default:
			// subscriber not draining: drop, like a dead network peer
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topics []string, h Handler) error {
	s := &memSub{topics: make(map[string]struct{}, len(topics)), ch: make(chan Message, 256)}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		for i, cur := range b.subs {
			if cur == s {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-s.ch:
			if err := h(ctx, m); err != nil {
				logger.Warnf("[bus] handler error topic=%s: %v", m.Topic, err)
			}
		}
	}
}

func (b *MemoryBus) Healthy() bool { return true }

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
