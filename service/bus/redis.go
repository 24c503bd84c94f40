package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"ChatSync/logger"
)

// RedisBus implements Bus on Redis pub/sub channels. Delivery reaches only
// subscribers connected at publish time, which matches the contract: no
// durable replay, the store is the source of truth.
type RedisBus struct {
	rdb     *redis.Client
	healthy atomic.Bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisBus(c RedisConfig) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping")
	}
	b := &RedisBus{rdb: rdb}
	b.healthy.Store(true)
	return b, nil
}

// Client exposes the underlying connection for co-located concerns
// (presence keys share the gateway's Redis).
func (b *RedisBus) Client() *redis.Client { return b.rdb }

func (b *RedisBus) Publish(ctx context.Context, topic string, v any) error {
	data, err := marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	if err := b.rdb.Publish(ctx, topic, data).Err(); err != nil {
		return errors.Wrapf(err, "publish %s", topic)
	}
	return nil
}

// Subscribe consumes topics until ctx is done. The inner loop re-subscribes
// from scratch after any receive failure, with bounded backoff between
// attempts.
func (b *RedisBus) Subscribe(ctx context.Context, topics []string, h Handler) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sub := b.rdb.Subscribe(ctx, topics...)
		// Confirm the subscription before declaring ourselves consuming.
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			b.healthy.Store(false)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d := backoff(attempt)
			attempt++
			logger.Warnf("[bus] redis subscribe failed, retry in %s: %v", d, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
			continue
		}

		b.healthy.Store(true)
		attempt = 0
		logger.Infof("[bus] redis subscribed topics=%v", topics)

		err := b.consume(ctx, sub, h)
		_ = sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.healthy.Store(false)
		d := backoff(attempt)
		attempt++
		logger.Warnf("[bus] redis consume interrupted, retry in %s: %v", d, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

func (b *RedisBus) consume(ctx context.Context, sub *redis.PubSub, h Handler) error {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			m := Message{Topic: msg.Channel, Data: []byte(msg.Payload)}
			if err := h(ctx, m); err != nil {
				logger.Warnf("[bus] handler error topic=%s: %v", m.Topic, err)
			}
		}
	}
}

func (b *RedisBus) Healthy() bool {
	return b.healthy.Load() && b.rdb.Ping(context.Background()).Err() == nil
}

func (b *RedisBus) Close() error { return b.rdb.Close() }
