package bus

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"ChatSync/logger"
)

// NatsBus implements Bus on core NATS subjects. The client library owns the
// reconnect loop (unlimited retries, capped wait) and restores subscriptions
// on reconnect, which satisfies the same resubscribe-before-consume contract
// the Redis driver implements by hand.
type NatsBus struct {
	nc *nats.Conn
}

func NewNatsBus(url string) (*NatsBus, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*nats.DefaultTimeout/10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[bus] nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("[bus] nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &NatsBus{nc: nc}, nil
}

func (b *NatsBus) Publish(ctx context.Context, topic string, v any) error {
	data, err := marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	if err := b.nc.Publish(topic, data); err != nil {
		return errors.Wrapf(err, "publish %s", topic)
	}
	return nil
}

func (b *NatsBus) Subscribe(ctx context.Context, topics []string, h Handler) error {
	msgs := make(chan *nats.Msg, 1024)
	subs := make([]*nats.Subscription, 0, len(topics))
	for _, t := range topics {
		sub, err := b.nc.ChanSubscribe(t, msgs)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return errors.Wrapf(err, "subscribe %s", t)
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	logger.Infof("[bus] nats subscribed topics=%v", topics)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-msgs:
			ev := Message{Topic: m.Subject, Data: append([]byte(nil), m.Data...)}
			if err := h(ctx, ev); err != nil {
				logger.Warnf("[bus] handler error topic=%s: %v", ev.Topic, err)
			}
		}
	}
}

func (b *NatsBus) Healthy() bool { return b.nc.IsConnected() }

func (b *NatsBus) Close() error {
	b.nc.Close()
	return nil
}
