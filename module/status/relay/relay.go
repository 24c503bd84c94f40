package relay

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"ChatSync/logger"
	"ChatSync/module/status"
	"ChatSync/service/bus"
	"ChatSync/tools/errs"
)

// SenderLookup resolves the original sender of a message, the identity a
// status-changed event is addressed to.
type SenderLookup interface {
	MessageSender(ctx context.Context, messageID string) (string, error)
}

// Relay is the durable-side consumer of client-observed signals. It applies
// each delivered/read ack to the status store through the transition engine
// and republishes a status-changed event only when a real transition landed.
//
// There is no local retry loop: a failed ack is superseded by the next one
// the client re-emits, and reconnection to the bus is the bus driver's job.
type Relay struct {
	bus     bus.Bus
	store   status.Store
	senders SenderLookup
}

func New(b bus.Bus, store status.Store, senders SenderLookup) *Relay {
	return &Relay{bus: b, store: store, senders: senders}
}

// Run consumes until ctx is done. Blocks.
func (r *Relay) Run(ctx context.Context) error {
	topics := []string{bus.TopicMessageDelivered, bus.TopicMessageRead}
	logger.Infof("[relay] consuming topics=%v", topics)
	return r.bus.Subscribe(ctx, topics, r.Handle)
}

// ackPayload is the common shape of message-delivered and message-read
// events; only the timestamp field differs.
type ackPayload struct {
	MessageID   string     `json:"messageId"`
	UserID      string     `json:"userId"`
	DeliveredAt *time.Time `json:"deliveredAt"`
	ReadAt      *time.Time `json:"readAt"`
}

// Handle processes one bus event. Malformed and stale events are dropped
// after a warning; only transient store failures propagate (bus redelivery
// is the retry).
func (r *Relay) Handle(ctx context.Context, m bus.Message) error {
	var p ackPayload
	if err := json.Unmarshal(m.Data, &p); err != nil {
		logger.Warn("dropping unparseable ack",
			zap.String("topic", m.Topic), zap.Error(err))
		return nil
	}
	if p.MessageID == "" || p.UserID == "" {
		logger.Warn("dropping ack with missing fields",
			zap.String("topic", m.Topic), zap.ByteString("payload", m.Data))
		return nil
	}

	var kind status.Kind
	at := time.Now().UTC()
	switch m.Topic {
	case bus.TopicMessageDelivered:
		kind = status.KindDelivered
		if p.DeliveredAt != nil {
			at = *p.DeliveredAt
		}
	case bus.TopicMessageRead:
		kind = status.KindRead
		if p.ReadAt != nil {
			at = *p.ReadAt
		}
	default:
		return nil
	}

	ch, applied, err := status.Advance(ctx, r.store, p.MessageID, p.UserID, kind, at)
	if errs.IsNotFound(err) {
		// stale or invalid signal, not an error: the row never existed
		logger.Warn("status row not found, dropping ack",
			zap.String("messageId", p.MessageID), zap.String("userId", p.UserID))
		return nil
	}
	if err != nil {
		return errs.Wrapf(err, "advance %s/%s", p.MessageID, p.UserID)
	}
	if !applied {
		// duplicate or regression: nothing persisted, nothing published
		return nil
	}

	sender, err := r.senders.MessageSender(ctx, p.MessageID)
	if errs.IsNotFound(err) {
		logger.Warn("message sender not found, status change not announced",
			zap.String("messageId", p.MessageID))
		return nil
	}
	if err != nil {
		return errs.Wrapf(err, "sender lookup %s", p.MessageID)
	}

	ev := bus.StatusChangedEvent{
		MessageID: p.MessageID,
		UserID:    sender,
		Status:    string(ch.To),
	}
	if err := r.bus.Publish(ctx, bus.TopicStatusChanged, ev); err != nil {
		return errs.Wrap(err, "publish status-changed")
	}
	logger.Debug("status advanced",
		zap.String("messageId", p.MessageID),
		zap.String("userId", p.UserID),
		zap.String("status", string(ch.To)))
	return nil
}
