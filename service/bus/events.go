package bus

import "time"

// MessagePayload is the message body carried inside a new-message event,
// shaped exactly as the gateway re-emits it to room members.
type MessagePayload struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessageEvent is published on new-message after the message and its
// status rows are committed.
type NewMessageEvent struct {
	ChatID  string         `json:"chatId"`
	Message MessagePayload `json:"message"`
}

// StatusChangedEvent is published on status-changed after a real transition.
// UserID names the original sender, the only identity the gateway notifies.
type StatusChangedEvent struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`
}

// DeliveredEvent is published on message-delivered by the gateway when a
// recipient's client acknowledges on-screen delivery.
type DeliveredEvent struct {
	MessageID   string    `json:"messageId"`
	UserID      string    `json:"userId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// ReadEvent is published on message-read by the gateway when a recipient's
// client reports the message as read.
type ReadEvent struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}
