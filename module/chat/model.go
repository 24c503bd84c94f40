package chat

import (
	"time"

	"ChatSync/module/status"
)

const (
	TypePrivate = "private"
	TypeGroup   = "group"
)

// Chat is one conversation. Participants are kept in a join table and never
// change through this core (membership management is upstream).
type Chat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Type      string    `json:"type"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is immutable after creation. Status rows reference it, never own it.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is the minimal identity the chat API exposes.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChatSummary is one row of the chat list: display data plus unread count.
type ChatSummary struct {
	Chat        Chat     `json:"chat"`
	DisplayName string   `json:"displayName"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
}

// MessageView is a history row: the message plus the per-recipient statuses
// the caller is allowed to see (everyone's but their own).
type MessageView struct {
	Message  Message         `json:"message"`
	Statuses []status.Record `json:"statuses,omitempty"`
}

// PendingRead identifies one status row of the caller that is still
// sent/delivered, together with the message's sender (the identity the
// resulting status-changed event must address).
type PendingRead struct {
	MessageID string
	SenderID  string
}
