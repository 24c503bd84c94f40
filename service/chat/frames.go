package chat

import (
	"encoding/json"

	"ChatSync/tools/errs"
)

// Inbound events (client -> gateway).
const (
	EvAuthenticate     = "authenticate"
	EvJoinChat         = "join-chat"
	EvLeaveChat        = "leave-chat"
	EvTyping           = "typing"
	EvStopTyping       = "stop-typing"
	EvMessageDelivered = "message-delivered"
	EvMessageRead      = "message-read"
)

// Outbound events (gateway -> client).
const (
	EvConnected           = "connected"
	EvNewMessage          = "new-message"
	EvMessageStatusUpdate = "message-status-update"
	EvUserTyping          = "user-typing"
	EvUserStopTyping      = "user-stop-typing"
	EvUserOnline          = "user-online"
	EvUserOffline         = "user-offline"
)

// Frame is one websocket message in either direction: an event name plus a
// free-form JSON object payload.
type Frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.Wrap(errs.ErrMalformedEvent, err.Error())
	}
	if f.Event == "" {
		return nil, errs.Wrap(errs.ErrMalformedEvent, "missing event name")
	}
	return &f, nil
}

// BuildFrame marshals an outbound frame. data may be any JSON-serializable
// value.
func BuildFrame(event string, data any) ([]byte, error) {
	payload := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: data}
	return json.Marshal(payload)
}

// Inbound payload shapes. Decoded from Frame.Data with tools/decode.

type AuthPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type RoomPayload struct {
	ChatID string `json:"chatId"`
}

type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserName string `json:"userName"`
}

type AckPayload struct {
	MessageID string `json:"messageId"`
}
