package chat

import (
	"context"

	"ChatSync/tools/errs"
)

// ErrNotParticipant rejects writes from users outside the chat. This is the
// only place membership is enforced; the gateway trusts joins (see the room
// trust boundary in service/chat).
var ErrNotParticipant = errs.New("user is not a chat participant")

// Repo is the durable chat/message table access the API process needs.
type Repo interface {
	// IsParticipant reports whether userID belongs to chatID.
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)

	// Recipients returns every participant of chatID except senderID.
	Recipients(ctx context.Context, chatID, senderID string) ([]string, error)

	// CreateMessage persists m and, when the repo also owns the status
	// table, one `sent` status row per recipient in the same transaction.
	CreateMessage(ctx context.Context, m Message, recipients []string) error

	// MessageSender returns the user who sent messageID.
	// errs.ErrNotFound when unknown.
	MessageSender(ctx context.Context, messageID string) (string, error)

	// ListChats returns the caller's chats with last message, display name
	// and unread count.
	ListChats(ctx context.Context, userID string) ([]ChatSummary, error)

	// ListMessages returns chat history in creation order with the status
	// rows of recipients other than the caller.
	ListMessages(ctx context.Context, chatID, callerID string) ([]MessageView, error)

	// PendingReads lists the caller's not-yet-read status rows in chatID
	// with each message's sender.
	PendingReads(ctx context.Context, chatID, userID string) ([]PendingRead, error)

	// EnsurePrivateChat returns the existing private chat between the two
	// users, creating it (with both participants) when absent.
	EnsurePrivateChat(ctx context.Context, userID, otherID string) (Chat, error)

	// ListUsers returns all users except excludeID.
	ListUsers(ctx context.Context, excludeID string) ([]User, error)

	// UserName resolves a user's display name. errs.ErrNotFound when unknown.
	UserName(ctx context.Context, userID string) (string, error)
}
