package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ChatSync/logger"
	"ChatSync/module/status"
	"ChatSync/service/bus"
	"ChatSync/tools/errs"
	"ChatSync/tools/ids"
)

var ErrEmptyMessage = errs.New("message body is empty")
var ErrMessageTooLong = errs.New("message body too long")

// Service is the persistence-side write path. It owns the collaborator
// contract of the pipeline: message and status rows are committed first,
// new-message is published only afterwards, never on a failed write.
type Service struct {
	repo     Repo
	statuses status.Store
	bus      bus.Bus

	// inlineStatuses: CreateMessage already persisted the status rows
	// (shared-database repo); otherwise the service writes them through the
	// status store after the message commit.
	inlineStatuses bool
	maxBody        int
}

func NewService(repo Repo, statuses status.Store, b bus.Bus, inlineStatuses bool, maxBody int) *Service {
	if maxBody <= 0 {
		maxBody = 5000
	}
	return &Service{
		repo:           repo,
		statuses:       statuses,
		bus:            b,
		inlineStatuses: inlineStatuses,
		maxBody:        maxBody,
	}
}

// Send validates, persists and announces one message. One `sent` status row
// is created per participant except the sender. The returned message is the
// caller's direct success result; fan-out to live sessions is best-effort
// from here on.
func (s *Service) Send(ctx context.Context, chatID, userID, body string) (*Message, error) {
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if len(body) > s.maxBody {
		return nil, ErrMessageTooLong
	}

	ok, err := s.repo.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	userName, err := s.repo.UserName(ctx, userID)
	if err != nil {
		return nil, err
	}
	recipients, err := s.repo.Recipients(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	m := Message{
		ID:        ids.GenerateString(),
		ChatID:    chatID,
		UserID:    userID,
		UserName:  userName,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateMessage(ctx, m, recipients); err != nil {
		return nil, err
	}
	if !s.inlineStatuses {
		for _, uid := range recipients {
			if err := s.statuses.Create(ctx, m.ID, uid, m.CreatedAt); err != nil {
				return nil, err
			}
		}
	}

	ev := bus.NewMessageEvent{
		ChatID: chatID,
		Message: bus.MessagePayload{
			ID:        m.ID,
			UserID:    m.UserID,
			UserName:  m.UserName,
			Message:   m.Body,
			CreatedAt: m.CreatedAt,
		},
	}
	if err := s.bus.Publish(ctx, bus.TopicNewMessage, ev); err != nil {
		// The rows are committed; live fan-out is lost but the store stays
		// authoritative. Recipients catch up on their next history load.
		logger.Warn("new-message publish failed",
			zap.String("messageId", m.ID), zap.Error(err))
	}
	return &m, nil
}

// ListChats returns the caller's chats for the index view.
func (s *Service) ListChats(ctx context.Context, userID string) ([]ChatSummary, error) {
	return s.repo.ListChats(ctx, userID)
}

// OpenChat returns the chat history for a participant and marks every
// pending status row of theirs as read, publishing one status-changed per
// real transition (mirrors opening the conversation in the UI).
func (s *Service) OpenChat(ctx context.Context, chatID, userID string) ([]MessageView, error) {
	ok, err := s.repo.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	views, err := s.repo.ListMessages(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	s.markChatRead(ctx, chatID, userID)
	return views, nil
}

func (s *Service) markChatRead(ctx context.Context, chatID, userID string) {
	pending, err := s.repo.PendingReads(ctx, chatID, userID)
	if err != nil {
		logger.Warn("pending reads lookup failed",
			zap.String("chatId", chatID), zap.Error(err))
		return
	}
	now := time.Now().UTC()
	for _, p := range pending {
		ch, applied, err := status.Advance(ctx, s.statuses, p.MessageID, userID, status.KindRead, now)
		if err != nil {
			logger.Warn("mark read failed",
				zap.String("messageId", p.MessageID), zap.Error(err))
			continue
		}
		if !applied {
			continue
		}
		ev := bus.StatusChangedEvent{
			MessageID: p.MessageID,
			UserID:    p.SenderID,
			Status:    string(ch.To),
		}
		if err := s.bus.Publish(ctx, bus.TopicStatusChanged, ev); err != nil {
			logger.Warn("status-changed publish failed",
				zap.String("messageId", p.MessageID), zap.Error(err))
		}
	}
}

// EnsurePrivateChat finds or creates the 1:1 chat between the caller and
// another user.
func (s *Service) EnsurePrivateChat(ctx context.Context, userID, otherID string) (Chat, error) {
	if _, err := s.repo.UserName(ctx, otherID); err != nil {
		return Chat{}, err
	}
	return s.repo.EnsurePrivateChat(ctx, userID, otherID)
}

// ListUsers returns everyone the caller can start a chat with.
func (s *Service) ListUsers(ctx context.Context, userID string) ([]User, error) {
	return s.repo.ListUsers(ctx, userID)
}
