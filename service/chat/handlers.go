package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ChatSync/logger"
	"ChatSync/service/bus"
	"ChatSync/tools/decode"
	"ChatSync/tools/errs"
	"ChatSync/tools/security"
)

// handleAuthenticate binds the connection to a user identity. Idempotent per
// connection. With a configured secret the identity comes from the verified
// token subject; otherwise the bare userId is trusted.
func (s *Server) handleAuthenticate(c *Client, f *Frame) error {
	p, err := decode.Map[AuthPayload](f.Data)
	if err != nil {
		return errs.Wrap(errs.ErrMalformedEvent, err.Error())
	}

	userID := p.UserID
	if len(s.cfg.JWTSecret) > 0 {
		if p.Token == "" {
			return errs.Wrap(errs.ErrMalformedEvent, "authenticate without token")
		}
		userID, err = security.VerifySubject(security.DefaultOptions(s.cfg.JWTSecret), p.Token)
		if err != nil {
			return errs.Wrap(err, "token verification")
		}
	}
	if userID == "" {
		return errs.Wrap(errs.ErrMalformedEvent, "authenticate without userId")
	}

	first, err := s.reg.Bind(c.ConnID, userID)
	if err != nil {
		return err
	}
	logger.Info("session authenticated",
		zap.String("connId", c.ConnID), zap.String("userId", userID))

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.presence.Online(ctx, userID, s.cfg.GatewayID); err != nil {
			logger.Warnf("[presence] online failed user=%s: %v", userID, err)
		}
	}
	if first {
		s.emitPresence(EvUserOnline, userID, c.ConnID)
	}
	return nil
}

func (s *Server) handleJoinChat(c *Client, f *Frame) error {
	p, err := decode.Map[RoomPayload](f.Data)
	if err != nil || p.ChatID == "" {
		return errs.Wrap(errs.ErrMalformedEvent, "join-chat without chatId")
	}
	// No membership check here: the write path already publishes new-message
	// only for committed chats, and joins were authorized upstream.
	return s.reg.Join(c.ConnID, p.ChatID)
}

func (s *Server) handleLeaveChat(c *Client, f *Frame) error {
	p, err := decode.Map[RoomPayload](f.Data)
	if err != nil || p.ChatID == "" {
		return errs.Wrap(errs.ErrMalformedEvent, "leave-chat without chatId")
	}
	s.reg.Leave(c.ConnID, p.ChatID)
	return nil
}

// handleTyping relays to the rest of the room. Not persisted, not tracked,
// last write wins.
func (s *Server) handleTyping(c *Client, f *Frame) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	p, err := decode.Map[TypingPayload](f.Data)
	if err != nil || p.ChatID == "" {
		return errs.Wrap(errs.ErrMalformedEvent, "typing without chatId")
	}
	frame, err := BuildFrame(EvUserTyping, map[string]string{
		"userId":   userID,
		"userName": p.UserName,
		"chatId":   p.ChatID,
	})
	if err != nil {
		return err
	}
	s.fanout.Broadcast(s.reg.RoomMembersExcept(p.ChatID, c.ConnID), frame)
	return nil
}

func (s *Server) handleStopTyping(c *Client, f *Frame) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	p, err := decode.Map[RoomPayload](f.Data)
	if err != nil || p.ChatID == "" {
		return errs.Wrap(errs.ErrMalformedEvent, "stop-typing without chatId")
	}
	frame, err := BuildFrame(EvUserStopTyping, map[string]string{
		"userId": userID,
		"chatId": p.ChatID,
	})
	if err != nil {
		return err
	}
	s.fanout.Broadcast(s.reg.RoomMembersExcept(p.ChatID, c.ConnID), frame)
	return nil
}

// handleDelivered republishes the client's delivery ack upstream, stamped
// with the bound identity and a server clock. Fire and forget: no
// acknowledgment goes back to the client.
func (s *Server) handleDelivered(c *Client, f *Frame) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	p, err := decode.Map[AckPayload](f.Data)
	if err != nil || p.MessageID == "" {
		return errs.Wrap(errs.ErrMalformedEvent, "message-delivered without messageId")
	}
	ev := bus.DeliveredEvent{
		MessageID:   p.MessageID,
		UserID:      userID,
		DeliveredAt: time.Now().UTC(),
	}
	return s.publishAck(bus.TopicMessageDelivered, p.MessageID, ev)
}

func (s *Server) handleRead(c *Client, f *Frame) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	p, err := decode.Map[AckPayload](f.Data)
	if err != nil || p.MessageID == "" {
		return errs.Wrap(errs.ErrMalformedEvent, "message-read without messageId")
	}
	ev := bus.ReadEvent{
		MessageID: p.MessageID,
		UserID:    userID,
		ReadAt:    time.Now().UTC(),
	}
	return s.publishAck(bus.TopicMessageRead, p.MessageID, ev)
}

func (s *Server) publishAck(topic, messageID string, ev any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.bus.Publish(ctx, topic, ev); err != nil {
		// lost ack: the client re-emits on its next relevant UI event
		logger.Warn("ack publish failed",
			zap.String("topic", topic), zap.String("messageId", messageID), zap.Error(err))
	}
	return nil
}
