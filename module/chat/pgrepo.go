package chat

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"ChatSync/module/status"
	"ChatSync/tools/errs"
	"ChatSync/tools/ids"
)

// PgRepo implements Repo on Postgres. With inlineStatuses the status table
// lives in the same database and CreateMessage writes message and status
// rows in one transaction (publish-after-commit contract); without it, the
// status backend is elsewhere and the service creates status rows through
// status.Store after the message commits.
type PgRepo struct {
	pool           *pgxpool.Pool
	inlineStatuses bool
}

func NewPgRepo(pool *pgxpool.Pool, inlineStatuses bool) *PgRepo {
	return &PgRepo{pool: pool, inlineStatuses: inlineStatuses}
}

// InlineStatuses reports whether CreateMessage already wrote status rows.
func (r *PgRepo) InlineStatuses() bool { return r.inlineStatuses }

func (r *PgRepo) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2
		)`, chatID, userID).Scan(&ok)
	return ok, errors.Wrap(err, "participant check")
}

func (r *PgRepo) Recipients(ctx context.Context, chatID, senderID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM chat_participants
		WHERE chat_id = $1 AND user_id <> $2`, chatID, senderID)
	if err != nil {
		return nil, errors.Wrap(err, "list recipients")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *PgRepo) CreateMessage(ctx context.Context, m Message, recipients []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, chat_id, user_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChatID, m.UserID, m.Body, m.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert message")
	}

	if r.inlineStatuses {
		for _, uid := range recipients {
			_, err = tx.Exec(ctx, `
				INSERT INTO message_statuses (message_id, user_id, status, sent_at)
				VALUES ($1, $2, 'sent', $3)
				ON CONFLICT (message_id, user_id) DO NOTHING`,
				m.ID, uid, m.CreatedAt)
			if err != nil {
				return errors.Wrap(err, "insert status")
			}
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit message")
}

func (r *PgRepo) MessageSender(ctx context.Context, messageID string) (string, error) {
	var sender string
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM messages WHERE id = $1`, messageID).Scan(&sender)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errs.ErrNotFound
	}
	return sender, errors.Wrap(err, "select sender")
}

func (r *PgRepo) ListChats(ctx context.Context, userID string) ([]ChatSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, COALESCE(c.name, ''), c.type, c.created_by, c.created_at
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.created_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list chats")
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		sum := ChatSummary{Chat: c, DisplayName: c.Name}
		if c.Type == TypePrivate {
			name, err := r.otherParticipantName(ctx, c.ID, userID)
			if err != nil {
				return nil, err
			}
			sum.DisplayName = name
		}

		last, err := r.lastMessage(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		sum.LastMessage = last

		// unread = messages from others with no read status row for me
		err = r.pool.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM messages m
			WHERE m.chat_id = $1 AND m.user_id <> $2
			  AND NOT EXISTS (
				SELECT 1 FROM message_statuses s
				WHERE s.message_id = m.id AND s.user_id = $2 AND s.status = 'read'
			  )`, c.ID, userID).Scan(&sum.UnreadCount)
		if err != nil {
			return nil, errors.Wrap(err, "unread count")
		}
		out = append(out, sum)
	}
	return out, nil
}

func (r *PgRepo) otherParticipantName(ctx context.Context, chatID, userID string) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `
		SELECT u.name
		FROM chat_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.chat_id = $1 AND p.user_id <> $2
		LIMIT 1`, chatID, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "Unknown", nil
	}
	return name, errors.Wrap(err, "other participant")
}

func (r *PgRepo) lastMessage(ctx context.Context, chatID string) (*Message, error) {
	var m Message
	err := r.pool.QueryRow(ctx, `
		SELECT m.id, m.chat_id, m.user_id, u.name, m.body, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.created_at DESC
		LIMIT 1`, chatID).Scan(&m.ID, &m.ChatID, &m.UserID, &m.UserName, &m.Body, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "last message")
	}
	return &m, nil
}

func (r *PgRepo) ListMessages(ctx context.Context, chatID, callerID string) ([]MessageView, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.id, m.chat_id, m.user_id, u.name, m.body, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.created_at ASC`, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var views []MessageView
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.UserName, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		views = append(views, MessageView{Message: m})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range views {
		sts, err := r.messageStatuses(ctx, views[i].Message.ID, callerID)
		if err != nil {
			return nil, err
		}
		views[i].Statuses = sts
	}
	return views, nil
}

func (r *PgRepo) messageStatuses(ctx context.Context, messageID, excludeUserID string) ([]status.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT message_id, user_id, status, sent_at, delivered_at, read_at
		FROM message_statuses
		WHERE message_id = $1 AND user_id <> $2`, messageID, excludeUserID)
	if err != nil {
		return nil, errors.Wrap(err, "message statuses")
	}
	defer rows.Close()

	var out []status.Record
	for rows.Next() {
		var rec status.Record
		if err := rows.Scan(&rec.MessageID, &rec.UserID, &rec.Status, &rec.SentAt, &rec.DeliveredAt, &rec.ReadAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PgRepo) PendingReads(ctx context.Context, chatID, userID string) ([]PendingRead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.message_id, m.user_id
		FROM message_statuses s
		JOIN messages m ON m.id = s.message_id
		WHERE m.chat_id = $1 AND s.user_id = $2 AND s.status IN ('sent', 'delivered')`,
		chatID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "pending reads")
	}
	defer rows.Close()

	var out []PendingRead
	for rows.Next() {
		var p PendingRead
		if err := rows.Scan(&p.MessageID, &p.SenderID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PgRepo) EnsurePrivateChat(ctx context.Context, userID, otherID string) (Chat, error) {
	var c Chat
	err := r.pool.QueryRow(ctx, `
		SELECT c.id, COALESCE(c.name, ''), c.type, c.created_by, c.created_at
		FROM chats c
		WHERE c.type = 'private'
		  AND EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $1)
		  AND EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $2)
		LIMIT 1`, userID, otherID).Scan(&c.ID, &c.Name, &c.Type, &c.CreatedBy, &c.CreatedAt)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, errors.Wrap(err, "find private chat")
	}

	c = Chat{
		ID:        ids.GenerateString(),
		Type:      TypePrivate,
		CreatedBy: userID,
		CreatedAt: time.Now().UTC(),
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Chat{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO chats (id, type, created_by, created_at)
		VALUES ($1, 'private', $2, $3)`, c.ID, c.CreatedBy, c.CreatedAt)
	if err != nil {
		return Chat{}, errors.Wrap(err, "insert chat")
	}
	for _, uid := range []string{userID, otherID} {
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_participants (chat_id, user_id, joined_at)
			VALUES ($1, $2, $3)`, c.ID, uid, c.CreatedAt)
		if err != nil {
			return Chat{}, errors.Wrap(err, "insert participant")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Chat{}, errors.Wrap(err, "commit chat")
	}
	return c, nil
}

func (r *PgRepo) UserName(ctx context.Context, userID string) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errs.ErrNotFound
	}
	return name, errors.Wrap(err, "select user name")
}

func (r *PgRepo) ListUsers(ctx context.Context, excludeID string) ([]User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name FROM users WHERE id <> $1 ORDER BY name`, excludeID)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
