package status

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"ChatSync/tools/errs"
)

// PgStore is the relational Store backend. The UNIQUE(message_id, user_id)
// index enforces one row per pair; the conditional UPDATE on the current
// status value is the compare-and-swap.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore { return &PgStore{pool: pool} }

func (s *PgStore) Create(ctx context.Context, messageID, userID string, sentAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_statuses (message_id, user_id, status, sent_at)
		VALUES ($1, $2, 'sent', $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID, sentAt)
	return errors.Wrap(err, "insert status")
}

func (s *PgStore) Get(ctx context.Context, messageID, userID string) (Record, error) {
	rec := Record{MessageID: messageID, UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT status, sent_at, delivered_at, read_at
		FROM message_statuses
		WHERE message_id = $1 AND user_id = $2`,
		messageID, userID).Scan(&rec.Status, &rec.SentAt, &rec.DeliveredAt, &rec.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, errs.ErrNotFound
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "select status")
	}
	return rec, nil
}

func (s *PgStore) Apply(ctx context.Context, messageID, userID string, ch Change) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_statuses
		SET status       = $3,
		    delivered_at = COALESCE($4, delivered_at),
		    read_at      = COALESCE($5, read_at)
		WHERE message_id = $1 AND user_id = $2 AND status = $6`,
		messageID, userID, ch.To, ch.DeliveredAt, ch.ReadAt, ch.From)
	if err != nil {
		return errors.Wrap(err, "update status")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// No row matched: either the pair is unknown or another writer advanced
	// the status first. Tell them apart so Advance can retry only the latter.
	var exists bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM message_statuses WHERE message_id = $1 AND user_id = $2
		)`, messageID, userID).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "recheck status row")
	}
	if !exists {
		return errs.ErrNotFound
	}
	return errs.ErrConflict
}
