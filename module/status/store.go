package status

import (
	"context"
	"sync"
	"time"

	"ChatSync/tools/errs"
)

// Store is the durable (message, recipient) -> status table.
//
// Apply is a compare-and-swap: the write only lands when the stored status
// still equals ch.From. A lost race returns errs.ErrConflict so the caller
// can re-read; this is what makes concurrent delivered/read signals for the
// same pair safe without row locks held across process boundaries.
type Store interface {
	Create(ctx context.Context, messageID, userID string, sentAt time.Time) error
	Get(ctx context.Context, messageID, userID string) (Record, error)
	Apply(ctx context.Context, messageID, userID string, ch Change) error
}

const advanceRetries = 3

// Advance runs the read-transition-apply loop for one signal against one
// (message, recipient) pair. Returns the applied change, or ok=false when
// the signal was a duplicate or a regression (nothing persisted). Unknown
// pairs surface errs.ErrNotFound untouched.
//
// CAS conflicts are retried with a fresh read: the competing writer advanced
// the row, so the re-read usually resolves to a no-op.
func Advance(ctx context.Context, s Store, messageID, userID string, kind Kind, at time.Time) (Change, bool, error) {
	var lastErr error
	for i := 0; i < advanceRetries; i++ {
		cur, err := s.Get(ctx, messageID, userID)
		if err != nil {
			return Change{}, false, err
		}
		ch, ok := Transition(cur, kind, at)
		if !ok {
			return Change{}, false, nil
		}
		err = s.Apply(ctx, messageID, userID, ch)
		if err == nil {
			return ch, true, nil
		}
		if !errs.IsConflict(err) {
			return Change{}, false, err
		}
		lastErr = err
	}
	return Change{}, false, lastErr
}

// MemStore is an in-memory Store used by unit tests and the dev single
// binary. Mutations are serialized under one mutex, which trivially gives
// the per-pair exclusion the interface demands.
type MemStore struct {
	mu   sync.Mutex
	rows map[memKey]Record
}

type memKey struct{ messageID, userID string }

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[memKey]Record)}
}

func (m *MemStore) Create(ctx context.Context, messageID, userID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{messageID, userID}
	if _, exists := m.rows[k]; exists {
		return nil // uniqueness invariant: one row per pair
	}
	m.rows[k] = Record{
		MessageID: messageID,
		UserID:    userID,
		Status:    StatusSent,
		SentAt:    sentAt,
	}
	return nil
}

func (m *MemStore) Get(ctx context.Context, messageID, userID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[memKey{messageID, userID}]
	if !ok {
		return Record{}, errs.ErrNotFound
	}
	return rec, nil
}

func (m *MemStore) Apply(ctx context.Context, messageID, userID string, ch Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{messageID, userID}
	rec, ok := m.rows[k]
	if !ok {
		return errs.ErrNotFound
	}
	if rec.Status != ch.From {
		return errs.ErrConflict
	}
	rec.Status = ch.To
	if ch.DeliveredAt != nil {
		rec.DeliveredAt = ch.DeliveredAt
	}
	if ch.ReadAt != nil {
		rec.ReadAt = ch.ReadAt
	}
	m.rows[k] = rec
	return nil
}
