package status

import "time"

// Status is the per-recipient acknowledgment state of one message.
// Monotonic: sent -> delivered -> read, read is absorbing.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Kind is a client-observed signal arriving from the bus.
type Kind string

const (
	KindDelivered Kind = "delivered"
	KindRead      Kind = "read"
)

// Record is one durable (message, recipient) status row.
type Record struct {
	MessageID   string
	UserID      string
	Status      Status
	SentAt      time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

// Change is the effect of one accepted transition. From is the expected
// prior status; stores use it as the compare value of their conditional
// write. Only non-nil timestamps are written.
type Change struct {
	From        Status
	To          Status
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

// Transition computes the next status for cur given an incoming signal at
// time at. The second return is false when the signal causes no change
// (duplicate delivery, regression attempt). Pure: no I/O, no mutation.
//
//	sent      + delivered -> delivered   deliveredAt = at
//	sent      + read      -> read        deliveredAt = readAt = at
//	delivered + read      -> read        readAt = at, deliveredAt kept
//	delivered + delivered -> no change
//	read      + anything  -> no change
func Transition(cur Record, kind Kind, at time.Time) (Change, bool) {
	switch cur.Status {
	case StatusSent:
		switch kind {
		case KindDelivered:
			return Change{From: StatusSent, To: StatusDelivered, DeliveredAt: &at}, true
		case KindRead:
			// read implies delivered; deliveredAt backfills to the read time
			return Change{From: StatusSent, To: StatusRead, DeliveredAt: &at, ReadAt: &at}, true
		}
	case StatusDelivered:
		if kind == KindRead {
			return Change{From: StatusDelivered, To: StatusRead, ReadAt: &at}, true
		}
	case StatusRead:
		// absorbing
	}
	return Change{}, false
}
