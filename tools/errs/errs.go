package errs

import (
	"net"

	"github.com/pkg/errors"
)

// Sentinel errors for the event pipeline. Consumers decide drop-vs-retry by
// classifying an error against these, not by string matching.
var (
	// ErrNotFound marks a status transition requested for an unknown
	// (message, recipient) pair. Treated as a stale signal: drop and log.
	ErrNotFound = errors.New("record not found")

	// ErrMalformedEvent marks an unparseable or incomplete event payload.
	// Never retried.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrConflict marks a compare-and-swap that lost to a concurrent
	// writer. The caller re-reads and retries.
	ErrConflict = errors.New("concurrent status update")

	// ErrUnauthenticated marks a connection-level operation attempted
	// before the authenticate handshake.
	ErrUnauthenticated = errors.New("connection not authenticated")
)

func IsNotFound(err error) bool  { return errors.Is(err, ErrNotFound) }
func IsMalformed(err error) bool { return errors.Is(err, ErrMalformedEvent) }
func IsConflict(err error) bool  { return errors.Is(err, ErrConflict) }

// IsTransient reports whether the error looks like transient infrastructure
// failure (bus or store unreachable) that bus-level redelivery or the
// reconnect loop will absorb.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsNotFound(err) || IsMalformed(err) || IsConflict(err) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Wrap re-exports pkg/errors wrapping so call sites import one errs package.
func Wrap(err error, msg string) error { return errors.Wrap(err, msg) }

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

func New(msg string) error { return errors.New(msg) }
