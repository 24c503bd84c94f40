package status

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatSync/tools/errs"
)

func TestAdvanceDeliveredThenRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	sentAt := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, "m1", "u1", sentAt))

	_, applied, err := Advance(ctx, store, "m1", "u1", KindDelivered, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, applied)

	_, applied, err = Advance(ctx, store, "m1", "u1", KindRead, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, applied)

	rec, err := store.Get(ctx, "m1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusRead, rec.Status)
	require.NotNil(t, rec.DeliveredAt)
	require.NotNil(t, rec.ReadAt)
	assert.False(t, rec.ReadAt.Before(*rec.DeliveredAt), "deliveredAt <= readAt")
}

func TestAdvanceDuplicateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Create(ctx, "m1", "u1", time.Now().UTC()))

	_, applied, err := Advance(ctx, store, "m1", "u1", KindDelivered, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, applied)

	_, applied, err = Advance(ctx, store, "m1", "u1", KindDelivered, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied, "second delivery must not produce a change")
}

func TestAdvanceUnknownPair(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, applied, err := Advance(ctx, store, "missing", "u1", KindRead, time.Now().UTC())
	assert.False(t, applied)
	assert.True(t, errs.IsNotFound(err))
}

// Two devices of the same recipient report read concurrently: exactly one
// change lands, the loser resolves to a no-op on re-read.
func TestAdvanceConcurrentReadsApplyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Create(ctx, "m1", "u1", time.Now().UTC()))

	const devices = 8
	at := time.Now().UTC()
	var wg sync.WaitGroup
	applies := make(chan bool, devices)
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := Advance(ctx, store, "m1", "u1", KindRead, at)
			assert.NoError(t, err)
			applies <- applied
		}()
	}
	wg.Wait()
	close(applies)

	n := 0
	for applied := range applies {
		if applied {
			n++
		}
	}
	assert.Equal(t, 1, n, "exactly one device's read may persist a change")

	rec, err := store.Get(ctx, "m1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusRead, rec.Status)
}

func TestCreateIsUniquePerPair(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	first := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, "m1", "u1", first))
	require.NoError(t, store.Create(ctx, "m1", "u1", time.Now().UTC()))

	rec, err := store.Get(ctx, "m1", "u1")
	require.NoError(t, err)
	assert.Equal(t, first, rec.SentAt, "duplicate create must not overwrite the row")
}

func TestApplyConflictOnStaleFrom(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Create(ctx, "m1", "u1", time.Now().UTC()))

	now := time.Now().UTC()
	require.NoError(t, store.Apply(ctx, "m1", "u1", Change{From: StatusSent, To: StatusDelivered, DeliveredAt: &now}))

	err := store.Apply(ctx, "m1", "u1", Change{From: StatusSent, To: StatusRead, ReadAt: &now})
	assert.True(t, errs.IsConflict(err), "stale compare value must be rejected")
}
