package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatSync/tools/errs"
)

func newTestClient(connID string) *Client {
	return NewClient(connID, nil, 8)
}

func TestRegistryBindFirstSession(t *testing.T) {
	r := NewRegistry()
	c := newTestClient("conn-1")
	r.Add(c)

	first, err := r.Bind("conn-1", "u1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, "u1", c.UserID)

	c2 := newTestClient("conn-2")
	r.Add(c2)
	first, err = r.Bind("conn-2", "u1")
	require.NoError(t, err)
	assert.False(t, first, "second device is not the first session")
	assert.Len(t, r.UserSessions("u1"), 2)
}

func TestRegistryBindIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestClient("conn-1"))

	first, err := r.Bind("conn-1", "u1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = r.Bind("conn-1", "u1")
	require.NoError(t, err)
	assert.False(t, first, "re-authenticate is a no-op")
	assert.Len(t, r.UserSessions("u1"), 1)
}

func TestRegistryRebindDetachesOldIdentity(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestClient("conn-1"))
	_, err := r.Bind("conn-1", "u1")
	require.NoError(t, err)

	first, err := r.Bind("conn-1", "u2")
	require.NoError(t, err)
	assert.True(t, first)
	assert.Empty(t, r.UserSessions("u1"))
	assert.Len(t, r.UserSessions("u2"), 1)
}

func TestRegistryBindUnknownConn(t *testing.T) {
	r := NewRegistry()
	_, err := r.Bind("nope", "u1")
	assert.Error(t, err)
}

func TestRegistryJoinRequiresAuth(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestClient("conn-1"))

	err := r.Join("conn-1", "chat-1")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)

	_, err = r.Bind("conn-1", "u1")
	require.NoError(t, err)
	require.NoError(t, r.Join("conn-1", "chat-1"))
	assert.Len(t, r.RoomMembers("chat-1"), 1)
}

func TestRegistryJoinLeave(t *testing.T) {
	r := NewRegistry()
	for i, user := range []string{"u1", "u2"} {
		id := fmt.Sprintf("conn-%d", i+1)
		r.Add(newTestClient(id))
		_, err := r.Bind(id, user)
		require.NoError(t, err)
		require.NoError(t, r.Join(id, "chat-1"))
	}
	assert.Len(t, r.RoomMembers("chat-1"), 2)
	assert.Len(t, r.RoomMembersExcept("chat-1", "conn-1"), 1)

	r.Leave("conn-1", "chat-1")
	members := r.RoomMembers("chat-1")
	require.Len(t, members, 1)
	assert.Equal(t, "conn-2", members[0].ConnID)

	// leaving a room never joined is harmless
	r.Leave("conn-2", "chat-9")
}

func TestRegistryRemoveCleansRooms(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestClient("conn-1"))
	_, err := r.Bind("conn-1", "u1")
	require.NoError(t, err)
	require.NoError(t, r.Join("conn-1", "chat-1"))
	require.NoError(t, r.Join("conn-1", "chat-2"))

	c, userID, last := r.Remove("conn-1")
	require.NotNil(t, c)
	assert.Equal(t, "u1", userID)
	assert.True(t, last)
	assert.Empty(t, r.RoomMembers("chat-1"))
	assert.Empty(t, r.RoomMembers("chat-2"))
	assert.Zero(t, r.Count())

	c, userID, last = r.Remove("conn-1")
	assert.Nil(t, c, "double remove is a no-op")
	assert.Empty(t, userID)
	assert.False(t, last)
}

func TestRegistryRemoveLastSession(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"conn-1", "conn-2"} {
		r.Add(newTestClient(id))
		_, err := r.Bind(id, "u1")
		require.NoError(t, err)
	}

	_, userID, last := r.Remove("conn-1")
	assert.Equal(t, "u1", userID)
	assert.False(t, last, "one device left")

	_, userID, last = r.Remove("conn-2")
	assert.Equal(t, "u1", userID)
	assert.True(t, last)
}

func TestRegistryRemoveUnauthenticated(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestClient("conn-1"))

	c, userID, last := r.Remove("conn-1")
	require.NotNil(t, c)
	assert.Empty(t, userID)
	assert.False(t, last)
}

func TestRegistryAllExcept(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"conn-1", "conn-2", "conn-3"} {
		r.Add(newTestClient(id))
	}
	others := r.AllExcept("conn-2")
	assert.Len(t, others, 2)
	for _, c := range others {
		assert.NotEqual(t, "conn-2", c.ConnID)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", i)
			r.Add(newTestClient(id))
			if _, err := r.Bind(id, fmt.Sprintf("u%d", i%4)); err != nil {
				return
			}
			_ = r.Join(id, "chat-1")
			r.RoomMembers("chat-1")
			r.UserSessions(fmt.Sprintf("u%d", i%4))
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, r.Count())
}
