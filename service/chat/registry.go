package chat

import (
	"sync"

	"ChatSync/tools/errs"
)

// Registry is the in-memory session index owned by the gateway:
// user -> sessions, conn -> session, chat -> joined sessions. Nothing here
// is durable; a reconnecting client re-authenticates and rejoins from
// scratch.
//
// Mutations take the write lock; fan-out reads take the read lock only, so
// a burst of broadcasts never blocks new authentications for long.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Client
	byUser map[string]map[string]*Client // userID -> connID -> client
	rooms  map[string]map[string]*Client // chatID -> connID -> client
	joined map[string]map[string]struct{} // connID -> chatIDs
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		rooms:  make(map[string]map[string]*Client),
		joined: make(map[string]map[string]struct{}),
	}
}

// Add registers a fresh, unauthenticated connection.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[c.ConnID] = c
}

// Bind attaches a user identity to a connection. Idempotent for the same
// user; rebinding a connection to a different user detaches it from the old
// identity first. Reports whether this is the user's first live session.
func (r *Registry) Bind(connID, userID string) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byConn[connID]
	if !ok {
		return false, errs.New("unknown connection")
	}
	if c.UserID == userID {
		return false, nil
	}
	if c.UserID != "" {
		r.detachUserLocked(c)
	}

	first = len(r.byUser[userID]) == 0
	c.UserID = userID
	m := r.byUser[userID]
	if m == nil {
		m = make(map[string]*Client)
		r.byUser[userID] = m
	}
	m[connID] = c
	return first, nil
}

func (r *Registry) detachUserLocked(c *Client) {
	if m := r.byUser[c.UserID]; m != nil {
		delete(m, c.ConnID)
		if len(m) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
	c.UserID = ""
}

// Remove drops the session and all its room memberships. Returns the client,
// its user (empty if never authenticated) and whether it was that user's
// last session.
func (r *Registry) Remove(connID string) (c *Client, userID string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byConn[connID]
	if !ok {
		return nil, "", false
	}
	delete(r.byConn, connID)

	for chatID := range r.joined[connID] {
		if room := r.rooms[chatID]; room != nil {
			delete(room, connID)
			if len(room) == 0 {
				delete(r.rooms, chatID)
			}
		}
	}
	delete(r.joined, connID)

	userID = c.UserID
	if userID != "" {
		r.detachUserLocked(c)
		last = len(r.byUser[userID]) == 0
	}
	return c, userID, last
}

// Join adds the session to a chat's broadcast group. Only authenticated
// sessions may join. Membership authorization happened upstream; the
// registry trusts the join.
func (r *Registry) Join(connID, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byConn[connID]
	if !ok {
		return errs.New("unknown connection")
	}
	if c.UserID == "" {
		return errs.ErrUnauthenticated
	}

	room := r.rooms[chatID]
	if room == nil {
		room = make(map[string]*Client)
		r.rooms[chatID] = room
	}
	room[connID] = c

	j := r.joined[connID]
	if j == nil {
		j = make(map[string]struct{})
		r.joined[connID] = j
	}
	j[chatID] = struct{}{}
	return nil
}

func (r *Registry) Leave(connID, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room := r.rooms[chatID]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, chatID)
		}
	}
	if j := r.joined[connID]; j != nil {
		delete(j, chatID)
	}
}

// RoomMembers snapshots the sessions joined to a chat.
func (r *Registry) RoomMembers(chatID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[chatID]
	out := make([]*Client, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// RoomMembersExcept snapshots a room minus one session (typing relays go to
// everyone but the typist).
func (r *Registry) RoomMembersExcept(chatID, connID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[chatID]
	out := make([]*Client, 0, len(room))
	for id, c := range room {
		if id != connID {
			out = append(out, c)
		}
	}
	return out
}

// UserSessions snapshots every live session bound to a user.
func (r *Registry) UserSessions(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byUser[userID]
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Users snapshots the IDs of all currently bound users.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	return out
}

// AllExcept snapshots every session except one (presence broadcasts).
func (r *Registry) AllExcept(connID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.byConn))
	for id, c := range r.byConn {
		if id != connID {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of live sessions (health probe).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
