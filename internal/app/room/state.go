package room

import (
	"cmp"
	"slices"
	"time"

	"roomsync/internal/app/user"
)

// PendingReconnect is kept for a user whose connection went away. It is internal to the
// room and never serialized to clients.
type PendingReconnect struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// binding is one open connection and the user it speaks for ("" while unbound).
type binding struct {
	conn   Conn
	userID string
}

// state is the presence store, the grace register and the connection binding table of one
// room. It is owned by the room loop and never locked.
//
// A user in the grace register is also in the store with IsReconnecting set, and a user
// that is not reconnecting has no grace entry.
type state struct {
	users    map[string]*user.User
	grace    map[string]PendingReconnect
	bindings map[string]*binding
}

func newState() *state {
	return &state{
		users:    make(map[string]*user.User),
		grace:    make(map[string]PendingReconnect),
		bindings: make(map[string]*binding),
	}
}

// markReconnecting moves u into the grace register.
func (s *state) markReconnecting(u *user.User, now time.Time, grace time.Duration) {
	u.IsReconnecting = true
	s.grace[u.ID] = PendingReconnect{
		UserID:    u.ID,
		Username:  u.Username,
		ExpiresAt: now.Add(grace),
	}
}

// restore takes u out of the grace register. It reports whether u was reconnecting.
func (s *state) restore(u *user.User) bool {
	if !u.IsReconnecting {
		return false
	}

	u.IsReconnecting = false
	delete(s.grace, u.ID)

	return true
}

// remove deletes userID from the store and the grace register and unbinds its connections.
// The unbound connections are returned so the caller can notify or close them.
func (s *state) remove(userID string) []Conn {
	delete(s.users, userID)
	delete(s.grace, userID)

	return s.unbindUser(userID)
}

// unbindUser resets every connection bound to userID to unbound.
func (s *state) unbindUser(userID string) []Conn {
	var conns []Conn
	for _, b := range s.bindings {
		if b.userID == userID {
			b.userID = ""
			conns = append(conns, b.conn)
		}
	}

	return conns
}

// boundCount returns the number of open connections bound to userID.
func (s *state) boundCount(userID string) int {
	n := 0
	for _, b := range s.bindings {
		if b.userID == userID {
			n++
		}
	}

	return n
}

// sessionDuplicates returns the ids of users sharing sessionID under a different user id.
func (s *state) sessionDuplicates(userID, sessionID string) []string {
	var ids []string
	for id, u := range s.users {
		if id != userID && u.SessionID == sessionID {
			ids = append(ids, id)
		}
	}

	return ids
}

// boundConns returns the connections that currently speak for a user.
func (s *state) boundConns() []Conn {
	conns := make([]Conn, 0, len(s.bindings))
	for _, b := range s.bindings {
		if b.userID != "" {
			conns = append(conns, b.conn)
		}
	}

	return conns
}

// isEmpty reports whether the room has neither users nor connections.
func (s *state) isEmpty() bool {
	return len(s.users) == 0 && len(s.bindings) == 0
}

// snapshot copies the visible users, oldest join first. Positions older than the
// inactivity window are hidden; reconnecting users are dropped when hideReconnecting is set.
func (s *state) snapshot(now time.Time, mouseInactivity time.Duration, hideReconnecting bool) []user.User {
	users := make([]user.User, 0, len(s.users))

	for _, u := range s.users {
		if hideReconnecting && u.IsReconnecting {
			continue
		}

		c := u.Clone()
		if c.MousePosition != nil && isStale(c.MousePosition, now, mouseInactivity) {
			c.MousePosition = nil
		}
		users = append(users, c)
	}

	slices.SortFunc(users, func(a, b user.User) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return users
}
