/*
Package user defines the state record kept for every participant of a room and the
snapshot projection sent to clients.
*/
package user

import (
	"maps"
	"time"
)

// Position is the last accepted pointer location of a user.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// Timestamp is the server receive time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// User is the authoritative state of one participant.
// Fields use JSON tags for serialization in snapshot messages.
type User struct {
	ID       string `json:"userId"`
	Username string `json:"username"`

	// JoinedAt is set on first join and survives refreshes and reconnects.
	JoinedAt time.Time `json:"joinedAt"`

	// LastSeen moves forward on every join, heartbeat and state update.
	LastSeen time.Time `json:"lastSeen"`

	// IsReconnecting is true while the user has no live connection but is inside its grace window.
	IsReconnecting bool `json:"isReconnecting"`

	// SessionID correlates tabs of the same browser session (see randx.SessionKey).
	SessionID string `json:"sessionId,omitempty"`

	// Game-sync attributes.
	CursorColor   string         `json:"cursorColor,omitempty"`
	MousePosition *Position      `json:"mousePosition,omitempty"`
	Score         *float64       `json:"score,omitempty"`
	Level         *int           `json:"level,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Attributes is a partial game-state update. Nil fields are left untouched.
type Attributes struct {
	Score *float64       `json:"score,omitempty"`
	Level *int           `json:"level,omitempty"`
	Extra map[string]any `json:"extra,omitempty" validate:"omitempty,max=32"`
}

// IsEmpty reports whether the update carries nothing.
func (a Attributes) IsEmpty() bool {
	return a.Score == nil && a.Level == nil && len(a.Extra) == 0
}

// Apply merges attrs into u, last write wins per field and per extra key.
// A nil value inside Extra deletes that key.
func (u *User) Apply(attrs Attributes) {
	if attrs.Score != nil {
		score := *attrs.Score
		u.Score = &score
	}

	if attrs.Level != nil {
		level := *attrs.Level
		u.Level = &level
	}

	for k, v := range attrs.Extra {
		if v == nil {
			delete(u.Extra, k)
			continue
		}
		if u.Extra == nil {
			u.Extra = make(map[string]any, len(attrs.Extra))
		}
		u.Extra[k] = v
	}
}

// Clone returns a deep copy safe to hand outside the owning room.
func (u *User) Clone() User {
	c := *u

	if u.MousePosition != nil {
		pos := *u.MousePosition
		c.MousePosition = &pos
	}
	if u.Score != nil {
		score := *u.Score
		c.Score = &score
	}
	if u.Level != nil {
		level := *u.Level
		c.Level = &level
	}
	if u.Extra != nil {
		c.Extra = maps.Clone(u.Extra)
	}

	return c
}
