package randx

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomCodeIsValidKey(t *testing.T) {
	code, err := RoomCode()
	require.NoError(t, err)

	assert.Len(t, code, RoomCodeLength)
	assert.True(t, IsValidRoomKey(code))
}

func TestIsValidRoomKey(t *testing.T) {
	cases := map[string]bool{
		"lobby":                  true,
		"game-42_b":              true,
		"":                       false,
		"has space":              false,
		"slash/inside":           false,
		strings.Repeat("a", 64):  true,
		strings.Repeat("a", 65):  false,
	}

	for key, want := range cases {
		assert.Equal(t, want, IsValidRoomKey(key), "key %q", key)
	}
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "sess1", SessionKey("sess1:tabA"))
	assert.Equal(t, "sess1:tabA", SessionKey("sess1:tabA:x"))
	assert.Equal(t, "plain", SessionKey("plain"))
	assert.Equal(t, ":lead", SessionKey(":lead"))
}

func TestAnonymousUserID(t *testing.T) {
	a, b := AnonymousUserID(), AnonymousUserID()

	assert.True(t, strings.HasPrefix(a, AnonymousIDPrefix))
	assert.NotEqual(t, a, b)
	assert.True(t, IsValidUserID(a))
}

func TestIsValidUserID(t *testing.T) {
	assert.True(t, IsValidUserID("u1"))
	assert.False(t, IsValidUserID(""))
	assert.False(t, IsValidUserID("bad\nid"))
	assert.False(t, IsValidUserID(strings.Repeat("x", MaxUserIDLength+1)))
}

func TestConnectionID(t *testing.T) {
	id := ConnectionID()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
	assert.NotEqual(t, id, ConnectionID())
}
