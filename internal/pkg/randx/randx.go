/*
Package randx generates and validates identifiers: Base62 room keys, anonymous user ids,
connection ids, and the session correlation key derived from a user id.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// RoomCodeLength is the length of generated room keys.
	RoomCodeLength = 6

	// MaxRoomKeyLength bounds client-chosen room keys.
	MaxRoomKeyLength = 64

	// MaxUserIDLength bounds client-chosen user ids.
	MaxUserIDLength = 128

	// AnonymousIDPrefix marks server-generated user ids.
	AnonymousIDPrefix = "anon_"

	// SessionSeparator splits "<session>:<tab>" user ids.
	SessionSeparator = ":"
)

// Intn returns a uniform random integer in [0, n) from crypto/rand.
func Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("randx: invalid bound %d", n)
	}

	num, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random number: %w", err)
	}

	return int(num.Int64()), nil
}

// RoomCode generates a random Base62 room key of RoomCodeLength characters.
func RoomCode() (string, error) {
	result := make([]byte, RoomCodeLength)

	for i := range RoomCodeLength {
		idx, err := Intn(int(Base62Len))
		if err != nil {
			return "", fmt.Errorf("room code: %w", err)
		}

		result[i] = Base62Chars[idx]
	}

	return string(result), nil
}

// IsValidRoomKey reports whether key is 1..MaxRoomKeyLength characters of [A-Za-z0-9_-].
func IsValidRoomKey(key string) bool {
	if key == "" || len(key) > MaxRoomKeyLength {
		return false
	}

	for _, char := range key {
		if char == '_' || char == '-' {
			continue
		}
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// IsValidUserID rejects empty, oversized, or control-character ids.
func IsValidUserID(id string) bool {
	if id == "" || len(id) > MaxUserIDLength {
		return false
	}

	for _, char := range id {
		if char < 0x20 || char == 0x7f {
			return false
		}
	}

	return true
}

// AnonymousUserID returns a fresh id for callers that did not supply one.
func AnonymousUserID() string {
	return AnonymousIDPrefix + uuid.NewString()
}

// ConnectionID generates a UUID v4 string that identifies one WebSocket connection.
func ConnectionID() string {
	return uuid.New().String()
}

// SessionKey derives the correlation key of a user id. Ids shaped "<session>:<tab>"
// correlate on the session part; any other id is its own key.
func SessionKey(userID string) string {
	idx := strings.LastIndex(userID, SessionSeparator)
	if idx <= 0 {
		return userID
	}

	return userID[:idx]
}
