package identity

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsernameIsIdempotentPerKey(t *testing.T) {
	a := NewAllocator(16, time.Hour)

	first := a.Username("session-1")
	second := a.Username("session-1")

	assert.Equal(t, first, second)
	assert.Len(t, strings.Fields(first), 2)
}

func TestUsernameIsIdempotentUnderConcurrency(t *testing.T) {
	a := NewAllocator(16, time.Hour)

	var wg sync.WaitGroup
	names := make([]string, 32)
	for i := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names[i] = a.Username("shared")
		}()
	}
	wg.Wait()

	for _, name := range names {
		assert.Equal(t, names[0], name)
	}
}

func TestUsernamesForDifferentKeysAreDrawnIndependently(t *testing.T) {
	a := NewAllocator(512, time.Hour)

	distinct := make(map[string]struct{})
	for i := range 200 {
		distinct[a.Username(fmt.Sprintf("key-%d", i))] = struct{}{}
	}

	// 728 possible names; 200 independent draws landing on a handful would mean a memo bug.
	assert.Greater(t, len(distinct), 50)
	assert.Equal(t, 200, a.Len())
}

func TestPaletteWrapsRoundRobin(t *testing.T) {
	p := NewPalette(3)

	got := []string{p.Next(), p.Next(), p.Next(), p.Next()}

	assert.Equal(t, got[0], got[3])
	assert.NotEqual(t, got[0], got[1])
	assert.NotEqual(t, got[1], got[2])
	for _, c := range got {
		require.Len(t, c, 7)
		assert.True(t, strings.HasPrefix(c, "#"))
	}
}

func TestPalettesAreIndependent(t *testing.T) {
	a, b := NewPalette(0), NewPalette(0)

	a.Next()
	a.Next()

	assert.Equal(t, DefaultPaletteSize, b.Size())
	assert.Equal(t, NewPalette(0).Next(), b.Next())
}

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Bob", "Bob"},
		{"markup", "<b>Bob</b><script>alert(1)</script>", "Bob"},
		{"whitespace", "  Ada   Lovelace \n", "Ada Lovelace"},
		{"only markup", "<img src=x>", ""},
		{"truncated", strings.Repeat("é", 40), strings.Repeat("é", MaxUsernameRunes)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeUsername(tt.in))
		})
	}
}

func TestSanitizeValueKeepsShapeAndNils(t *testing.T) {
	in := map[string]any{
		"title": "<i>hi</i>",
		"n":     3.0,
		"list":  []any{"<b>x</b>", true},
		"gone":  nil,
	}

	out := SanitizeValue(in).(map[string]any)

	assert.Equal(t, "hi", out["title"])
	assert.Equal(t, 3.0, out["n"])
	assert.Equal(t, []any{"x", true}, out["list"])
	v, ok := out["gone"]
	assert.True(t, ok)
	assert.Nil(t, v)
}
