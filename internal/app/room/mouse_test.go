package room

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/internal/app/user"
)

func TestApplyMouseMove(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name      string
		last      *user.Position
		x, y      float64
		now       time.Time
		threshold float64
		changed   bool
		want      *user.Position
	}{
		{
			name: "first position is accepted and rounded",
			x:    10.26, y: 3.04, now: t0, threshold: 2, changed: true,
			want: &user.Position{X: 10.3, Y: 3, Timestamp: t0.UnixMilli()},
		},
		{
			name: "move below threshold is rejected",
			last: &user.Position{X: 10, Y: 10, Timestamp: t0.UnixMilli()},
			x:    11, y: 11, now: t0.Add(time.Second), threshold: 2, changed: false,
			want: &user.Position{X: 10, Y: 10, Timestamp: t0.UnixMilli()},
		},
		{
			name: "move at threshold is accepted",
			last: &user.Position{X: 10, Y: 10, Timestamp: t0.UnixMilli()},
			x:    12, y: 10, now: t0.Add(time.Second), threshold: 2, changed: true,
			want: &user.Position{X: 12, Y: 10, Timestamp: t0.Add(time.Second).UnixMilli()},
		},
		{
			name: "small move after inactivity is accepted",
			last: &user.Position{X: 10, Y: 10, Timestamp: t0.UnixMilli()},
			x:    10.5, y: 10, now: t0.Add(6 * time.Second), threshold: 2, changed: true,
			want: &user.Position{X: 10.5, Y: 10, Timestamp: t0.Add(6 * time.Second).UnixMilli()},
		},
		{
			name: "non-finite coordinates are rejected",
			x:    math.NaN(), y: 1, now: t0, threshold: 2, changed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &user.User{ID: "u1", MousePosition: tt.last}

			changed := applyMouseMove(u, tt.x, tt.y, tt.now, tt.threshold, 1, 5*time.Second)

			assert.Equal(t, tt.changed, changed)
			if tt.want == nil {
				assert.Nil(t, u.MousePosition)
				return
			}
			require.NotNil(t, u.MousePosition)
			assert.Equal(t, *tt.want, *u.MousePosition)
		})
	}
}

func TestRoundPrecision(t *testing.T) {
	assert.Equal(t, 3.0, round(3.4, 0))
	assert.Equal(t, 3.14, round(3.14159, 2))
	assert.Equal(t, -1.5, round(-1.46, 1))
}

func TestIsStale(t *testing.T) {
	now := time.UnixMilli(10_000)
	pos := &user.Position{Timestamp: 4_000}

	assert.True(t, isStale(pos, now, 5*time.Second))
	assert.False(t, isStale(pos, now, 6*time.Second))
	assert.False(t, isStale(pos, now, 0), "zero window never expires")
}
