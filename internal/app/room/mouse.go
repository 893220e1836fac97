package room

import (
	"math"
	"time"

	"roomsync/internal/app/user"
)

// applyMouseMove stores (x, y) as u's position unless it is closer than threshold to the
// last stored position and that position is still fresh. Accepted positions are rounded to
// precision decimals and stamped with now. It reports whether the position changed.
func applyMouseMove(u *user.User, x, y float64, now time.Time, threshold float64, precision int, inactivity time.Duration) bool {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return false
	}

	if last := u.MousePosition; last != nil && !isStale(last, now, inactivity) {
		if math.Hypot(x-last.X, y-last.Y) < threshold {
			return false
		}
	}

	u.MousePosition = &user.Position{
		X:         round(x, precision),
		Y:         round(y, precision),
		Timestamp: now.UnixMilli(),
	}

	return true
}

// isStale reports whether pos is older than the inactivity window. A zero window never expires.
func isStale(pos *user.Position, now time.Time, inactivity time.Duration) bool {
	if inactivity <= 0 {
		return false
	}

	return now.UnixMilli()-pos.Timestamp > inactivity.Milliseconds()
}

func round(v float64, precision int) float64 {
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}
