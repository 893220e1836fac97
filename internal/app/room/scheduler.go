package room

import "time"

// scheduler coalesces dirty marks into snapshot flushes.
//
// The first mark after an idle period arms a batch timer; later marks join the same batch.
// When the timer fires the flush only goes out if at least minInterval has passed since the
// previous one. A dropped flush keeps its dirty set, and the next mark or sweep tick arms a
// new batch.
type scheduler struct {
	minInterval time.Duration
	batchDelay  time.Duration

	dirty map[string]struct{}

	// armed is true while a batch timer is pending.
	armed bool

	lastFlush time.Time
}

func newScheduler(minInterval, batchDelay time.Duration) *scheduler {
	return &scheduler{
		minInterval: minInterval,
		batchDelay:  batchDelay,
		dirty:       make(map[string]struct{}),
	}
}

// markDirty records a change of userID. It returns true when the caller must arm the
// batch timer for batchDelay.
func (s *scheduler) markDirty(userID string) bool {
	s.dirty[userID] = struct{}{}

	return s.arm()
}

// rearm arms a new batch for changes left over from a dropped flush.
func (s *scheduler) rearm() bool {
	if len(s.dirty) == 0 {
		return false
	}

	return s.arm()
}

func (s *scheduler) arm() bool {
	if s.armed {
		return false
	}

	s.armed = true
	return true
}

// fire is called when the batch timer expires. It returns the dirty user ids and true if a
// flush must be sent now, or false if the flush is dropped by the throttle.
func (s *scheduler) fire(now time.Time) ([]string, bool) {
	s.armed = false

	if len(s.dirty) == 0 {
		return nil, false
	}

	if !s.lastFlush.IsZero() && now.Sub(s.lastFlush) < s.minInterval {
		return nil, false
	}

	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}

	clear(s.dirty)
	s.lastFlush = now

	return ids, true
}

// pending returns the number of dirty users waiting for a flush.
func (s *scheduler) pending() int {
	return len(s.dirty)
}
