// Package util holds small helpers shared by the command line tools.
package util

import "time"

// SkipThrottler reports whether at least d has passed since it last said ok.
// Calls in between are skipped rather than delayed.
type SkipThrottler struct {
	d    time.Duration
	last time.Time
	now  func() time.Time
}

func NewSkipThrottler(d time.Duration) *SkipThrottler {
	return &SkipThrottler{d: d, now: time.Now}
}

func (tt *SkipThrottler) Ok() bool {
	now := tt.now()
	if !tt.last.IsZero() && now.Before(tt.last.Add(tt.d)) {
		return false
	}
	tt.last = now
	return true
}
