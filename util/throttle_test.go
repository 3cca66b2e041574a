package util

import (
	"testing"
	"time"
)

func TestSkipThrottler(t *testing.T) {
	t.Parallel()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tt := NewSkipThrottler(time.Second)
	tt.now = func() time.Time { return clock }

	steps := []struct {
		advance time.Duration
		ok      bool
	}{
		{advance: 0, ok: true},
		{advance: 500 * time.Millisecond, ok: false},
		{advance: 499 * time.Millisecond, ok: false},
		{advance: time.Millisecond, ok: true},
		{advance: 3 * time.Second, ok: true},
		{advance: 0, ok: false},
	}
	for i, s := range steps {
		clock = clock.Add(s.advance)
		if ok := tt.Ok(); ok != s.ok {
			t.Fatalf("step %d: %t, expected %t", i, ok, s.ok)
		}
	}
}
