package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		succeedAt int32 // poll number that first returns true; 0 never
		want      bool
	}{
		{"immediate", 1, true},
		{"eventual", 3, true},
		{"timeout", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var polls atomic.Int32
			got := WaitFor(t, func() bool {
				n := polls.Add(1)
				return tt.succeedAt > 0 && n >= tt.succeedAt
			}, WithTimeout(100*time.Millisecond), WithInterval(5*time.Millisecond))

			if got != tt.want {
				t.Errorf("WaitFor() = %v, want %v", got, tt.want)
			}
			if tt.want && polls.Load() != tt.succeedAt {
				t.Errorf("polled %d times, want %d", polls.Load(), tt.succeedAt)
			}
		})
	}
}

func TestWaitFor_ChecksAtDeadline(t *testing.T) {
	t.Parallel()
	start := time.Now()
	// The interval never fires before the deadline
	got := WaitFor(t, func() bool {
		return time.Since(start) >= 20*time.Millisecond
	}, WithTimeout(30*time.Millisecond), WithInterval(time.Hour))

	if !got {
		t.Error("expected final check at deadline to succeed")
	}
}

func TestMustEventuallyEqual(t *testing.T) {
	t.Parallel()
	var v atomic.Int64
	go func() {
		for range 3 {
			time.Sleep(5 * time.Millisecond)
			v.Add(1)
		}
	}()

	MustEventuallyEqual(t, int64(3), v.Load, WithTimeout(time.Second))
}

func TestMustWaitForCount(t *testing.T) {
	t.Parallel()
	var counter atomic.Int64
	go func() {
		for range 5 {
			time.Sleep(5 * time.Millisecond)
			counter.Add(1)
		}
	}()

	MustWaitForCount(t, &counter, 5, WithTimeout(time.Second))
}

func TestResolveOptions(t *testing.T) {
	t.Parallel()

	defaults := resolve(nil)
	if defaults.Timeout != 5*time.Second || defaults.Interval != 5*time.Millisecond {
		t.Errorf("unexpected defaults %+v", defaults)
	}

	o := resolve([]WaitOption{WithTimeout(time.Minute), WithInterval(time.Second)})
	if o.Timeout != time.Minute || o.Interval != time.Second {
		t.Errorf("unexpected options %+v", o)
	}
}

func TestMustBeClosed(t *testing.T) {
	t.Parallel()
	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(done)
	}()
	MustBeClosed(t, done, time.Second)
}
