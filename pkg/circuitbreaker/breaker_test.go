package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := newFakeClock()
	return New(Config{Threshold: threshold, Cooldown: time.Minute, Now: clock.Now}), clock
}

func trip(b *Breaker, n int) {
	for range n {
		b.RecordFailure()
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero", Config{}},
		{"negative", Config{Threshold: -1, Cooldown: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := New(tt.cfg)
			if b.cfg.Threshold != 5 {
				t.Errorf("Threshold = %d, want 5", b.cfg.Threshold)
			}
			if b.cfg.Cooldown != 30*time.Second {
				t.Errorf("Cooldown = %v, want 30s", b.cfg.Cooldown)
			}
			if b.State() != Closed {
				t.Errorf("initial state = %s, want closed", b.State())
			}
		})
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3)

	trip(b, 2)
	if b.State() != Closed || !b.Allow() {
		t.Fatal("breaker opened before threshold")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state = %s, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker allowed a call before cooldown")
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3)

	trip(b, 2)
	b.RecordSuccess()
	if b.Failures() != 0 {
		t.Errorf("failures = %d, want 0", b.Failures())
	}
	trip(b, 2)
	if b.State() != Closed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBreaker_SingleProbeAfterCooldown(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(1)

	b.RecordFailure()
	clock.Advance(time.Minute)

	if !b.Allow() {
		t.Fatal("expected probe after cooldown")
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	if b.Allow() {
		t.Error("second caller admitted while probe in flight")
	}
}

func TestBreaker_ProbeOutcome(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		succeed bool
		want    State
	}{
		{"success closes", true, Closed},
		{"failure reopens", false, Open},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, clock := newTestBreaker(3)
			trip(b, 3)
			clock.Advance(2 * time.Minute)
			if !b.Allow() {
				t.Fatal("expected probe")
			}

			if tt.succeed {
				b.RecordSuccess()
			} else {
				b.RecordFailure()
			}
			if b.State() != tt.want {
				t.Errorf("state = %s, want %s", b.State(), tt.want)
			}
			if !tt.succeed && b.Allow() {
				t.Error("reopened breaker allowed a call before a new cooldown")
			}
		})
	}
}

func TestBreaker_Do(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(1)

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}

	boom := errors.New("boom")
	if err := b.Do(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Do error = %v, want boom", err)
	}

	var called atomic.Bool
	err := b.Do(func() error {
		called.Store(true)
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Do error = %v, want ErrOpen", err)
	}
	if called.Load() {
		t.Error("fn called while open")
	}
}

func TestBreaker_OnChange(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	var (
		mu          sync.Mutex
		transitions []string
	)
	var b *Breaker
	b = New(Config{
		Threshold: 1,
		Cooldown:  time.Second,
		Now:       clock.Now,
		OnChange: func(from, to State) {
			// Must not deadlock when reading state from the callback
			_ = b.State()
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	b.RecordFailure()
	clock.Advance(time.Second)
	b.Allow()
	b.RecordSuccess()
	b.RecordSuccess()

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 1, Cooldown: time.Hour})

	a := r.Get("a.example")
	if r.Get("a.example") != a {
		t.Fatal("Get returned a different breaker for the same key")
	}
	r.Get("b.example").RecordFailure()

	stats := r.Stats()
	if stats.Total != 2 || stats.Open != 1 || stats.Closed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	snap := r.Snapshot()
	if snap["a.example"] != Closed || snap["b.example"] != Open {
		t.Errorf("unexpected snapshot %v", snap)
	}
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{})

	var wg sync.WaitGroup
	got := make([]*Breaker, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.Get("shared")
		}(i)
	}
	wg.Wait()

	for _, b := range got {
		if b != got[0] {
			t.Fatal("concurrent Get created more than one breaker")
		}
	}
}
