// Package circuitbreaker stops calls to a dependency after consecutive
// failures and lets a single probe through once a cooldown has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do while the breaker is blocking calls.
var ErrOpen = errors.New("circuit breaker open")

// State represents the state of a circuit breaker.
type State int

const (
	Closed   State = iota // calls allowed
	Open                  // calls blocked until cooldown
	HalfOpen              // one probe in flight
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int                  // Consecutive failures before opening (default: 5)
	Cooldown  time.Duration        // Open duration before a probe is allowed (default: 30s)
	OnChange  func(from, to State) // Called without the lock held after each state change (optional)
	Now       func() time.Time     // Clock (default: time.Now)
}

// Breaker guards a single resource.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Do runs fn if the breaker allows it and records the outcome.
// It returns ErrOpen without calling fn while the circuit is open.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Allow reports whether a call may be attempted. After the cooldown exactly
// one caller is let through until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var changed func()
	allowed := true

	switch b.state {
	case Open:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			allowed = false
			break
		}
		changed = b.setState(HalfOpen)
		b.probing = true
	case HalfOpen:
		if b.probing {
			allowed = false
			break
		}
		b.probing = true
	}
	b.mu.Unlock()

	if changed != nil {
		changed()
	}
	return allowed
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.probing = false
	changed := b.setState(Closed)
	b.mu.Unlock()
	changed()
}

// RecordFailure counts a failure. A failed probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	b.probing = false
	changed := func() {}
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.cfg.Now()
		changed = b.setState(Open)
	}
	b.mu.Unlock()
	changed()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// setState must be called with mu held. The returned func fires OnChange and
// must be called after unlocking.
func (b *Breaker) setState(to State) func() {
	from := b.state
	b.state = to
	if from == to || b.cfg.OnChange == nil {
		return func() {}
	}
	return func() { b.cfg.OnChange(from, to) }
}
