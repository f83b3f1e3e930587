package circuitbreaker

import "sync"

// Registry holds one breaker per key, created on first use with a shared config.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for key.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = New(r.cfg)
		r.breakers[key] = b
	}
	return b
}

// Stats counts breakers by state.
type Stats struct {
	Total    int
	Open     int
	HalfOpen int
	Closed   int
}

// Stats returns the number of breakers in each state.
func (r *Registry) Stats() Stats {
	var s Stats
	for _, state := range r.Snapshot() {
		s.Total++
		switch state {
		case Open:
			s.Open++
		case HalfOpen:
			s.HalfOpen++
		default:
			s.Closed++
		}
	}
	return s
}

// Snapshot returns the state of every breaker by key.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	breakers := make(map[string]*Breaker, len(r.breakers))
	for k, b := range r.breakers {
		breakers[k] = b
	}
	r.mu.Unlock()

	states := make(map[string]State, len(breakers))
	for k, b := range breakers {
		states[k] = b.State()
	}
	return states
}
