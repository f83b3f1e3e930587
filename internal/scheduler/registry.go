package scheduler

import (
	"sync"

	"simorchestrator/internal/apperrors"
)

// registry maps run ids to their worker slots with thread-safe access.
type registry struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

func newRegistry() *registry {
	return &registry{
		slots: make(map[string]*slot),
	}
}

// reserve claims the id for a launching run. The entry holds nil until commit.
func (r *registry) reserve(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[runID]; exists {
		return apperrors.Conflict("run", runID, "run "+runID+" already has an active slot")
	}
	r.slots[runID] = nil
	return nil
}

// commit fills a reserved entry with the live slot.
func (r *registry) commit(runID string, s *slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[runID] = s
}

// release removes the entry if it still belongs to s. A nil s matches a
// reservation that was never committed.
func (r *registry) release(runID string, s *slot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.slots[runID]
	if !exists || current != s {
		return false
	}
	delete(r.slots, runID)
	return true
}

// get returns the slot for runID. It returns (nil, true) while the run is still launching.
func (r *registry) get(runID string) (*slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.slots[runID]
	return s, exists
}

// list returns the committed slots.
func (r *registry) list() []*slot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		if s != nil {
			result = append(result, s)
		}
	}
	return result
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}
