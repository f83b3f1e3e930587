// Package store provides run persistence backends and the resilient client the
// orchestrator uses to reach them.
package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"simorchestrator/internal/run"

	"github.com/google/uuid"
)

// Memory is an in-process run store. Records live for the lifetime of the process.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]*run.Run
	now  func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs: make(map[string]*run.Run),
		now:  time.Now,
	}
}

// Create implements run.Store.
func (m *Memory) Create(_ context.Context, r *run.Run) (string, error) {
	id := uuid.NewString()
	now := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[id]; exists {
		return "", fmt.Errorf("duplicate run id %s", id)
	}
	c := r.Clone()
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	m.runs[id] = c
	return id, nil
}

// Get implements run.Store.
func (m *Memory) Get(_ context.Context, id string) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, run.ErrNotFound
	}
	return r.Clone(), nil
}

// Update implements run.Store.
func (m *Memory) Update(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.runs[r.ID]
	if !ok {
		return run.ErrNotFound
	}
	c := r.Clone()
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.now().UTC()
	m.runs[r.ID] = c
	return nil
}

// ListByState implements run.Store.
func (m *Memory) ListByState(_ context.Context, s run.State) ([]*run.Run, error) {
	return m.filter(func(r *run.Run) bool { return r.State == s }, 0), nil
}

// ListByDateRange implements run.Store.
func (m *Memory) ListByDateRange(_ context.Context, from, to time.Time) ([]*run.Run, error) {
	return m.filter(func(r *run.Run) bool {
		return r.StartedAt != nil && !r.StartedAt.Before(from) && !r.StartedAt.After(to)
	}, 0), nil
}

// ListByModelName implements run.Store.
func (m *Memory) ListByModelName(_ context.Context, name string) ([]*run.Run, error) {
	return m.filter(func(r *run.Run) bool { return r.ModelName == name }, 0), nil
}

// List implements run.Store.
func (m *Memory) List(_ context.Context, limit int) ([]*run.Run, error) {
	return m.filter(func(*run.Run) bool { return true }, limit), nil
}

// Ping implements run.Store.
func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) filter(match func(*run.Run) bool, limit int) []*run.Run {
	m.mu.RLock()
	result := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if match(r) {
			result = append(result, r.Clone())
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(result, func(a, b *run.Run) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

var _ run.Store = (*Memory)(nil)
