package workspace

import (
	"context"
	"sync"
)

// MemoryRecorder keeps events in process memory. It is the default
// Recorder and is safe for concurrent use.
type MemoryRecorder struct {
	mu          sync.Mutex
	allocations []Allocation
	removals    []Removal
}

var _ Recorder = (*MemoryRecorder)(nil)

// NewMemoryRecorder returns an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) RecordAllocation(_ context.Context, a Allocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocations = append(r.allocations, a)
	return nil
}

func (r *MemoryRecorder) RecordRemoval(_ context.Context, rm Removal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removals = append(r.removals, rm)
	return nil
}

// Allocations returns a copy of every recorded allocation, oldest first.
func (r *MemoryRecorder) Allocations() []Allocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Allocation(nil), r.allocations...)
}

// Removals returns a copy of every recorded removal, oldest first.
func (r *MemoryRecorder) Removals() []Removal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Removal(nil), r.removals...)
}
