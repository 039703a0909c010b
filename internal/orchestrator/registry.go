package orchestrator

import "sync"

// Registry is the process-wide set of active run ids. It gives run-level
// mutual exclusion: a second start request for an active run is rejected,
// not queued. Entries are inserted on start and removed when the run
// reaches a terminal state or its worker exits.
type Registry struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]bool)}
}

// TryAcquire atomically claims a run id. It returns false when the run
// is already active.
func (r *Registry) TryAcquire(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[runID] {
		return false
	}
	r.active[runID] = true
	return true
}

// Release frees a run id so a later start can claim it again
func (r *Registry) Release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, runID)
}

// IsActive reports whether the run currently holds a registry slot
func (r *Registry) IsActive(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[runID]
}

// Count returns the number of active runs
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
