// Package registry arbitrates live sessions per workflow. It is the single
// authority for the at-most-one-live-session-per-workflow invariant shared by
// editing sessions and executions, and for the global concurrency ceiling.
package registry

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrAlreadyActive is returned when the workflow already has a live session.
	ErrAlreadyActive = errors.New("workflow already has an active session")

	// ErrCapacityExceeded is returned when the global session ceiling is reached.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
)

// Kind distinguishes what owns a workflow's slot.
type Kind string

const (
	KindEditing   Kind = "editing"
	KindExecution Kind = "execution"
)

// DefaultMaxSessions bounds concurrent live sessions across all workflows.
const DefaultMaxSessions = 5

// Handle represents one acquired workflow slot. Its context is cancelled when
// the session is asked to stop; Release frees the slot.
type Handle struct {
	WorkflowID string
	Kind       Kind

	registry *Registry
	ctx      context.Context
	cancel   context.CancelFunc
	released bool
}

// Context is cancelled when the session should stop cooperatively.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Release frees the workflow's slot. Idempotent.
func (h *Handle) Release() {
	h.registry.release(h)
}

// Registry tracks which workflows have live sessions.
type Registry struct {
	mu       sync.Mutex
	max      int
	sessions map[string]*Handle
}

// NewRegistry creates a registry with the given global ceiling. A
// non-positive ceiling uses DefaultMaxSessions.
func NewRegistry(maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	return &Registry{
		max:      maxSessions,
		sessions: make(map[string]*Handle),
	}
}

// Acquire claims the workflow's slot. Concurrent calls for the same workflow
// are serialized; exactly one wins, the rest get ErrAlreadyActive.
func (r *Registry) Acquire(ctx context.Context, workflowID string, kind Kind) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[workflowID]; exists {
		return nil, ErrAlreadyActive
	}

	if len(r.sessions) >= r.max {
		return nil, ErrCapacityExceeded
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	handle := &Handle{
		WorkflowID: workflowID,
		Kind:       kind,
		registry:   r,
		ctx:        sessionCtx,
		cancel:     cancel,
	}
	r.sessions[workflowID] = handle

	return handle, nil
}

// Cancel asks the workflow's live session, if any, to stop. The slot is freed
// by the owner calling Release once it has wound down.
func (r *Registry) Cancel(workflowID string) bool {
	r.mu.Lock()
	handle, exists := r.sessions[workflowID]
	r.mu.Unlock()

	if !exists {
		return false
	}

	handle.cancel()

	return true
}

// Active reports what kind of session, if any, owns the workflow's slot.
func (r *Registry) Active(workflowID string) (Kind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle, exists := r.sessions[workflowID]
	if !exists {
		return "", false
	}

	return handle.Kind, true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.released {
		return
	}

	h.released = true
	h.cancel()

	if current, exists := r.sessions[h.WorkflowID]; exists && current == h {
		delete(r.sessions, h.WorkflowID)
	}
}
