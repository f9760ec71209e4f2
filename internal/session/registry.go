package session

import "sync"

// Registry holds the live calls keyed by call ID. The outbound API registers
// calls before the provider connects; the media-stream handler attaches to
// the existing entry or creates one lazily for calls it has never seen.
type Registry struct {
	mu    sync.Mutex
	calls map[string]*Call
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*Call)}
}

// GetOrCreate returns the call with the given ID, creating it if absent.
func (r *Registry) GetOrCreate(callID string) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		c = newCall(callID)
		r.calls[callID] = c
	}
	return c
}

// Get returns the call with the given ID, or nil.
func (r *Registry) Get(callID string) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[callID]
}

// Remove drops the call from the registry. Removing an absent ID is a no-op.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, callID)
}

// Len returns the number of live calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
