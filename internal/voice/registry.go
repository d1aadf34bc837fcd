// Package voice manages the lifecycle of the voice channels the agent creates
// on demand: create on trigger, delete on empty, owner-gated rename.
package voice

import (
	"sort"
	"sync"
)

// Registry is the set of channel IDs created by this agent and not yet
// deleted by it. It is the single source of truth for "mine to delete".
// All operations are idempotent and safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]struct{})}
}

// Contains reports whether the channel was created by this agent.
func (r *Registry) Contains(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[channelID]
	return ok
}

// Add records a created channel.
func (r *Registry) Add(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[channelID] = struct{}{}
}

// Remove forgets a channel.
func (r *Registry) Remove(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, channelID)
}

// Len returns the number of managed channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// IDs returns the managed channel IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
