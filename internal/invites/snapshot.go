// Package invites infers which invite a new member used by diffing live
// invite use counts against the last stored snapshot.
package invites

import (
	"maps"
	"sync"

	"github.com/KafClaw/guildkeeper/internal/platform"
)

// SnapshotStore holds, per guild, the last known invite code to use count
// mapping. Reads and writes are whole-value: Get returns a copy and Replace
// swaps the guild's mapping wholesale. Last write wins.
type SnapshotStore struct {
	mu     sync.RWMutex
	guilds map[string]map[string]int
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{guilds: make(map[string]map[string]int)}
}

// Get returns a copy of the guild's snapshot, empty if the guild is unknown.
func (s *SnapshotStore) Get(guildID string) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.guilds[guildID]))
	maps.Copy(out, s.guilds[guildID])
	return out
}

// Replace stores a copy of snapshot as the guild's current state.
func (s *SnapshotStore) Replace(guildID string, snapshot map[string]int) {
	cp := make(map[string]int, len(snapshot))
	maps.Copy(cp, snapshot)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guilds[guildID] = cp
}

// Ensure creates an empty snapshot for a guild that has none yet.
func (s *SnapshotStore) Ensure(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guilds[guildID]; !ok {
		s.guilds[guildID] = make(map[string]int)
	}
}

// Known reports whether the guild has a snapshot.
func (s *SnapshotStore) Known(guildID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.guilds[guildID]
	return ok
}

// Len returns the number of guilds with a snapshot.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.guilds)
}

// Counts converts a live invite list to a snapshot mapping.
func Counts(invites []platform.Invite) map[string]int {
	out := make(map[string]int, len(invites))
	for _, inv := range invites {
		out[inv.Code] = inv.Uses
	}
	return out
}
