package runnermap

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/offload/internal/backend"
	"github.com/vk/offload/internal/metrics"
)

// Entry is one cached compiled runner. Entries are immutable after insert;
// the ID and timestamp exist for the management surface and logs.
type Entry struct {
	ID      uuid.UUID
	Runner  backend.CompiledRunner
	AddedAt time.Time
}

// Map is a concurrently accessed mapping from cache keys to compiled-runner
// entries. Lookups take a read lock so concurrent executions don't contend
// once a runner is cached; GetOrInsert and Remove take the write lock.
//
// Holding the write lock across the builder serializes unrelated inserts
// behind one key's construction. That is an accepted tradeoff: builders are
// cheap constructors (backends defer real compilation into Run/Warm), and
// runner construction is rare next to execution.
type Map struct {
	mu      sync.RWMutex
	runners map[string]*Entry
}

// New creates an empty runner map.
func New() *Map {
	return &Map{runners: make(map[string]*Entry)}
}

// Size returns the current entry count.
func (m *Map) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runners)
}

// Lookup returns the entry for key if present. Absence is not an error.
func (m *Map) Lookup(key string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.runners[key]
	return e, ok
}

// GetOrInsert returns the entry for key, constructing and inserting one via
// build if none exists. The check and the insert happen under one write
// lock, so for any key the builder runs at most once even when several
// callers race on first use; the losers get the winner's entry.
//
// A key that appears between the presence check and the insert can only
// mean the builder re-entered the map for its own key. That breaks the
// at-most-one-runner invariant and is a programmer error, so it panics.
func (m *Map) GetOrInsert(key string, build func() backend.CompiledRunner) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.runners[key]; ok {
		return e
	}

	e := &Entry{
		ID:      uuid.New(),
		Runner:  build(),
		AddedAt: time.Now(),
	}
	if _, clash := m.runners[key]; clash {
		panic(fmt.Sprintf("runnermap: key %q inserted while its builder was running", key))
	}
	m.runners[key] = e
	metrics.MapSize.Set(float64(len(m.runners)))
	return e
}

// Remove erases the entry for key and reports whether it existed.
func (m *Map) Remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runners[key]; !ok {
		return false
	}
	delete(m.runners, key)
	metrics.MapSize.Set(float64(len(m.runners)))
	return true
}

// Clear removes every entry and returns how many were dropped. Exists for
// test isolation and process-level teardown, not for steady-state use.
func (m *Map) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.runners)
	m.runners = make(map[string]*Entry)
	metrics.MapSize.Set(0)
	return n
}

// Keys returns all keys in sorted order, for the management surface.
func (m *Map) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.runners))
	for k := range m.runners {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
