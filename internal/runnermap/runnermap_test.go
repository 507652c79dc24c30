package runnermap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/offload/internal/backend"
	"github.com/vk/offload/internal/graph"
)

// stubRunner is a minimal backend.CompiledRunner for cache tests.
type stubRunner struct {
	name string
}

func (s *stubRunner) Run(*graph.Stack) error     { return nil }
func (s *stubRunner) RunOnly(*graph.Stack) error { return nil }
func (s *stubRunner) Warm([]cty.Value) error     { return nil }
func (s *stubRunner) Settings() backend.Settings { return backend.Settings{} }

func buildStub(name string) func() backend.CompiledRunner {
	return func() backend.CompiledRunner { return &stubRunner{name: name} }
}

func TestGetOrInsertScenario(t *testing.T) {
	m := New()
	require.Equal(t, 0, m.Size())

	buildBCalled := false

	a := m.GetOrInsert("K1", buildStub("A"))
	require.NotNil(t, a)
	assert.Equal(t, 1, m.Size())

	got, ok := m.Lookup("K1")
	require.True(t, ok)
	assert.Same(t, a, got)

	b := m.GetOrInsert("K1", func() backend.CompiledRunner {
		buildBCalled = true
		return &stubRunner{name: "B"}
	})
	assert.Same(t, a, b, "second GetOrInsert must return the first entry")
	assert.False(t, buildBCalled, "losing builder must never run")
	assert.Equal(t, 1, m.Size())

	assert.True(t, m.Remove("K1"))
	assert.Equal(t, 0, m.Size())

	_, ok = m.Lookup("K1")
	assert.False(t, ok)
}

func TestLookupAbsentIsNotAnError(t *testing.T) {
	m := New()
	e, ok := m.Lookup("missing")
	assert.False(t, ok)
	assert.Nil(t, e)
}

func TestRemoveNonexistent(t *testing.T) {
	m := New()
	m.GetOrInsert("stay", buildStub("stay"))

	assert.False(t, m.Remove("missing"))
	assert.Equal(t, 1, m.Size(), "removing a nonexistent key must have no other effect")
}

func TestRemoveFreesKeyForReuse(t *testing.T) {
	m := New()
	first := m.GetOrInsert("K", buildStub("first"))
	require.True(t, m.Remove("K"))

	second := m.GetOrInsert("K", buildStub("second"))
	assert.NotSame(t, first, second)
	assert.Equal(t, "second", second.Runner.(*stubRunner).name)
}

func TestEntryIdentity(t *testing.T) {
	m := New()
	a := m.GetOrInsert("a", buildStub("a"))
	b := m.GetOrInsert("b", buildStub("b"))

	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.AddedAt.IsZero())
}

func TestClear(t *testing.T) {
	m := New()
	m.GetOrInsert("a", buildStub("a"))
	m.GetOrInsert("b", buildStub("b"))

	assert.Equal(t, 2, m.Clear())
	assert.Equal(t, 0, m.Size())
	assert.Equal(t, 0, m.Clear())
}

func TestKeysSorted(t *testing.T) {
	m := New()
	m.GetOrInsert("b", buildStub("b"))
	m.GetOrInsert("a", buildStub("a"))
	m.GetOrInsert("c", buildStub("c"))

	assert.Equal(t, []string{"a", "b", "c"}, m.Keys())
}

// TestGetOrInsert_BuilderRunsOnce verifies the lazy compilation gate: many
// goroutines racing on the same key's first use must trigger exactly one
// build, and every caller must receive the identical entry.
func TestGetOrInsert_BuilderRunsOnce(t *testing.T) {
	m := New()
	numGoroutines := 100

	var builds atomic.Int32
	entries := make([]*Entry, numGoroutines)

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			entries[i] = m.GetOrInsert("shared", func() backend.CompiledRunner {
				builds.Add(1)
				return &stubRunner{name: fmt.Sprintf("builder-%d", i)}
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load(), "builder must run exactly once")
	assert.Equal(t, 1, m.Size())
	for i := 1; i < numGoroutines; i++ {
		assert.Same(t, entries[0], entries[i], "caller %d received a different entry", i)
	}
}

// TestConcurrentLookupsDuringInserts hammers readers and writers on
// disjoint keys to shake out data races under -race.
func TestConcurrentLookupsDuringInserts(t *testing.T) {
	m := New()
	numGoroutines := 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines * 2)
	for i := 0; i < numGoroutines; i++ {
		key := fmt.Sprintf("key-%d", i)
		go func(key string) {
			defer wg.Done()
			m.GetOrInsert(key, buildStub(key))
		}(key)
		go func(key string) {
			defer wg.Done()
			m.Lookup(key)
			m.Size()
		}(key)
	}
	wg.Wait()

	assert.Equal(t, numGoroutines, m.Size())
}
