package dispatch

import (
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/offload/internal/backend"
	"github.com/vk/offload/internal/graph"
	"github.com/vk/offload/internal/hostrt"
	"github.com/vk/offload/internal/ops"
	"github.com/vk/offload/internal/runnerkey"
	"github.com/vk/offload/internal/runnermap"
	"github.com/vk/offload/internal/sigguard"
)

const fusionSym = graph.Symbol("offload::fusion_group")

type kernelHost struct{}

func (kernelHost) Kernel(sym graph.Symbol) (ops.Kernel, bool) { return ops.Lookup(sym) }

// recordingRunner records which entry point ran and can fail on demand.
type recordingRunner struct {
	name     string
	settings backend.Settings
	runErr   error
	ranOnly  bool
	ran      bool
	onRun    func()
}

func (r *recordingRunner) Run(*graph.Stack) error {
	r.ran = true
	if r.onRun != nil {
		r.onRun()
	}
	return r.runErr
}

func (r *recordingRunner) RunOnly(*graph.Stack) error {
	r.ranOnly = true
	return r.runErr
}

func (r *recordingRunner) Warm([]cty.Value) error     { return nil }
func (r *recordingRunner) Settings() backend.Settings { return r.settings }

// countingBackend counts runner constructions.
type countingBackend struct {
	builds atomic.Int32
	runErr error
}

func (b *countingBackend) Name() string { return "counting" }

func (b *countingBackend) NewRunner(sub *graph.Graph, host backend.Host, settings backend.Settings) backend.CompiledRunner {
	b.builds.Add(1)
	return &recordingRunner{name: "built", settings: settings, runErr: b.runErr}
}

func fusionNode(t *testing.T) *graph.Node {
	t.Helper()
	sub := graph.New()
	a := sub.AddInput("i0")
	n := sub.AddNode("num::neg", a)
	sub.SetOutputs(n.Output())
	return graph.NewFusionNode(fusionSym, sub)
}

func TestResolveBuildsOnFirstMiss(t *testing.T) {
	be := &countingBackend{}
	d := New(runnermap.New(), be, kernelHost{}, backend.Settings{BackendName: "counting"})

	n := fusionNode(t)
	first, err := d.Resolve(n)
	require.NoError(t, err)
	assert.Equal(t, int32(1), be.builds.Load())

	second, err := d.Resolve(n)
	require.NoError(t, err)
	assert.Same(t, first, second, "second resolution must hit the structural entry")
	assert.Equal(t, int32(1), be.builds.Load(), "no rebuild on a structural hit")
}

func TestResolveDistinctSubgraphsGetDistinctRunners(t *testing.T) {
	be := &countingBackend{}
	d := New(runnermap.New(), be, kernelHost{}, backend.Settings{})

	e1, err := d.Resolve(fusionNode(t))
	require.NoError(t, err)
	e2, err := d.Resolve(fusionNode(t))
	require.NoError(t, err)

	assert.NotSame(t, e1, e2)
	assert.Equal(t, int32(2), be.builds.Load())
}

func TestResolveStructuralBeatsSymbolic(t *testing.T) {
	runners := runnermap.New()
	n := fusionNode(t)

	symbolic := runners.GetOrInsert(runnerkey.Symbolic(n.Sym), func() backend.CompiledRunner {
		return &recordingRunner{name: "symbolic"}
	})
	structural := runners.GetOrInsert(runnerkey.Structural(n.Subgraph.Block()), func() backend.CompiledRunner {
		return &recordingRunner{name: "structural"}
	})

	be := &countingBackend{}
	d := New(runners, be, kernelHost{}, backend.Settings{})

	e, err := d.Resolve(n)
	require.NoError(t, err)
	assert.Same(t, structural, e)
	assert.NotSame(t, symbolic, e)
	assert.Equal(t, int32(0), be.builds.Load())
}

func TestResolveFallsBackToSymbolic(t *testing.T) {
	runners := runnermap.New()
	n := fusionNode(t)

	preloaded := runners.GetOrInsert(runnerkey.Symbolic(n.Sym), func() backend.CompiledRunner {
		return &recordingRunner{name: "preloaded"}
	})

	be := &countingBackend{}
	d := New(runners, be, kernelHost{}, backend.Settings{})

	e, err := d.Resolve(n)
	require.NoError(t, err)
	assert.Same(t, preloaded, e, "ahead-of-time entry must satisfy the node")
	assert.Equal(t, int32(0), be.builds.Load())
}

func TestResolveRejectsPlainNode(t *testing.T) {
	g := graph.New()
	a := g.AddInput("a")
	n := g.AddNode("num::neg", a)

	d := New(runnermap.New(), &countingBackend{}, kernelHost{}, backend.Settings{})
	_, err := d.Resolve(n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carries no subgraph")
}

func TestOperationRunsRunner(t *testing.T) {
	runner := &recordingRunner{}
	op := newOp(t, runner, backend.Settings{})

	var stack graph.Stack
	op(&stack)

	assert.True(t, runner.ran)
	assert.False(t, runner.ranOnly)
}

func TestOperationHonorsPrecompileOnly(t *testing.T) {
	runner := &recordingRunner{settings: backend.Settings{PrecompileOnly: true}}
	op := newOp(t, runner, backend.Settings{})

	var stack graph.Stack
	op(&stack)

	assert.True(t, runner.ranOnly, "a precompile-only runner must never compile lazily")
	assert.False(t, runner.ran)
}

func TestOperationFailureBecomesOpFailure(t *testing.T) {
	boom := errors.New("boom")
	runner := &recordingRunner{runErr: boom}
	op := newOp(t, runner, backend.Settings{})

	err := capture(op)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestOperationOverridesAndRestoresHandlers(t *testing.T) {
	ch := make(chan os.Signal, 1)
	t.Cleanup(func() { sigguard.Stop(ch) })
	sigguard.Notify(ch, os.Interrupt, syscall.SIGTERM)

	var duringRun sigguard.State
	runner := &recordingRunner{onRun: func() {
		duringRun = sigguard.Current(os.Interrupt)
	}}
	op := newOp(t, runner, backend.Settings{SignalOverrides: true})

	var stack graph.Stack
	op(&stack)

	assert.Equal(t, sigguard.StateNone, duringRun, "handlers must be default while the runner executes")
	assert.Equal(t, sigguard.StateNotify, sigguard.Current(os.Interrupt))
	assert.Equal(t, sigguard.StateNotify, sigguard.Current(syscall.SIGTERM))
}

func TestOperationRestoresHandlersOnFailure(t *testing.T) {
	ch := make(chan os.Signal, 1)
	t.Cleanup(func() { sigguard.Stop(ch) })
	sigguard.Notify(ch, os.Interrupt, syscall.SIGTERM)

	runner := &recordingRunner{runErr: errors.New("backend exploded")}
	op := newOp(t, runner, backend.Settings{SignalOverrides: true})

	err := capture(op)
	require.Error(t, err)
	assert.Equal(t, sigguard.StateNotify, sigguard.Current(os.Interrupt),
		"handlers must come back even when the runner fails")
	assert.Equal(t, sigguard.StateNotify, sigguard.Current(syscall.SIGTERM))
}

func TestOperationSkipsOverrideWhenDisabled(t *testing.T) {
	ch := make(chan os.Signal, 1)
	t.Cleanup(func() { sigguard.Stop(ch) })
	sigguard.Notify(ch, os.Interrupt)

	var duringRun sigguard.State
	runner := &recordingRunner{onRun: func() {
		duringRun = sigguard.Current(os.Interrupt)
	}}
	op := newOp(t, runner, backend.Settings{SignalOverrides: false})

	var stack graph.Stack
	op(&stack)

	assert.Equal(t, sigguard.StateNotify, duringRun)
}

// newOp installs runner under a fresh node's structural key and returns the
// dispatcher-produced operation for that node.
func newOp(t *testing.T, runner backend.CompiledRunner, settings backend.Settings) hostrt.Operation {
	t.Helper()
	runners := runnermap.New()
	n := fusionNode(t)
	runners.GetOrInsert(runnerkey.Structural(n.Subgraph.Block()), func() backend.CompiledRunner {
		return runner
	})
	d := New(runners, &countingBackend{}, kernelHost{}, settings)
	return d.OpFactory()(n)
}

// capture runs op and converts its failure panic back into an error, the
// same way the host runtime's invocation boundary does.
func capture(op hostrt.Operation) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if f, ok := p.(*hostrt.OpFailure); ok {
				err = f.Err
				return
			}
			panic(p)
		}
	}()
	var stack graph.Stack
	op(&stack)
	return nil
}
