// Package backend defines the contract between the offload core and a
// compiler backend. The core treats a backend as an opaque
// compile-and-run capability: it never looks inside a compiled runner,
// it only invokes it.
package backend

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/offload/internal/graph"
	"github.com/vk/offload/internal/ops"
)

// Settings is the runtime settings snapshot a runner is constructed with.
type Settings struct {
	// BackendName selects the backend implementation.
	BackendName string

	// PrecompileOnly makes dispatch call RunOnly instead of Run, assuming
	// every needed specialization was produced by an explicit Warm step.
	PrecompileOnly bool

	// SignalOverrides enables the interrupt-handler override around each
	// compiled-runner invocation.
	SignalOverrides bool
}

// Host gives a backend access to the runtime that owns the graphs it
// compiles. Implementations must be safe for concurrent use.
type Host interface {
	// Kernel resolves a built-in operator the backend wants to lower.
	Kernel(sym graph.Symbol) (ops.Kernel, bool)
}

// CompiledRunner is an executable form of one subgraph. Instances must be
// safe for concurrent invocation; the core shares one runner between all
// call sites that resolve to the same cache key.
type CompiledRunner interface {
	// Run executes the subgraph against the stack, compiling a
	// specialization for the argument signature on first use.
	Run(stack *graph.Stack) error

	// RunOnly executes without ever compiling. It fails if no
	// specialization exists for the argument signature.
	RunOnly(stack *graph.Stack) error

	// Warm compiles the specialization for the given sample arguments
	// without executing. Used by ahead-of-time preloading.
	Warm(args []cty.Value) error

	// Settings returns the settings snapshot the runner was built with.
	Settings() Settings
}

// Backend constructs compiled runners. Construction itself must be cheap;
// real compilation is deferred into Run/Warm so that holding the runner
// map's write lock during construction stays inexpensive.
type Backend interface {
	Name() string
	NewRunner(sub *graph.Graph, host Host, settings Settings) CompiledRunner
}
