package hostrt

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/offload/internal/ctxlog"
	"github.com/vk/offload/internal/graph"
	"github.com/vk/offload/internal/ops"
	"github.com/vk/offload/internal/sigguard"
)

// AliasKind is the alias-analysis classification a registered operator
// declares to the runtime.
type AliasKind int

const (
	// AliasConservative assumes the operator may read or write anything.
	AliasConservative AliasKind = iota
	// AliasPureFunction declares the operator free of side effects; its
	// outputs depend only on its inputs.
	AliasPureFunction
)

// Operation is a callable operator body. It pops its inputs off the stack
// and pushes its outputs. Failures propagate by panicking with *OpFailure;
// the runtime recovers them at the invocation boundary.
type Operation func(stack *graph.Stack)

// OpFactory builds the operation body for one concrete node. It runs once
// per node, when the runtime first prepares the node for execution.
type OpFactory func(n *graph.Node) Operation

// OpFailure is the runtime's failure-signaling convention for custom
// operators. Operator bodies do not return errors; they panic with this
// type and the runtime converts it back into an error at its call boundary.
type OpFailure struct {
	Err error
}

func (f *OpFailure) Error() string {
	return fmt.Sprintf("operator failure: %v", f.Err)
}

func (f *OpFailure) Unwrap() error { return f.Err }

// Fail aborts the current operator invocation with err.
func Fail(err error) {
	panic(&OpFailure{Err: err})
}

// Pass is a graph-rewriting pass with an enable predicate evaluated at each
// pass run.
type Pass struct {
	Name    string
	Enabled func() bool
	Run     func(ctx context.Context, g *graph.Graph)
}

type registeredOp struct {
	factory OpFactory
	alias   AliasKind
}

// Runtime is a minimal host: an operator table, a pass list, and a
// node-by-node graph interpreter. It is the registration sink the offload
// layer installs its fusion operator and fusion pass into.
type Runtime struct {
	mu     sync.RWMutex
	custom map[graph.Symbol]registeredOp
	passes []Pass

	prepMu   sync.Mutex
	prepared map[*graph.Node]Operation
}

// New creates an empty runtime. Built-in kernels from the ops package are
// always available; RegisterOperator adds custom operators on top.
func New() *Runtime {
	return &Runtime{
		custom:   make(map[graph.Symbol]registeredOp),
		prepared: make(map[*graph.Node]Operation),
	}
}

// RegisterOperator installs a custom operator. Registering the same symbol
// twice is a programmer error and panics.
func (r *Runtime) RegisterOperator(sym graph.Symbol, factory OpFactory, alias AliasKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.custom[sym]; exists {
		panic(fmt.Sprintf("hostrt: operator %q already registered", sym))
	}
	r.custom[sym] = registeredOp{factory: factory, alias: alias}
}

// RegisterPass appends a pass to the pass list.
func (r *Runtime) RegisterPass(p Pass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, p)
}

// AliasKindOf returns the alias classification of a registered operator.
func (r *Runtime) AliasKindOf(sym graph.Symbol) (AliasKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.custom[sym]
	return op.alias, ok
}

// Kernel resolves a built-in operator. It satisfies the backend host
// contract, letting backends lower the same kernels the interpreter runs.
func (r *Runtime) Kernel(sym graph.Symbol) (ops.Kernel, bool) {
	return ops.Lookup(sym)
}

// RunPasses applies every registered pass whose enable predicate currently
// holds.
func (r *Runtime) RunPasses(ctx context.Context, g *graph.Graph) {
	r.mu.RLock()
	passes := make([]Pass, len(r.passes))
	copy(passes, r.passes)
	r.mu.RUnlock()

	logger := ctxlog.FromContext(ctx)
	for _, p := range passes {
		if p.Enabled != nil && !p.Enabled() {
			logger.Debug("Pass disabled, skipping.", "pass", p.Name)
			continue
		}
		p.Run(ctx, g)
	}
}

// RunGraph applies the registered passes and interprets the graph against
// the given arguments. While the graph runs, the runtime subscribes to the
// standard termination signals so an interrupt can stop execution between
// nodes; this is the handler the offload dispatch layer saves and restores
// around backend calls.
func (r *Runtime) RunGraph(ctx context.Context, g *graph.Graph, args []cty.Value) ([]cty.Value, error) {
	if len(args) != len(g.Inputs()) {
		return nil, fmt.Errorf("hostrt: graph takes %d arguments, got %d", len(g.Inputs()), len(args))
	}

	r.RunPasses(ctx, g)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	sigguard.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer sigguard.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			ctxlog.FromContext(ctx).Warn("Interrupt received, stopping graph execution.", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	env := make(map[*graph.Value]cty.Value)
	for i, in := range g.Inputs() {
		env[in] = args[i]
	}

	resolve := func(v *graph.Value) (cty.Value, error) {
		if v.IsConstant() {
			return v.Constant(), nil
		}
		val, ok := env[v]
		if !ok {
			return cty.NilVal, fmt.Errorf("hostrt: value used before definition")
		}
		return val, nil
	}

	for _, n := range g.Nodes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		inputs := make([]cty.Value, len(n.Inputs))
		for i, in := range n.Inputs {
			val, err := resolve(in)
			if err != nil {
				return nil, err
			}
			inputs[i] = val
		}

		outs, err := r.evalNode(n, inputs)
		if err != nil {
			return nil, err
		}
		if len(outs) != len(n.Outputs()) {
			return nil, fmt.Errorf("hostrt: operator %q produced %d outputs, node declares %d", n.Sym, len(outs), len(n.Outputs()))
		}
		for i, out := range n.Outputs() {
			env[out] = outs[i]
		}
	}

	results := make([]cty.Value, len(g.Outputs()))
	for i, out := range g.Outputs() {
		val, err := resolve(out)
		if err != nil {
			return nil, err
		}
		results[i] = val
	}
	return results, nil
}

func (r *Runtime) evalNode(n *graph.Node, inputs []cty.Value) ([]cty.Value, error) {
	r.mu.RLock()
	op, custom := r.custom[n.Sym]
	r.mu.RUnlock()

	if custom {
		stack := graph.Stack(inputs)
		if err := invoke(r.preparedOp(n, op.factory), &stack); err != nil {
			return nil, fmt.Errorf("hostrt: %s: %w", n.Sym, err)
		}
		return stack, nil
	}

	kernel, ok := ops.Lookup(n.Sym)
	if !ok {
		return nil, fmt.Errorf("hostrt: unknown operator %q", n.Sym)
	}
	if kernel.Arity != len(inputs) {
		return nil, fmt.Errorf("hostrt: operator %q takes %d inputs, node has %d", n.Sym, kernel.Arity, len(inputs))
	}
	out, err := kernel.Fn(inputs)
	if err != nil {
		return nil, fmt.Errorf("hostrt: %s: %w", n.Sym, err)
	}
	return []cty.Value{out}, nil
}

// preparedOp returns the cached operation body for a node, building it on
// first evaluation. Factories therefore run once per node, and whatever they
// resolved (a compiled runner, say) is reused on every later invocation of
// that node.
func (r *Runtime) preparedOp(n *graph.Node, factory OpFactory) Operation {
	r.prepMu.Lock()
	defer r.prepMu.Unlock()
	if op, ok := r.prepared[n]; ok {
		return op
	}
	op := factory(n)
	r.prepared[n] = op
	return op
}

// invoke runs an operation body, converting the runtime's typed failure
// panic back into an error. Any other panic is a bug and keeps unwinding.
func invoke(op Operation, stack *graph.Stack) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if f, ok := p.(*OpFailure); ok {
				err = f.Err
				return
			}
			panic(p)
		}
	}()
	op(stack)
	return nil
}
