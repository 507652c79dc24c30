// Package interp is the reference backend: it "compiles" a subgraph into a
// flat evaluation plan over the host's built-in kernels, specialized and
// cached per argument-type signature. It exists so the cache and dispatch
// layers can be exercised end to end without a real compiler.
package interp

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/offload/internal/backend"
	"github.com/vk/offload/internal/graph"
	"github.com/vk/offload/internal/metrics"
)

// Backend builds interpreting runners.
type Backend struct{}

// New returns the interp backend.
func New() *Backend { return &Backend{} }

// Name implements backend.Backend.
func (*Backend) Name() string { return "interp" }

// NewRunner implements backend.Backend. Construction is cheap; the plan for
// each argument signature is built lazily by Run or explicitly by Warm.
func (*Backend) NewRunner(sub *graph.Graph, host backend.Host, settings backend.Settings) backend.CompiledRunner {
	return &runner{
		sub:      sub,
		host:     host,
		settings: settings,
		plans:    make(map[string]*plan),
	}
}

// operand resolves one kernel input at execution time.
type operand struct {
	slot     int // value-table slot, or -1 for a constant
	constant cty.Value
}

// step applies one kernel to resolved operands and stores the result.
type step struct {
	sym  graph.Symbol
	fn   func(args []cty.Value) (cty.Value, error)
	args []operand
	out  int
}

// plan is one compiled specialization of the subgraph.
type plan struct {
	steps  []step
	nSlots int
	outs   []operand
}

type runner struct {
	sub      *graph.Graph
	host     backend.Host
	settings backend.Settings

	mu    sync.Mutex
	plans map[string]*plan
}

// Settings implements backend.CompiledRunner.
func (r *runner) Settings() backend.Settings { return r.settings }

// Run pops the subgraph's arguments off the stack, compiling a
// specialization for their signature if none exists yet, and pushes the
// subgraph's outputs.
func (r *runner) Run(stack *graph.Stack) error {
	args, err := r.popArgs(stack)
	if err != nil {
		return err
	}
	p, err := r.planFor(args, true)
	if err != nil {
		return err
	}
	return r.execute(p, args, stack)
}

// RunOnly is like Run but never compiles: a missing specialization is an
// error, not a trigger for lazy compilation.
func (r *runner) RunOnly(stack *graph.Stack) error {
	args, err := r.popArgs(stack)
	if err != nil {
		return err
	}
	p, err := r.planFor(args, false)
	if err != nil {
		return err
	}
	return r.execute(p, args, stack)
}

// popArgs takes the subgraph's arguments off the stack. The caller may have
// pushed fewer values than the subgraph declares, typically when an
// ahead-of-time runner was installed for a program whose arity differs from
// the fused subgraph dispatching to it; that must surface as an error, not
// a stack underflow.
func (r *runner) popArgs(stack *graph.Stack) ([]cty.Value, error) {
	need := len(r.sub.Inputs())
	if stack.Len() < need {
		return nil, fmt.Errorf("interp: subgraph takes %d arguments, stack has %d", need, stack.Len())
	}
	return stack.PopN(need), nil
}

// Warm compiles the specialization for the sample arguments without
// executing it.
func (r *runner) Warm(args []cty.Value) error {
	_, err := r.planFor(args, true)
	return err
}

func (r *runner) planFor(args []cty.Value, compile bool) (*plan, error) {
	if len(args) != len(r.sub.Inputs()) {
		return nil, fmt.Errorf("interp: subgraph takes %d arguments, got %d", len(r.sub.Inputs()), len(args))
	}
	sig := signature(args)

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.plans[sig]; ok {
		return p, nil
	}
	if !compile {
		return nil, fmt.Errorf("interp: no precompiled specialization for signature %q", sig)
	}

	start := time.Now()
	p, err := r.compile()
	if err != nil {
		return nil, err
	}
	metrics.Compiles.Inc()
	metrics.CompileSeconds.Observe(time.Since(start).Seconds())
	r.plans[sig] = p
	return p, nil
}

// compile flattens the subgraph into an evaluation plan: one value-table
// slot per graph input and per node output, one step per node.
func (r *runner) compile() (*plan, error) {
	slots := make(map[*graph.Value]int)
	for i, in := range r.sub.Inputs() {
		slots[in] = i
	}
	nSlots := len(r.sub.Inputs())

	resolve := func(v *graph.Value) (operand, error) {
		if v.IsConstant() {
			return operand{slot: -1, constant: v.Constant()}, nil
		}
		slot, ok := slots[v]
		if !ok {
			return operand{}, fmt.Errorf("interp: value has no producer in subgraph")
		}
		return operand{slot: slot}, nil
	}

	p := &plan{}
	for _, n := range r.sub.Nodes() {
		kernel, ok := r.host.Kernel(n.Sym)
		if !ok {
			return nil, fmt.Errorf("interp: unsupported operator %q in subgraph", n.Sym)
		}
		if kernel.Arity != len(n.Inputs) {
			return nil, fmt.Errorf("interp: operator %q takes %d inputs, node has %d", n.Sym, kernel.Arity, len(n.Inputs))
		}
		st := step{sym: n.Sym, fn: kernel.Fn, out: nSlots}
		for _, in := range n.Inputs {
			op, err := resolve(in)
			if err != nil {
				return nil, err
			}
			st.args = append(st.args, op)
		}
		slots[n.Output()] = nSlots
		nSlots++
		p.steps = append(p.steps, st)
	}

	for _, out := range r.sub.Outputs() {
		op, err := resolve(out)
		if err != nil {
			return nil, err
		}
		p.outs = append(p.outs, op)
	}
	p.nSlots = nSlots
	return p, nil
}

func (r *runner) execute(p *plan, args []cty.Value, stack *graph.Stack) error {
	table := make([]cty.Value, p.nSlots)
	copy(table, args)

	fetch := func(op operand) cty.Value {
		if op.slot < 0 {
			return op.constant
		}
		return table[op.slot]
	}

	buf := make([]cty.Value, 0, 2)
	for _, st := range p.steps {
		buf = buf[:0]
		for _, op := range st.args {
			buf = append(buf, fetch(op))
		}
		out, err := st.fn(buf)
		if err != nil {
			return fmt.Errorf("interp: %s: %w", st.sym, err)
		}
		table[st.out] = out
	}

	for _, op := range p.outs {
		stack.Push(fetch(op))
	}
	return nil
}

func signature(args []cty.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Type().FriendlyName()
	}
	return strings.Join(parts, ";")
}
