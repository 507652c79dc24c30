// Package ops defines the host runtime's built-in operator kernels. Kernels
// evaluate over cty values so that graph programs and backend-compiled
// subgraphs share one value model.
package ops

import (
	"sort"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/vk/offload/internal/graph"
)

// Kernel is the evaluation function of one built-in operator. Kernels are
// pure: same inputs, same output, no side effects.
type Kernel struct {
	Arity int
	Fn    func(args []cty.Value) (cty.Value, error)
}

var builtins = map[graph.Symbol]Kernel{
	"num::add": {Arity: 2, Fn: func(args []cty.Value) (cty.Value, error) {
		return stdlib.Add(args[0], args[1])
	}},
	"num::sub": {Arity: 2, Fn: func(args []cty.Value) (cty.Value, error) {
		return stdlib.Subtract(args[0], args[1])
	}},
	"num::mul": {Arity: 2, Fn: func(args []cty.Value) (cty.Value, error) {
		return stdlib.Multiply(args[0], args[1])
	}},
	"num::div": {Arity: 2, Fn: func(args []cty.Value) (cty.Value, error) {
		return stdlib.Divide(args[0], args[1])
	}},
	"num::neg": {Arity: 1, Fn: func(args []cty.Value) (cty.Value, error) {
		return stdlib.Negate(args[0])
	}},
	"num::abs": {Arity: 1, Fn: func(args []cty.Value) (cty.Value, error) {
		return stdlib.Absolute(args[0])
	}},
	"num::max": {Arity: 2, Fn: func(args []cty.Value) (cty.Value, error) {
		return stdlib.Max(args...)
	}},
	"num::min": {Arity: 2, Fn: func(args []cty.Value) (cty.Value, error) {
		return stdlib.Min(args...)
	}},
	"str::upper": {Arity: 1, Fn: func(args []cty.Value) (cty.Value, error) {
		return stdlib.Upper(args[0])
	}},
	"str::strlen": {Arity: 1, Fn: func(args []cty.Value) (cty.Value, error) {
		return stdlib.Strlen(args[0])
	}},
}

// Lookup returns the kernel for a built-in operator symbol.
func Lookup(sym graph.Symbol) (Kernel, bool) {
	k, ok := builtins[sym]
	return k, ok
}

// Symbols returns all built-in operator symbols in sorted order.
func Symbols() []graph.Symbol {
	syms := make([]graph.Symbol, 0, len(builtins))
	for sym := range builtins {
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i] < syms[j] })
	return syms
}
