package graph

import "github.com/zclconf/go-cty/cty"

// Stack is the operand stack used as the call convention for operator
// invocations: the caller pushes the inputs in order, the operation pops
// them and pushes its outputs in order.
type Stack []cty.Value

// Push appends values to the top of the stack.
func (s *Stack) Push(vals ...cty.Value) {
	*s = append(*s, vals...)
}

// PopN removes the top n values and returns them in push order.
func (s *Stack) PopN(n int) []cty.Value {
	old := *s
	vals := old[len(old)-n:]
	*s = old[:len(old)-n]
	return vals
}

// Len returns the number of values on the stack.
func (s *Stack) Len() int { return len(*s) }
