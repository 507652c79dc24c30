package graph

import "github.com/zclconf/go-cty/cty"

// Node is one operator application. A fusion node additionally carries the
// Subgraph it stands for; all other nodes leave it nil.
type Node struct {
	Sym      Symbol
	Inputs   []*Value
	Subgraph *Graph

	outs []*Value
}

// Outputs returns the node's output values.
func (n *Node) Outputs() []*Value { return n.outs }

// Output returns the node's first output value.
func (n *Node) Output() *Value { return n.outs[0] }

// Value is a single-assignment value in a graph: a graph input, a constant,
// or one output of a node.
type Value struct {
	producer *Node
	index    int
	constant *cty.Value
}

// Producer returns the node that produces this value, or nil for graph
// inputs and constants.
func (v *Value) Producer() *Node { return v.producer }

// Index is the output position on the producer node, or the input position
// on the graph when there is no producer.
func (v *Value) Index() int { return v.index }

// IsConstant reports whether the value is a constant.
func (v *Value) IsConstant() bool { return v.constant != nil }

// Constant returns the constant payload. Only valid when IsConstant is true.
func (v *Value) Constant() cty.Value { return *v.constant }
