package graph

import (
	"sync/atomic"

	"github.com/zclconf/go-cty/cty"
)

// Symbol is a qualified operator name, e.g. "num::add" or
// "offload::fusion_group".
type Symbol string

// blockCounter hands out process-unique block identities.
var blockCounter atomic.Uint64

// Block anchors the structural identity of one Graph instance. Its ID is
// unique within the process but carries no meaning beyond that: it is not
// stable across restarts, and a copied graph gets a fresh block. Anything
// keyed on a block identity inherits those limits.
type Block struct {
	id uint64
}

// ID returns the process-unique identity of the block.
func (b *Block) ID() uint64 { return b.id }

// Graph is a single-assignment operator graph. Nodes are stored in
// topological order: a node may only consume values produced by earlier
// nodes, graph inputs, or constants.
type Graph struct {
	block   *Block
	inputs  []*Value
	names   []string
	nodes   []*Node
	outputs []*Value
}

// New creates an empty graph with a fresh block identity.
func New() *Graph {
	return &Graph{block: &Block{id: blockCounter.Add(1)}}
}

// Block returns the graph's identity anchor.
func (g *Graph) Block() *Block { return g.block }

// AddInput declares a named graph input and returns its value.
func (g *Graph) AddInput(name string) *Value {
	v := &Value{index: len(g.inputs)}
	g.inputs = append(g.inputs, v)
	g.names = append(g.names, name)
	return v
}

// Inputs returns the graph's input values in declaration order.
func (g *Graph) Inputs() []*Value { return g.inputs }

// InputNames returns the declared input names in declaration order.
func (g *Graph) InputNames() []string { return g.names }

// Constant returns a value that always evaluates to v.
func (g *Graph) Constant(v cty.Value) *Value {
	return &Value{constant: &v}
}

// AddNode appends a single-output node for the given operator.
func (g *Graph) AddNode(sym Symbol, inputs ...*Value) *Node {
	n := &Node{Sym: sym, Inputs: inputs}
	n.outs = []*Value{{producer: n}}
	g.nodes = append(g.nodes, n)
	return n
}

// NewFusionNode builds a detached node carrying a subgraph, with one output
// per subgraph output. The caller is responsible for splicing it into a
// graph's node list; see Splice.
func NewFusionNode(sym Symbol, sub *Graph, inputs ...*Value) *Node {
	n := &Node{Sym: sym, Inputs: inputs, Subgraph: sub}
	n.outs = make([]*Value, len(sub.Outputs()))
	for i := range n.outs {
		n.outs[i] = &Value{producer: n, index: i}
	}
	return n
}

// Nodes returns the graph's nodes in topological order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// SetOutputs declares the graph's outputs.
func (g *Graph) SetOutputs(vals ...*Value) {
	g.outputs = vals
}

// Outputs returns the graph's declared outputs.
func (g *Graph) Outputs() []*Value { return g.outputs }

// Splice replaces nodes[i:j] with the given replacement node, preserving the
// order of the surrounding nodes.
func (g *Graph) Splice(i, j int, replacement *Node) {
	tail := append([]*Node{replacement}, g.nodes[j:]...)
	g.nodes = append(g.nodes[:i:i], tail...)
}

// ReplaceUses rewires every use of old (node inputs and graph outputs) to
// point at new instead.
func (g *Graph) ReplaceUses(old, new *Value) {
	for _, n := range g.nodes {
		for i, in := range n.Inputs {
			if in == old {
				n.Inputs[i] = new
			}
		}
	}
	for i, out := range g.outputs {
		if out == old {
			g.outputs[i] = new
		}
	}
}
