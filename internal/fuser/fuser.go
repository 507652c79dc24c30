// Package fuser rewrites contiguous runs of offloadable operators into
// fusion nodes. Each fusion node carries the extracted subgraph; deciding
// what happens to that subgraph afterwards (compilation, caching, dispatch)
// is not this package's business.
package fuser

import (
	"context"
	"fmt"

	"github.com/vk/offload/internal/ctxlog"
	"github.com/vk/offload/internal/graph"
)

// Fuse groups maximal contiguous runs of fusible nodes into fusion nodes
// under fusionSym. Runs shorter than minGroup are left alone. Returns the
// number of fusion groups created.
func Fuse(ctx context.Context, g *graph.Graph, fusionSym graph.Symbol, fusible func(graph.Symbol) bool, minGroup int) int {
	if minGroup < 1 {
		minGroup = 1
	}
	logger := ctxlog.FromContext(ctx)

	groups := 0
	i := 0
	for i < len(g.Nodes()) {
		if !fusibleNode(g.Nodes()[i], fusible) {
			i++
			continue
		}
		j := i + 1
		for j < len(g.Nodes()) && fusibleNode(g.Nodes()[j], fusible) {
			j++
		}
		if j-i >= minGroup {
			fn := extract(g, i, j, fusionSym)
			logger.Debug("Fused operator run into subgraph.",
				"symbol", fusionSym, "nodes", j-i, "outputs", len(fn.Outputs()))
			groups++
			i++ // the splice left one fusion node at position i
			continue
		}
		i = j
	}
	return groups
}

// fusibleNode keeps already-fused nodes and multi-output nodes out of new
// groups.
func fusibleNode(n *graph.Node, fusible func(graph.Symbol) bool) bool {
	return n.Subgraph == nil && len(n.Outputs()) == 1 && fusible(n.Sym)
}

// extract replaces nodes[i:j] with a single fusion node. External values
// consumed by the run become subgraph inputs, constants are cloned into the
// subgraph, and every run-produced value still used outside the run becomes
// a subgraph output wired to the fusion node's outputs.
func extract(g *graph.Graph, i, j int, fusionSym graph.Symbol) *graph.Node {
	run := g.Nodes()[i:j]
	inRun := make(map[*graph.Node]bool, len(run))
	for _, n := range run {
		inRun[n] = true
	}

	sub := graph.New()
	inner := make(map[*graph.Value]*graph.Value)
	var extInputs []*graph.Value

	for _, n := range run {
		mapped := make([]*graph.Value, len(n.Inputs))
		for k, in := range n.Inputs {
			if mv, ok := inner[in]; ok {
				mapped[k] = mv
				continue
			}
			var mv *graph.Value
			if in.IsConstant() {
				mv = sub.Constant(in.Constant())
			} else {
				mv = sub.AddInput(fmt.Sprintf("i%d", len(extInputs)))
				extInputs = append(extInputs, in)
			}
			inner[in] = mv
			mapped[k] = mv
		}
		clone := sub.AddNode(n.Sym, mapped...)
		inner[n.Output()] = clone.Output()
	}

	// Values that escape the run, in production order.
	escapes := make(map[*graph.Value]bool)
	for _, n := range g.Nodes() {
		if inRun[n] {
			continue
		}
		for _, in := range n.Inputs {
			if in.Producer() != nil && inRun[in.Producer()] {
				escapes[in] = true
			}
		}
	}
	for _, out := range g.Outputs() {
		if out.Producer() != nil && inRun[out.Producer()] {
			escapes[out] = true
		}
	}
	var escaped []*graph.Value
	for _, n := range run {
		if escapes[n.Output()] {
			escaped = append(escaped, n.Output())
		}
	}

	subOuts := make([]*graph.Value, len(escaped))
	for k, v := range escaped {
		subOuts[k] = inner[v]
	}
	sub.SetOutputs(subOuts...)

	fn := graph.NewFusionNode(fusionSym, sub, extInputs...)
	g.Splice(i, j, fn)
	for k, v := range escaped {
		g.ReplaceUses(v, fn.Outputs()[k])
	}
	return fn
}
