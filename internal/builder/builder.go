// Package builder turns program definitions from configuration into
// executable graphs.
package builder

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/offload/internal/config"
	"github.com/vk/offload/internal/graph"
	"github.com/vk/offload/internal/ops"
)

// Build constructs a graph from a program definition. Node inputs resolve
// against program inputs, earlier nodes, and named constants, in that
// order.
func Build(p *config.Program, consts map[string]cty.Value) (*graph.Graph, error) {
	g := graph.New()
	env := make(map[string]*graph.Value)

	for _, name := range p.Inputs {
		if _, dup := env[name]; dup {
			return nil, fmt.Errorf("program %q: duplicate input %q", p.Name, name)
		}
		env[name] = g.AddInput(name)
	}

	resolve := func(name string) (*graph.Value, error) {
		if v, ok := env[name]; ok {
			return v, nil
		}
		if c, ok := consts[name]; ok {
			v := g.Constant(c)
			env[name] = v
			return v, nil
		}
		return nil, fmt.Errorf("program %q: unknown value %q", p.Name, name)
	}

	for _, pn := range p.Nodes {
		if _, dup := env[pn.Name]; dup {
			return nil, fmt.Errorf("program %q: duplicate name %q", p.Name, pn.Name)
		}
		sym := graph.Symbol(pn.Op)
		kernel, ok := ops.Lookup(sym)
		if !ok {
			return nil, fmt.Errorf("program %q: node %q: unknown operator %q", p.Name, pn.Name, pn.Op)
		}
		if kernel.Arity != len(pn.Inputs) {
			return nil, fmt.Errorf("program %q: node %q: operator %q takes %d inputs, got %d",
				p.Name, pn.Name, pn.Op, kernel.Arity, len(pn.Inputs))
		}

		inputs := make([]*graph.Value, len(pn.Inputs))
		for i, in := range pn.Inputs {
			v, err := resolve(in)
			if err != nil {
				return nil, err
			}
			inputs[i] = v
		}
		env[pn.Name] = g.AddNode(sym, inputs...).Output()
	}

	if len(p.Outputs) == 0 {
		return nil, fmt.Errorf("program %q: no outputs declared", p.Name)
	}
	outs := make([]*graph.Value, len(p.Outputs))
	for i, name := range p.Outputs {
		v, err := resolve(name)
		if err != nil {
			return nil, err
		}
		outs[i] = v
	}
	g.SetOutputs(outs...)
	return g, nil
}
