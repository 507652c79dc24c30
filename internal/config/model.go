package config

import "github.com/zclconf/go-cty/cty"

// Settings is the runtime configuration consumed by the offload layer.
type Settings struct {
	Backend         string
	PrecompileOnly  bool
	SignalOverrides bool
	FusibleOps      []string
	MinFusionGroup  int

	LogLevel  string
	LogFormat string
}

// Program is a graph definition in source form: named inputs, operator
// nodes in dependency order, and the names of the values to return.
type Program struct {
	Name    string
	Args    []cty.Value
	Inputs  []string
	Nodes   []ProgramNode
	Outputs []string
}

// ProgramNode is one operator application inside a Program. Inputs refer to
// program inputs, earlier nodes, or named constants.
type ProgramNode struct {
	Name   string
	Op     string
	Inputs []string
}

// Preload declares an ahead-of-time runner registration: the named program
// is compiled and installed under Symbol before any matching subgraph is
// seen at runtime. Warm lists sample argument tuples to precompile.
type Preload struct {
	Symbol  string
	Program string
	Warm    [][]cty.Value
}

// Config is the unified model loaded from all configuration files.
type Config struct {
	Settings Settings
	Consts   map[string]cty.Value
	Programs []*Program
	Preloads []*Preload
}

// ProgramByName returns the named program, if defined.
func (c *Config) ProgramByName(name string) (*Program, bool) {
	for _, p := range c.Programs {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}
