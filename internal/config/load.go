package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/offload/internal/ctxlog"
)

// fileRoot decodes all recognized top-level blocks from one HCL file.
type fileRoot struct {
	Settings *settingsBlock  `hcl:"settings,block"`
	Consts   []*constBlock   `hcl:"const,block"`
	Programs []*programBlock `hcl:"program,block"`
	Preloads []*preloadBlock `hcl:"preload,block"`
}

type settingsBlock struct {
	Backend         string   `hcl:"backend,optional"`
	PrecompileOnly  bool     `hcl:"precompile_only,optional"`
	SignalOverrides *bool    `hcl:"signal_overrides,optional"`
	FusibleOps      []string `hcl:"fusible_ops,optional"`
	MinFusionGroup  int      `hcl:"min_fusion_group,optional"`
	LogLevel        string   `hcl:"log_level,optional"`
	LogFormat       string   `hcl:"log_format,optional"`
}

type constBlock struct {
	Name  string    `hcl:"name,label"`
	Value cty.Value `hcl:"value"`
}

type programBlock struct {
	Name    string        `hcl:"name,label"`
	Args    cty.Value     `hcl:"args,optional"`
	Inputs  []*inputBlock `hcl:"input,block"`
	Nodes   []*nodeBlock  `hcl:"node,block"`
	Outputs []string      `hcl:"outputs"`
}

type inputBlock struct {
	Name string `hcl:"name,label"`
}

type nodeBlock struct {
	Name   string   `hcl:"name,label"`
	Op     string   `hcl:"op"`
	Inputs []string `hcl:"inputs"`
}

type preloadBlock struct {
	Symbol  string    `hcl:"symbol,label"`
	Program string    `hcl:"program"`
	Warm    cty.Value `hcl:"warm,optional"`
}

// Load reads every .hcl file under the given paths (files or directories)
// and merges them into one Config. Later files never override the settings
// block; exactly one file may define it.
func Load(ctx context.Context, paths ...string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := findHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered configuration files.", "count", len(files))

	cfg := &Config{
		Settings: defaultSettings(),
		Consts:   make(map[string]cty.Value),
	}
	parser := hclparse.NewParser()
	haveSettings := false

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %s: %w", file, diags)
		}

		if root.Settings != nil {
			if haveSettings {
				return nil, fmt.Errorf("%s: duplicate settings block", file)
			}
			haveSettings = true
			applySettings(&cfg.Settings, root.Settings)
		}

		for _, c := range root.Consts {
			if _, dup := cfg.Consts[c.Name]; dup {
				return nil, fmt.Errorf("%s: duplicate const %q", file, c.Name)
			}
			cfg.Consts[c.Name] = c.Value
		}

		for _, p := range root.Programs {
			prog, err := translateProgram(p)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			if _, dup := cfg.ProgramByName(prog.Name); dup {
				return nil, fmt.Errorf("%s: duplicate program %q", file, prog.Name)
			}
			cfg.Programs = append(cfg.Programs, prog)
		}

		for _, p := range root.Preloads {
			pre, err := translatePreload(p)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			cfg.Preloads = append(cfg.Preloads, pre)
		}
	}

	for _, pre := range cfg.Preloads {
		if _, ok := cfg.ProgramByName(pre.Program); !ok {
			return nil, fmt.Errorf("preload %q references unknown program %q", pre.Symbol, pre.Program)
		}
	}

	logger.Debug("Configuration loaded.",
		"programs", len(cfg.Programs), "preloads", len(cfg.Preloads), "consts", len(cfg.Consts))
	return cfg, nil
}

func defaultSettings() Settings {
	return Settings{
		Backend:         "interp",
		SignalOverrides: true,
		MinFusionGroup:  1,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func applySettings(dst *Settings, src *settingsBlock) {
	if src.Backend != "" {
		dst.Backend = src.Backend
	}
	dst.PrecompileOnly = src.PrecompileOnly
	if src.SignalOverrides != nil {
		dst.SignalOverrides = *src.SignalOverrides
	}
	if len(src.FusibleOps) > 0 {
		dst.FusibleOps = src.FusibleOps
	}
	if src.MinFusionGroup > 0 {
		dst.MinFusionGroup = src.MinFusionGroup
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogFormat != "" {
		dst.LogFormat = src.LogFormat
	}
}

func translateProgram(p *programBlock) (*Program, error) {
	prog := &Program{
		Name:    p.Name,
		Outputs: p.Outputs,
	}
	for _, in := range p.Inputs {
		prog.Inputs = append(prog.Inputs, in.Name)
	}
	for _, n := range p.Nodes {
		prog.Nodes = append(prog.Nodes, ProgramNode{Name: n.Name, Op: n.Op, Inputs: n.Inputs})
	}

	args, err := tupleElements(p.Args)
	if err != nil {
		return nil, fmt.Errorf("program %q: args: %w", p.Name, err)
	}
	prog.Args = args
	return prog, nil
}

func translatePreload(p *preloadBlock) (*Preload, error) {
	pre := &Preload{Symbol: p.Symbol, Program: p.Program}

	rows, err := tupleElements(p.Warm)
	if err != nil {
		return nil, fmt.Errorf("preload %q: warm: %w", p.Symbol, err)
	}
	for _, row := range rows {
		args, err := tupleElements(row)
		if err != nil {
			return nil, fmt.Errorf("preload %q: warm: %w", p.Symbol, err)
		}
		pre.Warm = append(pre.Warm, args)
	}
	return pre, nil
}

// tupleElements unpacks a tuple/list value into its elements. A null or
// unset value yields nil.
func tupleElements(v cty.Value) ([]cty.Value, error) {
	if v == cty.NilVal || v.IsNull() {
		return nil, nil
	}
	if !v.Type().IsTupleType() && !v.Type().IsListType() {
		return nil, fmt.Errorf("expected a list, got %s", v.Type().FriendlyName())
	}
	var out []cty.Value
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		out = append(out, ev)
	}
	return out, nil
}

// findHCLFiles expands the given paths into a flat list of .hcl files.
func findHCLFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot access config path %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(p, ".hcl") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
