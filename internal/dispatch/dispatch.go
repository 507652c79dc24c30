package dispatch

import (
	"fmt"
	"os"
	"syscall"

	"github.com/vk/offload/internal/backend"
	"github.com/vk/offload/internal/graph"
	"github.com/vk/offload/internal/hostrt"
	"github.com/vk/offload/internal/metrics"
	"github.com/vk/offload/internal/runnerkey"
	"github.com/vk/offload/internal/runnermap"
	"github.com/vk/offload/internal/sigguard"
)

// Dispatcher resolves fusion nodes to compiled runners and produces the
// operator bodies that invoke them.
type Dispatcher struct {
	runners  *runnermap.Map
	backend  backend.Backend
	host     backend.Host
	settings backend.Settings
}

// New wires a dispatcher over the given runner map and backend.
func New(runners *runnermap.Map, be backend.Backend, host backend.Host, settings backend.Settings) *Dispatcher {
	return &Dispatcher{runners: runners, backend: be, host: host, settings: settings}
}

// Resolve finds the compiled runner for a fusion node. The fallback order
// is fixed and must not be reordered:
//
//  1. structural key of the node's subgraph instance,
//  2. the node's operator symbol, for runners installed ahead of time
//     under a human-chosen name,
//  3. construct a new runner under the structural key.
//
// Symbolic lookup is only a fallback for the ahead-of-time path; once a
// structural entry exists it always wins.
func (d *Dispatcher) Resolve(n *graph.Node) (*runnermap.Entry, error) {
	if n.Subgraph == nil {
		return nil, fmt.Errorf("dispatch: node %q carries no subgraph", n.Sym)
	}

	key := runnerkey.Structural(n.Subgraph.Block())
	if e, ok := d.runners.Lookup(key); ok {
		metrics.CacheHits.WithLabelValues("structural").Inc()
		return e, nil
	}
	if e, ok := d.runners.Lookup(runnerkey.Symbolic(n.Sym)); ok {
		metrics.CacheHits.WithLabelValues("symbolic").Inc()
		return e, nil
	}

	metrics.CacheMisses.Inc()
	e := d.runners.GetOrInsert(key, func() backend.CompiledRunner {
		return d.backend.NewRunner(n.Subgraph, d.host, d.settings)
	})
	return e, nil
}

// OpFactory returns the operator factory to register for the fusion
// symbol. Resolution happens once, when the runtime prepares the node; the
// returned body reuses the resolved runner on every invocation.
func (d *Dispatcher) OpFactory() hostrt.OpFactory {
	return func(n *graph.Node) hostrt.Operation {
		entry, err := d.Resolve(n)
		if err != nil {
			return func(*graph.Stack) { hostrt.Fail(err) }
		}
		return d.operation(entry)
	}
}

// operation wraps one compiled-runner invocation. While the runner is
// executing, the host's interrupt handling is swapped for the platform
// default so the process stays killable during a long backend call; the
// saved handlers come back on every exit path, failure included.
func (d *Dispatcher) operation(entry *runnermap.Entry) hostrt.Operation {
	return func(stack *graph.Stack) {
		if d.settings.SignalOverrides {
			restore := sigguard.OverrideDefault(os.Interrupt, syscall.SIGTERM)
			defer restore()
		}

		var err error
		if entry.Runner.Settings().PrecompileOnly {
			err = entry.Runner.RunOnly(stack)
		} else {
			err = entry.Runner.Run(stack)
		}

		if err != nil {
			metrics.Executions.WithLabelValues("failure").Inc()
			hostrt.Fail(err)
		}
		metrics.Executions.WithLabelValues("success").Inc()
	}
}
