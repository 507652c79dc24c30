// Package offload is the public surface of the compiled-runner cache and
// dispatch layer. It owns the process-wide runner map and the glue that
// installs the fusion operator and fusion pass into a host runtime.
//
// The management functions exist for ahead-of-time tooling: a preloader can
// compile runners out of band and install them under symbolic keys before
// the host ever sees a matching subgraph.
package offload

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vk/offload/internal/backend"
	"github.com/vk/offload/internal/dispatch"
	"github.com/vk/offload/internal/fuser"
	"github.com/vk/offload/internal/graph"
	"github.com/vk/offload/internal/hostrt"
	"github.com/vk/offload/internal/runnermap"
)

// fusionSymbol is the operator name fusion nodes are emitted under and the
// fusion operator is registered under.
const fusionSymbol = graph.Symbol("offload::fusion_group")

// runners is the process-wide runner map. It lives for the life of the
// process; ClearRunnerMap exists for test isolation, not steady-state use.
var runners = runnermap.New()

// FusionSymbol returns the operator symbol used for fused subgraphs.
func FusionSymbol() graph.Symbol { return fusionSymbol }

// RunnerMap exposes the process-wide runner map.
func RunnerMap() *runnermap.Map { return runners }

// RunnerMapSize returns the number of cached runners.
func RunnerMapSize() int { return runners.Size() }

// RunnerForKey fetches the runner cached under an exact key.
func RunnerForKey(key string) (backend.CompiledRunner, bool) {
	e, ok := runners.Lookup(key)
	if !ok {
		return nil, false
	}
	return e.Runner, true
}

// SetRunnerForKey installs a runner under key only if the key is absent.
// The call is idempotent: on conflict the existing runner is returned and
// build never runs.
func SetRunnerForKey(key string, build func() backend.CompiledRunner) backend.CompiledRunner {
	return runners.GetOrInsert(key, build).Runner
}

// RunnerInfo describes one cached runner for management listings.
type RunnerInfo struct {
	Key     string
	ID      uuid.UUID
	AddedAt time.Time
}

// Runners lists every cached runner in key order.
func Runners() []RunnerInfo {
	keys := runners.Keys()
	infos := make([]RunnerInfo, 0, len(keys))
	for _, key := range keys {
		e, ok := runners.Lookup(key)
		if !ok {
			continue
		}
		infos = append(infos, RunnerInfo{Key: key, ID: e.ID, AddedAt: e.AddedAt})
	}
	return infos
}

// RemoveRunnerForKey erases the runner cached under key and reports
// whether one existed.
func RemoveRunnerForKey(key string) bool {
	return runners.Remove(key)
}

// ClearRunnerMap removes every cached runner and returns how many were
// dropped.
func ClearRunnerMap() int {
	return runners.Clear()
}

// NewDispatcher wires a dispatcher for the given backend over the
// process-wide runner map.
func NewDispatcher(be backend.Backend, host backend.Host, settings backend.Settings) *dispatch.Dispatcher {
	return dispatch.New(runners, be, host, settings)
}

// RegisterFusionOp installs the fusion operator into the runtime. The
// operator body is the dispatcher's execution wrapper, registered as a pure
// function for alias analysis.
func RegisterFusionOp(rt *hostrt.Runtime, d *dispatch.Dispatcher) {
	rt.RegisterOperator(fusionSymbol, d.OpFactory(), hostrt.AliasPureFunction)
}

// RegisterFusionPass installs the fusion pass. The enable predicate is
// consulted on every pass run, so fusion can be toggled after registration.
func RegisterFusionPass(rt *hostrt.Runtime, enable func() bool, fusible func(graph.Symbol) bool, minGroup int) {
	rt.RegisterPass(hostrt.Pass{
		Name:    "offload-fuse",
		Enabled: enable,
		Run: func(ctx context.Context, g *graph.Graph) {
			fuser.Fuse(ctx, g, fusionSymbol, fusible, minGroup)
		},
	})
}

// RegisterFusionOpAndPass installs both the fusion operator and the fusion
// pass.
func RegisterFusionOpAndPass(rt *hostrt.Runtime, d *dispatch.Dispatcher, enable func() bool, fusible func(graph.Symbol) bool, minGroup int) {
	RegisterFusionOp(rt, d)
	RegisterFusionPass(rt, enable, fusible, minGroup)
}
