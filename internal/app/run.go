package app

import (
	"context"
	"fmt"

	"github.com/vk/offload"
	"github.com/vk/offload/internal/builder"
	"github.com/vk/offload/internal/ctxlog"
)

// Run executes every configured program that has arguments through the host
// runtime. The fusion pass rewrites each graph on its way in, so offloaded
// subgraphs go through the compiled-runner cache.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.appConfig.MetricsPort > 0 {
		a.startMetricsServer(ctx, a.appConfig.MetricsPort)
		defer a.closeMetricsServer(ctx)
	}

	ran := 0
	for _, prog := range a.cfg.Programs {
		if len(prog.Inputs) > 0 && len(prog.Args) == 0 {
			a.logger.Debug("Program has no configured arguments, skipping.", "program", prog.Name)
			continue
		}

		g, err := builder.Build(prog, a.cfg.Consts)
		if err != nil {
			return fmt.Errorf("failed to build program %q: %w", prog.Name, err)
		}
		a.logger.Debug("Program graph built.", "program", prog.Name, "node_count", len(g.Nodes()))

		outs, err := a.runtime.RunGraph(ctx, g, prog.Args)
		if err != nil {
			return fmt.Errorf("program %q failed: %w", prog.Name, err)
		}

		rendered := make([]string, len(outs))
		for i, v := range outs {
			rendered[i] = v.GoString()
		}
		a.logger.Info("Program finished.", "program", prog.Name, "outputs", rendered)
		ran++
	}

	for _, info := range offload.Runners() {
		a.logger.Debug("Cached runner.",
			"key", fmt.Sprintf("%q", info.Key), "runner_id", info.ID, "added_at", info.AddedAt)
	}
	a.logger.Info("Execution finished.",
		"programs_run", ran, "cached_runners", offload.RunnerMapSize())
	return nil
}
