package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/vk/offload"
	"github.com/vk/offload/internal/backend"
	"github.com/vk/offload/internal/builder"
	"github.com/vk/offload/internal/config"
	"github.com/vk/offload/internal/ctxlog"
	"github.com/vk/offload/internal/dispatch"
	"github.com/vk/offload/internal/graph"
	"github.com/vk/offload/internal/hostrt"
	"github.com/vk/offload/internal/ops"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle: one host runtime with the fusion operator and pass installed,
// one backend, one dispatcher over the process-wide runner map.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	appConfig  *Config
	cfg        *config.Config
	runtime    *hostrt.Runtime
	backend    backend.Backend
	dispatcher *dispatch.Dispatcher
	httpServer *http.Server

	fusionEnabled atomic.Bool
}

// New is the constructor for the main application. A failure to load or
// validate configuration is a fatal startup error and panics; entrypoints
// recover it into a clean exit.
func New(outW io.Writer, appConfig *Config) *App {
	bootstrap := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), bootstrap)

	cfg, err := config.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}

	level := cfg.Settings.LogLevel
	if appConfig.LogLevel != "" {
		level = appConfig.LogLevel
	}
	format := cfg.Settings.LogFormat
	if appConfig.LogFormat != "" {
		format = appConfig.LogFormat
	}
	logger := newLogger(level, format, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	be, ok := coreBackends[cfg.Settings.Backend]
	if !ok {
		panic(fmt.Errorf("unknown backend %q in settings", cfg.Settings.Backend))
	}

	a := &App{
		outW:      outW,
		logger:    logger,
		appConfig: appConfig,
		cfg:       cfg,
		runtime:   hostrt.New(),
		backend:   be,
	}
	a.fusionEnabled.Store(true)

	settings := backend.Settings{
		BackendName:     cfg.Settings.Backend,
		PrecompileOnly:  cfg.Settings.PrecompileOnly,
		SignalOverrides: cfg.Settings.SignalOverrides,
	}
	a.dispatcher = offload.NewDispatcher(be, a.runtime, settings)

	offload.RegisterFusionOpAndPass(
		a.runtime,
		a.dispatcher,
		a.fusionEnabled.Load,
		a.fusiblePredicate(),
		cfg.Settings.MinFusionGroup,
	)
	logger.Debug("Fusion operator and pass registered.", "backend", be.Name())

	if err := a.preload(ctx, settings); err != nil {
		panic(fmt.Errorf("ahead-of-time preload failed: %w", err))
	}

	return a
}

// fusiblePredicate builds the offload-eligibility check from the settings
// block. With no fusible_ops configured, every built-in operator is
// eligible.
func (a *App) fusiblePredicate() func(graph.Symbol) bool {
	if len(a.cfg.Settings.FusibleOps) == 0 {
		return func(sym graph.Symbol) bool {
			_, ok := ops.Lookup(sym)
			return ok
		}
	}
	allowed := make(map[graph.Symbol]bool, len(a.cfg.Settings.FusibleOps))
	for _, s := range a.cfg.Settings.FusibleOps {
		allowed[graph.Symbol(s)] = true
	}
	return func(sym graph.Symbol) bool { return allowed[sym] }
}

// preload installs ahead-of-time runners under their symbolic keys and
// warms the configured argument signatures.
func (a *App) preload(ctx context.Context, settings backend.Settings) error {
	logger := ctxlog.FromContext(ctx)
	for _, pre := range a.cfg.Preloads {
		prog, ok := a.cfg.ProgramByName(pre.Program)
		if !ok {
			return fmt.Errorf("preload %q references unknown program %q", pre.Symbol, pre.Program)
		}
		g, err := builder.Build(prog, a.cfg.Consts)
		if err != nil {
			return err
		}

		entry := offload.RunnerMap().GetOrInsert(pre.Symbol, func() backend.CompiledRunner {
			return a.backend.NewRunner(g, a.runtime, settings)
		})
		for _, args := range pre.Warm {
			if err := entry.Runner.Warm(args); err != nil {
				return fmt.Errorf("preload %q: warm: %w", pre.Symbol, err)
			}
		}
		logger.Info("Preloaded ahead-of-time runner.",
			"symbol", pre.Symbol, "program", pre.Program,
			"runner_id", entry.ID, "warmed", len(pre.Warm))
	}
	return nil
}

// EnableFusion toggles the fusion pass; the enable predicate is consulted
// on every pass run.
func (a *App) EnableFusion(enabled bool) {
	a.fusionEnabled.Store(enabled)
}

// Runtime returns the application's host runtime. Primarily for testing.
func (a *App) Runtime() *hostrt.Runtime { return a.runtime }

// Dispatcher returns the application's dispatcher. Primarily for testing.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// ConfigModel returns the loaded configuration model. Primarily for testing.
func (a *App) ConfigModel() *config.Config { return a.cfg }
