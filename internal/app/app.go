package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/gridcalc/internal/calc"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/reactive"
	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/sheet"
	"github.com/vk/gridcalc/internal/task"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	ctx      context.Context
	config   *Config
	registry *registry.Registry

	// Every graph of the workspace shares the loop and the runtime.
	loop    *task.Loop
	rt      *reactive.Runtime
	modules *registry.Loader

	graphs map[string]*calc.Graph
	sheets map[string]*sheet.Sheet
	mainID string

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Results go to outW and logs to logW.
func NewApp(outW, logW io.Writer, cfg *Config, modules ...registry.Module) *App {
	logger := newLogger(cfg, logW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules(outW)
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	if err := reg.ValidateRegistry(ctx); err != nil {
		// A module that exports invalid names is a programmer error.
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	loop := task.NewLoop()
	return &App{
		outW:     outW,
		logger:   logger,
		ctx:      ctx,
		config:   cfg,
		registry: reg,
		loop:     loop,
		rt:       reactive.NewRuntime(ctx),
		modules:  reg.NewLoader(ctx, loop),
		graphs:   make(map[string]*calc.Graph),
		sheets:   make(map[string]*sheet.Sheet),
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Graph returns the graph registered under id, or nil.
func (a *App) Graph(id string) *calc.Graph {
	return a.graphs[id]
}

// Main returns the graph of the configured sheet once it is loaded.
func (a *App) Main() *calc.Graph {
	return a.graphs[a.mainID]
}

// Close disposes every graph and releases pending module loads.
func (a *App) Close() {
	for id, g := range a.graphs {
		g.Dispose()
		delete(a.graphs, id)
	}
	a.modules.Close()
	a.logger.Debug("App closed.")
}
