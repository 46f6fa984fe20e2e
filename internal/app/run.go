package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/vk/gridcalc/internal/calc"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/server"
	"github.com/vk/gridcalc/internal/sheet"
	"github.com/vk/gridcalc/internal/value"
)

// Run executes the main application logic based on the provided configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		a.healthCheckServer()
		defer a.closeHealthCheckServer()
	}

	g, err := a.Load()
	if err != nil {
		return fmt.Errorf("failed to load sheet: %w", err)
	}
	a.logger.Info("Sheet loaded.", "graph", g.ID(), "node_count", len(g.Names()), "modules", a.modules.Loaded())

	if a.config.ListenAddr != "" {
		return a.serve(ctx, g)
	}

	if err := a.settle(ctx, g); err != nil {
		return err
	}
	if err := a.writeResults(g); err != nil {
		return err
	}
	if a.config.SavePath != "" {
		if err := a.save(g); err != nil {
			return err
		}
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

// settle drives the loop until no node of the workspace is stale or the
// timeout passes. A timeout is reported, not returned: the results printed
// afterwards show which nodes are still pending.
func (a *App) settle(ctx context.Context, g *calc.Graph) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	started := time.Now()
	err := a.loop.RunUntil(ctx, func() bool { return len(a.pending()) == 0 })
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		a.logger.Warn("Timed out waiting for pending values.", "timeout", a.config.Timeout, "pending", a.pending())
	case err != nil:
		return err
	default:
		a.logger.Debug("Workspace settled.", "graph", g.ID(), "elapsed", time.Since(started))
	}
	return nil
}

// pending lists the stale nodes of every graph as id:name.
func (a *App) pending() []string {
	var out []string
	a.rt.Untracked(func() {
		for id, g := range a.graphs {
			for _, n := range g.Nodes() {
				if value.IsStale(n.Value()) {
					out = append(out, sheet.Namespace(id)+":"+n.Name())
				}
			}
		}
	})
	slices.Sort(out)
	return out
}

type result struct {
	Name    string          `json:"name"`
	Formula string          `json:"formula"`
	Value   json.RawMessage `json:"value"`
	Error   string          `json:"error,omitempty"`
}

// writeResults prints the nodes of g in order.
func (a *App) writeResults(g *calc.Graph) error {
	var results []result
	var lines []string
	a.rt.Untracked(func() {
		for _, n := range g.Nodes() {
			v := n.Value()
			lines = append(lines, fmt.Sprintf("%s = %s", n.Name(), value.Format(v)))

			r := result{Name: n.Name(), Formula: n.Formula(), Value: json.RawMessage("null")}
			if err, ok := value.AsError(v); ok {
				r.Error = err.Error()
			} else if b, err := value.JSON(v); err == nil {
				r.Value = b
			}
			results = append(results, r)
		}
	})

	if a.config.OutputFormat == "json" {
		if results == nil {
			results = []result{}
		}
		b, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		_, err = fmt.Fprintln(a.outW, string(b))
		return err
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(a.outW, line); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) save(g *calc.Graph) error {
	s := a.sheets[g.ID()]
	var snapshot *sheet.Sheet
	a.rt.Untracked(func() { snapshot = sheet.Snapshot(s.Name, s.Modules, g) })
	if err := snapshot.Save(a.config.SavePath); err != nil {
		return err
	}
	a.logger.Info("Sheet saved.", "path", a.config.SavePath)
	return nil
}

// serve publishes g over socket.io until ctx is cancelled or the listener
// fails.
func (a *App) serve(ctx context.Context, g *calc.Graph) error {
	srv := server.New(a.ctx, g, a.loop)
	a.loop.Post(srv.Start)

	httpServer := &http.Server{Addr: a.config.ListenAddr, Handler: srv.Handler()}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenErr := make(chan error, 1)
	go func() {
		a.logger.Info("Serving sheet.", "address", a.config.ListenAddr, "graph", g.ID())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		cancel()
	}()

	_ = a.loop.Run(runCtx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown failed", "error", err)
	}
	srv.Close()
	a.logger.Info("Server stopped.")

	select {
	case err := <-listenErr:
		return fmt.Errorf("server failed: %w", err)
	default:
		return nil
	}
}
