package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/vk/formulagrid/internal/ctxlog"
	"github.com/vk/formulagrid/internal/depgraph"
	"github.com/vk/formulagrid/internal/formula"
	"github.com/vk/formulagrid/internal/publish"
	"github.com/vk/formulagrid/internal/render"
	"github.com/vk/formulagrid/internal/resolver"
	"github.com/vk/formulagrid/internal/series"
	"github.com/vk/formulagrid/internal/tabular"
)

// Run loads the inputs, resolves the configured targets and writes every
// configured output. The Result is returned even when the run fails, unless
// the inputs could not be loaded.
func (a *App) Run(ctx context.Context) (*resolver.Result, error) {
	runID := uuid.NewString()
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger.With("run_id", runID)
	logger.Debug("App.Run method started.")
	start := time.Now()

	base, err := a.loadData(ctx, a.config.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load base data: %w", err)
	}
	overlay, err := a.loadData(ctx, a.config.OverlayPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load overlay data: %w", err)
	}
	set, err := a.loadFormulas(ctx)
	if err != nil {
		return nil, err
	}
	graph := depgraph.Build(set.Formulas())
	logger.Debug("Dependency graph built.", "node_count", len(graph.Nodes()))

	logger.Info("Starting resolution...", "workers", a.config.Workers)
	res, err := resolver.New(resolver.Options{
		Workers:  a.config.Workers,
		Library:  a.lib,
		Observer: a.metrics,
		Tracer:   a.tracer,
	}).Resolve(ctx, resolver.Input{
		Base:     base,
		Overlay:  overlay,
		Formulas: set,
		Graph:    graph,
		Targets:  a.config.Targets,
		RunID:    runID,
	})
	if res != nil {
		a.metrics.RunFinished(res, time.Since(start))
	}
	if err != nil {
		return res, err
	}

	if err := a.writeOutputs(ctx, logger, graph, res); err != nil {
		return res, err
	}

	if len(res.Errors) > 0 && !a.config.AllowPartial {
		return res, fmt.Errorf("%d variables failed to resolve: %w", len(res.Errors), res.Err())
	}

	logger.Debug("App.Run method finished.", "duration", time.Since(start))
	return res, nil
}

// Graph parses the formulas and writes their dependency graph to w in DOT
// format. Nothing is resolved.
func (a *App) Graph(ctx context.Context, w io.Writer) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	set, err := a.loadFormulas(ctx)
	if err != nil {
		return err
	}
	graph := depgraph.Build(set.Formulas())
	if cycles := graph.Cycles(); len(cycles) > 0 {
		a.logger.Warn("Formulas contain cycles.", "count", len(cycles))
	}

	if _, err := io.WriteString(w, render.Dot(graph, render.Options{})); err != nil {
		return fmt.Errorf("failed to write graph: %w", err)
	}
	return nil
}

func (a *App) loadData(ctx context.Context, path string) (map[string]*series.Series, error) {
	if path == "" {
		return nil, nil
	}
	values, names, err := tabular.Load(a.fs, path, tabular.Options{StartPoint: a.config.StartPoint})
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Data loaded.", "path", path, "variables", len(names))
	return values, nil
}

func (a *App) loadFormulas(ctx context.Context) (*formula.Set, error) {
	logger := ctxlog.FromContext(ctx)

	text, err := afero.ReadFile(a.fs, a.config.FormulasPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read formulas: %w", err)
	}
	set := formula.Parse(string(text), a.lib)
	for _, skipped := range set.Skipped {
		logger.Warn("Skipping formula line.",
			"line", skipped.Line,
			"reason", skipped.Reason,
			"text", skipped.Text,
		)
	}
	logger.Debug("Formulas parsed.", "count", set.Len(), "skipped", len(set.Skipped))
	return set, nil
}

func (a *App) writeOutputs(ctx context.Context, logger *slog.Logger, graph *depgraph.Graph, res *resolver.Result) error {
	if a.config.OutputPath != "" {
		var names []string
		for _, name := range res.Targets {
			if _, ok := res.Values[name]; ok {
				names = append(names, name)
			}
		}
		if err := tabular.Save(a.fs, a.config.OutputPath, names, res.Values); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		logger.Info("Results written.", "path", a.config.OutputPath, "variables", len(names))
	}

	if a.config.GraphPath != "" {
		dot := render.Dot(graph, render.Options{Result: res})
		if err := afero.WriteFile(a.fs, a.config.GraphPath, []byte(dot), 0o644); err != nil {
			return fmt.Errorf("failed to write graph: %w", err)
		}
		logger.Info("Graph written.", "path", a.config.GraphPath)
	}

	if err := a.publish(ctx, res); err != nil {
		return err
	}

	if a.config.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(a.config.MetricsFile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		logger.Info("Metrics written.", "path", a.config.MetricsFile)
	}
	return nil
}

func (a *App) publish(ctx context.Context, res *resolver.Result) error {
	var pub *publish.Publisher
	switch {
	case a.emitter != nil:
		pub = publish.New(a.emitter)
	case a.config.PublishURL != "":
		dialed, err := publish.Dial(ctx, publish.Config{
			URL:                a.config.PublishURL,
			Namespace:          a.config.PublishNamespace,
			InsecureSkipVerify: a.config.PublishInsecure,
			ConnectTimeout:     a.config.PublishConnectTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect publisher: %w", err)
		}
		pub = dialed
	default:
		return nil
	}
	defer pub.Close()

	if err := pub.Publish(ctx, res); err != nil {
		return fmt.Errorf("failed to publish results: %w", err)
	}
	return nil
}
