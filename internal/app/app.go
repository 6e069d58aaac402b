package app

import (
	"io"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/vk/formulagrid/internal/funclib"
	"github.com/vk/formulagrid/internal/metrics"
	"github.com/vk/formulagrid/internal/publish"
	"go.opentelemetry.io/otel/trace"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	fs      afero.Fs
	lib     *funclib.Library
	metrics *metrics.Metrics
	tracer  trace.Tracer
	emitter publish.Emitter
}

// Option customizes an App.
type Option func(*App)

// WithFs replaces the operating system filesystem, e.g. with an in-memory
// one in tests.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithTracer sets the tracer handed to the resolver.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *App) { a.tracer = tracer }
}

// WithEmitter publishes through emitter instead of dialing PublishURL.
func WithEmitter(emitter publish.Emitter) Option {
	return func(a *App) { a.emitter = emitter }
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and metrics registry.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) *App {
	a := &App{
		outW:    outW,
		logger:  newLogger(cfg, outW),
		config:  cfg,
		fs:      afero.NewOsFs(),
		lib:     funclib.New(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger.Debug("App configured.", "workers", cfg.Workers, "formulas", cfg.FormulasPath)
	return a
}

// Metrics returns the application's metrics. This is primarily for testing.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}
