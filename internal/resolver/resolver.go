// Package resolver computes the value of every requested variable from base
// data, overlay data and formulas.
//
// Precedence is fixed: an overlay series always wins, base data comes next,
// and a formula is only evaluated for a variable that has no data. Each
// formula is evaluated at most once per run; results and failures are both
// memoized in the run's Environment.
//
// Failures stay local. A variable that cannot be resolved fails together
// with everything that transitively depends on it, while unrelated variables
// still resolve, and the Result carries both the partial values and the
// per-variable errors.
//
// Two strategies share the same semantics: a sequential depth-first
// resolver (the default) and a worker pool that evaluates independent
// formulas concurrently (Options.Workers > 1).
package resolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/vk/formulagrid/internal/ctxlog"
	"github.com/vk/formulagrid/internal/depgraph"
	"github.com/vk/formulagrid/internal/eval"
	"github.com/vk/formulagrid/internal/failure"
	"github.com/vk/formulagrid/internal/formula"
	"github.com/vk/formulagrid/internal/funclib"
	"github.com/vk/formulagrid/internal/series"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vk/formulagrid/internal/resolver"

// VarError is a failure attributed to one variable.
type VarError = failure.Error

// Sentinels for errors.Is checks against a *VarError or Result.Err().
var (
	ErrUndefinedVariable = failure.ErrUndefinedVariable
	ErrCycleDetected     = failure.ErrCycleDetected
	ErrInvalidArgument   = failure.ErrInvalidArgument
	ErrUnknownFunction   = failure.ErrUnknownFunction
	ErrEvaluation        = failure.ErrEvaluation
	ErrDependencyFailed  = failure.ErrDependencyFailed
)

// Source tells where a resolved value came from.
type Source int

const (
	SourceOverlay Source = iota + 1
	SourceBase
	SourceFormula
)

// String returns the label used in logs and metrics.
func (s Source) String() string {
	switch s {
	case SourceOverlay:
		return "overlay"
	case SourceBase:
		return "base"
	case SourceFormula:
		return "formula"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Options configures a Resolver.
type Options struct {
	// Workers > 1 selects the concurrent strategy with that many workers.
	Workers int
	// Library is the function library; the built-ins when nil.
	Library *funclib.Library
	// Observer is notified of evaluations and failures; may be nil.
	Observer Observer
	// Tracer creates spans; the global otel tracer when nil.
	Tracer trace.Tracer
}

// Input is everything one run resolves.
type Input struct {
	Base    map[string]*series.Series
	Overlay map[string]*series.Series
	// Formulas is the parsed formula set; may be nil.
	Formulas *formula.Set
	// Graph is built from Formulas when nil.
	Graph *depgraph.Graph
	// Targets restricts the run to these variables and their dependencies.
	// When empty every declared variable is resolved.
	Targets []string
	// RunID identifies the run in logs and spans; generated when empty.
	RunID string
}

// Result is the outcome of one run.
type Result struct {
	RunID string
	// Values holds every resolved variable.
	Values map[string]*series.Series
	// Sources tells where each resolved value came from.
	Sources map[string]Source
	// Errors lists every failed variable, sorted by name.
	Errors []*VarError
	// Order is the order in which variables were resolved.
	Order []string
	// Targets are the variables the run was asked for.
	Targets []string
	// Canceled is set when the context ended the run early.
	Canceled bool
}

// Value returns the resolved series of name.
func (r *Result) Value(name string) (*series.Series, bool) {
	s, ok := r.Values[name]
	return s, ok
}

// ErrorFor returns the failure recorded for name.
func (r *Result) ErrorFor(name string) (*VarError, bool) {
	for _, err := range r.Errors {
		if err.Variable == name {
			return err, true
		}
	}
	return nil, false
}

// Err aggregates every variable failure, or returns nil.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, err := range r.Errors {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}

// Resolver runs resolutions. It holds no per-run state and may be reused.
type Resolver struct {
	workers  int
	lib      *funclib.Library
	observer Observer
	tracer   trace.Tracer
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	r := &Resolver{
		workers:  opts.Workers,
		lib:      opts.Library,
		observer: opts.Observer,
		tracer:   opts.Tracer,
	}
	if r.lib == nil {
		r.lib = funclib.New()
	}
	if r.observer == nil {
		r.observer = NopObserver{}
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r
}

// Resolve runs one resolution. Per-variable failures are reported in the
// Result, not as the returned error; the error is only set when the context
// ends the run, in which case the partial Result is returned as well.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Result, error) {
	p := newPlan(in)
	strategy := "sequential"
	if r.workers > 1 {
		strategy = "concurrent"
	}

	logger := ctxlog.FromContext(ctx).With("run_id", p.runID)
	ctx = ctxlog.WithLogger(ctx, logger)
	ctx, span := r.tracer.Start(ctx, "resolver.Resolve", trace.WithAttributes(
		attribute.String("run_id", p.runID),
		attribute.String("strategy", strategy),
		attribute.Int("formulas", len(p.formulas.Formulas())),
		attribute.Int("targets", len(p.targets)),
	))
	defer span.End()

	logger.Debug("Starting resolution.", "strategy", strategy, "targets", len(p.targets))
	start := time.Now()

	env := NewEnvironment()
	var err error
	if r.workers > 1 {
		err = r.resolveConcurrent(ctx, p, env)
	} else {
		err = r.resolveSequential(ctx, p, env)
	}

	res := p.result(env)
	span.SetAttributes(
		attribute.Int("resolved", len(res.Values)),
		attribute.Int("failed", len(res.Errors)),
	)
	if err != nil {
		res.Canceled = true
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution canceled")
		logger.Warn("Resolution canceled.", "resolved", len(res.Values), "error", err)
		return res, fmt.Errorf("resolution canceled: %w", err)
	}
	if len(res.Errors) > 0 {
		span.SetStatus(codes.Error, "some variables failed")
	}

	logger.Info("Resolution finished.",
		"resolved", len(res.Values),
		"failed", len(res.Errors),
		"duration", time.Since(start),
	)
	return res, nil
}

// evaluate runs the formula of name once its dependencies are resolved.
func (r *Resolver) evaluate(ctx context.Context, p *plan, env *Environment, f *formula.Formula) *failure.Error {
	logger := ctxlog.FromContext(ctx)
	_, span := r.tracer.Start(ctx, "resolver.evaluate", trace.WithAttributes(
		attribute.String("variable", f.Name),
	))
	defer span.End()

	if f.ParseErr != nil {
		ferr := failure.Newf(failure.KindEvaluation, "%v", f.ParseErr).For(f.Name)
		span.RecordError(ferr)
		span.SetStatus(codes.Error, ferr.Kind.String())
		return ferr
	}

	start := time.Now()
	value, err := eval.Evaluate(f.Expr, view{env: env, index: p.index}, r.lib)
	elapsed := time.Since(start)
	r.observer.FormulaEvaluated(f.Name, elapsed, err)

	if err != nil {
		ferr := attributed(f.Name, err)
		span.RecordError(ferr)
		span.SetStatus(codes.Error, ferr.Kind.String())
		return ferr
	}

	if err := env.Store(f.Name, value.Rename(f.Name), SourceFormula); err != nil {
		// a formula is evaluated once per run, so this is a scheduling bug
		return failure.Newf(failure.KindEvaluation, "%v", err).For(f.Name)
	}
	r.observer.VariableResolved(f.Name, SourceFormula)
	logger.Debug("Formula evaluated.", "variable", f.Name, "duration", elapsed)
	return nil
}

// fail records err and notifies the observer.
func (r *Resolver) fail(ctx context.Context, env *Environment, err *failure.Error) *failure.Error {
	if ferr := env.Fail(err); ferr != nil {
		if existing, ok := env.Err(err.Variable); ok {
			return existing
		}
		return err
	}
	r.observer.VariableFailed(err)
	ctxlog.FromContext(ctx).Warn("Variable failed.",
		"variable", err.Variable,
		"kind", err.Kind.String(),
		"error", err.Error(),
	)
	return err
}

// storeData records a base or overlay value.
func (r *Resolver) storeData(env *Environment, name string, value *series.Series, source Source) {
	if err := env.Store(name, value.Rename(name), source); err == nil {
		r.observer.VariableResolved(name, source)
	}
}

// attributed converts an evaluator error into a failure of name.
func attributed(name string, err error) *failure.Error {
	if fe, ok := err.(*failure.Error); ok {
		return fe.For(name)
	}
	return failure.Newf(failure.KindEvaluation, "%v", err).For(name)
}

// plan holds the read-only, per-run view of the input shared by both
// strategies.
type plan struct {
	runID    string
	base     map[string]*series.Series
	overlay  map[string]*series.Series
	formulas *formula.Set
	graph    *depgraph.Graph
	// effective links only the formulas that will actually be evaluated,
	// i.e. formula-defined variables without data.
	effective *depgraph.Graph
	cyclic    map[string]bool
	index     []string
	targets   []string
	known     []string
}

func newPlan(in Input) *plan {
	p := &plan{
		runID:    in.RunID,
		base:     in.Base,
		overlay:  in.Overlay,
		formulas: in.Formulas,
		graph:    in.Graph,
		cyclic:   make(map[string]bool),
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	if p.formulas == nil {
		p.formulas = formula.Parse("", nil)
	}
	if p.graph == nil {
		p.graph = depgraph.Build(p.formulas.Formulas())
	}

	dataNames := p.dataNames()
	p.index = p.referenceIndex(dataNames)

	p.effective = depgraph.New()
	for _, f := range p.formulas.Formulas() {
		if !p.hasData(f.Name) {
			p.effective.AddFormula(f.Name)
		}
	}
	for _, name := range p.effective.Formulas() {
		deps, _ := p.graph.Dependencies(name)
		for _, dep := range deps {
			if p.effective.IsFormula(dep) {
				_ = p.effective.AddEdge(dep, name)
			}
		}
	}
	for _, component := range p.effective.Components() {
		for _, name := range component {
			p.cyclic[name] = true
		}
	}

	p.targets = in.Targets
	if len(p.targets) == 0 {
		p.targets = p.defaultTargets(dataNames)
	}

	seen := make(map[string]struct{})
	for _, name := range append(p.formulas.Names(), dataNames...) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			p.known = append(p.known, name)
		}
	}
	sort.Strings(p.known)
	return p
}

// dataNames returns every base and overlay name, sorted.
func (p *plan) dataNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range []map[string]*series.Series{p.overlay, p.base} {
		for name := range m {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// referenceIndex is the label set scalar formula results are spread over:
// the union of all base indices, then all overlay indices.
func (p *plan) referenceIndex(dataNames []string) []string {
	var all []*series.Series
	for _, m := range []map[string]*series.Series{p.base, p.overlay} {
		for _, name := range dataNames {
			if s, ok := m[name]; ok {
				all = append(all, s)
			}
		}
	}
	return series.UnionIndex(all...)
}

// defaultTargets lists formulas in declaration order, then data names not
// defined by a formula.
func (p *plan) defaultTargets(dataNames []string) []string {
	targets := p.formulas.Names()
	for _, name := range dataNames {
		if _, isFormula := p.formulas.Lookup(name); !isFormula {
			targets = append(targets, name)
		}
	}
	return targets
}

// data returns the value of name following overlay, then base precedence.
func (p *plan) data(name string) (*series.Series, Source, bool) {
	if s, ok := p.overlay[name]; ok && s != nil {
		return s, SourceOverlay, true
	}
	if s, ok := p.base[name]; ok && s != nil {
		return s, SourceBase, true
	}
	return nil, 0, false
}

func (p *plan) hasData(name string) bool {
	_, _, ok := p.data(name)
	return ok
}

// formula returns the formula to evaluate for name, if name has no data.
func (p *plan) formula(name string) (*formula.Formula, bool) {
	if p.hasData(name) {
		return nil, false
	}
	return p.formulas.Lookup(name)
}

func (p *plan) dependencies(name string) []string {
	deps, _ := p.graph.Dependencies(name)
	return deps
}

func (p *plan) undefined(name string) *failure.Error {
	err := &failure.Error{Variable: name, Kind: failure.KindUndefinedVariable}
	if suggestion := funclib.Closest(name, p.known); suggestion != "" {
		err.Detail = fmt.Sprintf("did you mean %q?", suggestion)
	}
	return err
}

func (p *plan) cycleError(name string) *failure.Error {
	return &failure.Error{
		Variable: name,
		Kind:     failure.KindCycleDetected,
		Path:     p.effective.CycleThrough(name),
	}
}

// dependencyError is the failure of name given the first failed dependency,
// in reference order. A variable on a cycle always fails as part of it.
func (p *plan) dependencyError(name string, cause *failure.Error) *failure.Error {
	if p.cyclic[name] {
		return p.cycleError(name)
	}
	return &failure.Error{
		Variable: name,
		Kind:     failure.KindDependencyFailed,
		Detail:   cause.Variable,
		Cause:    cause,
	}
}

func (p *plan) result(env *Environment) *Result {
	res := &Result{
		RunID:   p.runID,
		Values:  make(map[string]*series.Series),
		Sources: make(map[string]Source),
		Order:   env.Order(),
		Targets: append([]string(nil), p.targets...),
	}
	for _, name := range res.Order {
		if v, ok := env.Value(name); ok {
			res.Values[name] = v
		}
		if s, ok := env.Source(name); ok {
			res.Sources[name] = s
		}
	}
	res.Errors = env.Failures()
	sort.Slice(res.Errors, func(i, j int) bool {
		return res.Errors[i].Variable < res.Errors[j].Variable
	})
	return res
}
