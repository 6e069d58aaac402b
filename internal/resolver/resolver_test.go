package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/formulagrid/internal/failure"
	"github.com/vk/formulagrid/internal/formula"
	"github.com/vk/formulagrid/internal/funclib"
	"github.com/vk/formulagrid/internal/series"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var nan = series.Missing()

// countingObserver records every notification.
type countingObserver struct {
	mu        sync.Mutex
	evaluated map[string]int
	resolved  map[string]Source
	failed    map[string]failure.Kind
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		evaluated: make(map[string]int),
		resolved:  make(map[string]Source),
		failed:    make(map[string]failure.Kind),
	}
}

func (c *countingObserver) FormulaEvaluated(name string, _ time.Duration, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluated[name]++
}

func (c *countingObserver) VariableResolved(name string, source Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved[name] = source
}

func (c *countingObserver) VariableFailed(err *failure.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[err.Variable] = err.Kind
}

func data(values map[string][]float64) map[string]*series.Series {
	out := make(map[string]*series.Series, len(values))
	for name, v := range values {
		out[name] = series.FromValues(name, v)
	}
	return out
}

func resolve(t *testing.T, opts Options, text string, base, overlay map[string]*series.Series, targets ...string) *Result {
	t.Helper()
	res, err := New(opts).Resolve(context.Background(), Input{
		Base:     base,
		Overlay:  overlay,
		Formulas: formula.Parse(text, funclib.New()),
		Targets:  targets,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func requireValues(t *testing.T, want []float64, res *Result, name string) {
	t.Helper()
	s, ok := res.Value(name)
	require.True(t, ok, "%s was not resolved: %v", name, res.Err())
	if diff := cmp.Diff(want, s.Values(), cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("%s: unexpected values (-want +got):\n%s", name, diff)
	}
}

func requireKind(t *testing.T, res *Result, name string, kind failure.Kind) *VarError {
	t.Helper()
	err, ok := res.ErrorFor(name)
	require.True(t, ok, "expected a failure for %s", name)
	require.Equal(t, kind, err.Kind, err.Error())
	return err
}

// strategies runs each test against both resolution strategies.
var strategies = map[string]int{
	"sequential": 0,
	"concurrent": 4,
}

func TestResolve_EndToEnd(t *testing.T) {
	for name, workers := range strategies {
		t.Run(name, func(t *testing.T) {
			res := resolve(t, Options{Workers: workers}, "x2 = ret(x1) * 1000",
				data(map[string][]float64{"x1": {100, 110, 121}}), nil)

			assert.Empty(t, res.Errors)
			assert.NoError(t, res.Err())
			requireValues(t, []float64{nan, 100, 100}, res, "x2")
			requireValues(t, []float64{100, 110, 121}, res, "x1")
			assert.Equal(t, SourceFormula, res.Sources["x2"])
			assert.Equal(t, SourceBase, res.Sources["x1"])
			assert.Equal(t, "x2", res.Values["x2"].Name())
			assert.NotEmpty(t, res.RunID)
		})
	}
}

func TestResolve_FunctionCorrectness(t *testing.T) {
	res := resolve(t, Options{}, "r = ret(x1)\nl = lag(x1, 1)\nd = diff(x1)",
		data(map[string][]float64{"x1": {10, 20, 30}}), nil)

	requireValues(t, []float64{nan, 1, 0.5}, res, "r")
	requireValues(t, []float64{nan, 10, 20}, res, "l")
	requireValues(t, []float64{nan, 10, 10}, res, "d")
}

func TestResolve_Precedence(t *testing.T) {
	for name, workers := range strategies {
		t.Run(name, func(t *testing.T) {
			obs := newCountingObserver()
			res := resolve(t, Options{Workers: workers, Observer: obs}, `
x1 = 5
x2 = 7
y = x1 * 2
z = x2 + 1
`,
				data(map[string][]float64{"x1": {1, 2, 3}, "x2": {4, 5, 6}}),
				data(map[string][]float64{"x1": {9, 9, 9}}),
			)

			assert.Empty(t, res.Errors)
			requireValues(t, []float64{9, 9, 9}, res, "x1")
			requireValues(t, []float64{4, 5, 6}, res, "x2")
			requireValues(t, []float64{18, 18, 18}, res, "y")
			requireValues(t, []float64{5, 6, 7}, res, "z")

			assert.Equal(t, SourceOverlay, res.Sources["x1"])
			assert.Equal(t, SourceBase, res.Sources["x2"])
			assert.Equal(t, SourceOverlay, obs.resolved["x1"])

			// formulas shadowed by data are never evaluated
			assert.Zero(t, obs.evaluated["x1"])
			assert.Zero(t, obs.evaluated["x2"])
		})
	}
}

func TestResolve_Memoization(t *testing.T) {
	for name, workers := range strategies {
		t.Run(name, func(t *testing.T) {
			obs := newCountingObserver()
			res := resolve(t, Options{Workers: workers, Observer: obs}, `
shared = x1 * 2
left = shared + 1
right = shared - 1
top = left + right
`, data(map[string][]float64{"x1": {1, 2}}), nil)

			assert.Empty(t, res.Errors)
			requireValues(t, []float64{4, 8}, res, "top")
			assert.Equal(t, map[string]int{"shared": 1, "left": 1, "right": 1, "top": 1}, obs.evaluated)
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	text := "x2 = ret(x1) * 1000\nx3 = x2 + lag(x1, 2)\nbad = missing + 1"
	base := data(map[string][]float64{"x1": {100, 110, 121, 150}})

	first := resolve(t, Options{}, text, base, nil)
	second := resolve(t, Options{}, text, base, nil)

	require.Equal(t, len(first.Values), len(second.Values))
	for name, v := range first.Values {
		assert.True(t, v.Equal(second.Values[name]), "%s differs: %s vs %s", name, v, second.Values[name])
	}
	assert.Equal(t, first.Order, second.Order)
	assert.Equal(t, first.Err().Error(), second.Err().Error())
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestResolve_Cycle(t *testing.T) {
	for name, workers := range strategies {
		t.Run(name, func(t *testing.T) {
			res := resolve(t, Options{Workers: workers}, "a = b + 1\nb = a + 1\nc = a\ne = 5", nil, nil)

			a := requireKind(t, res, "a", failure.KindCycleDetected)
			b := requireKind(t, res, "b", failure.KindCycleDetected)
			c := requireKind(t, res, "c", failure.KindDependencyFailed)

			assert.Equal(t, []string{"a", "b", "a"}, a.Path)
			assert.Equal(t, []string{"b", "a", "b"}, b.Path)
			assert.ErrorIs(t, a, ErrCycleDetected)
			assert.ErrorIs(t, c, ErrCycleDetected)
			assert.EqualError(t, a, `variable "a": cycle detected: a -> b -> a`)

			requireValues(t, []float64{5}, res, "e")
			assert.Len(t, res.Errors, 3)
		})
	}
}

func TestResolve_CycleMemberWithOtherFailure(t *testing.T) {
	for name, workers := range strategies {
		t.Run(name, func(t *testing.T) {
			res := resolve(t, Options{Workers: workers}, "a = x + b\nb = a", nil, nil)
			requireKind(t, res, "x", failure.KindUndefinedVariable)
			requireKind(t, res, "a", failure.KindCycleDetected)
			requireKind(t, res, "b", failure.KindCycleDetected)
		})
	}
}

func TestResolve_CycleBrokenByData(t *testing.T) {
	res := resolve(t, Options{}, "a = b + 1\nb = a + 1",
		nil, data(map[string][]float64{"b": {1, 2}}))

	assert.Empty(t, res.Errors)
	requireValues(t, []float64{2, 3}, res, "a")
	requireValues(t, []float64{1, 2}, res, "b")
}

func TestResolve_UndefinedPropagation(t *testing.T) {
	for name, workers := range strategies {
		t.Run(name, func(t *testing.T) {
			obs := newCountingObserver()
			res := resolve(t, Options{Workers: workers, Observer: obs}, "c = d * 2\ne = 5", nil, nil)

			requireKind(t, res, "d", failure.KindUndefinedVariable)
			c := requireKind(t, res, "c", failure.KindDependencyFailed)
			assert.ErrorIs(t, c, ErrUndefinedVariable)
			assert.Equal(t, "d", c.Detail)

			var root *failure.Error
			require.True(t, errors.As(failure.Root(c), &root))
			assert.Equal(t, "d", root.Variable)

			_, resolved := res.Value("c")
			assert.False(t, resolved)
			requireValues(t, []float64{5}, res, "e")
			assert.Equal(t, []string{"0"}, res.Values["e"].Index())

			assert.Zero(t, obs.evaluated["c"])
			assert.Equal(t, failure.KindDependencyFailed, obs.failed["c"])
		})
	}
}

func TestResolve_UndefinedSuggestion(t *testing.T) {
	res := resolve(t, Options{}, "y = revenu * 2", data(map[string][]float64{"revenue": {1}}), nil)
	err := requireKind(t, res, "revenu", failure.KindUndefinedVariable)
	assert.Contains(t, err.Error(), `did you mean "revenue"?`)
}

func TestResolve_EvaluationFailures(t *testing.T) {
	res := resolve(t, Options{}, `
g = lagg(x1)
h = lag(x1, -2)
n = x1 + * 2
z = x1 / zero
self = self + 1
`, data(map[string][]float64{"x1": {1, 2}, "zero": {0, 0}}), nil)

	g := requireKind(t, res, "g", failure.KindUnknownFunction)
	assert.Contains(t, g.Error(), `did you mean "lag"?`)
	requireKind(t, res, "h", failure.KindInvalidArgument)
	n := requireKind(t, res, "n", failure.KindEvaluation)
	assert.Contains(t, n.Error(), "invalid expression")
	requireKind(t, res, "z", failure.KindEvaluation)
	s := requireKind(t, res, "self", failure.KindEvaluation)
	assert.Contains(t, s.Error(), `variable "self" has no value`)

	merr := res.Err()
	require.Error(t, merr)
	assert.ErrorIs(t, merr, ErrUnknownFunction)
	assert.ErrorIs(t, merr, ErrInvalidArgument)
	assert.Contains(t, merr.Error(), "5 errors occurred")
}

func TestResolve_SelfReferenceUsesData(t *testing.T) {
	res := resolve(t, Options{}, "x1 = x1 + 1", data(map[string][]float64{"x1": {1, 2}}), nil)
	assert.Empty(t, res.Errors)
	requireValues(t, []float64{1, 2}, res, "x1")
}

func TestResolve_Targets(t *testing.T) {
	obs := newCountingObserver()
	res := resolve(t, Options{Observer: obs}, "a = x1 + 1\nb = a * 2\nunrelated = x1 * 3",
		data(map[string][]float64{"x1": {1}, "x9": {9}}), nil, "b", "ghost")

	requireValues(t, []float64{4}, res, "b")
	requireValues(t, []float64{2}, res, "a")
	_, ok := res.Value("unrelated")
	assert.False(t, ok)
	_, ok = res.Value("x9")
	assert.False(t, ok)
	requireKind(t, res, "ghost", failure.KindUndefinedVariable)
	assert.Equal(t, []string{"b", "ghost"}, res.Targets)
	assert.Zero(t, obs.evaluated["unrelated"])
}

func TestResolve_DefaultTargetsAndOrder(t *testing.T) {
	res := resolve(t, Options{}, "b = a * 2\na = x1 + 1",
		data(map[string][]float64{"x1": {1}, "x0": {0}}), nil)

	assert.Equal(t, []string{"b", "a", "x0", "x1"}, res.Targets)
	assert.Equal(t, []string{"x1", "a", "b", "x0"}, res.Order)
}

func TestResolve_ScalarSpreadsOverDataIndex(t *testing.T) {
	base := map[string]*series.Series{}
	s, err := series.New("x1", []string{"2021", "2022"}, []float64{1, 2})
	require.NoError(t, err)
	base["x1"] = s

	res := resolve(t, Options{}, "k = 2 * 3", base, nil)
	k, ok := res.Value("k")
	require.True(t, ok)
	assert.Equal(t, []string{"2021", "2022"}, k.Index())
	assert.Equal(t, []float64{6, 6}, k.Values())
}

func TestResolve_StrategiesAgree(t *testing.T) {
	text := `
x2 = ret(x1) * 1000
x3 = x2 + lag(x1, 2)
x4 = diff(x3) / x2
a = b + 1
b = a + c
c = x1 * 2
d = a + x2
e = undefined_thing + 1
f = e + x4
g = lagg(x1)
h = g + x3
k = 5
m = k * x1
n = x1 + * 2
o = n + 1
p = q
q = r
r = p + s
s = x4 * 2
`
	base := data(map[string][]float64{"x1": {100, 110, 121, 133.1}})
	overlay := data(map[string][]float64{"k": {1, 1, 1, 1}})

	want := resolve(t, Options{}, text, base, overlay)
	for i := 0; i < 20; i++ {
		got := resolve(t, Options{Workers: 4}, text, base, overlay)

		require.Equal(t, len(want.Values), len(got.Values))
		for name, v := range want.Values {
			assert.True(t, v.Equal(got.Values[name]), "%s differs: %s vs %s", name, v, got.Values[name])
		}
		assert.Equal(t, want.Sources, got.Sources)
		assert.ElementsMatch(t, want.Order, got.Order)

		require.Equal(t, len(want.Errors), len(got.Errors))
		for j := range want.Errors {
			assert.Equal(t, want.Errors[j].Error(), got.Errors[j].Error())
			assert.Equal(t, want.Errors[j].Kind, got.Errors[j].Kind)
		}
	}

	requireKind(t, want, "a", failure.KindCycleDetected)
	requireKind(t, want, "p", failure.KindCycleDetected)
	requireKind(t, want, "d", failure.KindDependencyFailed)
	requireKind(t, want, "f", failure.KindDependencyFailed)
	requireKind(t, want, "h", failure.KindDependencyFailed)
	requireKind(t, want, "o", failure.KindDependencyFailed)
	requireValues(t, []float64{100, 110, 121, 133.1}, want, "m")
}

func TestResolve_Canceled(t *testing.T) {
	for name, workers := range strategies {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			res, err := New(Options{Workers: workers}).Resolve(ctx, Input{
				Base:     data(map[string][]float64{"x1": {1}}),
				Formulas: formula.Parse("a = x1 + 1\nb = a + 1", nil),
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, context.Canceled)
			require.NotNil(t, res)
			assert.True(t, res.Canceled)
			_, ok := res.Value("b")
			assert.False(t, ok)
		})
	}
}

func TestResolve_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	resolve(t, Options{Tracer: provider.Tracer("test")}, "a = x1 + 1\nb = a * 2",
		data(map[string][]float64{"x1": {1}}), nil)

	counts := make(map[string]int)
	for _, span := range recorder.Ended() {
		counts[span.Name()]++
	}
	assert.Equal(t, map[string]int{"resolver.Resolve": 1, "resolver.evaluate": 2}, counts)
}

func TestResolve_NilFormulas(t *testing.T) {
	res, err := New(Options{}).Resolve(context.Background(), Input{
		Base: data(map[string][]float64{"x1": {1}}),
	})
	require.NoError(t, err)
	requireValues(t, []float64{1}, res, "x1")
}
