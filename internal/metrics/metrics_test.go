package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/formulagrid/internal/formula"
	"github.com/vk/formulagrid/internal/resolver"
	"github.com/vk/formulagrid/internal/series"
)

func runWith(t *testing.T, m *Metrics) *resolver.Result {
	t.Helper()
	res, err := resolver.New(resolver.Options{Observer: m}).Resolve(context.Background(), resolver.Input{
		Base:     map[string]*series.Series{"x1": series.FromValues("x1", []float64{1, 2})},
		Overlay:  map[string]*series.Series{"x9": series.FromValues("x9", []float64{3})},
		Formulas: formula.Parse("a = x1 * 2\nb = a + x9\nc = d + 1\ne = lagg(x1)", nil),
	})
	require.NoError(t, err)
	return res
}

func TestMetrics_Observer(t *testing.T) {
	m := New()
	res := runWith(t, m)
	m.RunFinished(res, 250*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.formulasEvaluated.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.formulasEvaluated.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.variablesResolved.WithLabelValues("base")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.variablesResolved.WithLabelValues("overlay")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.variablesResolved.WithLabelValues("formula")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutionErrors.WithLabelValues("undefined_variable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutionErrors.WithLabelValues("dependency_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutionErrors.WithLabelValues("unknown_function")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("partial")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.runDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.evaluationSeconds))
}

func TestMetrics_RunOutcomes(t *testing.T) {
	m := New()
	m.RunFinished(&resolver.Result{}, time.Second)
	m.RunFinished(&resolver.Result{Canceled: true}, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("canceled")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.RunFinished(runWith(t, m), time.Second)

	path := filepath.Join(t.TempDir(), "formulagrid.prom")
	require.NoError(t, m.WriteTextfile(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `formulagrid_variables_resolved_total{source="formula"} 2`)
	assert.Contains(t, string(content), `formulagrid_runs_total{outcome="partial"} 1`)
}
