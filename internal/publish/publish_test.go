package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/formulagrid/internal/formula"
	"github.com/vk/formulagrid/internal/resolver"
	"github.com/vk/formulagrid/internal/series"
	"github.com/zclconf/go-cty/cty"
)

type emitted struct {
	event string
	data  any
}

type fakeEmitter struct {
	events []emitted
	err    error
}

func (f *fakeEmitter) Emit(event string, args ...any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, emitted{event: event, data: args[0]})
	return nil
}

func testResult(t *testing.T) *resolver.Result {
	t.Helper()
	res, err := resolver.New(resolver.Options{}).Resolve(context.Background(), resolver.Input{
		Base:     map[string]*series.Series{"x1": series.FromValues("x1", []float64{10, 20})},
		Formulas: formula.Parse("x2 = ret(x1)\nbad = nope + 1", nil),
		RunID:    "run-1",
	})
	require.NoError(t, err)
	return res
}

func TestPublish(t *testing.T) {
	fake := &fakeEmitter{}
	require.NoError(t, New(fake).Publish(context.Background(), testResult(t)))

	var names []string
	for _, e := range fake.events {
		names = append(names, e.event)
	}
	assert.Equal(t, []string{
		EventResolved, EventResolved,
		EventFailed, EventFailed,
		EventCompleted,
	}, names)

	x2 := fake.events[1].data.(map[string]any)
	assert.Equal(t, "x2", x2["name"])
	assert.Equal(t, "run-1", x2["run_id"])
	assert.Equal(t, "formula", x2["source"])
	assert.Equal(t, []any{"0", "1"}, x2["index"])
	assert.Equal(t, []any{nil, 1.0}, x2["values"])

	bad := fake.events[2].data.(map[string]any)
	assert.Equal(t, "bad", bad["name"])
	assert.Equal(t, "dependency_failed", bad["kind"])

	summary := fake.events[4].data.(map[string]any)
	assert.Equal(t, map[string]any{
		"run_id":   "run-1",
		"resolved": 2.0,
		"failed":   2.0,
		"canceled": false,
	}, summary)
}

func TestPublish_EmitError(t *testing.T) {
	fake := &fakeEmitter{err: errors.New("socket closed")}
	err := New(fake).Publish(context.Background(), testResult(t))
	assert.ErrorContains(t, err, "failed to emit variable.resolved: socket closed")
}

func TestPublish_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeEmitter{}
	err := New(fake).Publish(ctx, testResult(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.events)
}

func TestFailedPayload_CyclePath(t *testing.T) {
	res, err := resolver.New(resolver.Options{}).Resolve(context.Background(), resolver.Input{
		Formulas: formula.Parse("a = b\nb = a", nil),
	})
	require.NoError(t, err)

	verr, ok := res.ErrorFor("a")
	require.True(t, ok)
	out, err := toInterface(failedPayload(res.RunID, verr))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "a"}, out.(map[string]any)["path"])
}

func TestToInterface_Unsupported(t *testing.T) {
	_, err := toInterface(cty.SetVal([]cty.Value{cty.StringVal("a")}))
	assert.ErrorContains(t, err, "unsupported cty.Type")

	out, err := toInterface(cty.NullVal(cty.String))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDial_InvalidURL(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "not a url"})
	assert.ErrorContains(t, err, "scheme and host are required")
}
