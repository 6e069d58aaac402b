package publish

import (
	"fmt"

	"github.com/vk/formulagrid/internal/failure"
	"github.com/vk/formulagrid/internal/resolver"
	"github.com/vk/formulagrid/internal/series"
	"github.com/zclconf/go-cty/cty"
)

// Event names emitted by the publisher.
const (
	EventResolved  = "variable.resolved"
	EventFailed    = "variable.failed"
	EventCompleted = "run.completed"
)

// resolvedPayload describes one resolved variable. Missing observations are
// null.
func resolvedPayload(runID, name string, s *series.Series, source resolver.Source) cty.Value {
	index := make([]cty.Value, 0, s.Len())
	values := make([]cty.Value, 0, s.Len())
	for i := 0; i < s.Len(); i++ {
		label, v := s.At(i)
		index = append(index, cty.StringVal(label))
		if series.IsMissing(v) {
			values = append(values, cty.NullVal(cty.Number))
			continue
		}
		values = append(values, cty.NumberFloatVal(v))
	}

	return cty.ObjectVal(map[string]cty.Value{
		"run_id": cty.StringVal(runID),
		"name":   cty.StringVal(name),
		"source": cty.StringVal(source.String()),
		"index":  listOrEmpty(cty.String, index),
		"values": listOrEmpty(cty.Number, values),
	})
}

// failedPayload describes one failed variable.
func failedPayload(runID string, err *failure.Error) cty.Value {
	path := make([]cty.Value, 0, len(err.Path))
	for _, p := range err.Path {
		path = append(path, cty.StringVal(p))
	}
	return cty.ObjectVal(map[string]cty.Value{
		"run_id":  cty.StringVal(runID),
		"name":    cty.StringVal(err.Variable),
		"kind":    cty.StringVal(err.Kind.String()),
		"message": cty.StringVal(err.Error()),
		"path":    listOrEmpty(cty.String, path),
	})
}

// completedPayload summarizes the run.
func completedPayload(res *resolver.Result) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"run_id":   cty.StringVal(res.RunID),
		"resolved": cty.NumberIntVal(int64(len(res.Values))),
		"failed":   cty.NumberIntVal(int64(len(res.Errors))),
		"canceled": cty.BoolVal(res.Canceled),
	})
}

func listOrEmpty(ty cty.Type, vals []cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.ListValEmpty(ty)
	}
	return cty.ListVal(vals)
}

// toInterface converts a cty.Value to plain Go values the socket.io encoder
// understands.
func toInterface(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f, nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			converted, err := toInterface(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = converted
		}
		return out, nil
	case ty.IsListType() || ty.IsTupleType():
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			converted, err := toInterface(v)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", ty.FriendlyName())
	}
}
