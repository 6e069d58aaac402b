// Package funclib holds the fixed set of series functions that formulas may
// call: lag, diff and ret.
//
// The Library maps a function name to its parameter list and implementation.
// The evaluator checks arity and argument kinds against the declared
// parameters before calling the implementation, so implementations only see
// well-formed input.
package funclib

import (
	"fmt"
	"sort"

	"github.com/agext/levenshtein"
	"github.com/vk/formulagrid/internal/series"
)

// ParamKind describes what an argument position accepts.
type ParamKind int

const (
	// SeriesParam accepts any expression evaluating to a series.
	SeriesParam ParamKind = iota
	// IntParam accepts a constant, non-negative integer expression.
	IntParam
)

// Param declares one positional parameter.
type Param struct {
	Name     string
	Kind     ParamKind
	Optional bool
	// Default is used for an omitted optional IntParam.
	Default int
}

// Impl computes a function result. ints holds the IntParam arguments in
// declaration order, defaults already applied.
type Impl func(in *series.Series, ints []int) *series.Series

// Function is a registered library function.
type Function struct {
	Name        string
	Description string
	Params      []Param
	Impl        Impl
}

// MinArgs returns the number of required arguments.
func (f *Function) MinArgs() int {
	n := 0
	for _, p := range f.Params {
		if !p.Optional {
			n++
		}
	}
	return n
}

// MaxArgs returns the number of declared parameters.
func (f *Function) MaxArgs() int {
	return len(f.Params)
}

// Signature renders the function as it is written in a formula.
func (f *Function) Signature() string {
	out := f.Name + "("
	for i, p := range f.Params {
		if i > 0 {
			out += ", "
		}
		if p.Optional {
			out += "[" + p.Name + "]"
			continue
		}
		out += p.Name
	}
	return out + ")"
}

// Library is a read-only set of functions after construction.
type Library struct {
	functions map[string]*Function
}

// New returns a Library holding the built-in functions.
func New() *Library {
	lib := &Library{functions: make(map[string]*Function)}
	for _, fn := range builtins() {
		if err := lib.Register(fn); err != nil {
			// builtins are static, a clash is a programming error
			panic(err)
		}
	}
	return lib
}

// Register adds fn to the library. Names must be unique.
func (l *Library) Register(fn *Function) error {
	if fn == nil || fn.Name == "" || fn.Impl == nil {
		return fmt.Errorf("function must have a name and an implementation")
	}
	if len(fn.Params) == 0 || fn.Params[0].Kind != SeriesParam {
		return fmt.Errorf("function %q: first parameter must be a series", fn.Name)
	}
	if _, exists := l.functions[fn.Name]; exists {
		return fmt.Errorf("function %q is already registered", fn.Name)
	}
	l.functions[fn.Name] = fn
	return nil
}

// Lookup returns the function registered under name.
func (l *Library) Lookup(name string) (*Function, bool) {
	fn, ok := l.functions[name]
	return fn, ok
}

// Has reports whether name is a registered function.
func (l *Library) Has(name string) bool {
	_, ok := l.functions[name]
	return ok
}

// Names returns the registered function names, sorted.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.functions))
	for name := range l.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Suggest returns the registered name closest to name, or "" when nothing is
// close enough to be a likely typo.
func (l *Library) Suggest(name string) string {
	return Closest(name, l.Names())
}

// Closest returns the candidate with the smallest edit distance to given,
// provided that distance is below 3.
func Closest(given string, candidates []string) string {
	best, bestDist := "", 3
	for _, c := range candidates {
		if d := levenshtein.Distance(given, c, nil); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func builtins() []*Function {
	return []*Function{
		{
			Name:        "lag",
			Description: "Shift a series forward by n observations.",
			Params: []Param{
				{Name: "series", Kind: SeriesParam},
				{Name: "n", Kind: IntParam, Optional: true, Default: 1},
			},
			Impl: func(in *series.Series, ints []int) *series.Series {
				return in.Shift(ints[0])
			},
		},
		{
			Name:        "diff",
			Description: "Absolute first difference between consecutive observations.",
			Params:      []Param{{Name: "series", Kind: SeriesParam}},
			Impl: func(in *series.Series, _ []int) *series.Series {
				return in.AbsDiff()
			},
		},
		{
			Name:        "ret",
			Description: "Period-over-period fractional change.",
			Params:      []Param{{Name: "series", Kind: SeriesParam}},
			Impl: func(in *series.Series, _ []int) *series.Series {
				return in.PctChange()
			},
		},
	}
}
