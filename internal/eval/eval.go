// Package eval interprets parsed formula expressions against resolved
// variables.
//
// Only a small subset of the HCL expression language is accepted: numeric
// literals, variable references, parentheses, unary minus, the four
// arithmetic operators and calls into the function library. Everything else
// is rejected with an evaluation failure. Errors are *failure.Error values
// without a variable name; the resolver attributes them.
package eval

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/formulagrid/internal/failure"
	"github.com/vk/formulagrid/internal/funclib"
	"github.com/vk/formulagrid/internal/series"
	"github.com/zclconf/go-cty/cty"
)

// Env supplies the values an expression may reference.
type Env interface {
	// Lookup returns the resolved series for name.
	Lookup(name string) (*series.Series, bool)
	// Index is the label set a scalar result is spread over.
	Index() []string
}

// MapEnv is an Env backed by a plain map. It is mostly useful in tests and
// for one-off evaluations.
type MapEnv struct {
	Values map[string]*series.Series
	Labels []string
}

// Lookup implements Env.
func (m MapEnv) Lookup(name string) (*series.Series, bool) {
	s, ok := m.Values[name]
	return s, ok
}

// Index implements Env. Without explicit labels the union of all values'
// indices is used, in sorted name order.
func (m MapEnv) Index() []string {
	if m.Labels != nil {
		return m.Labels
	}
	all := make([]*series.Series, 0, len(m.Values))
	for _, name := range sortedNames(m.Values) {
		all = append(all, m.Values[name])
	}
	return series.UnionIndex(all...)
}

// operand is an intermediate value: a Series, or a scalar when s is nil.
type operand struct {
	s      *series.Series
	scalar float64
}

func (o operand) isScalar() bool {
	return o.s == nil
}

// Evaluate computes expr. A scalar result is spread over env.Index().
func Evaluate(expr hclsyntax.Expression, env Env, lib *funclib.Library) (*series.Series, error) {
	if expr == nil {
		return nil, failure.Newf(failure.KindEvaluation, "no expression to evaluate")
	}
	if lib == nil {
		lib = funclib.New()
	}

	e := &evaluator{env: env, lib: lib}
	out, err := e.eval(expr)
	if err != nil {
		return nil, err
	}
	if out.isScalar() {
		return series.Constant("", out.scalar, env.Index()), nil
	}
	return out.s, nil
}

type evaluator struct {
	env Env
	lib *funclib.Library
}

func (e *evaluator) eval(expr hclsyntax.Expression) (operand, error) {
	switch x := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		return literal(x.Val, x.SrcRange)

	case *hclsyntax.ScopeTraversalExpr:
		return e.reference(x)

	case *hclsyntax.ParenthesesExpr:
		return e.eval(x.Expression)

	case *hclsyntax.UnaryOpExpr:
		if x.Op != hclsyntax.OpNegate {
			return operand{}, unsupported(x)
		}
		val, err := e.eval(x.Val)
		if err != nil {
			return operand{}, err
		}
		if val.isScalar() {
			return operand{scalar: -val.scalar}, nil
		}
		return operand{s: val.s.Map(func(v float64) float64 { return -v })}, nil

	case *hclsyntax.BinaryOpExpr:
		return e.binary(x)

	case *hclsyntax.FunctionCallExpr:
		return e.call(x)

	default:
		return operand{}, unsupported(expr)
	}
}

func literal(val cty.Value, rng hcl.Range) (operand, error) {
	if val.IsNull() || !val.IsKnown() || val.Type() != cty.Number {
		return operand{}, failure.Newf(failure.KindEvaluation,
			"unsupported %s literal at column %d", val.Type().FriendlyName(), rng.Start.Column)
	}
	f, _ := val.AsBigFloat().Float64()
	return operand{scalar: f}, nil
}

func (e *evaluator) reference(x *hclsyntax.ScopeTraversalExpr) (operand, error) {
	name := x.Traversal.RootName()
	if len(x.Traversal) > 1 {
		return operand{}, failure.Newf(failure.KindEvaluation,
			"attribute or index access on %q is not supported", name)
	}
	s, ok := e.env.Lookup(name)
	if !ok {
		return operand{}, failure.Newf(failure.KindEvaluation, "variable %q has no value", name)
	}
	return operand{s: s}, nil
}

type arith func(x, y float64) float64

func (e *evaluator) binary(x *hclsyntax.BinaryOpExpr) (operand, error) {
	var op arith
	var symbol string
	switch x.Op {
	case hclsyntax.OpAdd:
		op, symbol = func(a, b float64) float64 { return a + b }, "+"
	case hclsyntax.OpSubtract:
		op, symbol = func(a, b float64) float64 { return a - b }, "-"
	case hclsyntax.OpMultiply:
		op, symbol = func(a, b float64) float64 { return a * b }, "*"
	case hclsyntax.OpDivide:
		op, symbol = func(a, b float64) float64 { return a / b }, "/"
	default:
		return operand{}, unsupported(x)
	}

	lhs, err := e.eval(x.LHS)
	if err != nil {
		return operand{}, err
	}
	rhs, err := e.eval(x.RHS)
	if err != nil {
		return operand{}, err
	}

	out := apply(lhs, rhs, op)
	if symbol == "/" && !out.isScalar() && out.s.Len() > 0 && out.s.AllMissing() {
		return operand{}, failure.Newf(failure.KindEvaluation, "division yields no values")
	}
	if symbol == "/" && out.isScalar() && series.IsMissing(out.scalar) {
		return operand{}, failure.Newf(failure.KindEvaluation, "division by zero")
	}
	return out, nil
}

func apply(lhs, rhs operand, op arith) operand {
	switch {
	case lhs.isScalar() && rhs.isScalar():
		v := op(lhs.scalar, rhs.scalar)
		if math.IsInf(v, 0) {
			v = series.Missing()
		}
		return operand{scalar: v}
	case lhs.isScalar():
		c := lhs.scalar
		return operand{s: rhs.s.Map(func(v float64) float64 { return op(c, v) })}
	case rhs.isScalar():
		c := rhs.scalar
		return operand{s: lhs.s.Map(func(v float64) float64 { return op(v, c) })}
	default:
		return operand{s: series.Combine(lhs.s.Name(), lhs.s, rhs.s, op)}
	}
}

func (e *evaluator) call(x *hclsyntax.FunctionCallExpr) (operand, error) {
	fn, ok := e.lib.Lookup(x.Name)
	if !ok {
		detail := x.Name
		if suggestion := e.lib.Suggest(x.Name); suggestion != "" {
			detail = fmt.Sprintf("%s (did you mean %q?)", x.Name, suggestion)
		}
		return operand{}, failure.Newf(failure.KindUnknownFunction, "%s", detail)
	}
	if x.ExpandFinal {
		return operand{}, failure.Newf(failure.KindInvalidArgument, "%s: argument expansion is not supported", fn.Signature())
	}
	if n := len(x.Args); n < fn.MinArgs() || n > fn.MaxArgs() {
		return operand{}, failure.Newf(failure.KindInvalidArgument,
			"%s: expected %s, got %d", fn.Signature(), arity(fn), n)
	}

	var in *series.Series
	var ints []int
	for i, param := range fn.Params {
		if i >= len(x.Args) {
			ints = append(ints, param.Default)
			continue
		}
		arg := x.Args[i]
		switch param.Kind {
		case funclib.SeriesParam:
			val, err := e.eval(arg)
			if err != nil {
				return operand{}, err
			}
			if val.isScalar() {
				return operand{}, failure.Newf(failure.KindInvalidArgument,
					"%s: %s must be a series, got a constant", fn.Signature(), param.Name)
			}
			in = val.s
		case funclib.IntParam:
			n, err := intLiteral(arg)
			if err != nil {
				return operand{}, failure.Newf(failure.KindInvalidArgument,
					"%s: %s %s", fn.Signature(), param.Name, err)
			}
			ints = append(ints, n)
		}
	}

	return operand{s: fn.Impl(in, ints)}, nil
}

// intLiteral accepts a constant expression with a non-negative whole-number
// value, such as 2 or (1 + 1).
func intLiteral(expr hclsyntax.Expression) (int, error) {
	if len(expr.Variables()) > 0 {
		return 0, fmt.Errorf("must be a constant, not a variable")
	}
	if _, isCall := expr.(*hclsyntax.FunctionCallExpr); isCall {
		return 0, fmt.Errorf("must be a constant, not a function call")
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return 0, fmt.Errorf("is not a constant: %s", diags.Error())
	}
	if val.IsNull() || !val.IsKnown() || val.Type() != cty.Number {
		return 0, fmt.Errorf("must be a number, got %s", val.Type().FriendlyName())
	}
	bf := val.AsBigFloat()
	if !bf.IsInt() {
		return 0, fmt.Errorf("must be a whole number, got %s", bf.Text('g', -1))
	}
	if bf.Sign() < 0 {
		return 0, fmt.Errorf("must not be negative, got %s", bf.Text('g', -1))
	}
	n, _ := bf.Int64()
	return int(n), nil
}

func arity(fn *funclib.Function) string {
	if fn.MinArgs() == fn.MaxArgs() {
		return plural(fn.MinArgs())
	}
	return fmt.Sprintf("%d to %d arguments", fn.MinArgs(), fn.MaxArgs())
}

func plural(n int) string {
	if n == 1 {
		return "1 argument"
	}
	return fmt.Sprintf("%d arguments", n)
}

func unsupported(expr hclsyntax.Expression) error {
	return failure.Newf(failure.KindEvaluation, "unsupported %s at column %d",
		describe(expr), expr.Range().Start.Column)
}

func describe(expr hclsyntax.Expression) string {
	switch x := expr.(type) {
	case *hclsyntax.TemplateExpr, *hclsyntax.TemplateWrapExpr:
		return "string"
	case *hclsyntax.ConditionalExpr:
		return "conditional"
	case *hclsyntax.BinaryOpExpr:
		return "operator"
	case *hclsyntax.UnaryOpExpr:
		return "operator"
	case *hclsyntax.TupleConsExpr:
		return "list"
	case *hclsyntax.ObjectConsExpr:
		return "object"
	case *hclsyntax.SplatExpr, *hclsyntax.RelativeTraversalExpr, *hclsyntax.IndexExpr:
		return "index expression"
	case *hclsyntax.ForExpr:
		return "for expression"
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", x), "*hclsyntax.")
	}
}

func sortedNames(m map[string]*series.Series) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
