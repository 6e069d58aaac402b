// Package failure defines the error kinds reported while parsing formulas and
// resolving variables.
//
// Every failure is a *Error carrying a Kind. Each Kind has a sentinel so that
// callers can test with errors.Is(err, failure.ErrCycleDetected) no matter
// how deeply the error was wrapped, and a DependencyFailed error keeps the
// failure of its dependency as its cause.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	// KindParseSkipped marks a definition line that could not be used.
	KindParseSkipped Kind = iota + 1
	// KindUndefinedVariable marks a name with no data and no formula.
	KindUndefinedVariable
	// KindCycleDetected marks a formula that transitively depends on itself.
	KindCycleDetected
	// KindInvalidArgument marks a bad argument to a library function.
	KindInvalidArgument
	// KindUnknownFunction marks a call to an unregistered function.
	KindUnknownFunction
	// KindEvaluation marks any other arithmetic or expression failure.
	KindEvaluation
	// KindDependencyFailed marks a formula whose dependency failed.
	KindDependencyFailed
)

var (
	ErrParseSkipped       = errors.New("definition skipped")
	ErrUndefinedVariable  = errors.New("undefined variable")
	ErrCycleDetected      = errors.New("cycle detected")
	ErrInvalidArgument    = errors.New("invalid function argument")
	ErrUnknownFunction    = errors.New("unknown function")
	ErrEvaluation         = errors.New("evaluation failure")
	ErrDependencyFailed   = errors.New("dependency failed")
	errUnknownFailureKind = errors.New("unknown failure")
)

// String returns the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindParseSkipped:
		return "parse_skipped"
	case KindUndefinedVariable:
		return "undefined_variable"
	case KindCycleDetected:
		return "cycle_detected"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUnknownFunction:
		return "unknown_function"
	case KindEvaluation:
		return "evaluation_failure"
	case KindDependencyFailed:
		return "dependency_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinel returns the sentinel error matching k.
func (k Kind) Sentinel() error {
	switch k {
	case KindParseSkipped:
		return ErrParseSkipped
	case KindUndefinedVariable:
		return ErrUndefinedVariable
	case KindCycleDetected:
		return ErrCycleDetected
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindUnknownFunction:
		return ErrUnknownFunction
	case KindEvaluation:
		return ErrEvaluation
	case KindDependencyFailed:
		return ErrDependencyFailed
	default:
		return errUnknownFailureKind
	}
}

// Error is a failure attributed to one variable.
type Error struct {
	// Variable is the name the failure is attributed to. It is empty while
	// the error travels inside the evaluator.
	Variable string
	Kind     Kind
	Detail   string
	// Path holds the closed cycle path for KindCycleDetected, e.g. [a b a].
	Path []string
	// Cause is the dependency failure behind a KindDependencyFailed error.
	Cause error
}

// Newf creates an unattributed failure of the given kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// For returns a copy of e attributed to variable.
func (e *Error) For(variable string) *Error {
	out := *e
	out.Variable = variable
	return &out
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	if e.Variable != "" {
		fmt.Fprintf(&sb, "variable %q: ", e.Variable)
	}
	sb.WriteString(e.Kind.Sentinel().Error())
	if len(e.Path) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Path, " -> "))
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Unwrap exposes the sentinel of the kind and, if set, the cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.Sentinel()}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// Root follows DependencyFailed causes down to the failure that started the
// chain.
func Root(err error) error {
	for {
		var fe *Error
		if !errors.As(err, &fe) || fe.Kind != KindDependencyFailed || fe.Cause == nil {
			return err
		}
		err = fe.Cause
	}
}
