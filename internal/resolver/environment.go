package resolver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vk/formulagrid/internal/failure"
	"github.com/vk/formulagrid/internal/series"
)

// State is the per-run resolution state of one variable.
type State int32

const (
	// Unvisited variables have not been requested yet.
	Unvisited State = iota
	// InProgress variables are on the current resolution path.
	InProgress
	// Resolved variables hold a value.
	Resolved
	// Failed variables hold an error.
	Failed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Unvisited:
		return "unvisited"
	case InProgress:
		return "in_progress"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrAlreadyFinal is returned when a variable that already holds a value or
// an error is written again.
var ErrAlreadyFinal = errors.New("variable already resolved")

// Environment is the memo table of one run: the state, value and error of
// every variable touched so far. Each variable is finalized at most once,
// either with a value or with an error. It is safe for concurrent use.
type Environment struct {
	states  sync.Map // Key: variable name, Value: State
	values  sync.Map // Key: variable name, Value: *series.Series
	errors  sync.Map // Key: variable name, Value: *failure.Error
	sources sync.Map // Key: variable name, Value: Source

	mu     sync.Mutex
	order  []string
	failed []*failure.Error
}

// NewEnvironment creates an empty environment.
func NewEnvironment() *Environment {
	return &Environment{}
}

// State returns the state of name; Unvisited if it was never touched.
func (e *Environment) State(name string) State {
	state, ok := e.states.Load(name)
	if !ok {
		return Unvisited
	}
	return state.(State)
}

// Begin marks name as being resolved on the current path.
func (e *Environment) Begin(name string) {
	e.states.Store(name, InProgress)
}

// Store records the value of name.
func (e *Environment) Store(name string, value *series.Series, source Source) error {
	if _, loaded := e.values.LoadOrStore(name, value); loaded {
		return fmt.Errorf("%w: %s", ErrAlreadyFinal, name)
	}
	if _, failed := e.errors.Load(name); failed {
		e.values.Delete(name)
		return fmt.Errorf("%w: %s", ErrAlreadyFinal, name)
	}
	e.sources.Store(name, source)
	e.states.Store(name, Resolved)

	e.mu.Lock()
	e.order = append(e.order, name)
	e.mu.Unlock()
	return nil
}

// Fail records the failure of err.Variable.
func (e *Environment) Fail(err *failure.Error) error {
	name := err.Variable
	if _, loaded := e.errors.LoadOrStore(name, err); loaded {
		return fmt.Errorf("%w: %s", ErrAlreadyFinal, name)
	}
	if _, resolved := e.values.Load(name); resolved {
		e.errors.Delete(name)
		return fmt.Errorf("%w: %s", ErrAlreadyFinal, name)
	}
	e.states.Store(name, Failed)

	e.mu.Lock()
	e.failed = append(e.failed, err)
	e.mu.Unlock()
	return nil
}

// Value returns the resolved series of name.
func (e *Environment) Value(name string) (*series.Series, bool) {
	value, ok := e.values.Load(name)
	if !ok {
		return nil, false
	}
	return value.(*series.Series), true
}

// Err returns the recorded failure of name.
func (e *Environment) Err(name string) (*failure.Error, bool) {
	err, ok := e.errors.Load(name)
	if !ok {
		return nil, false
	}
	return err.(*failure.Error), true
}

// Source returns where the value of name came from.
func (e *Environment) Source(name string) (Source, bool) {
	source, ok := e.sources.Load(name)
	if !ok {
		return 0, false
	}
	return source.(Source), true
}

// Order returns the resolved variable names in the order they were stored.
func (e *Environment) Order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// Failures returns the recorded failures in the order they occurred.
func (e *Environment) Failures() []*failure.Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*failure.Error(nil), e.failed...)
}

// view adapts the environment to the evaluator.
type view struct {
	env   *Environment
	index []string
}

func (v view) Lookup(name string) (*series.Series, bool) {
	return v.env.Value(name)
}

func (v view) Index() []string {
	return v.index
}
