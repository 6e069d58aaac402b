package resolver

import (
	"time"

	"github.com/vk/formulagrid/internal/failure"
)

// Observer is notified as a run progresses. The concurrent strategy calls it
// from several goroutines, so implementations must be safe for concurrent
// use.
type Observer interface {
	// FormulaEvaluated is called once per evaluated formula, err is the
	// evaluator's error if any.
	FormulaEvaluated(name string, elapsed time.Duration, err error)
	// VariableResolved is called when name gets its value.
	VariableResolved(name string, source Source)
	// VariableFailed is called once per failed variable.
	VariableFailed(err *failure.Error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) FormulaEvaluated(string, time.Duration, error) {}
func (NopObserver) VariableResolved(string, Source)               {}
func (NopObserver) VariableFailed(*failure.Error)                 {}

// Observers fans notifications out to several observers.
type Observers []Observer

func (o Observers) FormulaEvaluated(name string, elapsed time.Duration, err error) {
	for _, obs := range o {
		obs.FormulaEvaluated(name, elapsed, err)
	}
}

func (o Observers) VariableResolved(name string, source Source) {
	for _, obs := range o {
		obs.VariableResolved(name, source)
	}
}

func (o Observers) VariableFailed(err *failure.Error) {
	for _, obs := range o {
		obs.VariableFailed(err)
	}
}
