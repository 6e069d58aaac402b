package resolver

import (
	"context"
	"strings"

	"github.com/vk/formulagrid/internal/ctxlog"
	"github.com/vk/formulagrid/internal/failure"
)

// cycleSignal is returned for a dependency that is still on the current
// path. It is never recorded; the variables on the cycle record their own
// CycleDetected failures while the recursion unwinds.
var cycleSignal = &failure.Error{Kind: failure.KindCycleDetected}

// sequential is the depth-first strategy.
type sequential struct {
	r    *Resolver
	p    *plan
	env  *Environment
	ctx  context.Context
	path []string
}

func (r *Resolver) resolveSequential(ctx context.Context, p *plan, env *Environment) error {
	s := &sequential{r: r, p: p, env: env, ctx: ctx}
	for _, target := range p.targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.resolve(target)
	}
	return nil
}

// resolve returns nil once name holds a value, or the failure that stops it.
func (s *sequential) resolve(name string) *failure.Error {
	switch s.env.State(name) {
	case Resolved:
		return nil
	case Failed:
		err, _ := s.env.Err(name)
		return err
	case InProgress:
		ctxlog.FromContext(s.ctx).Debug("Cycle detected.",
			"variable", name,
			"path", strings.Join(append(s.cyclePath(name), name), " -> "),
		)
		return cycleSignal
	}

	if value, source, ok := s.p.data(name); ok {
		s.r.storeData(s.env, name, value, source)
		return nil
	}

	f, ok := s.p.formula(name)
	if !ok {
		return s.r.fail(s.ctx, s.env, s.p.undefined(name))
	}

	s.env.Begin(name)
	s.path = append(s.path, name)
	defer func() { s.path = s.path[:len(s.path)-1] }()

	// every dependency is resolved, even after a failure, so that each
	// reachable variable gets its own value or error
	var first *failure.Error
	for _, dep := range s.p.dependencies(name) {
		if err := s.resolve(dep); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return s.r.fail(s.ctx, s.env, s.p.dependencyError(name, first))
	}

	if err := s.r.evaluate(s.ctx, s.p, s.env, f); err != nil {
		return s.r.fail(s.ctx, s.env, err)
	}
	return nil
}

// cyclePath returns the part of the current path starting at name.
func (s *sequential) cyclePath(name string) []string {
	for i, v := range s.path {
		if v == name {
			return append([]string(nil), s.path[i:]...)
		}
	}
	return nil
}
