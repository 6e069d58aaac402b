package resolver

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vk/formulagrid/internal/ctxlog"
	"github.com/vk/formulagrid/internal/formula"
)

// task is one formula scheduled on the worker pool.
type task struct {
	f          *formula.Formula
	deps       []string
	dependents []*task
	// pending counts dependencies that are tasks not yet finished.
	pending atomic.Int32
}

// executor evaluates independent formulas concurrently. A task enters the
// ready channel exactly once, when its pending count drops to zero.
type executor struct {
	r          *Resolver
	p          *plan
	env        *Environment
	numWorkers int
	wg         sync.WaitGroup
}

func (r *Resolver) resolveConcurrent(ctx context.Context, p *plan, env *Environment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx)
	e := &executor{r: r, p: p, env: env, numWorkers: r.workers}

	tasks := e.prepare(ctx)
	if len(tasks) == 0 {
		return ctx.Err()
	}

	readyChan := make(chan *task, len(tasks))
	rootCount := 0
	for _, t := range tasks {
		if t.pending.Load() == 0 {
			readyChan <- t
			rootCount++
		}
	}
	logger.Debug("Found root formulas.", "count", rootCount, "tasks", len(tasks))

	e.wg.Add(len(tasks))
	logger.Debug("Starting worker pool.", "workers", e.numWorkers)
	for i := 0; i < e.numWorkers; i++ {
		go e.worker(ctx, readyChan, i)
	}

	e.wg.Wait()
	close(readyChan)
	return ctx.Err()
}

// prepare walks the targets' dependency closure. Data and undefined names
// are settled right away, as is every variable on a cycle. The returned
// tasks are the formulas left to evaluate, in discovery order.
func (e *executor) prepare(ctx context.Context) []*task {
	byName := make(map[string]*task)
	var tasks []*task
	visited := make(map[string]bool)

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true

		if value, source, ok := e.p.data(name); ok {
			e.r.storeData(e.env, name, value, source)
			return
		}
		f, ok := e.p.formula(name)
		if !ok {
			e.r.fail(ctx, e.env, e.p.undefined(name))
			return
		}

		deps := e.p.dependencies(name)
		if !e.p.cyclic[name] {
			t := &task{f: f, deps: deps}
			byName[name] = t
			tasks = append(tasks, t)
		}
		for _, dep := range deps {
			visit(dep)
		}
	}
	for _, target := range e.p.targets {
		visit(target)
	}

	// cycle members fail before anything runs
	for _, name := range e.p.effective.Formulas() {
		if visited[name] && e.p.cyclic[name] {
			e.r.fail(ctx, e.env, e.p.cycleError(name))
		}
	}

	for _, t := range tasks {
		for _, dep := range t.deps {
			if upstream, ok := byName[dep]; ok {
				upstream.dependents = append(upstream.dependents, t)
				t.pending.Add(1)
			}
		}
	}
	return tasks
}

// worker is the processing loop for a single concurrent worker.
func (e *executor) worker(ctx context.Context, readyChan chan *task, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for t := range readyChan {
		e.run(ctx, t)

		for _, dependent := range t.dependents {
			if dependent.pending.Add(-1) == 0 {
				readyChan <- dependent
			}
		}
		e.wg.Done()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// run settles one task whose dependencies are all settled.
func (e *executor) run(ctx context.Context, t *task) {
	if ctx.Err() != nil {
		// left unresolved, the run reports cancellation
		return
	}

	for _, dep := range t.deps {
		if cause, failed := e.env.Err(dep); failed {
			e.r.fail(ctx, e.env, e.p.dependencyError(t.f.Name, cause))
			return
		}
	}

	if err := e.r.evaluate(ctx, e.p, e.env, t.f); err != nil {
		e.r.fail(ctx, e.env, err)
	}
}
