// ABOUTME: Executor that runs plans in the background, persisting every step transition.
// ABOUTME: Sequences fail fast; concurrences run on an errgroup and join member failures.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/plan"
)

// DefaultMaxParallel bounds concurrence members running at once when Config.MaxParallel is unset.
const DefaultMaxParallel = 4

// Config holds the executor's collaborators.
type Config struct {
	Store    RunStore
	Runner   StepRunner
	Entities content.Store
	Logger   *log.Logger
	// MaxParallel bounds concurrent members of one concurrence.
	MaxParallel int
	// EventHandler, when set, receives every event after it is persisted.
	EventHandler func(Event)
	// Leases guards entities against concurrent runs. Defaults to a
	// process-local table; share one store-backed implementation between
	// processes that use the same run store.
	Leases Leases
	// LeaseTTL is how long a lease outlives its last renewal.
	LeaseTTL time.Duration
}

// Executor runs plans. It never retries steps and never rolls back.
type Executor struct {
	cfg Config
	wg  sync.WaitGroup
}

// NewExecutor validates cfg and applies defaults.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: run store is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("engine: step runner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.Leases == nil {
		cfg.Leases = newMemoryLeases()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	return &Executor{cfg: cfg}, nil
}

// RunHandle tracks a run executing in the background.
type RunHandle struct {
	ID   string
	done chan struct{}
	exec *Executor
}

// Done is closed once the run reached a terminal status and its lease was released.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes or ctx is done, then returns the latest run record.
func (h *RunHandle) Wait(ctx context.Context) (*Run, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return h.exec.Status(h.ID)
}

// Execute persists a pending run for p and starts it in the background.
// Cancelling ctx after Execute returns does not stop the run.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, label string) (*RunHandle, error) {
	if p == nil || len(p.Steps()) == 0 {
		return nil, &content.ValidationError{Field: "plan", Message: "must contain at least one step"}
	}
	if p.EntityID == "" {
		return nil, &content.ValidationError{Field: "plan", Message: "must reference an entity"}
	}

	runID := uuid.New().String()
	if err := e.cfg.Leases.AcquireLease(ctx, p.EntityID, runID, e.cfg.LeaseTTL); err != nil {
		return nil, err
	}

	run := newRun(runID, p, label)
	if err := e.cfg.Store.Create(run, p); err != nil {
		e.releaseLease(p.EntityID, runID)
		return nil, fmt.Errorf("persist run: %w", err)
	}

	e.cfg.Logger.Printf("component=engine action=execute run=%s entity=%s label=%q plan=%q",
		runID, p.EntityID, label, p.Describe())
	return e.start(ctx, run, p, EventRunStarted), nil
}

// Resume re-executes a failed or interrupted run. Succeeded steps are skipped;
// failed and running steps are reset to pending first. A run that a newer run
// of the same entity has superseded cannot be resumed; if it was still
// pending it is marked failed.
func (e *Executor) Resume(ctx context.Context, runID string) (*RunHandle, error) {
	run, err := e.cfg.Store.Get(runID)
	if err != nil {
		return nil, err
	}
	if run.Status == plan.StatusSucceeded {
		return nil, &content.ValidationError{Field: "run", Message: "run " + runID + " already succeeded"}
	}
	p, err := e.cfg.Store.LoadPlan(runID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if err := e.cfg.Leases.AcquireLease(ctx, run.EntityID, runID, e.cfg.LeaseTTL); err != nil {
		return nil, err
	}
	if err := e.checkSuperseded(run); err != nil {
		e.releaseLease(run.EntityID, runID)
		return nil, err
	}

	run.Events = nil
	run.Status = plan.StatusPending
	run.Error = ""
	run.FailedStep = ""
	run.CompletedAt = nil
	for i := range run.Steps {
		st := &run.Steps[i]
		if st.Status == plan.StatusFailed || st.Status == plan.StatusRunning {
			st.Status = plan.StatusPending
			st.Error = ""
			st.Output = nil
			st.StartedAt = nil
			st.CompletedAt = nil
		}
	}
	if err := e.cfg.Store.Update(run); err != nil {
		e.releaseLease(run.EntityID, runID)
		return nil, fmt.Errorf("persist run: %w", err)
	}

	e.cfg.Logger.Printf("component=engine action=resume run=%s entity=%s succeeded=%d",
		runID, run.EntityID, run.Count(plan.StatusSucceeded))
	return e.start(ctx, run, p, EventRunResumed), nil
}

// checkSuperseded returns *content.ValidationError when another run of the
// same entity was created after run. The caller must hold the entity's lease.
func (e *Executor) checkSuperseded(run *Run) error {
	runs, err := e.cfg.Store.List()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	for _, other := range runs {
		if other.ID == run.ID || other.EntityID != run.EntityID || !other.CreatedAt.After(run.CreatedAt) {
			continue
		}
		if run.Pending() {
			now := time.Now().UTC()
			run.Status = plan.StatusFailed
			run.Error = "superseded by run " + other.ID
			run.CompletedAt = &now
			if err := e.cfg.Store.Update(run); err != nil {
				e.cfg.Logger.Printf("component=engine action=persist_failed run=%s err=%v", run.ID, err)
			}
		}
		e.cfg.Logger.Printf("component=engine action=resume_rejected run=%s entity=%s superseded_by=%s",
			run.ID, run.EntityID, other.ID)
		return &content.ValidationError{
			Field:   "run",
			Message: fmt.Sprintf("run %s was superseded by run %s of the same entity", run.ID, other.ID),
		}
	}
	return nil
}

// RecoverInterrupted resumes every persisted run left pending or running
// whose lease has lapsed. Runs still leased, here or by another process
// sharing the lease store, are skipped.
func (e *Executor) RecoverInterrupted(ctx context.Context) ([]*RunHandle, error) {
	runs, err := e.cfg.Store.List()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var handles []*RunHandle
	var errs []error
	for _, run := range runs {
		if !run.Pending() {
			continue
		}
		h, err := e.Resume(ctx, run.ID)
		if errors.Is(err, content.ErrConflict) {
			e.cfg.Logger.Printf("component=engine action=recover_skipped run=%s reason=leased", run.ID)
			continue
		}
		if err != nil {
			e.cfg.Logger.Printf("component=engine action=recover_failed run=%s err=%v", run.ID, err)
			errs = append(errs, fmt.Errorf("run %s: %w", run.ID, err))
			continue
		}
		handles = append(handles, h)
	}
	if len(handles) > 0 {
		e.cfg.Logger.Printf("component=engine action=recover resumed=%d", len(handles))
	}
	return handles, errors.Join(errs...)
}

// Status returns the persisted run record. It never mutates anything.
func (e *Executor) Status(runID string) (*Run, error) {
	return e.cfg.Store.Get(runID)
}

// Statuses returns the runs for ids in order, omitting unknown ids.
func (e *Executor) Statuses(ids []string) ([]*Run, error) {
	runs := make([]*Run, 0, len(ids))
	for _, id := range ids {
		run, err := e.cfg.Store.Get(id)
		if errors.Is(err, content.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Wait blocks until every run started by this executor has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) start(ctx context.Context, run *Run, p *plan.Plan, startEvent EventType) *RunHandle {
	h := &RunHandle{ID: run.ID, done: make(chan struct{}), exec: e}
	x := &execution{exec: e, run: run, plan: p}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(h.done)
		defer e.releaseLease(p.EntityID, run.ID)
		stop := e.keepLease(p.EntityID, run.ID)
		defer stop()
		x.execute(context.WithoutCancel(ctx), startEvent)
	}()
	return h
}

// execution is the mutable state of one run attempt.
type execution struct {
	exec *Executor
	plan *plan.Plan

	mu  sync.Mutex
	run *Run
}

func (x *execution) execute(ctx context.Context, startEvent EventType) {
	now := time.Now().UTC()
	x.update(func(r *Run) {
		r.Status = plan.StatusRunning
		r.StartedAt = &now
		r.Attempts++
	})
	x.emit(startEvent, "", nil)

	err := x.runNodes(ctx, x.plan.Nodes)

	done := time.Now().UTC()
	if err != nil {
		x.update(func(r *Run) {
			r.Status = plan.StatusFailed
			r.Error = err.Error()
			r.CompletedAt = &done
		})
		x.emit(EventRunFailed, "", map[string]any{"error": err.Error()})
		x.exec.cfg.Logger.Printf("component=engine action=run_failed run=%s entity=%s err=%q",
			x.run.ID, x.plan.EntityID, err.Error())
		return
	}

	x.update(func(r *Run) {
		r.Status = plan.StatusSucceeded
		r.CompletedAt = &done
	})
	x.emit(EventRunSucceeded, "", nil)
	x.exec.cfg.Logger.Printf("component=engine action=run_succeeded run=%s entity=%s duration=%s",
		x.run.ID, x.plan.EntityID, done.Sub(now).Round(time.Millisecond))
}

// runNodes runs nodes in order and stops at the first failure.
func (x *execution) runNodes(ctx context.Context, nodes []plan.Node) error {
	for _, n := range nodes {
		if err := x.runNode(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (x *execution) runNode(ctx context.Context, n plan.Node) error {
	switch n := n.(type) {
	case *plan.Step:
		return x.runStep(ctx, n)
	case *plan.Sequence:
		return x.runNodes(ctx, n.Nodes)
	case *plan.Concurrence:
		return x.runConcurrence(ctx, n)
	default:
		return fmt.Errorf("unknown plan node %T", n)
	}
}

// runConcurrence starts members up to MaxParallel at a time. Once a member
// fails, members that have not started yet are left pending; running members
// are allowed to finish.
func (x *execution) runConcurrence(ctx context.Context, c *plan.Concurrence) error {
	var (
		g      errgroup.Group
		failed atomic.Bool
		mu     sync.Mutex
		errs   []error
	)
	g.SetLimit(x.exec.cfg.MaxParallel)

	for _, member := range c.Nodes {
		member := member
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			if err := x.runNode(ctx, member); err != nil {
				failed.Store(true)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

func (x *execution) runStep(ctx context.Context, s *plan.Step) error {
	if x.stepStatus(s.ID) == plan.StatusSucceeded {
		x.emit(EventStepSkipped, s.ID, map[string]any{"kind": string(s.Kind())})
		return nil
	}

	started := time.Now().UTC()
	x.updateStep(s.ID, func(st *StepState) {
		st.Status = plan.StatusRunning
		st.StartedAt = &started
		st.CompletedAt = nil
		st.Error = ""
	})
	x.emit(EventStepStarted, s.ID, map[string]any{"kind": string(s.Kind())})

	ec := ExecutionContext{
		RunID:    x.run.ID,
		StepID:   s.ID,
		Logger:   x.exec.cfg.Logger,
		Entities: x.exec.cfg.Entities,
	}
	out, err := x.dispatch(ctx, ec, s)

	finished := time.Now().UTC()
	if err != nil {
		x.update(func(r *Run) {
			if r.FailedStep == "" {
				r.FailedStep = s.ID
			}
			if st := r.Step(s.ID); st != nil {
				st.Status = plan.StatusFailed
				st.Error = err.Error()
				st.CompletedAt = &finished
			}
		})
		x.emit(EventStepFailed, s.ID, map[string]any{"kind": string(s.Kind()), "error": err.Error()})
		x.exec.cfg.Logger.Printf("component=engine action=step_failed run=%s step=%s err=%q", x.run.ID, s.ID, err.Error())
		return &StepError{StepID: s.ID, Kind: s.Kind(), Err: err}
	}

	x.updateStep(s.ID, func(st *StepState) {
		st.Status = plan.StatusSucceeded
		st.Output = out
		st.CompletedAt = &finished
	})
	x.emit(EventStepSucceeded, s.ID, map[string]any{"kind": string(s.Kind())})
	x.exec.cfg.Logger.Printf("component=engine action=step_succeeded run=%s step=%s duration=%s",
		x.run.ID, s.ID, finished.Sub(started).Round(time.Millisecond))
	return nil
}

// dispatch calls the runner, converting a panic into a step error.
func (x *execution) dispatch(ctx context.Context, ec ExecutionContext, s *plan.Step) (out plan.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			x.exec.cfg.Logger.Printf("component=engine action=step_panic run=%s step=%s panic=%v\n%s",
				ec.RunID, s.ID, r, debug.Stack())
			out, err = nil, fmt.Errorf("step panicked: %v", r)
		}
	}()
	return x.exec.cfg.Runner.RunStep(ctx, ec, s)
}

func (x *execution) stepStatus(id string) plan.Status {
	x.mu.Lock()
	defer x.mu.Unlock()
	if st := x.run.Step(id); st != nil {
		return st.Status
	}
	return plan.StatusPending
}

func (x *execution) updateStep(id string, fn func(*StepState)) {
	x.update(func(r *Run) {
		if st := r.Step(id); st != nil {
			fn(st)
		}
	})
}

// update mutates the run and persists it. Persistence failures are logged;
// the in-memory state stays authoritative for the rest of the attempt.
func (x *execution) update(fn func(*Run)) {
	x.mu.Lock()
	defer x.mu.Unlock()
	fn(x.run)
	if err := x.exec.cfg.Store.Update(x.run); err != nil {
		x.exec.cfg.Logger.Printf("component=engine action=persist_failed run=%s err=%v", x.run.ID, err)
	}
}

func (x *execution) emit(t EventType, stepID string, data map[string]any) {
	evt := Event{Type: t, RunID: x.run.ID, StepID: stepID, Data: data, Timestamp: time.Now().UTC()}
	if err := x.exec.cfg.Store.AddEvent(evt.RunID, evt); err != nil {
		x.exec.cfg.Logger.Printf("component=engine action=event_persist_failed run=%s type=%s err=%v", evt.RunID, t, err)
	}
	if x.exec.cfg.EventHandler != nil {
		x.exec.cfg.EventHandler(evt)
	}
}
