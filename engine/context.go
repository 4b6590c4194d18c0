// ABOUTME: ExecutionContext and the StepRunner interface the executor dispatches steps to.
// ABOUTME: Step run functions get their logger and persistence handle explicitly, never from globals.
package engine

import (
	"context"
	"log"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/plan"
)

// ExecutionContext carries per-step collaborators into a StepRunner.
type ExecutionContext struct {
	RunID    string
	StepID   string
	Logger   *log.Logger
	Entities content.Store
}

// Logf writes a log line prefixed with the run and step IDs.
func (ec ExecutionContext) Logf(format string, args ...any) {
	if ec.Logger == nil {
		return
	}
	ec.Logger.Printf("run=%s step=%s "+format, append([]any{ec.RunID, ec.StepID}, args...)...)
}

// StepRunner performs one step's side effect and returns its output.
type StepRunner interface {
	RunStep(ctx context.Context, ec ExecutionContext, step *plan.Step) (plan.Output, error)
}

// StepRunnerFunc adapts a function to the StepRunner interface.
type StepRunnerFunc func(ctx context.Context, ec ExecutionContext, step *plan.Step) (plan.Output, error)

// RunStep calls f.
func (f StepRunnerFunc) RunStep(ctx context.Context, ec ExecutionContext, step *plan.Step) (plan.Output, error) {
	return f(ctx, ec, step)
}

// StepError records which step failed a run.
type StepError struct {
	StepID string
	Kind   plan.Kind
	Err    error
}

func (e *StepError) Error() string {
	return "step " + e.StepID + " (" + string(e.Kind) + "): " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}
