// ABOUTME: Run records: the executor's persisted view of one plan execution and its steps.
// ABOUTME: Defines lifecycle events and the RunStore interface used to persist and poll runs.
package engine

import (
	"time"

	"github.com/2389-research/viewclone/plan"
)

// EventType identifies the kind of run lifecycle event.
type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventRunResumed    EventType = "run.resumed"
	EventRunSucceeded  EventType = "run.succeeded"
	EventRunFailed     EventType = "run.failed"
	EventStepStarted   EventType = "step.started"
	EventStepSucceeded EventType = "step.succeeded"
	EventStepFailed    EventType = "step.failed"
	EventStepSkipped   EventType = "step.skipped"
)

// Event is a lifecycle event emitted while a run executes.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StepState is the recorded progress of one plan step.
type StepState struct {
	ID          string      `json:"id"`
	Kind        plan.Kind   `json:"kind"`
	Status      plan.Status `json:"status"`
	Error       string      `json:"error,omitempty"`
	Output      plan.Output `json:"output,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Run is one execution of a plan.
type Run struct {
	ID       string      `json:"id"`
	EntityID string      `json:"entity_id"`
	Label    string      `json:"label,omitempty"`
	Status   plan.Status `json:"status"`
	Steps    []StepState `json:"steps"`
	Error    string      `json:"error,omitempty"`
	// FailedStep is the first step whose failure ended the run.
	FailedStep string `json:"failed_step,omitempty"`
	// Attempts counts executions, including resumes.
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Events      []Event    `json:"events,omitempty"`
}

// Pending reports whether the run has not reached a terminal status.
func (r *Run) Pending() bool {
	return !r.Status.Terminal()
}

// Step returns the state of the step with the given ID, or nil.
func (r *Run) Step(id string) *StepState {
	for i := range r.Steps {
		if r.Steps[i].ID == id {
			return &r.Steps[i]
		}
	}
	return nil
}

// Count returns how many steps have the given status.
func (r *Run) Count(status plan.Status) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Steps = make([]StepState, len(r.Steps))
	for i, s := range r.Steps {
		cp.Steps[i] = s
		if s.Output != nil {
			cp.Steps[i].Output = make(plan.Output, len(s.Output))
			for k, v := range s.Output {
				cp.Steps[i].Output[k] = v
			}
		}
	}
	if r.Events != nil {
		cp.Events = append([]Event(nil), r.Events...)
	}
	return &cp
}

// newRun creates a pending run with one pending StepState per plan step.
func newRun(id string, p *plan.Plan, label string) *Run {
	steps := p.Steps()
	run := &Run{
		ID:        id,
		EntityID:  p.EntityID,
		Label:     label,
		Status:    plan.StatusPending,
		Steps:     make([]StepState, 0, len(steps)),
		CreatedAt: time.Now().UTC(),
	}
	for _, s := range steps {
		run.Steps = append(run.Steps, StepState{ID: s.ID, Kind: s.Kind(), Status: plan.StatusPending})
	}
	return run
}

// RunStore persists runs, their plans, and their event logs. Get returns
// *content.NotFoundError for unknown IDs.
type RunStore interface {
	Create(run *Run, p *plan.Plan) error
	Get(id string) (*Run, error)
	Update(run *Run) error
	List() ([]*Run, error)
	AddEvent(id string, event Event) error
	LoadPlan(id string) (*plan.Plan, error)
}
