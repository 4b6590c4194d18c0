// ABOUTME: Status values shared by steps and runs.
// ABOUTME: Terminal statuses are succeeded and failed.
package plan

// Status is the execution status of a step or a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Output is the string-keyed result a step hands to later steps and to status readers.
type Output map[string]string
