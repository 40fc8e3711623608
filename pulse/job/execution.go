package job

import "time"

// ExecutionState is the stage an execution record has reached.
type ExecutionState string

const (
	StateStarted   ExecutionState = "started"
	StateSucceeded ExecutionState = "succeeded"
	StateFailed    ExecutionState = "failed"
)

// Execution records one attempt to run a job for a scheduled instant.
// Started carries no completion data; Succeeded carries Result; Failed carries Error.
type Execution struct {
	Key          Key
	ScheduledFor time.Time
	State        ExecutionState
	StartedAt    time.Time
	CompletedAt  *time.Time
	Result       string
	Error        string
}

// Done reports whether the execution reached a final state.
func (e Execution) Done() bool {
	return e.State == StateSucceeded || e.State == StateFailed
}

// Duration is the time from start to completion, or zero while running.
func (e Execution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}
