package models

import "time"

type RunState string

const (
	RunQueued    RunState = "Queued"
	RunRunning   RunState = "Running"
	RunCompleted RunState = "Completed"
	RunFailed    RunState = "Failed"
	RunCanceled  RunState = "Canceled"
)

// RunRecord tracks one execution of one workflow job.
type RunRecord struct {
	ID           string       `json:"id"`
	WorkflowName string       `json:"workflowName"`
	JobName      string       `json:"jobName"`
	RunsOn       string       `json:"runsOn,omitempty"`
	Event        Event        `json:"event"`
	State        RunState     `json:"state"`
	Steps        []StepResult `json:"steps,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
}

// StepResult records the outcome of a single step. Suppressed is set when
// the step exited non-zero but was declared continue_on_error, so its
// failure did not change the run conclusion.
type StepResult struct {
	Name        string     `json:"name"`
	Command     string     `json:"command,omitempty"`
	Uses        string     `json:"uses,omitempty"`
	ExitCode    int        `json:"exitCode"`
	Suppressed  bool       `json:"suppressed,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type RunLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Step      int       `json:"step"`
}
