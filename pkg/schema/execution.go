package schema

import "time"

// ExecutionStatus is the lifecycle state of one workflow run.
// running is the only non-terminal state; there is no resume.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// LogLevel classifies execution log entries.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// Sentinel node IDs used for run-level log entries.
const (
	LogNodeWorkflowStart = "workflow-start"
	LogNodeWorkflowEnd   = "workflow-end"
	LogNodeWorkflowError = "workflow-error"
)

// LogEntry is one line of the execution's forensic trail.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// Execution is the full result of one workflow run. It is created by the
// engine at run start, mutated only by the engine, and immutable once
// returned to the caller.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Logs        []LogEntry      `json:"logs"`
	NodeOutputs map[string]any  `json:"node_outputs"`
	Error       string          `json:"error,omitempty"`
}

// ErrorOutputKey marks a sentinel node output synthesized by the engine when
// a node fails with continue-on-fail enabled. The sentinel shape is
// {"__error": true, "message": "..."}.
const ErrorOutputKey = "__error"

// ErrorOutput builds the continue-on-fail sentinel output for a failed node.
func ErrorOutput(message string) map[string]any {
	return map[string]any{ErrorOutputKey: true, "message": message}
}
