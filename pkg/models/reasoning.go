package models

import "time"

// StepStatus is the visible status of a reasoning step.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
)

// StepFinalStatus is the terminal outcome of a completed step.
type StepFinalStatus string

const (
	StepSucceeded StepFinalStatus = "SUCCEEDED"
	StepFailed    StepFinalStatus = "FAILED"
	StepCanceled  StepFinalStatus = "CANCELED"
)

// StepDetails carries optional structured context for a reasoning step.
type StepDetails struct {
	ToolName string   `json:"tool_name,omitempty"`
	Queries  []string `json:"queries,omitempty"`
	Sources  []string `json:"sources,omitempty"`
}

// ReasoningStep is a visible phase in the trace. At most one step is running
// per trace at any instant; step indices are strictly increasing by the start
// time of the first STARTED event.
type ReasoningStep struct {
	StepID          string          `json:"step_id"`
	StepIndex       int             `json:"step_index"`
	TraceID         string          `json:"trace_id"`
	Label           string          `json:"label"`
	Status          StepStatus      `json:"status"`
	FinalStatus     StepFinalStatus `json:"final_status,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at,omitempty"`
	DurationMs      int64           `json:"duration_ms,omitempty"`
	Message         string          `json:"message,omitempty"`
	Details         *StepDetails    `json:"details,omitempty"`
	ThinkingContent string          `json:"thinking_content,omitempty"`
}

// Lifecycle identifies a reasoning event's position in its step's life.
type Lifecycle string

const (
	LifecycleStarted  Lifecycle = "STARTED"
	LifecycleUpdated  Lifecycle = "UPDATED"
	LifecycleFinished Lifecycle = "FINISHED"
)

// ReasoningEvent is the wire record the reasoning state machine consumes.
// EventID is the dedupe key; EventSeq is monotone per step.
type ReasoningEvent struct {
	EventID     string          `json:"event_id"`
	TraceID     string          `json:"trace_id"`
	StepID      string          `json:"step_id"`
	StepIndex   int             `json:"step_index"`
	EventSeq    int             `json:"event_seq"`
	Lifecycle   Lifecycle       `json:"lifecycle"`
	Timestamp   time.Time       `json:"timestamp"`
	Label       string          `json:"label,omitempty"`
	Message     string          `json:"message,omitempty"`
	FinalStatus StepFinalStatus `json:"final_status,omitempty"`
	Details     *StepDetails    `json:"details,omitempty"`
	Thinking    string          `json:"thinking,omitempty"`
}
