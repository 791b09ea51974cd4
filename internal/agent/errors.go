package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for loop and executor failures.
var (
	ErrNoModel      = errors.New("no model client configured")
	ErrMaxSteps     = errors.New("reached max tool steps")
	ErrToolTimeout  = errors.New("tool execution timed out")
	ErrToolNotFound = errors.New("tool not found")
)

// ToolErrorKind classifies tool execution failures.
type ToolErrorKind string

const (
	ToolErrorValidation ToolErrorKind = "TOOL_VALIDATION"
	ToolErrorTimeout    ToolErrorKind = "TOOL_TIMEOUT"
	ToolErrorExecution  ToolErrorKind = "TOOL_EXECUTION"
	ToolErrorPanic      ToolErrorKind = "TOOL_PANIC"
)

// ToolError wraps a tool failure with its kind and originating call.
type ToolError struct {
	Tool       string
	ToolCallID string
	Kind       ToolErrorKind
	Err        error
}

func (e *ToolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tool %s: %s", e.Tool, e.Kind)
	}
	return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError creates a ToolError with execution kind by default.
func NewToolError(tool string, err error) *ToolError {
	return &ToolError{Tool: tool, Kind: ToolErrorExecution, Err: err}
}

// WithKind sets the error kind.
func (e *ToolError) WithKind(kind ToolErrorKind) *ToolError {
	e.Kind = kind
	return e
}

// WithCallID sets the originating tool call id.
func (e *ToolError) WithCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// LoopPhase identifies where in the turn loop a failure occurred.
type LoopPhase string

const (
	PhaseInit     LoopPhase = "init"
	PhaseModel    LoopPhase = "model"
	PhaseTools    LoopPhase = "tools"
	PhaseFinalize LoopPhase = "finalize"
)

// LoopError wraps a turn loop failure with its phase and step.
type LoopError struct {
	Phase LoopPhase
	Step  int
	Cause error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("turn loop %s (step %d): %v", e.Phase, e.Step, e.Cause)
}

func (e *LoopError) Unwrap() error { return e.Cause }
