package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/pkg/models"
)

// ProgressFunc receives tool progress payloads. Calls are fire-and-forget:
// the executor dispatches each payload on its own goroutine so a slow
// consumer never blocks the running tool.
type ProgressFunc func(payload map[string]any)

// ExecutorConfig configures the tool executor adapter.
type ExecutorConfig struct {
	// DefaultTimeout bounds a single tool execution when the descriptor does
	// not declare its own. Default: 30s.
	DefaultTimeout time.Duration

	// Metrics records execution counts and durations per tool. Optional.
	Metrics *observability.Metrics

	// Tracer wraps each execution in a tool.<name> span. Optional.
	Tracer *observability.Tracer
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{DefaultTimeout: 30 * time.Second}
}

// ToolExecution is the uniform result record for one tool invocation.
// Failures are carried in-band: Success=false plus Error and FailureKind.
type ToolExecution struct {
	Success          bool              `json:"success"`
	Output           string            `json:"output,omitempty"`
	Error            string            `json:"error,omitempty"`
	FailureKind      ToolErrorKind     `json:"failure_kind,omitempty"`
	Duration         time.Duration     `json:"duration"`
	Artifacts        []models.Artifact `json:"artifacts,omitempty"`
	PreviewSnapshots []string          `json:"preview_snapshots,omitempty"`
}

// Executor invokes named tools with validated parameters and a per-tool
// timeout. It never panics and never returns a Go error: every failure is
// projected into the ToolExecution record.
type Executor struct {
	registry *Registry
	config   *ExecutorConfig
	logger   *slog.Logger
}

// NewExecutor creates a tool executor over the given registry.
func NewExecutor(registry *Registry, config *ExecutorConfig, logger *slog.Logger) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	} else {
		cp := *config
		config = &cp
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultExecutorConfig().DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, config: config, logger: logger}
}

// Execute runs the named tool. Params are validated against the tool's
// declared schema before dispatch; schema violations fail with
// TOOL_VALIDATION and deadline overruns with TOOL_TIMEOUT.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]any, onProgress ProgressFunc) *ToolExecution {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartToolExecution(ctx, name)
	}

	exec := e.execute(ctx, name, params, onProgress)

	if e.config.Metrics != nil {
		status := "success"
		if !exec.Success {
			status = "error"
		}
		e.config.Metrics.RecordToolExecution(name, status, exec.Duration.Seconds())
	}
	if span != nil {
		if !exec.Success {
			e.config.Tracer.RecordError(span, errors.New(exec.Error))
		}
		span.End()
	}
	return exec
}

func (e *Executor) execute(ctx context.Context, name string, params map[string]any, onProgress ProgressFunc) *ToolExecution {
	start := time.Now()

	desc, ok := e.registry.Get(name)
	if !ok {
		return &ToolExecution{
			Success:     false,
			Error:       "tool not found: " + name,
			FailureKind: ToolErrorExecution,
			Duration:    time.Since(start),
		}
	}

	if err := e.validate(name, params); err != nil {
		return &ToolExecution{
			Success:     false,
			Error:       err.Error(),
			FailureKind: ToolErrorValidation,
			Duration:    time.Since(start),
		}
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	progress := func(payload map[string]any) {
		if onProgress == nil || payload == nil {
			return
		}
		go onProgress(payload)
	}

	type runResult struct {
		out *RunOutput
		err error
	}
	resultCh := make(chan runResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				resultCh <- runResult{err: NewToolError(name, fmt.Errorf("panic: %v\n%s", r, stack)).WithKind(ToolErrorPanic)}
			}
		}()
		out, err := desc.Runner.Run(execCtx, params, progress)
		resultCh <- runResult{out: out, err: err}
	}()

	select {
	case res := <-resultCh:
		duration := time.Since(start)
		if res.err != nil {
			kind := ToolErrorExecution
			if te, ok := GetToolError(res.err); ok {
				kind = te.Kind
			}
			e.logger.Warn("tool execution failed", "tool", name, "error", res.err, "duration", duration)
			return &ToolExecution{
				Success:     false,
				Error:       res.err.Error(),
				FailureKind: kind,
				Duration:    duration,
			}
		}
		out := res.out
		if out == nil {
			out = &RunOutput{}
		}
		return &ToolExecution{
			Success:          true,
			Output:           out.Output,
			Duration:         duration,
			Artifacts:        out.Artifacts,
			PreviewSnapshots: out.PreviewSnapshots,
		}
	case <-execCtx.Done():
		duration := time.Since(start)
		if ctx.Err() != nil {
			return &ToolExecution{
				Success:     false,
				Error:       "canceled: " + ctx.Err().Error(),
				FailureKind: ToolErrorTimeout,
				Duration:    duration,
			}
		}
		e.logger.Warn("tool execution timed out", "tool", name, "timeout", timeout)
		return &ToolExecution{
			Success:     false,
			Error:       fmt.Sprintf("execution timed out after %s", timeout),
			FailureKind: ToolErrorTimeout,
			Duration:    duration,
		}
	}
}

func (e *Executor) validate(name string, params map[string]any) error {
	sch, ok := e.registry.Schema(name)
	if !ok {
		return nil
	}
	// Round-trip through JSON so the validator sees plain types.
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	if err := sch.Validate(decoded); err != nil {
		return fmt.Errorf("invalid parameters for %s: %w", name, err)
	}
	return nil
}

// ResultPayload renders a ToolExecution as the canonical tool-role message
// content sent back to the model.
func ResultPayload(exec *ToolExecution) string {
	payload := map[string]any{
		"success": exec.Success,
		"output":  exec.Output,
		"error":   nil,
	}
	if exec.Error != "" {
		payload["error"] = exec.Error
	}
	if len(exec.Artifacts) > 0 {
		payload["artifacts"] = exec.Artifacts
	}
	if len(exec.PreviewSnapshots) > 0 {
		payload["previewSnapshots"] = exec.PreviewSnapshots
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"success":false,"output":"","error":"failed to encode tool result"}`
	}
	return string(data)
}
