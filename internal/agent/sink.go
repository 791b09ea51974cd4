package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

// EventSink receives stream events during a turn.
// Implementations must be safe to call from multiple goroutines.
type EventSink interface {
	Emit(ctx context.Context, e models.StreamEvent)
}

// ChanSink sends events to a channel. The send blocks, honoring consumer
// backpressure, unless the context is cancelled.
type ChanSink struct {
	ch chan<- models.StreamEvent
}

// NewChanSink creates a sink that sends to a channel.
func NewChanSink(ch chan<- models.StreamEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

func (s *ChanSink) Emit(ctx context.Context, e models.StreamEvent) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	}
}

// MultiSink fans out events to multiple sinks in order.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink creates a sink dispatching to all non-nil sinks.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (s *MultiSink) Emit(ctx context.Context, e models.StreamEvent) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// CallbackSink wraps a function as an EventSink.
type CallbackSink struct {
	fn func(ctx context.Context, e models.StreamEvent)
}

// NewCallbackSink creates a sink that calls fn for each event.
func NewCallbackSink(fn func(ctx context.Context, e models.StreamEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

func (s *CallbackSink) Emit(ctx context.Context, e models.StreamEvent) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, e models.StreamEvent) {}

// Emitter builds sequenced stream events for one turn and dispatches them to
// a sink. The sink is single-writer per turn; Sequence is monotone.
type Emitter struct {
	sessionID string
	sink      EventSink
	seq       uint64
	now       func() time.Time
}

// NewEmitter creates an emitter for a session's event stream.
func NewEmitter(sessionID string, sink EventSink) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Emitter{sessionID: sessionID, sink: sink, now: time.Now}
}

func (e *Emitter) emit(ctx context.Context, t models.EventType, data map[string]any) {
	e.sink.Emit(ctx, models.StreamEvent{
		Type:      t,
		SessionID: e.sessionID,
		Timestamp: e.now(),
		Sequence:  atomic.AddUint64(&e.seq, 1),
		Data:      data,
	})
}

// MessageStart signals the beginning of the assistant message.
func (e *Emitter) MessageStart(ctx context.Context) {
	e.emit(ctx, models.EventMessageStart, nil)
}

// MessageDelta streams a fragment of assistant text.
func (e *Emitter) MessageDelta(ctx context.Context, text string) {
	e.emit(ctx, models.EventMessageDelta, map[string]any{"content": text})
}

// MessageComplete signals the end of the assistant message. messageID is nil
// when persistence was skipped (session deleted mid-turn).
func (e *Emitter) MessageComplete(ctx context.Context, messageID *string, meta map[string]any) {
	data := map[string]any{"assistantMessageId": nil}
	if messageID != nil {
		data["assistantMessageId"] = *messageID
	}
	for k, v := range meta {
		data[k] = v
	}
	e.emit(ctx, models.EventMessageComplete, data)
}

// ThinkingStart signals the model has begun reasoning.
func (e *Emitter) ThinkingStart(ctx context.Context) {
	e.emit(ctx, models.EventThinkingStart, nil)
}

// ReasoningStep publishes a reasoning trace step snapshot.
func (e *Emitter) ReasoningStep(ctx context.Context, step models.ReasoningStep) {
	data := map[string]any{
		"stepId":    step.StepID,
		"stepIndex": step.StepIndex,
		"traceId":   step.TraceID,
		"label":     step.Label,
		"status":    string(step.Status),
	}
	if step.FinalStatus != "" {
		data["finalStatus"] = string(step.FinalStatus)
	}
	if step.Message != "" {
		data["message"] = step.Message
	}
	if step.DurationMs > 0 {
		data["durationMs"] = step.DurationMs
	}
	if step.Details != nil {
		data["details"] = step.Details
	}
	if step.ThinkingContent != "" {
		data["thinkingContent"] = step.ThinkingContent
	}
	e.emit(ctx, models.EventReasoningStep, data)
}

// ToolStart signals a tool invocation is beginning.
func (e *Emitter) ToolStart(ctx context.Context, callID, name string, params map[string]any) {
	e.emit(ctx, models.EventToolStart, map[string]any{
		"toolCallId": callID,
		"toolName":   name,
		"params":     params,
	})
}

// ToolProgress re-emits a tool progress payload.
func (e *Emitter) ToolProgress(ctx context.Context, callID, name string, payload map[string]any) {
	e.emit(ctx, models.EventToolProgress, map[string]any{
		"toolCallId": callID,
		"toolName":   name,
		"progress":   payload,
	})
}

// ToolComplete signals a successful tool execution.
func (e *Emitter) ToolComplete(ctx context.Context, callID, name, output string, durationMs int64) {
	e.emit(ctx, models.EventToolComplete, map[string]any{
		"toolCallId": callID,
		"toolName":   name,
		"output":     output,
		"durationMs": durationMs,
	})
}

// ToolError signals a failed tool execution. Tool failures are per-call and
// never fatal to the turn.
func (e *Emitter) ToolError(ctx context.Context, callID, name, message string) {
	e.emit(ctx, models.EventToolError, map[string]any{
		"toolCallId": callID,
		"toolName":   name,
		"error":      message,
	})
}

// FileCreated announces a persisted artifact.
func (e *Emitter) FileCreated(ctx context.Context, a models.Artifact) {
	e.emit(ctx, models.EventFileCreated, map[string]any{
		"fileId":   a.FileID,
		"name":     a.Name,
		"mimeType": a.MimeType,
		"size":     a.Size,
	})
}

// StepLimit announces the loop hit its step budget.
func (e *Emitter) StepLimit(ctx context.Context, steps int) {
	e.emit(ctx, models.EventAgentStepLimit, map[string]any{"steps": steps})
}

// Error emits a terminal error event.
func (e *Emitter) Error(ctx context.Context, message string) {
	e.emit(ctx, models.EventError, map[string]any{"message": message})
}

// BrowserAction emits a decoded browser action observed via tool progress.
func (e *Emitter) BrowserAction(ctx context.Context, action, url, title string) {
	e.emit(ctx, models.EventBrowserAction, map[string]any{
		"action": action,
		"url":    url,
		"title":  title,
	})
}

// BrowserScreenshot emits a browser screenshot reference.
func (e *Emitter) BrowserScreenshot(ctx context.Context, url, screenshot string) {
	e.emit(ctx, models.EventBrowserScreenshot, map[string]any{
		"url":        url,
		"screenshot": screenshot,
	})
}

// SessionEnd signals stream close. Emitted by the transport layer, not the
// turn loop.
func (e *Emitter) SessionEnd(ctx context.Context) {
	e.emit(ctx, models.EventSessionEnd, nil)
}
