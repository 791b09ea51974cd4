package models

import "time"

// EventType identifies the kind of stream event sent to clients.
type EventType string

const (
	// Message lifecycle
	EventMessageStart    EventType = "message.start"
	EventMessageDelta    EventType = "message.delta"
	EventMessageComplete EventType = "message.complete"

	// Reasoning trace
	EventThinkingStart EventType = "thinking.start"
	EventReasoningStep EventType = "reasoning.step"

	// Tool lifecycle
	EventToolStart    EventType = "tool.start"
	EventToolProgress EventType = "tool.progress"
	EventToolComplete EventType = "tool.complete"
	EventToolError    EventType = "tool.error"

	// Artifacts and focus hints
	EventFileCreated    EventType = "file.created"
	EventInspectorFocus EventType = "inspector.focus"

	// Loop control
	EventAgentStepLimit EventType = "agent.step_limit"
	EventError          EventType = "error"
	EventSessionEnd     EventType = "session.end"

	// Browser/timeline events produced by tool-progress wrappers
	EventBrowserAction     EventType = "browser.action"
	EventBrowserScreenshot EventType = "browser.screenshot"
	EventBrowseActivity    EventType = "browse.activity"
	EventBrowseScreenshot  EventType = "browse.screenshot"
	EventBrowserClosed     EventType = "browser.closed"

	// Sandbox lifecycle (collaborator-emitted, declared for the union)
	EventSandboxProvisioning EventType = "sandbox.provisioning"
	EventSandboxReady        EventType = "sandbox.ready"
	EventSandboxTeardown     EventType = "sandbox.teardown"
	EventSandboxFallback     EventType = "sandbox.fallback"

	// Scenario-graph endpoint only; never emitted on the turn-loop stream.
	EventGraphStart EventType = "agent.start"
	EventGraphNode  EventType = "agent.node"
	EventGraphError EventType = "agent.error"
)

// StreamEvent is the wire record sent to subscribers as line-delimited JSON
// over SSE data: frames. Data is a free-form payload keyed by event type;
// consumers project it into typed views at the boundary.
type StreamEvent struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"sessionId"`
	Timestamp time.Time      `json:"timestamp"`
	Sequence  uint64         `json:"seq,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
