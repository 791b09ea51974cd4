// Package models provides domain types for the Conductor orchestrator.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SessionStatus describes the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
	SessionDeleted  SessionStatus = "deleted"
)

// Session is the identity container that owns messages and tool-call records.
// Destruction is soft: a session deleted during an in-flight turn surfaces as
// a foreign-key violation on final persistence, which callers must swallow.
type Session struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Workspace    string         `json:"workspace,omitempty"`
	Status       SessionStatus  `json:"status"`
	Title        string         `json:"title,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	LastActiveAt time.Time      `json:"last_active_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ToolCall is a model-issued request to execute a tool. Arguments is the raw
// JSON argument string accumulated chunkwise from the model stream.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is an ordered element of a session's conversation. Assistant
// messages may carry tool calls; tool messages answer one call by ID.
// Messages are immutable once persisted.
type Message struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RecordStatus is the persisted status of a tool-call audit record.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// Artifact describes a file or media object produced by a tool.
type Artifact struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ToolRecordResult captures the outcome stored on a ToolCallRecord.
type ToolRecordResult struct {
	Success   bool          `json:"success"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Artifacts []Artifact    `json:"artifacts,omitempty"`
}

// ToolCallRecord is the persisted audit entry for a single tool execution.
// MessageID is linked post-hoc once the owning assistant message persists.
type ToolCallRecord struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	ToolName  string            `json:"tool_name"`
	Input     map[string]any    `json:"input,omitempty"`
	Result    *ToolRecordResult `json:"result,omitempty"`
	Status    RecordStatus      `json:"status"`
	MessageID string            `json:"message_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
