package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/conductor/pkg/models"
)

// ModelClient is the streaming interface to a chat model backend.
//
// Implementations must be safe for concurrent use; each Stream call creates
// an independent channel that is closed when the stream ends.
type ModelClient interface {
	// Stream sends a request and returns a channel of incremental chunks.
	Stream(ctx context.Context, req *ModelRequest) (<-chan *ModelChunk, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}

// ModelRequest is a single chat completion request.
type ModelRequest struct {
	Model     string           `json:"model,omitempty"`
	System    string           `json:"system,omitempty"`
	Messages  []models.Message `json:"messages"`
	Tools     []ToolSchema     `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`

	// JSONOnly instructs the model to reply with a single JSON object.
	// Used by classifier calls (intent parsing, transcript routing).
	JSONOnly bool `json:"json_only,omitempty"`
}

// ToolCallDelta is an incremental fragment of a tool-call request. The id and
// name arrive on the first fragment for an index; argument JSON is streamed
// and must be accumulated by the consumer.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ModelChunk is one element of a model response stream.
type ModelChunk struct {
	Text     string         `json:"text,omitempty"`
	ToolCall *ToolCallDelta `json:"tool_call,omitempty"`
	Done     bool           `json:"done,omitempty"`
	Error    error          `json:"-"`
}

// ToolSchema is the model-facing function declaration for a tool.
type ToolSchema struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

// FunctionSchema describes a callable function: name, description, and the
// JSON-schema of its parameters.
type FunctionSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}
