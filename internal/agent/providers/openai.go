// Package providers implements agent.ModelClient over the supported model
// SDKs. Each provider converts the orchestrator's message and tool formats to
// its API, streams the response, and emits incremental chunks.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

// OpenAIClient implements agent.ModelClient for OpenAI chat models.
//
// Responsibilities:
//   - Converting the working message list to OpenAI's format, with the
//     system prompt included in the messages array
//   - Streaming text and tool-call deltas in real time; tool-call argument
//     JSON is forwarded fragment-by-fragment and accumulated by the loop
//   - Linear-backoff retries for transient failures on stream creation
//
// Safe for concurrent use; each Stream call creates an independent stream
// and goroutine.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewOpenAIClient creates an OpenAI-backed model client. An empty API key
// defers configuration; Stream will fail until one is provided.
func NewOpenAIClient(apiKey, defaultModel string) *OpenAIClient {
	c := &OpenAIClient{
		defaultModel: defaultModel,
		maxRetries:   3,
		retryDelay:   time.Second,
	}
	if c.defaultModel == "" {
		c.defaultModel = openai.GPT4o
	}
	if apiKey != "" {
		c.client = openai.NewClient(apiKey)
	}
	return c
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Stream(ctx context.Context, req *agent.ModelRequest) (<-chan *agent.ModelChunk, error) {
	if c.client == nil {
		return nil, errors.New("openai: api key not configured")
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: c.convertMessages(req),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	if req.JSONOnly {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = c.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("openai: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	chunks := make(chan *agent.ModelChunk)
	go c.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (c *OpenAIClient) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.ModelChunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.ModelChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				chunks <- &agent.ModelChunk{Done: true}
				return
			}
			chunks <- &agent.ModelChunk{Error: err, Done: true}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &agent.ModelChunk{Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			chunks <- &agent.ModelChunk{ToolCall: &agent.ToolCallDelta{
				Index:     index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}}
		}
	}
}

// convertMessages maps the working list to OpenAI's format. The system prompt
// goes first in the messages array.
func (c *OpenAIClient) convertMessages(req *agent.ModelRequest) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, m)
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return out
}

// convertTools maps function declarations to OpenAI's tool schema. A tool
// whose parameter schema fails to parse degrades to an empty object schema
// rather than breaking the whole request.
func convertTools(tools []agent.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

// isRetryable classifies transient failures worth another attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
