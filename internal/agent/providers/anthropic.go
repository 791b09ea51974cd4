package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicClient implements agent.ModelClient for Claude models.
//
// Unlike OpenAI, the system prompt is a separate request field, tool and
// user/tool-result messages are content blocks, and tool-call arguments
// stream as input_json_delta fragments per content block.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
	maxRetries   int
	retryDelay   time.Duration
}

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// NewAnthropicClient creates a Claude-backed model client.
func NewAnthropicClient(config AnthropicConfig) *AnthropicClient {
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	c := &AnthropicClient{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
		maxTokens:    config.MaxTokens,
		maxRetries:   3,
		retryDelay:   time.Second,
	}
	if c.defaultModel == "" {
		c.defaultModel = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 8192
	}
	return c
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Stream(ctx context.Context, req *agent.ModelRequest) (<-chan *agent.ModelChunk, error) {
	chunks := make(chan *agent.ModelChunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= c.maxRetries; attempt++ {
			stream, err = c.createStream(ctx, req)
			if err == nil {
				break
			}
			if !isRetryable(err) || attempt == c.maxRetries {
				chunks <- &agent.ModelChunk{Error: fmt.Errorf("anthropic: %w", err), Done: true}
				return
			}
			backoff := c.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				chunks <- &agent.ModelChunk{Error: ctx.Err(), Done: true}
				return
			case <-time.After(backoff):
			}
		}

		c.processStream(stream, chunks)
	}()

	return chunks, nil
}

func (c *AnthropicClient) createStream(ctx context.Context, req *agent.ModelRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	system := req.System
	if req.JSONOnly {
		// No native JSON response mode; instruct via the system prompt.
		if system != "" {
			system += "\n\n"
		}
		system += "Respond with a single JSON object and nothing else."
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("convert tools: %w", err)
		}
		params.Tools = tools
	}

	return c.client.Messages.NewStreaming(ctx, params), nil
}

func (c *AnthropicClient) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.ModelChunk) {
	// Tool-use blocks are keyed by an index of their own so the consumer can
	// accumulate argument fragments per call.
	toolIndex := -1
	inToolBlock := false
	emptyEventCount := 0

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			eventProcessed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				toolIndex++
				inToolBlock = true
				chunks <- &agent.ModelChunk{ToolCall: &agent.ToolCallDelta{
					Index: toolIndex,
					ID:    toolUse.ID,
					Name:  toolUse.Name,
				}}
			}
			eventProcessed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &agent.ModelChunk{Text: delta.Text}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" && inToolBlock {
					chunks <- &agent.ModelChunk{ToolCall: &agent.ToolCallDelta{
						Index:     toolIndex,
						Arguments: delta.PartialJSON,
					}}
					eventProcessed = true
				}
			}

		case "content_block_stop":
			inToolBlock = false
			eventProcessed = true

		case "message_delta":
			eventProcessed = true

		case "message_stop":
			chunks <- &agent.ModelChunk{Done: true}
			return

		case "error":
			chunks <- &agent.ModelChunk{Error: fmt.Errorf("anthropic: stream error"), Done: true}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- &agent.ModelChunk{
					Error: fmt.Errorf("anthropic: stream malformed: %d consecutive empty events", emptyEventCount),
					Done:  true,
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.ModelChunk{Error: err, Done: true}
	}
}

// convertAnthropicMessages maps the working list to content-block messages.
// System messages are handled separately; tool-role messages become user
// messages carrying a tool_result block.
func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		} else if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Arguments, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertAnthropicTools(tools []agent.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", t.Function.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Function.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", t.Function.Name)
		}
		param.OfTool.Description = anthropic.String(t.Function.Description)
		out = append(out, param)
	}
	return out, nil
}
