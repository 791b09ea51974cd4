package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/pkg/models"
)

// TranscriptQA answers a follow-up question directly from a stored transcript,
// bypassing the tool loop entirely.
type TranscriptQA interface {
	Answer(ctx context.Context, question, transcript string) (string, error)
}

// TranscriptLookup retrieves the most recent completed tool call of a given
// name for a session. Satisfied by the sessions record stores.
type TranscriptLookup interface {
	LatestCompletedToolCall(ctx context.Context, sessionID, toolName string) (*models.ToolCallRecord, error)
}

// transcriptFollowUpPatterns classify a user message as a transcript
// follow-up without a model call. Content, segment, and summary cues in
// English and Chinese.
var transcriptFollowUpPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(transcript|subtitle|caption)s?\b`),
	regexp.MustCompile(`(?i)\bwhat (did|does|do) (the|this|that) video (say|mention|cover|talk about)`),
	regexp.MustCompile(`(?i)\bin the video\b`),
	regexp.MustCompile(`(?i)\b(summarize|summary of) (the|this|that) video\b`),
	regexp.MustCompile(`(?i)\bat (\d+:)?\d+:\d+\b`),
	regexp.MustCompile(`字幕`),
	regexp.MustCompile(`视频(里|中|内容)`),
	regexp.MustCompile(`(总结|概括).{0,8}视频`),
	regexp.MustCompile(`视频.{0,8}(总结|概括|讲了什么|说了什么)`),
}

// transcriptClassifierPrompt asks the model for a one-field JSON verdict.
const transcriptClassifierPrompt = `You decide whether a user message is a follow-up question about previously extracted video transcript content. Respond with JSON only: {"useTranscriptContext": true} or {"useTranscriptContext": false}.`

// TranscriptRouter detects transcript follow-ups and injects prior transcript
// output into the working message list before the first model call.
type TranscriptRouter struct {
	lookup TranscriptLookup
	model  ModelClient
	logger *slog.Logger
}

// NewTranscriptRouter creates a router. The model client is optional; without
// it classification falls back to the rule set alone.
func NewTranscriptRouter(lookup TranscriptLookup, model ModelClient, logger *slog.Logger) *TranscriptRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriptRouter{lookup: lookup, model: model, logger: logger}
}

// IsFollowUp classifies the user message. The rule set decides fast; only
// ambiguous messages that mention video-ish context fall through to the JSON
// classifier.
func (r *TranscriptRouter) IsFollowUp(ctx context.Context, userText string) bool {
	for _, p := range transcriptFollowUpPatterns {
		if p.MatchString(userText) {
			return true
		}
	}
	lower := strings.ToLower(userText)
	if !strings.Contains(lower, "video") && !strings.Contains(userText, "视频") {
		return false
	}
	if r.model == nil {
		return false
	}
	return r.classify(ctx, userText)
}

func (r *TranscriptRouter) classify(ctx context.Context, userText string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	chunks, err := r.model.Stream(ctx, &ModelRequest{
		System:   transcriptClassifierPrompt,
		Messages: []models.Message{{Role: models.RoleUser, Content: userText}},
		JSONOnly: true,
	})
	if err != nil {
		r.logger.Warn("transcript classifier call failed", "error", err)
		return false
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			r.logger.Warn("transcript classifier stream failed", "error", chunk.Error)
			return false
		}
		b.WriteString(chunk.Text)
	}

	var verdict struct {
		UseTranscriptContext bool `json:"useTranscriptContext"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(b.String())), &verdict); err != nil {
		return false
	}
	return verdict.UseTranscriptContext
}

// Inject looks up the most recent completed video_transcript call for the
// session (matching videoURL when given) and returns the working list with
// its output appended as a synthetic tool-role message. Returns the input
// list unchanged when no transcript is available.
func (r *TranscriptRouter) Inject(ctx context.Context, sessionID, videoURL string, messages []models.Message) ([]models.Message, bool) {
	if r.lookup == nil {
		return messages, false
	}
	rec, err := r.lookup.LatestCompletedToolCall(ctx, sessionID, "video_transcript")
	if err != nil || rec == nil || rec.Result == nil || !rec.Result.Success {
		if err != nil {
			r.logger.Warn("transcript lookup failed", "session_id", sessionID, "error", err)
		}
		return messages, false
	}
	if videoURL != "" {
		recURL, _ := rec.Input["url"].(string)
		if recURL != "" && NormalizeURL(recURL) != NormalizeURL(videoURL) {
			return messages, false
		}
	}

	out := make([]models.Message, len(messages), len(messages)+1)
	copy(out, messages)
	out = append(out, models.Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       models.RoleTool,
		Content:    rec.Result.Output,
		ToolCallID: rec.ID,
		Metadata:   map[string]any{"toolName": "video_transcript", "synthetic": true},
		CreatedAt:  time.Now(),
	})
	return out, true
}

// HasTranscriptContext reports whether the working list already carries a
// transcript tool result, either live from this turn or injected.
func HasTranscriptContext(messages []models.Message) bool {
	for _, m := range messages {
		if m.Role != models.RoleTool {
			continue
		}
		if name, _ := m.Metadata["toolName"].(string); name == "video_transcript" {
			return true
		}
	}
	return false
}

// LatestTranscriptText extracts the most recent transcript payload text from
// the working list for the QA short-circuit.
func LatestTranscriptText(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != models.RoleTool {
			continue
		}
		if name, _ := m.Metadata["toolName"].(string); name == "video_transcript" {
			return m.Content
		}
	}
	return ""
}

// ModelTranscriptQA answers transcript follow-ups with a single model call
// grounded on the transcript text alone.
type ModelTranscriptQA struct {
	model ModelClient
}

// NewModelTranscriptQA creates the model-backed transcript QA.
func NewModelTranscriptQA(model ModelClient) *ModelTranscriptQA {
	return &ModelTranscriptQA{model: model}
}

func (q *ModelTranscriptQA) Answer(ctx context.Context, question, transcript string) (string, error) {
	if q.model == nil {
		return "", ErrNoModel
	}
	chunks, err := q.model.Stream(ctx, &ModelRequest{
		System: "Answer the user's question using only the provided video transcript. If the transcript does not contain the answer, say so.",
		Messages: []models.Message{{
			Role:    models.RoleUser,
			Content: "Transcript:\n" + transcript + "\n\nQuestion: " + question,
		}},
	})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		b.WriteString(chunk.Text)
	}
	return strings.TrimSpace(b.String()), nil
}
