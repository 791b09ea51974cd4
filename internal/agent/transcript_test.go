package agent

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

// fakeLookup serves a single canned tool-call record.
type fakeLookup struct {
	rec *models.ToolCallRecord
	err error
}

func (f *fakeLookup) LatestCompletedToolCall(ctx context.Context, sessionID, toolName string) (*models.ToolCallRecord, error) {
	return f.rec, f.err
}

func transcriptRecord(url string) *models.ToolCallRecord {
	return &models.ToolCallRecord{
		ID:        "rec-1",
		SessionID: "s1",
		ToolName:  "video_transcript",
		Input:     map[string]any{"url": url},
		Status:    models.RecordCompleted,
		Result: &models.ToolRecordResult{
			Success: true,
			Output:  `{"transcript":"[0:00] hello world"}`,
		},
		CreatedAt: time.Now(),
	}
}

func TestIsFollowUpPatterns(t *testing.T) {
	router := NewTranscriptRouter(nil, nil, nil)

	followUps := []string{
		"what did the video say about pricing",
		"show me the transcript",
		"summarize the video please",
		"what happens at 12:30",
		"视频里讲了什么",
		"帮我总结一下这个视频",
		"把字幕发给我",
	}
	for _, q := range followUps {
		if !router.IsFollowUp(context.Background(), q) {
			t.Errorf("IsFollowUp(%q) = false", q)
		}
	}

	notFollowUps := []string{
		"what is the capital of France",
		"write me a sorting function",
		// Mentions video but is ambiguous; without a model the router
		// declines to classify.
		"can you edit a video for me",
	}
	for _, q := range notFollowUps {
		if router.IsFollowUp(context.Background(), q) {
			t.Errorf("IsFollowUp(%q) = true", q)
		}
	}
}

func TestInjectMatchesNormalizedURL(t *testing.T) {
	lookup := &fakeLookup{rec: transcriptRecord("https://youtu.be/abc?utm_source=share")}
	router := NewTranscriptRouter(lookup, nil, nil)

	base := []models.Message{{Role: models.RoleUser, Content: "what was said"}}

	out, ok := router.Inject(context.Background(), "s1", "https://youtu.be/abc", base)
	if !ok {
		t.Fatal("matching URL not injected")
	}
	if len(out) != 2 {
		t.Fatalf("injected list length = %d", len(out))
	}
	injected := out[1]
	if injected.Role != models.RoleTool || injected.ToolCallID != "rec-1" {
		t.Errorf("injected message = %+v", injected)
	}
	if name, _ := injected.Metadata["toolName"].(string); name != "video_transcript" {
		t.Errorf("injected toolName = %q", name)
	}
	if len(base) != 1 {
		t.Error("input list mutated")
	}

	if _, ok := router.Inject(context.Background(), "s1", "https://youtu.be/other", base); ok {
		t.Error("mismatched URL injected")
	}

	// No URL constraint injects whatever transcript is stored.
	if _, ok := router.Inject(context.Background(), "s1", "", base); !ok {
		t.Error("unconstrained inject failed")
	}
}

func TestInjectSkipsFailedOrMissingRecords(t *testing.T) {
	base := []models.Message{{Role: models.RoleUser, Content: "q"}}

	router := NewTranscriptRouter(&fakeLookup{}, nil, nil)
	if _, ok := router.Inject(context.Background(), "s1", "", base); ok {
		t.Error("missing record injected")
	}

	failed := transcriptRecord("https://youtu.be/abc")
	failed.Result.Success = false
	router = NewTranscriptRouter(&fakeLookup{rec: failed}, nil, nil)
	if _, ok := router.Inject(context.Background(), "s1", "", base); ok {
		t.Error("failed record injected")
	}

	router = NewTranscriptRouter(nil, nil, nil)
	if _, ok := router.Inject(context.Background(), "s1", "", base); ok {
		t.Error("nil lookup injected")
	}
}

func TestHasTranscriptContext(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleTool, Content: "{}", Metadata: map[string]any{"toolName": "web_search"}},
	}
	if HasTranscriptContext(messages) {
		t.Error("false positive on non-transcript tool message")
	}

	messages = append(messages, models.Message{
		Role:     models.RoleTool,
		Content:  `{"transcript":"text"}`,
		Metadata: map[string]any{"toolName": "video_transcript"},
	})
	if !HasTranscriptContext(messages) {
		t.Error("transcript message not detected")
	}
	if got := LatestTranscriptText(messages); got != `{"transcript":"text"}` {
		t.Errorf("LatestTranscriptText = %q", got)
	}
}

func TestModelTranscriptQA(t *testing.T) {
	model := &scriptedModel{script: [][]ModelChunk{textTurn("They discuss pricing at 2:10.")}}
	qa := NewModelTranscriptQA(model)

	answer, err := qa.Answer(context.Background(), "when is pricing discussed", "[2:10] pricing")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer != "They discuss pricing at 2:10." {
		t.Errorf("answer = %q", answer)
	}

	qa = NewModelTranscriptQA(nil)
	if _, err := qa.Answer(context.Background(), "q", "t"); err == nil {
		t.Fatal("expected error without a model")
	}
}
