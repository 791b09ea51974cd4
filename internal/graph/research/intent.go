package research

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

const intentPrompt = `Classify the user's request into exactly one of: research, ppt, summary, general_chat. Respond with JSON only: {"intent": "<one of the four>", "confidence": <0.0-1.0>}.`

// IntentParser classifies the user prompt via a JSON-only model call, with a
// keyword fallback when no model is configured. Parse failures default to
// general_chat at confidence 0.5.
type IntentParser struct {
	model  agent.ModelClient
	logger *slog.Logger
}

// NewIntentParser creates an intent parser. Model is optional.
func NewIntentParser(model agent.ModelClient, logger *slog.Logger) *IntentParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentParser{model: model, logger: logger}
}

// Parse classifies the prompt. Never returns an error: every failure mode
// degrades to a low-confidence general_chat intent.
func (p *IntentParser) Parse(ctx context.Context, prompt string) *ParsedIntent {
	fallback := &ParsedIntent{Intent: IntentGeneralChat, Confidence: 0.5}

	if p.model == nil {
		return p.parseByKeywords(prompt, fallback)
	}

	chunks, err := p.model.Stream(ctx, &agent.ModelRequest{
		System:   intentPrompt,
		Messages: []models.Message{{Role: models.RoleUser, Content: prompt}},
		JSONOnly: true,
	})
	if err != nil {
		p.logger.Warn("intent classification call failed", "error", err)
		return fallback
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			p.logger.Warn("intent classification stream failed", "error", chunk.Error)
			return fallback
		}
		b.WriteString(chunk.Text)
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(b.String())), &parsed); err != nil {
		return fallback
	}
	switch Intent(parsed.Intent) {
	case IntentResearch, IntentPPT, IntentSummary, IntentGeneralChat:
		conf := parsed.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.5
		}
		return &ParsedIntent{Intent: Intent(parsed.Intent), Confidence: conf}
	}
	return fallback
}

func (p *IntentParser) parseByKeywords(prompt string, fallback *ParsedIntent) *ParsedIntent {
	lower := strings.ToLower(prompt)
	switch {
	case containsAny(lower, "research", "papers on", "literature", "survey", "state of the art", "文献", "论文"):
		return &ParsedIntent{Intent: IntentResearch, Confidence: 0.7}
	case containsAny(lower, "ppt", "slide", "presentation", "deck"):
		return &ParsedIntent{Intent: IntentPPT, Confidence: 0.7}
	case containsAny(lower, "summarize", "summary", "tl;dr", "总结"):
		return &ParsedIntent{Intent: IntentSummary, Confidence: 0.7}
	}
	return fallback
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
