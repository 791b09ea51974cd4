package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

// Synthesizer drives the summarize, compare, synthesize, and final-writer
// stages. A model client improves quality when present; every stage has a
// deterministic fallback so the graph stays executable offline.
type Synthesizer struct {
	model  agent.ModelClient
	logger *slog.Logger
}

// NewSynthesizer creates a synthesizer. Model is optional.
func NewSynthesizer(model agent.ModelClient, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{model: model, logger: logger}
}

// Summarize produces one summary per valid paper.
func (z *Synthesizer) Summarize(ctx context.Context, s *State) []PaperSummary {
	out := make([]PaperSummary, 0, len(s.ValidPapers))
	for _, p := range s.ValidPapers {
		summary := z.summarizeOne(ctx, p)
		out = append(out, summary)
	}
	return out
}

func (z *Synthesizer) summarizeOne(ctx context.Context, p Paper) PaperSummary {
	fallback := PaperSummary{
		PaperID: p.ID,
		Summary: firstSentences(p.Abstract, 2),
	}
	if fallback.Summary == "" {
		fallback.Summary = p.Title
	}
	if z.model == nil {
		return fallback
	}

	prompt := fmt.Sprintf("Title: %s\nAbstract: %s", p.Title, p.Abstract)
	var parsed struct {
		Summary     string   `json:"summary"`
		KeyFindings []string `json:"key_findings"`
		Methods     string   `json:"methods"`
		Limitations string   `json:"limitations"`
	}
	if err := z.jsonCall(ctx, `Summarize the paper. Respond with JSON only: {"summary": "...", "key_findings": ["..."], "methods": "...", "limitations": "..."}.`, prompt, &parsed); err != nil {
		z.logger.Warn("paper summarize call failed", "paper_id", p.ID, "error", err)
		return fallback
	}
	if parsed.Summary == "" {
		return fallback
	}
	return PaperSummary{
		PaperID:     p.ID,
		Summary:     parsed.Summary,
		KeyFindings: parsed.KeyFindings,
		Methods:     parsed.Methods,
		Limitations: parsed.Limitations,
	}
}

// Compare builds the comparison matrix across the valid papers.
func (z *Synthesizer) Compare(ctx context.Context, s *State) []ComparisonRow {
	dimensions := []string{"Approach", "Evidence", "Limitations"}
	rows := make([]ComparisonRow, 0, len(dimensions))
	summaries := make(map[string]PaperSummary, len(s.PaperSummaries))
	for _, ps := range s.PaperSummaries {
		summaries[ps.PaperID] = ps
	}

	for _, dim := range dimensions {
		row := ComparisonRow{Dimension: dim, ByPaper: map[string]string{}}
		for _, p := range s.ValidPapers {
			ps := summaries[p.ID]
			switch dim {
			case "Approach":
				if ps.Methods != "" {
					row.ByPaper[p.ID] = ps.Methods
				} else {
					row.ByPaper[p.ID] = firstSentences(ps.Summary, 1)
				}
			case "Evidence":
				if len(ps.KeyFindings) > 0 {
					row.ByPaper[p.ID] = strings.Join(ps.KeyFindings, "; ")
				} else {
					row.ByPaper[p.ID] = firstSentences(ps.Summary, 1)
				}
			case "Limitations":
				if ps.Limitations != "" {
					row.ByPaper[p.ID] = ps.Limitations
				} else {
					row.ByPaper[p.ID] = "not stated"
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Synthesize derives claims from the summaries. Every claim cites at least
// one valid paper id; the graph's postcondition enforces this fatally, so the
// fallback path attributes each claim to its source paper directly.
func (z *Synthesizer) Synthesize(ctx context.Context, s *State) []Claim {
	if z.model != nil {
		if claims := z.synthesizeWithModel(ctx, s); len(claims) > 0 {
			return claims
		}
	}

	claims := make([]Claim, 0, len(s.PaperSummaries))
	for _, ps := range s.PaperSummaries {
		text := firstSentences(ps.Summary, 1)
		if len(ps.KeyFindings) > 0 {
			text = ps.KeyFindings[0]
		}
		if text == "" {
			continue
		}
		claims = append(claims, Claim{Text: text, SupportingPaperIDs: []string{ps.PaperID}})
	}
	return claims
}

func (z *Synthesizer) synthesizeWithModel(ctx context.Context, s *State) []Claim {
	var b strings.Builder
	for _, ps := range s.PaperSummaries {
		fmt.Fprintf(&b, "[%s] %s\n", ps.PaperID, ps.Summary)
	}
	var parsed struct {
		Claims []Claim `json:"claims"`
	}
	err := z.jsonCall(ctx,
		`Synthesize cross-paper claims from the summaries. Each claim must cite at least one paper id from the provided list. Respond with JSON only: {"claims": [{"text": "...", "supporting_paper_ids": ["..."]}]}.`,
		b.String(), &parsed)
	if err != nil {
		z.logger.Warn("synthesis call failed", "error", err)
		return nil
	}

	// Drop claims with citations outside the valid set rather than failing
	// the whole stage; the postcondition still guards the final list.
	valid := s.validPaperIDSet()
	out := parsed.Claims[:0]
	for _, c := range parsed.Claims {
		ok := len(c.SupportingPaperIDs) > 0
		for _, id := range c.SupportingPaperIDs {
			if !valid[id] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}

// WriteReport renders the final markdown report from the synthesized state.
func (z *Synthesizer) WriteReport(s *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", s.SearchQuery)

	b.WriteString("## Findings\n\n")
	for _, c := range s.SynthesizedClaims {
		fmt.Fprintf(&b, "- %s (%s)\n", c.Text, strings.Join(c.SupportingPaperIDs, ", "))
	}
	b.WriteString("\n")

	if len(s.ComparisonMatrix) > 0 {
		b.WriteString("## Comparison\n\n")
		for _, row := range s.ComparisonMatrix {
			fmt.Fprintf(&b, "### %s\n\n", row.Dimension)
			for _, p := range s.ValidPapers {
				if cell := row.ByPaper[p.ID]; cell != "" {
					fmt.Fprintf(&b, "- %s: %s\n", p.Title, cell)
				}
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Papers\n\n")
	for _, p := range s.ValidPapers {
		line := p.Title
		if p.Year > 0 {
			line = fmt.Sprintf("%s (%d)", line, p.Year)
		}
		if p.URL != "" {
			line = fmt.Sprintf("[%s](%s)", line, p.URL)
		}
		fmt.Fprintf(&b, "- %s — id: %s\n", line, p.ID)
	}
	return b.String()
}

func (z *Synthesizer) jsonCall(ctx context.Context, system, user string, out any) error {
	chunks, err := z.model.Stream(ctx, &agent.ModelRequest{
		System:   system,
		Messages: []models.Message{{Role: models.RoleUser, Content: user}},
		JSONOnly: true,
	})
	if err != nil {
		return err
	}
	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return chunk.Error
		}
		b.WriteString(chunk.Text)
	}
	return json.Unmarshal([]byte(strings.TrimSpace(b.String())), out)
}

func firstSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return text
}
