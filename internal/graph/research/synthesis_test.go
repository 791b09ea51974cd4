package research

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/conductor/internal/agent"
)

// cannedModel replies with fixed text, one reply per Stream call.
type cannedModel struct {
	replies []string
	calls   int
}

func (m *cannedModel) Stream(ctx context.Context, req *agent.ModelRequest) (<-chan *agent.ModelChunk, error) {
	reply := ""
	if m.calls < len(m.replies) {
		reply = m.replies[m.calls]
	}
	m.calls++
	ch := make(chan *agent.ModelChunk, 2)
	ch <- &agent.ModelChunk{Text: reply}
	ch <- &agent.ModelChunk{Done: true}
	close(ch)
	return ch, nil
}

func (m *cannedModel) Name() string { return "canned" }

func summarizedState() *State {
	return &State{
		SearchQuery: "mamba models",
		ValidPapers: samplePapers(2),
		PaperSummaries: []PaperSummary{
			{PaperID: "p1", Summary: "Finding 1 holds. More detail.", KeyFindings: []string{"Finding 1 holds"}},
			{PaperID: "p2", Summary: "Finding 2 holds. More detail.", Methods: "ablation study"},
		},
	}
}

func TestSummarizeFallback(t *testing.T) {
	z := NewSynthesizer(nil, nil)
	s := &State{ValidPapers: samplePapers(2)}

	summaries := z.Summarize(context.Background(), s)
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d", len(summaries))
	}
	if summaries[0].PaperID != "p1" || summaries[0].Summary == "" {
		t.Errorf("summary = %+v", summaries[0])
	}
}

func TestSummarizeUsesModel(t *testing.T) {
	model := &cannedModel{replies: []string{
		`{"summary":"Model summary.","key_findings":["f1"],"methods":"probes","limitations":"small data"}`,
	}}
	z := NewSynthesizer(model, nil)
	s := &State{ValidPapers: samplePapers(1)}

	summaries := z.Summarize(context.Background(), s)
	if summaries[0].Summary != "Model summary." {
		t.Errorf("summary = %+v", summaries[0])
	}
	if summaries[0].Methods != "probes" || summaries[0].Limitations != "small data" {
		t.Errorf("summary fields = %+v", summaries[0])
	}
}

func TestSummarizeModelFailureFallsBack(t *testing.T) {
	model := &cannedModel{replies: []string{"not json at all"}}
	z := NewSynthesizer(model, nil)
	s := &State{ValidPapers: samplePapers(1)}

	summaries := z.Summarize(context.Background(), s)
	if summaries[0].Summary != "Finding 1 holds." {
		t.Errorf("fallback summary = %q", summaries[0].Summary)
	}
}

func TestCompareMatrix(t *testing.T) {
	z := NewSynthesizer(nil, nil)
	s := summarizedState()

	rows := z.Compare(context.Background(), s)
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	byDim := map[string]ComparisonRow{}
	for _, r := range rows {
		byDim[r.Dimension] = r
	}
	if byDim["Approach"].ByPaper["p2"] != "ablation study" {
		t.Errorf("approach row = %v", byDim["Approach"].ByPaper)
	}
	if byDim["Evidence"].ByPaper["p1"] != "Finding 1 holds" {
		t.Errorf("evidence row = %v", byDim["Evidence"].ByPaper)
	}
	if byDim["Limitations"].ByPaper["p1"] != "not stated" {
		t.Errorf("limitations row = %v", byDim["Limitations"].ByPaper)
	}
}

func TestSynthesizeFallbackCitesSources(t *testing.T) {
	z := NewSynthesizer(nil, nil)
	s := summarizedState()

	claims := z.Synthesize(context.Background(), s)
	if len(claims) != 2 {
		t.Fatalf("claims = %+v", claims)
	}
	for _, c := range claims {
		if len(c.SupportingPaperIDs) != 1 {
			t.Errorf("claim citations = %+v", c)
		}
	}
	if claims[0].SupportingPaperIDs[0] != "p1" || claims[1].SupportingPaperIDs[0] != "p2" {
		t.Errorf("claims = %+v", claims)
	}
}

// Claims citing papers outside the valid set are dropped, never passed on.
func TestSynthesizeDropsUnknownCitations(t *testing.T) {
	model := &cannedModel{replies: []string{
		`{"claims":[{"text":"good","supporting_paper_ids":["p1"]},{"text":"bad","supporting_paper_ids":["ghost"]},{"text":"empty","supporting_paper_ids":[]}]}`,
	}}
	z := NewSynthesizer(model, nil)
	s := summarizedState()

	claims := z.Synthesize(context.Background(), s)
	if len(claims) != 1 || claims[0].Text != "good" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestSynthesizeAllInvalidFallsBack(t *testing.T) {
	model := &cannedModel{replies: []string{
		`{"claims":[{"text":"bad","supporting_paper_ids":["ghost"]}]}`,
	}}
	z := NewSynthesizer(model, nil)
	s := summarizedState()

	claims := z.Synthesize(context.Background(), s)
	if len(claims) != 2 {
		t.Fatalf("fallback not used: %+v", claims)
	}
}

func TestWriteReportSections(t *testing.T) {
	z := NewSynthesizer(nil, nil)
	s := summarizedState()
	s.SynthesizedClaims = []Claim{{Text: "Finding 1 holds", SupportingPaperIDs: []string{"p1"}}}
	s.ComparisonMatrix = z.Compare(context.Background(), s)

	report := z.WriteReport(s)
	for _, want := range []string{
		"# Research Report: mamba models",
		"## Findings",
		"Finding 1 holds (p1)",
		"## Comparison",
		"## Papers",
		"id: p1",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestFirstSentences(t *testing.T) {
	if got := firstSentences("One. Two. Three.", 2); got != "One. Two." {
		t.Errorf("firstSentences = %q", got)
	}
	if got := firstSentences("No terminator here", 1); got != "No terminator here" {
		t.Errorf("firstSentences = %q", got)
	}
	if got := firstSentences("   ", 1); got != "" {
		t.Errorf("firstSentences = %q", got)
	}
}
