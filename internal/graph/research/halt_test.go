package research

import (
	"strings"
	"testing"
)

func TestBuildEvidenceGapReport(t *testing.T) {
	s := &State{
		SearchQuery:     "xyzzy_no_such_topic",
		RecallAttempts:  3,
		RecallExhausted: true,
		QueriesAttempted: []QueryAttempt{
			{AttemptNumber: 1, Query: "xyzzy_no_such_topic", Strategy: StrategyOriginal, Sources: []string{"arxiv"}},
			{AttemptNumber: 2, Query: "xyzzy_no_such_topic survey", Strategy: StrategyBroadened, Sources: []string{"arxiv"}},
			{AttemptNumber: 3, Query: "xyzzy_no_such_topic review", Strategy: StrategyBroadened, Sources: []string{"arxiv"}},
		},
	}

	report := BuildEvidenceGapReport(s)
	if !strings.HasPrefix(report, "# Research Process & Evidence Gap Report") {
		t.Errorf("heading wrong:\n%s", report)
	}
	for _, want := range []string{
		"## Queries Attempted",
		`1. "xyzzy_no_such_topic" — strategy: original, results: 0`,
		`2. "xyzzy_no_such_topic survey" — strategy: broadened, results: 0`,
		"## Sources Consulted",
		"- arxiv",
		"## Gaps Identified",
		"attempt budget is exhausted",
		"## Recommendations",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if strings.Contains(report, "## Partial Results") {
		t.Error("partial results section with no papers")
	}
}

func TestBuildEvidenceGapReportPartialResults(t *testing.T) {
	s := &State{
		SearchQuery:      "narrow topic",
		DiscoveredPapers: samplePapers(7),
		QueriesAttempted: []QueryAttempt{{AttemptNumber: 1, Query: "narrow topic", Strategy: StrategyOriginal, ResultsFound: 7}},
	}

	report := BuildEvidenceGapReport(s)
	if !strings.Contains(report, "## Partial Results") {
		t.Fatal("partial results section missing")
	}
	// Capped at five entries.
	if got := strings.Count(report, "https://papers.example/"); got != 5 {
		t.Errorf("partial result links = %d, want 5", got)
	}
}

func TestBuildEvidenceGapReportNoAttempts(t *testing.T) {
	report := BuildEvidenceGapReport(&State{SearchQuery: "q"})
	if !strings.Contains(report, "No search attempts were recorded.") {
		t.Error("empty-attempts notice missing")
	}
	if !strings.Contains(report, "- none") {
		t.Error("sources fallback missing")
	}
}
