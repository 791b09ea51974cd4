package research

import (
	"context"
	"strings"
	"testing"
)

func strategies(candidates []candidateQuery) map[Strategy][]string {
	out := map[Strategy][]string{}
	for _, c := range candidates {
		out[c.strategy] = append(out[c.strategy], c.query)
	}
	return out
}

func TestReformulate(t *testing.T) {
	got := strategies(reformulate("novel transformers for protein folding"))

	if len(got[StrategyOriginal]) != 1 || got[StrategyOriginal][0] != "novel transformers for protein folding" {
		t.Errorf("original = %v", got[StrategyOriginal])
	}
	if len(got[StrategySimplified]) != 1 || got[StrategySimplified][0] != "transformers for protein folding" {
		t.Errorf("simplified = %v", got[StrategySimplified])
	}
	found := map[string]bool{}
	for _, q := range got[StrategySubQuery] {
		found[q] = true
	}
	if !found["novel transformers"] || !found["protein folding"] {
		t.Errorf("sub queries = %v", got[StrategySubQuery])
	}
	if len(got[StrategyBroadened]) != 1 || got[StrategyBroadened][0] != "novel transformers protein folding" {
		t.Errorf("broadened = %v", got[StrategyBroadened])
	}
}

func TestReformulateAliases(t *testing.T) {
	got := strategies(reformulate("llm agents"))
	if len(got[StrategyAcademic]) != 1 {
		t.Fatalf("academic = %v", got[StrategyAcademic])
	}
	if !strings.Contains(got[StrategyAcademic][0], "large language model") {
		t.Errorf("alias not expanded: %q", got[StrategyAcademic][0])
	}
}

func TestReformulateDedupes(t *testing.T) {
	// A single token produces nothing beyond the original.
	got := reformulate("mamba")
	if len(got) != 1 {
		t.Errorf("candidates = %+v", got)
	}
}

func TestDiscoverStopsWhenEnoughPapers(t *testing.T) {
	search := &fakeSearch{fn: func(string) []Paper { return samplePapers(12) }}
	d := NewDiscoverer(search, nil)

	s := &State{SearchQuery: "novel transformers for protein folding", MaxRecallAttempts: 5}
	d.Discover(context.Background(), s)

	if s.RecallAttempts != 1 {
		t.Errorf("attempts = %d, want 1 (enough papers after the first)", s.RecallAttempts)
	}
	if len(s.DiscoveredPapers) != 12 {
		t.Errorf("discovered = %d", len(s.DiscoveredPapers))
	}
	if s.RecallExhausted {
		t.Error("exhausted flagged with budget remaining")
	}
}

func TestDiscoverDedupesPaperIDs(t *testing.T) {
	search := &fakeSearch{fn: func(string) []Paper { return samplePapers(3) }}
	d := NewDiscoverer(search, nil)

	s := &State{SearchQuery: "novel transformers for protein folding", MaxRecallAttempts: 5}
	d.Discover(context.Background(), s)

	if len(s.DiscoveredPapers) != 3 {
		t.Errorf("discovered = %d after repeated identical results", len(s.DiscoveredPapers))
	}
	if s.RecallAttempts < 2 {
		t.Errorf("attempts = %d, expected multiple reformulations", s.RecallAttempts)
	}
}

func TestRecoverRespectsRemainingBudget(t *testing.T) {
	search := &fakeSearch{}
	d := NewDiscoverer(search, nil)

	s := &State{SearchQuery: "qflux", MaxRecallAttempts: 3, RecallAttempts: 1,
		QueriesAttempted: []QueryAttempt{{AttemptNumber: 1, Query: "qflux"}}}
	d.Recover(context.Background(), s)

	if s.RecallAttempts != 3 {
		t.Errorf("attempts = %d, want 3", s.RecallAttempts)
	}
	if !s.RecallExhausted {
		t.Error("exhausted not flagged at the budget")
	}
	// Recovery must not repeat an already-attempted query.
	seen := map[string]bool{}
	for _, a := range s.QueriesAttempted {
		key := strings.ToLower(a.Query)
		if seen[key] {
			t.Errorf("query repeated: %q", a.Query)
		}
		seen[key] = true
	}
}

func TestLongestTerms(t *testing.T) {
	if got := longestTerms("deep retrieval augmentation systems", 2); got != "retrieval augmentation" {
		t.Errorf("longestTerms = %q", got)
	}
	if got := longestTerms("two words", 2); got != "" {
		t.Errorf("short query = %q", got)
	}
}
