package research

import (
	"fmt"
	"strings"
)

// maxPartialResults bounds the partial-results section of the gap report.
const maxPartialResults = 5

// BuildEvidenceGapReport renders the structured markdown report produced when
// recall is exhausted with too few valid papers. The scenario still completes
// rather than fails; the report is its final output.
func BuildEvidenceGapReport(s *State) string {
	var b strings.Builder

	b.WriteString("# Research Process & Evidence Gap Report\n\n")
	fmt.Fprintf(&b, "Research on %q could not surface enough verifiable evidence: %d paper(s) found across %d search attempt(s), below the minimum of %d required for synthesis.\n\n",
		s.SearchQuery, len(s.ValidPapers), s.RecallAttempts, minValidPapers)

	b.WriteString("## Queries Attempted\n\n")
	if len(s.QueriesAttempted) == 0 {
		b.WriteString("No search attempts were recorded.\n\n")
	} else {
		for _, a := range s.QueriesAttempted {
			fmt.Fprintf(&b, "%d. %q — strategy: %s, results: %d\n", a.AttemptNumber, a.Query, a.Strategy, a.ResultsFound)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Sources Consulted\n\n")
	for _, src := range collectSources(s.QueriesAttempted) {
		fmt.Fprintf(&b, "- %s\n", src)
	}
	b.WriteString("\n")

	b.WriteString("## Gaps Identified\n\n")
	if len(s.DiscoveredPapers) == 0 {
		b.WriteString("- No publications matched any reformulation of the query.\n")
	} else {
		fmt.Fprintf(&b, "- Only %d publication(s) matched; none or too few passed validation.\n", len(s.DiscoveredPapers))
	}
	if s.RecallExhausted {
		b.WriteString("- The search attempt budget is exhausted; further automatic reformulation is unlikely to help.\n")
	}
	b.WriteString("\n")

	b.WriteString("## Recommendations\n\n")
	b.WriteString("- Rephrase the topic with established domain terminology.\n")
	b.WriteString("- Broaden the topic or drop narrowing qualifiers.\n")
	b.WriteString("- Try adjacent research areas that may cover the same question.\n")
	b.WriteString("- Provide a known paper or author as a starting point.\n")

	if len(s.DiscoveredPapers) > 0 {
		b.WriteString("\n## Partial Results\n\n")
		limit := len(s.DiscoveredPapers)
		if limit > maxPartialResults {
			limit = maxPartialResults
		}
		for _, p := range s.DiscoveredPapers[:limit] {
			if p.URL != "" {
				fmt.Fprintf(&b, "- [%s](%s)\n", p.Title, p.URL)
			} else {
				fmt.Fprintf(&b, "- %s\n", p.Title)
			}
		}
	}

	return b.String()
}

func collectSources(attempts []QueryAttempt) []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range attempts {
		for _, src := range a.Sources {
			if !seen[src] {
				seen[src] = true
				out = append(out, src)
			}
		}
	}
	if len(out) == 0 {
		out = append(out, "none")
	}
	return out
}
