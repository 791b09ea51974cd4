package research

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Discovery tuning. Attempts stop early once enough distinct papers are
// found; validation later requires minValidPapers to continue.
const (
	DefaultMaxRecallAttempts = 5
	enoughPapers             = 10
	minValidPapers           = 3
)

// adjectives stripped by the simplified reformulation.
var strippedAdjectives = []string{
	"novel", "recent", "latest", "new", "modern", "efficient", "robust",
	"advanced", "comprehensive", "state-of-the-art", "cutting-edge",
	"best", "top", "important",
}

// connectors split clauses for sub-queries.
var clauseConnectors = []string{" and ", " or ", " for ", " in ", " with ", " using ", " about "}

// stopwords removed by the broadened core-term reformulation.
var queryStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "on": true, "to": true,
	"and": true, "or": true, "for": true, "in": true, "with": true,
	"using": true, "about": true, "is": true, "are": true, "what": true,
	"how": true, "papers": true, "paper": true, "research": true,
}

// domainAliases substitute common abbreviations in both directions for the
// academic-skill-direct reformulation.
var domainAliases = map[string]string{
	"llm":  "large language model",
	"llms": "large language models",
	"ml":   "machine learning",
	"dl":   "deep learning",
	"rl":   "reinforcement learning",
	"nlp":  "natural language processing",
	"cv":   "computer vision",
	"gnn":  "graph neural network",
	"rag":  "retrieval augmented generation",
}

// candidateQuery is a derived query with its strategy label.
type candidateQuery struct {
	query    string
	strategy Strategy
}

// reformulate derives the ordered candidate query list for a search query:
// the original first, then adjective stripping, clause splitting, stopword
// core, and domain alias substitution, deduped case-insensitively.
func reformulate(original string) []candidateQuery {
	out := []candidateQuery{{query: strings.TrimSpace(original), strategy: StrategyOriginal}}
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(original)): true}

	add := func(q string, s Strategy) {
		q = strings.TrimSpace(strings.Join(strings.Fields(q), " "))
		if q == "" {
			return
		}
		key := strings.ToLower(q)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, candidateQuery{query: q, strategy: s})
	}

	// Adjective stripping.
	simplified := original
	for _, adj := range strippedAdjectives {
		simplified = removeWord(simplified, adj)
	}
	add(simplified, StrategySimplified)

	// Clause splitting on connectors.
	lower := strings.ToLower(original)
	for _, conn := range clauseConnectors {
		if idx := strings.Index(lower, conn); idx > 0 {
			add(original[:idx], StrategySubQuery)
			add(original[idx+len(conn):], StrategySubQuery)
		}
	}

	// Stopword core.
	var core []string
	for _, word := range strings.Fields(original) {
		if !queryStopwords[strings.ToLower(strings.Trim(word, ".,?!"))] {
			core = append(core, word)
		}
	}
	add(strings.Join(core, " "), StrategyBroadened)

	// Domain alias substitution.
	aliased := original
	for _, word := range strings.Fields(original) {
		key := strings.ToLower(strings.Trim(word, ".,?!"))
		if repl, ok := domainAliases[key]; ok {
			aliased = removeWord(aliased, word)
			aliased = strings.TrimSpace(aliased + " " + repl)
		}
	}
	add(aliased, StrategyAcademic)

	return out
}

func removeWord(s, word string) string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		if strings.EqualFold(strings.Trim(f, ".,?!"), word) {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// Discoverer runs recall-permissive paper discovery: multiple reformulated
// search attempts with no date or venue filtering.
type Discoverer struct {
	search SearchClient
	logger *slog.Logger
}

// NewDiscoverer creates a discoverer over the search client.
func NewDiscoverer(search SearchClient, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{search: search, logger: logger}
}

// Discover runs search attempts against the state's query until papers are
// plentiful or the attempt budget is spent. It mutates and returns the state.
func (d *Discoverer) Discover(ctx context.Context, s *State) *State {
	candidates := reformulate(s.SearchQuery)
	d.runAttempts(ctx, s, candidates)
	return s
}

// Recover runs additional broadened and core-term attempts against whatever
// attempt budget remains.
func (d *Discoverer) Recover(ctx context.Context, s *State) *State {
	var candidates []candidateQuery
	for _, c := range reformulate(s.SearchQuery) {
		if c.strategy == StrategyBroadened || c.strategy == StrategyAcademic {
			candidates = append(candidates, c)
		}
	}
	// Core terms, then broadening suffixes as a last resort so recovery can
	// always spend the remaining attempt budget.
	if terms := longestTerms(s.SearchQuery, 2); terms != "" {
		candidates = append(candidates, candidateQuery{query: terms, strategy: StrategyBroadened})
	}
	for _, suffix := range []string{"survey", "review", "applications", "methods"} {
		candidates = append(candidates, candidateQuery{
			query:    strings.TrimSpace(s.SearchQuery) + " " + suffix,
			strategy: StrategyBroadened,
		})
	}
	d.runAttempts(ctx, s, dedupeAgainstAttempts(candidates, s.QueriesAttempted))

	if s.RecallAttempts >= s.MaxRecallAttempts {
		s.RecallExhausted = true
	}
	return s
}

func (d *Discoverer) runAttempts(ctx context.Context, s *State, candidates []candidateQuery) {
	if s.MaxRecallAttempts <= 0 {
		s.MaxRecallAttempts = DefaultMaxRecallAttempts
	}
	known := make(map[string]bool, len(s.DiscoveredPapers))
	for _, p := range s.DiscoveredPapers {
		known[p.ID] = true
	}

	for _, c := range candidates {
		if s.RecallAttempts >= s.MaxRecallAttempts {
			s.RecallExhausted = true
			return
		}
		if len(s.DiscoveredPapers) >= enoughPapers {
			return
		}

		s.RecallAttempts++
		papers, err := d.search.Search(ctx, c.query)
		if err != nil {
			d.logger.Warn("paper search attempt failed", "query", c.query, "error", err)
			s.Warnings = append(s.Warnings, "search failed for query: "+c.query)
			papers = nil
		}

		fresh := 0
		for _, p := range papers {
			if p.ID == "" || known[p.ID] {
				continue
			}
			known[p.ID] = true
			s.DiscoveredPapers = append(s.DiscoveredPapers, p)
			fresh++
		}

		s.QueriesAttempted = append(s.QueriesAttempted, QueryAttempt{
			AttemptNumber: s.RecallAttempts,
			Query:         c.query,
			Sources:       d.search.Sources(),
			ResultsFound:  len(papers),
			Strategy:      c.strategy,
			Timestamp:     time.Now(),
		})
		d.logger.Debug("discovery attempt",
			"attempt", s.RecallAttempts, "strategy", string(c.strategy),
			"results", len(papers), "fresh", fresh, "total", len(s.DiscoveredPapers))
	}

	if s.RecallAttempts >= s.MaxRecallAttempts {
		s.RecallExhausted = true
	}
}

func longestTerms(query string, n int) string {
	fields := strings.Fields(query)
	if len(fields) <= n {
		return ""
	}
	longest := make([]string, 0, n)
	for _, f := range fields {
		if queryStopwords[strings.ToLower(f)] {
			continue
		}
		longest = append(longest, f)
	}
	if len(longest) <= n {
		return strings.Join(longest, " ")
	}
	// Keep the n longest by rune count, preserving order.
	type scored struct {
		word string
		pos  int
	}
	picked := make([]scored, 0, len(longest))
	for i, w := range longest {
		picked = append(picked, scored{word: w, pos: i})
	}
	for i := 0; i < len(picked); i++ {
		for j := i + 1; j < len(picked); j++ {
			if len(picked[j].word) > len(picked[i].word) {
				picked[i], picked[j] = picked[j], picked[i]
			}
		}
	}
	picked = picked[:n]
	for i := 0; i < len(picked); i++ {
		for j := i + 1; j < len(picked); j++ {
			if picked[j].pos < picked[i].pos {
				picked[i], picked[j] = picked[j], picked[i]
			}
		}
	}
	words := make([]string, len(picked))
	for i, p := range picked {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

func dedupeAgainstAttempts(candidates []candidateQuery, attempts []QueryAttempt) []candidateQuery {
	tried := make(map[string]bool, len(attempts))
	for _, a := range attempts {
		tried[strings.ToLower(a.Query)] = true
	}
	out := candidates[:0]
	for _, c := range candidates {
		if tried[strings.ToLower(c.query)] {
			continue
		}
		tried[strings.ToLower(c.query)] = true
		out = append(out, c)
	}
	return out
}
