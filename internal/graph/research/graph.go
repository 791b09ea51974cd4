package research

import (
	"context"
	"log/slog"
	"strings"

	"github.com/haasonsaas/conductor/internal/graph"
	"github.com/haasonsaas/conductor/internal/observability"
)

// Node ids of the research graph.
const (
	nodeParseIntent = "parse_intent"
	nodeDiscover    = "discover"
	nodeValidate    = "validate"
	nodeRecover     = "recover"
	nodeHalt        = "halt"
	nodeSummarize   = "summarize"
	nodeCompare     = "compare"
	nodeSynthesize  = "synthesize"
	nodeFinalWriter = "final_writer"
	nodeFailure     = "failure_handler"
)

// Config tunes the research graph.
type Config struct {
	MaxRecallAttempts int
	Logger            *slog.Logger
	Observer          graph.Observer
	Tracer            *observability.Tracer
}

// Runner executes the research scenario graph end to end.
type Runner struct {
	engine *graph.Engine[*State]
}

// NewRunner assembles the research graph: intent parsing, recall-permissive
// discovery with validation/recovery/halt routing, then the summarize,
// compare, synthesize, and final-writer pipeline.
func NewRunner(parser *IntentParser, discoverer *Discoverer, synthesizer *Synthesizer, cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := cfg.MaxRecallAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRecallAttempts
	}

	g := graph.NewGraph[*State](nodeParseIntent)

	g.AddNode(&graph.Node[*State]{
		ID: nodeParseIntent,
		Run: func(ctx context.Context, s *State) (any, error) {
			s.recordNode(nodeParseIntent)
			return parser.Parse(ctx, s.UserPrompt), nil
		},
		Update: func(s *State, output any) *State {
			s.ParsedIntent = output.(*ParsedIntent)
			// A pre-seeded SearchQuery is an explicit research request and
			// overrides the classifier.
			if s.SearchQuery == "" && s.ParsedIntent.Intent == IntentResearch {
				s.SearchQuery = strings.TrimSpace(s.UserPrompt)
			}
			if s.MaxRecallAttempts <= 0 {
				s.MaxRecallAttempts = maxAttempts
			}
			if s.SearchQuery == "" {
				s.FinalReport = "This request is not a research task; no paper pipeline was run."
				s.Status = StatusCompleted
			}
			return s
		},
	})
	g.AddConditionalEdge(nodeParseIntent, func(s *State) string {
		if s.SearchQuery != "" {
			return "research"
		}
		return "other"
	}, map[string]string{
		"research": nodeDiscover,
		"other":    graph.End,
	})

	g.AddNode(&graph.Node[*State]{
		ID: nodeDiscover,
		Pre: []graph.Check[*State]{{
			Name:  "query_present",
			Fatal: true,
			Fn: func(s *State, _ any) graph.CheckResult {
				if strings.TrimSpace(s.SearchQuery) == "" {
					return graph.Fail("query_present", "search query is empty", true)
				}
				return graph.Pass("query_present")
			},
		}},
		Run: func(ctx context.Context, s *State) (any, error) {
			s.recordNode(nodeDiscover)
			return discoverer.Discover(ctx, s), nil
		},
	})
	g.AddEdge(nodeDiscover, nodeValidate)

	// Validation is never fatal; the conditional edge decides the route.
	g.AddNode(&graph.Node[*State]{
		ID: nodeValidate,
		Run: func(ctx context.Context, s *State) (any, error) {
			s.recordNode(nodeValidate)
			return validatePapers(s.DiscoveredPapers), nil
		},
		Update: func(s *State, output any) *State {
			s.ValidPapers = output.([]Paper)
			return s
		},
	})
	g.AddConditionalEdge(nodeValidate, func(s *State) string {
		switch {
		case len(s.ValidPapers) >= minValidPapers:
			return "continue"
		case !s.RecallExhausted:
			return "recover"
		default:
			return "halt"
		}
	}, map[string]string{
		"continue": nodeSummarize,
		"recover":  nodeRecover,
		"halt":     nodeHalt,
	})

	g.AddNode(&graph.Node[*State]{
		ID: nodeRecover,
		Run: func(ctx context.Context, s *State) (any, error) {
			s.recordNode(nodeRecover)
			return discoverer.Recover(ctx, s), nil
		},
	})
	g.AddEdge(nodeRecover, nodeValidate)

	// Halt completes the scenario with the evidence-gap report; it does not
	// fail it.
	g.AddNode(&graph.Node[*State]{
		ID: nodeHalt,
		Run: func(ctx context.Context, s *State) (any, error) {
			s.recordNode(nodeHalt)
			return BuildEvidenceGapReport(s), nil
		},
		Post: []graph.Check[*State]{{
			Name:  "report_present",
			Fatal: true,
			Fn: func(_ *State, output any) graph.CheckResult {
				if report, _ := output.(string); report == "" {
					return graph.Fail("report_present", "evidence gap report is empty", true)
				}
				return graph.Pass("report_present")
			},
		}},
		Update: func(s *State, output any) *State {
			s.EvidenceGapReport = output.(string)
			s.FinalReport = s.EvidenceGapReport
			s.Status = StatusCompleted
			return s
		},
	})
	g.AddEdge(nodeHalt, graph.End)

	g.AddNode(&graph.Node[*State]{
		ID: nodeSummarize,
		Run: func(ctx context.Context, s *State) (any, error) {
			s.recordNode(nodeSummarize)
			return synthesizer.Summarize(ctx, s), nil
		},
		Post: []graph.Check[*State]{{
			Name:  "summaries_cover_papers",
			Fatal: true,
			Fn: func(s *State, output any) graph.CheckResult {
				summaries, _ := output.([]PaperSummary)
				if len(summaries) < len(s.ValidPapers) {
					return graph.Fail("summaries_cover_papers", "missing paper summaries", true)
				}
				return graph.Pass("summaries_cover_papers")
			},
		}},
		Update: func(s *State, output any) *State {
			s.PaperSummaries = output.([]PaperSummary)
			return s
		},
	})
	g.AddEdge(nodeSummarize, nodeCompare)

	g.AddNode(&graph.Node[*State]{
		ID: nodeCompare,
		Run: func(ctx context.Context, s *State) (any, error) {
			s.recordNode(nodeCompare)
			return synthesizer.Compare(ctx, s), nil
		},
		Update: func(s *State, output any) *State {
			s.ComparisonMatrix = output.([]ComparisonRow)
			return s
		},
	})
	g.AddEdge(nodeCompare, nodeSynthesize)

	// Every synthesized claim must cite at least one valid paper.
	g.AddNode(&graph.Node[*State]{
		ID: nodeSynthesize,
		Run: func(ctx context.Context, s *State) (any, error) {
			s.recordNode(nodeSynthesize)
			return synthesizer.Synthesize(ctx, s), nil
		},
		Post: []graph.Check[*State]{{
			Name:  "claims_cited",
			Fatal: true,
			Fn: func(s *State, output any) graph.CheckResult {
				claims, _ := output.([]Claim)
				if len(claims) == 0 {
					return graph.Fail("claims_cited", "no claims synthesized", true)
				}
				valid := s.validPaperIDSet()
				for _, c := range claims {
					if len(c.SupportingPaperIDs) == 0 {
						return graph.Fail("claims_cited", "claim has no citations: "+c.Text, true)
					}
					for _, id := range c.SupportingPaperIDs {
						if !valid[id] {
							return graph.Fail("claims_cited", "claim cites unknown paper: "+id, true)
						}
					}
				}
				return graph.Pass("claims_cited")
			},
		}},
		Update: func(s *State, output any) *State {
			s.SynthesizedClaims = output.([]Claim)
			return s
		},
	})
	g.AddEdge(nodeSynthesize, nodeFinalWriter)

	g.AddNode(&graph.Node[*State]{
		ID: nodeFinalWriter,
		Run: func(ctx context.Context, s *State) (any, error) {
			s.recordNode(nodeFinalWriter)
			return synthesizer.WriteReport(s), nil
		},
		Post: []graph.Check[*State]{{
			Name:  "report_present",
			Fatal: true,
			Fn: func(_ *State, output any) graph.CheckResult {
				if report, _ := output.(string); report == "" {
					return graph.Fail("report_present", "final report is empty", true)
				}
				return graph.Pass("report_present")
			},
		}},
		Update: func(s *State, output any) *State {
			s.FinalReport = output.(string)
			s.Status = StatusCompleted
			return s
		},
	})
	g.AddEdge(nodeFinalWriter, graph.End)

	g.AddNode(&graph.Node[*State]{
		ID: nodeFailure,
		Run: func(ctx context.Context, s *State) (any, error) {
			s.recordNode(nodeFailure)
			s.Status = StatusFailed
			return nil, nil
		},
	})
	g.AddEdge(nodeFailure, graph.End)
	g.SetFailureHandler(nodeFailure)

	return &Runner{engine: graph.NewEngine(g, logger, cfg.Observer).WithTracer(cfg.Tracer)}
}

// Run executes the research scenario from the given state.
func (r *Runner) Run(ctx context.Context, s *State) *graph.Result[*State] {
	if s.Status == "" {
		s.Status = StatusRunning
	}
	return r.engine.Execute(ctx, s)
}

// validatePapers dedupes by id and keeps papers with a usable title. Date and
// venue constraints are deliberately not applied here; recall stays
// permissive and verification happens downstream.
func validatePapers(papers []Paper) []Paper {
	seen := map[string]bool{}
	out := make([]Paper, 0, len(papers))
	for _, p := range papers {
		if p.ID == "" || p.Title == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}
