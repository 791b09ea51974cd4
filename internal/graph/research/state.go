// Package research implements the paper-research scenario graph: intent
// parsing, recall-permissive discovery, validation, recovery, evidence-gap
// halting, and summarize/compare/synthesize/write stages.
package research

import "time"

// Status is the scenario execution status.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Intent classifies the user request.
type Intent string

const (
	IntentResearch    Intent = "research"
	IntentPPT         Intent = "ppt"
	IntentSummary     Intent = "summary"
	IntentGeneralChat Intent = "general_chat"
)

// ParsedIntent is the intent node's output.
type ParsedIntent struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Strategy labels how a discovery query was derived.
type Strategy string

const (
	StrategyOriginal   Strategy = "original"
	StrategySimplified Strategy = "simplified"
	StrategySubQuery   Strategy = "sub_query"
	StrategyBroadened  Strategy = "broadened"
	StrategyAcademic   Strategy = "academic_skill_direct"
)

// Paper is one discovered publication.
type Paper struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors,omitempty"`
	Year     int      `json:"year,omitempty"`
	Venue    string   `json:"venue,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	URL      string   `json:"url,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// QueryAttempt records one discovery search attempt.
type QueryAttempt struct {
	AttemptNumber int       `json:"attempt_number"`
	Query         string    `json:"query"`
	Sources       []string  `json:"sources,omitempty"`
	ResultsFound  int       `json:"results_found"`
	Strategy      Strategy  `json:"strategy"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaperSummary is one paper's structured summary.
type PaperSummary struct {
	PaperID     string   `json:"paper_id"`
	Summary     string   `json:"summary"`
	KeyFindings []string `json:"key_findings,omitempty"`
	Methods     string   `json:"methods,omitempty"`
	Limitations string   `json:"limitations,omitempty"`
}

// ComparisonRow compares papers along one dimension.
type ComparisonRow struct {
	Dimension string            `json:"dimension"`
	ByPaper   map[string]string `json:"by_paper"`
}

// Claim is a synthesized statement. Every claim must cite at least one valid
// paper id; the synthesis postcondition enforces this fatally.
type Claim struct {
	Text               string   `json:"text"`
	SupportingPaperIDs []string `json:"supporting_paper_ids"`
}

// ExecutionStep records one node execution in history.
type ExecutionStep struct {
	Node      string    `json:"node"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the research graph execution state: the base scenario fields plus
// the research extension.
type State struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	RequestID  string `json:"request_id"`
	UserPrompt string `json:"user_prompt"`

	ParsedIntent     *ParsedIntent   `json:"parsed_intent,omitempty"`
	CurrentNode      string          `json:"current_node,omitempty"`
	ExecutionHistory []ExecutionStep `json:"execution_history,omitempty"`
	Errors           []string        `json:"errors,omitempty"`
	Warnings         []string        `json:"warnings,omitempty"`
	Status           Status          `json:"status"`

	SearchQuery       string          `json:"search_query,omitempty"`
	DiscoveredPapers  []Paper         `json:"discovered_papers,omitempty"`
	ValidPapers       []Paper         `json:"valid_papers,omitempty"`
	RecallAttempts    int             `json:"recall_attempts"`
	QueriesAttempted  []QueryAttempt  `json:"queries_attempted,omitempty"`
	MaxRecallAttempts int             `json:"max_recall_attempts"`
	RecallExhausted   bool            `json:"recall_exhausted"`
	PaperSummaries    []PaperSummary  `json:"paper_summaries,omitempty"`
	ComparisonMatrix  []ComparisonRow `json:"comparison_matrix,omitempty"`
	SynthesizedClaims []Claim         `json:"synthesized_claims,omitempty"`
	FinalReport       string          `json:"final_report,omitempty"`
	EvidenceGapReport string          `json:"evidence_gap_report,omitempty"`
}

// validPaperIDSet returns the id set of validated papers.
func (s *State) validPaperIDSet() map[string]bool {
	out := make(map[string]bool, len(s.ValidPapers))
	for _, p := range s.ValidPapers {
		out[p.ID] = true
	}
	return out
}

// recordNode appends a history entry and sets the current node.
func (s *State) recordNode(node string) {
	s.CurrentNode = node
	s.ExecutionHistory = append(s.ExecutionHistory, ExecutionStep{Node: node, Timestamp: time.Now()})
}
