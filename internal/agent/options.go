package agent

import (
	"log/slog"
	"time"

	"github.com/haasonsaas/conductor/internal/observability"
)

// LoopConfig bounds a turn: step and time budgets, search quota, and the
// history window scanned for prior tool outputs.
type LoopConfig struct {
	// Model overrides the provider default model name.
	Model string

	// MaxTokens caps each model call. Zero uses the provider default.
	MaxTokens int

	// MaxToolSteps is the upper bound on loop iterations. Default: 10.
	MaxToolSteps int

	// MaxExecutionTime is the base per-turn budget. Default: 5m.
	MaxExecutionTime time.Duration

	// MaxVideoExecutionTime is the floor budget for video-heavy turns,
	// scaled up further by observed video duration. Default: 12m.
	MaxVideoExecutionTime time.Duration

	// IdleTimeout is the client-side idle bound. Informational; the loop
	// does not enforce it.
	IdleTimeout time.Duration

	// SearchQuota is the number of search-class tool calls admitted per
	// turn. Default: 1.
	SearchQuota int

	// MaxHistoryMessages bounds the working-list scan for prior tool
	// outputs (probe durations, transcript markers). Default: 50.
	MaxHistoryMessages int

	Logger *slog.Logger

	// Metrics records turn, model, reasoning, and denial counters. Optional.
	Metrics *observability.Metrics

	// Tracer wraps the turn and each model call in spans. Optional.
	Tracer *observability.Tracer
}

// DefaultLoopConfig returns the default turn-loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxToolSteps:          10,
		MaxExecutionTime:      5 * time.Minute,
		MaxVideoExecutionTime: 12 * time.Minute,
		IdleTimeout:           30 * time.Second,
		SearchQuota:           1,
		MaxHistoryMessages:    50,
	}
}

func (c *LoopConfig) sanitize() *LoopConfig {
	out := *c
	def := DefaultLoopConfig()
	if out.MaxToolSteps <= 0 {
		out.MaxToolSteps = def.MaxToolSteps
	}
	if out.MaxExecutionTime <= 0 {
		out.MaxExecutionTime = def.MaxExecutionTime
	}
	if out.MaxVideoExecutionTime <= 0 {
		out.MaxVideoExecutionTime = def.MaxVideoExecutionTime
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = def.IdleTimeout
	}
	if out.SearchQuota <= 0 {
		out.SearchQuota = def.SearchQuota
	}
	if out.MaxHistoryMessages <= 0 {
		out.MaxHistoryMessages = def.MaxHistoryMessages
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}
