package agent

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

// TurnStats summarizes one turn's event stream.
type TurnStats struct {
	SessionID    string        `json:"session_id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	WallTime     time.Duration `json:"wall_time"`
	ToolCalls    int           `json:"tool_calls"`
	ToolErrors   int           `json:"tool_errors"`
	ToolWallTime time.Duration `json:"tool_wall_time"`
	Deltas       int           `json:"deltas"`
	StepEvents   int           `json:"step_events"`
	Errors       int           `json:"errors"`
}

// StatsCollector is an EventSink accumulating turn statistics. Tool wall time
// is measured between tool.start and its matching tool.complete or tool.error
// by tool call id.
type StatsCollector struct {
	mu         sync.Mutex
	stats      TurnStats
	toolStarts map[string]time.Time
}

// NewStatsCollector creates a collector for one turn.
func NewStatsCollector(sessionID string) *StatsCollector {
	return &StatsCollector{
		stats:      TurnStats{SessionID: sessionID},
		toolStarts: make(map[string]time.Time),
	}
}

func (c *StatsCollector) Emit(_ context.Context, e models.StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Type {
	case models.EventMessageStart:
		c.stats.StartedAt = e.Timestamp

	case models.EventMessageDelta:
		c.stats.Deltas++

	case models.EventReasoningStep:
		c.stats.StepEvents++

	case models.EventToolStart:
		c.stats.ToolCalls++
		if id, ok := e.Data["toolCallId"].(string); ok {
			c.toolStarts[id] = e.Timestamp
		}

	case models.EventToolComplete, models.EventToolError:
		if id, ok := e.Data["toolCallId"].(string); ok {
			if start, ok := c.toolStarts[id]; ok {
				c.stats.ToolWallTime += e.Timestamp.Sub(start)
				delete(c.toolStarts, id)
			}
		}
		if e.Type == models.EventToolError {
			c.stats.ToolErrors++
		}

	case models.EventError:
		c.stats.Errors++

	case models.EventMessageComplete, models.EventSessionEnd:
		if c.stats.FinishedAt.IsZero() {
			c.stats.FinishedAt = e.Timestamp
			if !c.stats.StartedAt.IsZero() {
				c.stats.WallTime = c.stats.FinishedAt.Sub(c.stats.StartedAt)
			}
		}
	}
}

// Stats returns a copy of the accumulated statistics.
func (c *StatsCollector) Stats() TurnStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	if stats.FinishedAt.IsZero() && !stats.StartedAt.IsZero() {
		stats.FinishedAt = time.Now()
		stats.WallTime = stats.FinishedAt.Sub(stats.StartedAt)
	}
	return stats
}
