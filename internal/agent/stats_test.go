package agent

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

func statsEvent(typ models.EventType, at time.Time, data map[string]any) models.StreamEvent {
	return models.StreamEvent{Type: typ, SessionID: "s1", Timestamp: at, Data: data}
}

func TestStatsCollectorTurn(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	c := NewStatsCollector("s1")

	c.Emit(ctx, statsEvent(models.EventMessageStart, base, nil))
	c.Emit(ctx, statsEvent(models.EventMessageDelta, base.Add(100*time.Millisecond), nil))
	c.Emit(ctx, statsEvent(models.EventMessageDelta, base.Add(200*time.Millisecond), nil))
	c.Emit(ctx, statsEvent(models.EventReasoningStep, base.Add(300*time.Millisecond), nil))
	c.Emit(ctx, statsEvent(models.EventToolStart, base.Add(time.Second), map[string]any{"toolCallId": "tc-1"}))
	c.Emit(ctx, statsEvent(models.EventToolComplete, base.Add(3*time.Second), map[string]any{"toolCallId": "tc-1"}))
	c.Emit(ctx, statsEvent(models.EventToolStart, base.Add(4*time.Second), map[string]any{"toolCallId": "tc-2"}))
	c.Emit(ctx, statsEvent(models.EventToolError, base.Add(5*time.Second), map[string]any{"toolCallId": "tc-2"}))
	c.Emit(ctx, statsEvent(models.EventMessageComplete, base.Add(6*time.Second), nil))

	stats := c.Stats()
	if stats.SessionID != "s1" {
		t.Errorf("session = %q", stats.SessionID)
	}
	if stats.Deltas != 2 || stats.StepEvents != 1 {
		t.Errorf("deltas = %d, steps = %d", stats.Deltas, stats.StepEvents)
	}
	if stats.ToolCalls != 2 || stats.ToolErrors != 1 {
		t.Errorf("tool calls = %d, errors = %d", stats.ToolCalls, stats.ToolErrors)
	}
	// 2s for tc-1 plus 1s for tc-2.
	if stats.ToolWallTime != 3*time.Second {
		t.Errorf("tool wall time = %s", stats.ToolWallTime)
	}
	if stats.WallTime != 6*time.Second {
		t.Errorf("wall time = %s", stats.WallTime)
	}
}

func TestStatsCollectorUnmatchedToolComplete(t *testing.T) {
	ctx := context.Background()
	c := NewStatsCollector("s1")

	c.Emit(ctx, statsEvent(models.EventToolComplete, time.Now(), map[string]any{"toolCallId": "never-started"}))
	stats := c.Stats()
	if stats.ToolWallTime != 0 {
		t.Errorf("tool wall time = %s", stats.ToolWallTime)
	}
}

func TestStatsCollectorOpenTurn(t *testing.T) {
	ctx := context.Background()
	c := NewStatsCollector("s1")
	c.Emit(ctx, statsEvent(models.EventMessageStart, time.Now().Add(-time.Second), nil))

	// No completion event yet; Stats reports elapsed wall time so far.
	stats := c.Stats()
	if stats.WallTime <= 0 {
		t.Errorf("wall time = %s", stats.WallTime)
	}
}
