package agent

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://youtu.be/abc?utm_source=share&utm_medium=social", "https://youtu.be/abc"},
		{"https://example.com/page?id=7&fbclid=xyz", "https://example.com/page?id=7"},
		{"https://example.com/page#section", "https://example.com/page"},
		{"https://example.com/?b=2&a=1", "https://example.com/?a=1&b=2"},
		{"not a url", "not a url"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeURL(c.in); got != c.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	urls := []string{
		"https://youtu.be/abc?utm_source=share&t=42",
		"https://example.com/search?z=1&a=2&utm_campaign=x#frag",
		"https://example.com/plain",
	}
	for _, u := range urls {
		once := NormalizeURL(u)
		if twice := NormalizeURL(once); twice != once {
			t.Errorf("not idempotent for %q: %q then %q", u, once, twice)
		}
	}
}

func timelineEvents() []models.StreamEvent {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []models.StreamEvent{
		{Type: models.EventMessageStart, Timestamp: base},
		{Type: models.EventBrowserAction, Timestamp: base.Add(1 * time.Second), Data: map[string]any{
			"action": "search", "query": "mamba models", "url": "https://example.com/search?q=mamba&utm_source=x", "title": "Search",
		}},
		{Type: models.EventBrowserAction, Timestamp: base.Add(2 * time.Second), Data: map[string]any{
			"action": "navigate", "url": "https://example.com/paper", "title": "Paper",
		}},
		{Type: models.EventBrowserScreenshot, Timestamp: base.Add(3 * time.Second), Data: map[string]any{
			"url": "https://example.com/paper", "screenshot": "shot-1",
		}},
		{Type: models.EventToolComplete, Timestamp: base.Add(4 * time.Second), Data: map[string]any{
			"toolName": "web_search", "output": "[]",
		}},
		{Type: models.EventBrowserClosed, Timestamp: base.Add(5 * time.Second)},
		{Type: models.EventMessageComplete, Timestamp: base.Add(6 * time.Second)},
	}
}

// The live capture sink and the pure replay must reduce the same event
// sequence to the same timeline.
func TestTimelineSinkMatchesReplay(t *testing.T) {
	events := timelineEvents()

	sink := NewTimelineSink(NopSink{})
	for _, e := range events {
		sink.Emit(context.Background(), e)
	}

	live := sink.Steps()
	replayed := RenderTimeline(events)
	if !reflect.DeepEqual(live, replayed) {
		t.Fatalf("live = %+v\nreplay = %+v", live, replayed)
	}
}

func TestRenderTimelineSteps(t *testing.T) {
	steps := RenderTimeline(timelineEvents())

	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d: %+v", len(steps), steps)
	}
	for i, s := range steps {
		if s.Index != i {
			t.Errorf("step %d has index %d", i, s.Index)
		}
	}
	if steps[0].Kind != models.TimelineSearch || steps[0].Query != "mamba models" {
		t.Errorf("step 0 = %+v", steps[0])
	}
	if steps[0].URL != "https://example.com/search?q=mamba" {
		t.Errorf("search URL not normalized: %q", steps[0].URL)
	}
	if steps[1].Kind != models.TimelineBrowse || steps[1].Screenshot != "shot-1" {
		t.Errorf("step 1 = %+v", steps[1])
	}
	if steps[2].Kind != models.TimelineFinalize {
		t.Errorf("step 2 = %+v", steps[2])
	}
}

// A web_search completion with no browser activity still earns a search entry;
// once a browser was seen, tool completions add nothing.
func TestRenderTimelineSearchFallback(t *testing.T) {
	steps := RenderTimeline([]models.StreamEvent{
		{Type: models.EventToolComplete, Data: map[string]any{"toolName": "web_search", "query": "quiet search"}},
	})
	if len(steps) != 1 || steps[0].Kind != models.TimelineSearch {
		t.Fatalf("steps = %+v", steps)
	}

	steps = RenderTimeline([]models.StreamEvent{
		{Type: models.EventBrowserAction, Data: map[string]any{"action": "navigate", "url": "https://example.com"}},
		{Type: models.EventToolComplete, Data: map[string]any{"toolName": "web_search"}},
	})
	if len(steps) != 1 {
		t.Fatalf("browser-backed search double-counted: %+v", steps)
	}
}

func TestRenderTimelineOrphanScreenshot(t *testing.T) {
	steps := RenderTimeline([]models.StreamEvent{
		{Type: models.EventBrowserScreenshot, Data: map[string]any{"url": "https://example.com", "screenshot": "shot-0"}},
	})
	if len(steps) != 1 || steps[0].Kind != models.TimelineBrowse || steps[0].Screenshot != "shot-0" {
		t.Fatalf("steps = %+v", steps)
	}
}

func TestTimelineSinkForwardsEvents(t *testing.T) {
	capture := &captureSink{}
	sink := NewTimelineSink(capture)
	for _, e := range timelineEvents() {
		sink.Emit(context.Background(), e)
	}
	capture.mu.Lock()
	n := len(capture.events)
	capture.mu.Unlock()
	if n != len(timelineEvents()) {
		t.Errorf("forwarded %d of %d events", n, len(timelineEvents()))
	}
}
