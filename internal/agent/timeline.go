package agent

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/conductor/pkg/models"
)

// trackingParams are query parameters stripped by NormalizeURL. Exhaustive
// known-list match; unknown parameters pass through untouched.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"gbraid":       {},
	"wbraid":       {},
	"fbclid":       {},
	"igshid":       {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
	"ref_src":      {},
	"spm":          {},
	"yclid":        {},
	"msclkid":      {},
}

// NormalizeURL strips known tracking query parameters and drops the fragment.
// Idempotent: NormalizeURL(NormalizeURL(u)) == NormalizeURL(u). Inputs that do
// not parse as URLs are returned unchanged.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}

	q := u.Query()
	for key := range q {
		if _, tracked := trackingParams[strings.ToLower(key)]; tracked {
			q.Del(key)
		}
	}
	if len(q) == 0 {
		u.RawQuery = ""
	} else {
		// url.Values.Encode sorts keys, which keeps normalization stable
		// across repeated application.
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			for _, v := range q[k] {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}
	u.Fragment = ""
	return u.String()
}

// timelineReducer folds stream events into an ordered ComputerTimelineStep
// list. The same reducer backs both the live capture sink and the pure
// renderer so replays reproduce the captured list.
type timelineReducer struct {
	steps      []models.ComputerTimelineStep
	sawBrowser bool
}

func (r *timelineReducer) observe(e models.StreamEvent) {
	switch e.Type {
	case models.EventBrowserAction, models.EventBrowseActivity:
		r.sawBrowser = true
		action := stringField(e.Data, "action")
		rawURL := stringField(e.Data, "url")
		title := stringField(e.Data, "title")
		kind := models.TimelineBrowse
		query := ""
		if action == "search" {
			kind = models.TimelineSearch
			query = stringField(e.Data, "query")
		}
		r.steps = append(r.steps, models.ComputerTimelineStep{
			Index:     len(r.steps),
			Kind:      kind,
			Title:     title,
			URL:       NormalizeURL(rawURL),
			Query:     query,
			StartedAt: e.Timestamp,
		})

	case models.EventBrowserScreenshot, models.EventBrowseScreenshot:
		// Screenshots attach to the most recent step; a screenshot with no
		// preceding step opens a browse step of its own.
		shot := stringField(e.Data, "screenshot")
		if shot == "" {
			return
		}
		if n := len(r.steps); n > 0 && r.steps[n-1].Kind != models.TimelineFinalize {
			if r.steps[n-1].Screenshot == "" {
				r.steps[n-1].Screenshot = shot
				return
			}
		}
		r.sawBrowser = true
		r.steps = append(r.steps, models.ComputerTimelineStep{
			Index:      len(r.steps),
			Kind:       models.TimelineBrowse,
			URL:        NormalizeURL(stringField(e.Data, "url")),
			Screenshot: shot,
			StartedAt:  e.Timestamp,
		})

	case models.EventBrowserClosed:
		r.steps = append(r.steps, models.ComputerTimelineStep{
			Index:     len(r.steps),
			Kind:      models.TimelineFinalize,
			Title:     "Session finished",
			StartedAt: e.Timestamp,
		})

	case models.EventToolComplete:
		// A web search that never opened a browser still deserves a search
		// entry on the timeline.
		if stringField(e.Data, "toolName") != "web_search" || r.sawBrowser {
			return
		}
		r.steps = append(r.steps, models.ComputerTimelineStep{
			Index:     len(r.steps),
			Kind:      models.TimelineSearch,
			Title:     "Web search",
			Query:     stringField(e.Data, "query"),
			StartedAt: e.Timestamp,
		})
	}
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

// TimelineSink is a pass-through EventSink wrapper that reduces browser-like
// events into an ordered timeline while forwarding every event unchanged.
type TimelineSink struct {
	inner EventSink

	mu      sync.Mutex
	reducer timelineReducer
}

// NewTimelineSink wraps a sink with timeline capture.
func NewTimelineSink(inner EventSink) *TimelineSink {
	if inner == nil {
		inner = NopSink{}
	}
	return &TimelineSink{inner: inner}
}

func (s *TimelineSink) Emit(ctx context.Context, e models.StreamEvent) {
	s.mu.Lock()
	s.reducer.observe(e)
	s.mu.Unlock()
	s.inner.Emit(ctx, e)
}

// Steps returns the captured timeline so far, in observation order.
func (s *TimelineSink) Steps() []models.ComputerTimelineStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ComputerTimelineStep, len(s.reducer.steps))
	copy(out, s.reducer.steps)
	return out
}

// RenderTimeline reduces a recorded event sequence into the timeline the
// capture sink would have produced. Pure; used for post-hoc replay of
// persisted assistant messages.
func RenderTimeline(events []models.StreamEvent) []models.ComputerTimelineStep {
	var r timelineReducer
	for _, e := range events {
		r.observe(e)
	}
	return r.steps
}
