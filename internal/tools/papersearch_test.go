package tools

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/haasonsaas/conductor/internal/agent"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2312.00001v1</id>
    <title>Selective State Space Models
    for Long Sequences</title>
    <summary>  We study selective state
    space models.  </summary>
    <published>2023-12-01T00:00:00Z</published>
    <author><name>A. Author</name></author>
    <author><name>B. Author</name></author>
    <author><name></name></author>
  </entry>
  <entry>
    <id></id>
    <title>Entry without an id is skipped</title>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00002v2</id>
    <title>Another Paper</title>
    <summary>Short abstract.</summary>
    <published>bad-date</published>
  </entry>
</feed>`

func TestPaperSearchParsesFeed(t *testing.T) {
	p := NewPaperSearch(fixedResponse(http.StatusOK, sampleFeed), 10)

	results, err := p.Search(context.Background(), "state space models")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}

	first := results[0]
	if first.ID != "http://arxiv.org/abs/2312.00001v1" || first.Source != "arxiv" {
		t.Errorf("first = %+v", first)
	}
	// Feed whitespace and newlines collapse to single spaces.
	if first.Title != "Selective State Space Models for Long Sequences" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Abstract != "We study selective state space models." {
		t.Errorf("abstract = %q", first.Abstract)
	}
	if len(first.Authors) != 2 || first.Authors[0] != "A. Author" {
		t.Errorf("authors = %v", first.Authors)
	}
	if first.Year != 2023 {
		t.Errorf("year = %d", first.Year)
	}

	if results[1].Year != 0 {
		t.Errorf("unparseable published date gave year %d", results[1].Year)
	}
}

func TestPaperSearchNonOKStatus(t *testing.T) {
	p := NewPaperSearch(fixedResponse(http.StatusServiceUnavailable, ""), 10)
	if _, err := p.Search(context.Background(), "q"); err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("error = %v", err)
	}
}

func TestPaperSearchBadFeed(t *testing.T) {
	p := NewPaperSearch(fixedResponse(http.StatusOK, "{not xml}"), 10)
	if _, err := p.Search(context.Background(), "q"); err == nil || !strings.Contains(err.Error(), "decode paper feed") {
		t.Errorf("error = %v", err)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	if got := collapseWhitespace("  a\n  b\tc  "); got != "a b c" {
		t.Errorf("collapsed = %q", got)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	registry := agent.NewRegistry()
	web := NewWebSearch(fixedResponse(http.StatusOK, "{}"), 5)
	papers := NewPaperSearch(fixedResponse(http.StatusOK, sampleFeed), 10)
	video := NewVideoTools("", "")

	if err := RegisterBuiltins(registry, web, papers, video); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	searchClass := map[string]bool{"web_search": true, "paper_search": true}
	for _, name := range []string{"web_search", "paper_search", "video_probe", "video_transcript", "video_download"} {
		d, ok := registry.Get(name)
		if !ok {
			t.Errorf("tool %s not registered", name)
			continue
		}
		if d.SearchClass != searchClass[name] {
			t.Errorf("tool %s search class = %v", name, d.SearchClass)
		}
	}
	if d, _ := registry.Get("video_download"); d != nil && !d.RequiresConfirmation {
		t.Error("video_download does not require confirmation")
	}
}
