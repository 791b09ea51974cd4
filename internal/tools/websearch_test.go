package tools

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

// roundTripFunc serves canned responses without a network.
type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func fixedResponse(status int, body string) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	})}
}

func TestWebSearchParsesResults(t *testing.T) {
	body := `{
		"Heading": "Go (programming language)",
		"AbstractText": "Go is a statically typed language.",
		"AbstractURL": "https://en.wikipedia.org/wiki/Go",
		"RelatedTopics": [
			{"Text": "Goroutines", "FirstURL": "https://example.com/goroutines"},
			{"Text": "no url topic", "FirstURL": ""},
			{"Text": "Channels", "FirstURL": "https://example.com/channels"}
		]
	}`
	w := NewWebSearch(fixedResponse(http.StatusOK, body), 5)

	results, err := w.Search(context.Background(), "golang")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Title != "Go (programming language)" || results[0].Snippet == "" {
		t.Errorf("abstract result = %+v", results[0])
	}
	if results[1].URL != "https://example.com/goroutines" {
		t.Errorf("topic result = %+v", results[1])
	}
}

func TestWebSearchRespectsResultCount(t *testing.T) {
	body := `{
		"RelatedTopics": [
			{"Text": "a", "FirstURL": "https://example.com/a"},
			{"Text": "b", "FirstURL": "https://example.com/b"},
			{"Text": "c", "FirstURL": "https://example.com/c"}
		]
	}`
	w := NewWebSearch(fixedResponse(http.StatusOK, body), 2)

	results, err := w.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %+v", results)
	}
}

func TestWebSearchNonOKStatus(t *testing.T) {
	w := NewWebSearch(fixedResponse(http.StatusTooManyRequests, ""), 5)
	if _, err := w.Search(context.Background(), "q"); err == nil || !strings.Contains(err.Error(), "status 429") {
		t.Errorf("error = %v", err)
	}
}

func TestWebSearchBadBody(t *testing.T) {
	w := NewWebSearch(fixedResponse(http.StatusOK, "<html>"), 5)
	if _, err := w.Search(context.Background(), "q"); err == nil || !strings.Contains(err.Error(), "decode search response") {
		t.Errorf("error = %v", err)
	}
}

func TestWebSearchEscapesQuery(t *testing.T) {
	var requested string
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		requested = req.URL.String()
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{}`)),
			Header:     make(http.Header),
		}, nil
	})}
	w := NewWebSearch(client, 5)

	if _, err := w.Search(context.Background(), "state space models"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.Contains(requested, "q=state+space+models") {
		t.Errorf("request url = %q", requested)
	}
}
