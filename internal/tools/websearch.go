// Package tools provides the builtin tool implementations registered with the
// agent registry: web search, paper search, and the video toolchain.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/haasonsaas/conductor/internal/agent"
)

// SearchResult is one web search hit. The bare-array output shape is what the
// task director's progress tracking consumes.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// WebSearch queries the DuckDuckGo instant answer API.
type WebSearch struct {
	client      *http.Client
	resultCount int
}

// NewWebSearch creates the web search tool. A nil client uses a 15s default.
func NewWebSearch(client *http.Client, resultCount int) *WebSearch {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if resultCount <= 0 {
		resultCount = 5
	}
	return &WebSearch{client: client, resultCount: resultCount}
}

// ddgResponse is the subset of the instant answer payload we read.
type ddgResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search runs one query and returns up to resultCount hits.
func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var parsed ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]SearchResult, 0, w.resultCount)
	if parsed.AbstractText != "" && parsed.AbstractURL != "" {
		results = append(results, SearchResult{
			Title:   parsed.Heading,
			URL:     parsed.AbstractURL,
			Snippet: parsed.AbstractText,
		})
	}
	for _, topic := range parsed.RelatedTopics {
		if len(results) >= w.resultCount {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		results = append(results, SearchResult{Title: topic.Text, URL: topic.FirstURL})
	}
	return results, nil
}

// Descriptor returns the registry descriptor for web_search.
func (w *WebSearch) Descriptor() *agent.ToolDescriptor {
	return &agent.ToolDescriptor{
		Name:        "web_search",
		Description: "Search the web for current information. Returns a list of results with titles, URLs, and snippets.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"}
			},
			"required": ["query"]
		}`),
		Timeout:     20 * time.Second,
		SearchClass: true,
		Runner: agent.ToolRunnerFunc(func(ctx context.Context, params map[string]any, _ func(map[string]any)) (*agent.RunOutput, error) {
			query, _ := params["query"].(string)
			results, err := w.Search(ctx, query)
			if err != nil {
				return nil, err
			}
			data, err := json.Marshal(results)
			if err != nil {
				return nil, err
			}
			return &agent.RunOutput{Output: string(data)}, nil
		}),
	}
}
