package tools

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/conductor/internal/agent"
)

// PaperResult is one academic search hit.
type PaperResult struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors,omitempty"`
	Year     int      `json:"year,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	URL      string   `json:"url,omitempty"`
	Source   string   `json:"source"`
}

// PaperSearch queries the arXiv Atom API.
type PaperSearch struct {
	client     *http.Client
	maxResults int
}

// NewPaperSearch creates the paper search tool. A nil client uses a 20s
// default.
func NewPaperSearch(client *http.Client, maxResults int) *PaperSearch {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	return &PaperSearch{client: client, maxResults: maxResults}
}

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

// Search runs one query against arXiv.
func (p *PaperSearch) Search(ctx context.Context, query string) ([]PaperResult, error) {
	endpoint := fmt.Sprintf(
		"https://export.arxiv.org/api/query?search_query=all:%s&start=0&max_results=%d",
		url.QueryEscape(query), p.maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paper search returned status %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode paper feed: %w", err)
	}

	out := make([]PaperResult, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if entry.ID == "" || entry.Title == "" {
			continue
		}
		result := PaperResult{
			ID:       entry.ID,
			Title:    collapseWhitespace(entry.Title),
			Abstract: collapseWhitespace(entry.Summary),
			URL:      entry.ID,
			Source:   "arxiv",
		}
		for _, a := range entry.Authors {
			if a.Name != "" {
				result.Authors = append(result.Authors, a.Name)
			}
		}
		if len(entry.Published) >= 4 {
			fmt.Sscanf(entry.Published[:4], "%d", &result.Year)
		}
		out = append(out, result)
	}
	return out, nil
}

// Descriptor returns the registry descriptor for paper_search.
func (p *PaperSearch) Descriptor() *agent.ToolDescriptor {
	return &agent.ToolDescriptor{
		Name:        "paper_search",
		Description: "Search academic paper databases. Returns papers with titles, authors, abstracts, and links.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The paper search query"}
			},
			"required": ["query"]
		}`),
		Timeout:     25 * time.Second,
		SearchClass: true,
		Runner: agent.ToolRunnerFunc(func(ctx context.Context, params map[string]any, _ func(map[string]any)) (*agent.RunOutput, error) {
			query, _ := params["query"].(string)
			results, err := p.Search(ctx, query)
			if err != nil {
				return nil, err
			}
			data, err := json.Marshal(map[string]any{"results": results})
			if err != nil {
				return nil, err
			}
			return &agent.RunOutput{Output: string(data)}, nil
		}),
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
