package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Result is one organic web search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher finds web results for a query. It backs the optional
// search-augmented fallback answer path; a nil Searcher disables that path.
type Searcher interface {
	Search(ctx context.Context, q string, k int) ([]Result, error)
}

// Serper queries the serper.dev search API.
type Serper struct {
	APIKey     string
	baseURL    string
	httpClient *http.Client
}

// NewSerper builds a client with a short request timeout; the fallback path
// must not stall a chat turn.
func NewSerper(apiKey string) *Serper {
	return &Serper{
		APIKey:     apiKey,
		baseURL:    "https://google.serper.dev",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Serper) Search(ctx context.Context, q string, k int) ([]Result, error) {
	payload, _ := json.Marshal(map[string]any{"q": q, "num": k})
	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/search", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper returned status %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []Result
	for i, item := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, Result{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
	}
	return out, nil
}
