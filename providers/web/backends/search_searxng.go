package backends

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	oasis "github.com/nevindra/runcore"
)

// SearXNGSearchBackend queries a self-hosted SearXNG instance's JSON API.
type SearXNGSearchBackend struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewSearXNGSearchBackend(baseURL string) *SearXNGSearchBackend {
	return &SearXNGSearchBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		breaker: newUpstreamBreaker("searxng"),
	}
}

func (s *SearXNGSearchBackend) Name() string { return "searxng" }

type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

type searxngResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func (s *SearXNGSearchBackend) Search(ctx context.Context, query string, maxResults int, timeoutMs int, remainingBudgetMs int) (SearchResult, error) {
	out, err := underBreaker(s.breaker, func() (any, error) {
		res, err := s.search(ctx, query, maxResults, timeoutMs, remainingBudgetMs)
		return res, err
	})
	if err != nil {
		return SearchResult{}, err
	}
	return out.(SearchResult), nil
}

func (s *SearXNGSearchBackend) search(ctx context.Context, query string, maxResults int, timeoutMs int, remainingBudgetMs int) (SearchResult, error) {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if remainingBudgetMs > 0 && remainingBudgetMs < timeoutMs {
		timeout = time.Duration(remainingBudgetMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := s.baseURL + "/search?format=json&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SearchResult{}, &oasis.WebProviderError{Reason: err.Error()}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return SearchResult{}, &oasis.NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return SearchResult{}, &oasis.AuthError{Status: resp.StatusCode}
	case resp.StatusCode >= 500:
		return SearchResult{}, &oasis.BadGatewayError{Status: resp.StatusCode}
	case resp.StatusCode == 429:
		return SearchResult{}, &oasis.WebBlockedError{Reason: "http 429", Detail: "http_429"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return SearchResult{}, &oasis.NetworkError{Cause: err}
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return SearchResult{}, &oasis.WebParseError{Reason: err.Error()}
	}

	var items []SearchItem
	for _, r := range parsed.Results {
		if len(items) >= maxResults {
			break
		}
		u, err := url.Parse(r.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		items = append(items, SearchItem{
			Title:    r.Title,
			URL:      r.URL,
			Snippet:  r.Content,
			Provider: "searxng",
			Rank:     len(items) + 1,
		})
	}

	return SearchResult{Items: items, RawProviderPayload: body}, nil
}
