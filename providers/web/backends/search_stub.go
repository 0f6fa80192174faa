package backends

import (
	"context"
	"fmt"
)

// StubSearchBackend returns deterministic, offline results so the full
// research_report pipeline is exercisable without network access or API
// keys.
type StubSearchBackend struct{}

func NewStubSearchBackend() *StubSearchBackend { return &StubSearchBackend{} }

func (s *StubSearchBackend) Name() string { return "stub" }

func (s *StubSearchBackend) Search(ctx context.Context, query string, maxResults int, timeoutMs int, remainingBudgetMs int) (SearchResult, error) {
	n := maxResults
	if n < 1 {
		n = 1
	}
	if n > 3 {
		n = 3
	}
	items := make([]SearchItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, SearchItem{
			Title:    fmt.Sprintf("Stub result %d for %q", i+1, query),
			URL:      fmt.Sprintf("https://example.com/stub/%d?q=%s", i+1, query),
			Snippet:  fmt.Sprintf("Deterministic stub snippet %d discussing %q.", i+1, query),
			Provider: "stub",
			Rank:     i + 1,
		})
	}
	return SearchResult{Items: items}, nil
}
