// Package backends implements the swappable search and fetch backends a
// WebProvider delegates to.
package backends

import (
	"context"
	"encoding/json"
)

// SearchItem is one raw result from a search backend, before WebProvider
// normalization.
type SearchItem struct {
	Title    string
	URL      string
	Snippet  string
	Provider string
	Rank     int
}

// SearchResult is a search backend's full response.
type SearchResult struct {
	Items              []SearchItem
	Summary            string
	RawProviderPayload json.RawMessage
}

// SearchBackend is the contract every search backend shares.
type SearchBackend interface {
	// Name identifies the backend for WEB_SEARCH_BACKEND / result.Provider.
	Name() string
	Search(ctx context.Context, query string, maxResults int, timeoutMs int, remainingBudgetMs int) (SearchResult, error)
}

// FetchResult is the canonical shape every fetch backend normalizes into.
type FetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Text        string
	Truncated   bool

	FinalURL         string
	Title            string
	ExtractedText    string
	ExtractionMethod string // readability | fallback | none
	ParagraphsCount  int
	CacheHit         bool
	ArtifactPaths    map[string]string
}

// FetchBackend is the contract every fetch backend shares.
type FetchBackend interface {
	Name() string
	Fetch(ctx context.Context, url string, timeoutMs int, maxBytes int, artifactDir string) (FetchResult, error)
}
