// Package web implements the web.search and web.fetch tools, delegating to
// a configurable search/fetch backend pair.
package web

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/providers/web/backends"
	"github.com/nevindra/runcore/toolcatalog"
)

const (
	toolSearch = "web.search"
	toolFetch  = "web.fetch"
)

// Limits on normalized result fields.
const (
	maxTitleLen    = 512
	maxURLLen      = 2048
	maxSnippetLen  = 4096
	maxProviderLen = 64
	defaultResults = 5
	maxResultsCap  = 10
	minTimeoutMs   = 1000
	maxTimeoutMs   = 120000
	defaultTimeout = 15000
	maxFetchBytes  = 5 << 20
)

// Provider implements toolcatalog.Provider for web.search and web.fetch.
type Provider struct {
	search backends.SearchBackend
	fetch  backends.FetchBackend

	searchTimeoutMs int
	fetchTimeoutMs  int
	fetchMaxBytes   int
}

// Option configures a Provider.
type Option func(*Provider)

// WithSearchTimeout sets the default web.search timeout applied when a
// call omits timeout_ms (WEB_SEARCH_TIMEOUT_MS).
func WithSearchTimeout(ms int) Option {
	return func(p *Provider) {
		if ms > 0 {
			p.searchTimeoutMs = ms
		}
	}
}

// WithFetchTimeout sets the default web.fetch timeout applied when a call
// omits timeout_ms (WEB_FETCH_TIMEOUT_MS).
func WithFetchTimeout(ms int) Option {
	return func(p *Provider) {
		if ms > 0 {
			p.fetchTimeoutMs = ms
		}
	}
}

// WithFetchMaxBytes caps the fetched body size (WEB_FETCH_MAX_BYTES).
func WithFetchMaxBytes(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.fetchMaxBytes = n
		}
	}
}

// New creates a Provider delegating to the given search and fetch backends.
func New(search backends.SearchBackend, fetch backends.FetchBackend, opts ...Option) *Provider {
	p := &Provider{
		search:          search,
		fetch:           fetch,
		searchTimeoutMs: defaultTimeout,
		fetchTimeoutMs:  defaultTimeout,
		fetchMaxBytes:   maxFetchBytes,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) ID() string { return "web" }

func (p *Provider) List(ctx context.Context) ([]toolcatalog.ToolMeta, error) {
	return []toolcatalog.ToolMeta{
		{
			Name:            toolSearch,
			ProviderID:      p.ID(),
			RiskLevel:       toolcatalog.RiskReadOnly,
			CapabilityLevel: toolcatalog.CapabilityL1,
			TimeoutMs:       maxTimeoutMs,
			InputSchema:     searchSchema,
		},
		{
			Name:            toolFetch,
			ProviderID:      p.ID(),
			RiskLevel:       toolcatalog.RiskReadOnly,
			CapabilityLevel: toolcatalog.CapabilityL1,
			TimeoutMs:       maxTimeoutMs,
			InputSchema:     fetchSchema,
		},
	}, nil
}

var searchSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string"},
		"max_results": {"type": "integer", "minimum": 1, "maximum": 10},
		"timeout_ms": {"type": "integer", "minimum": 1000, "maximum": 120000}
	},
	"required": ["query"]
}`)

var fetchSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"url": {"type": "string"},
		"timeout_ms": {"type": "integer", "minimum": 1000, "maximum": 120000}
	},
	"required": ["url"]
}`)

type searchArgs struct {
	Query string `json:"query"`
	// Pointer so an explicit 0 (invalid) is distinguishable from the field
	// being omitted (defaulted).
	MaxResults *int `json:"max_results"`
	TimeoutMs  int  `json:"timeout_ms"`
}

type fetchArgs struct {
	URL       string `json:"url"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (p *Provider) Invoke(ctx context.Context, name string, args json.RawMessage, llm oasis.LLM) (any, error) {
	switch name {
	case toolSearch:
		return p.invokeSearch(ctx, args)
	case toolFetch:
		return p.invokeFetch(ctx, args)
	default:
		return nil, &oasis.ToolNotFoundError{Name: name}
	}
}

func (p *Provider) invokeSearch(ctx context.Context, raw json.RawMessage) (any, error) {
	var a searchArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, &oasis.InvalidInputError{Reason: "malformed web.search args: " + err.Error()}
	}
	if strings.TrimSpace(a.Query) == "" {
		return nil, &oasis.InvalidInputError{Reason: "query must be non-empty"}
	}
	maxResults := defaultResults
	if a.MaxResults != nil {
		maxResults = *a.MaxResults
	}
	if maxResults < 1 || maxResults > maxResultsCap {
		return nil, &oasis.InvalidInputError{Reason: "max_results must be between 1 and 10"}
	}
	if a.TimeoutMs == 0 {
		a.TimeoutMs = p.searchTimeoutMs
	}
	if a.TimeoutMs < minTimeoutMs || a.TimeoutMs > maxTimeoutMs {
		return nil, &oasis.InvalidInputError{Reason: "timeout_ms must be between 1000 and 120000"}
	}

	result, err := p.search.Search(ctx, a.Query, maxResults, a.TimeoutMs, 0)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(result.Items))
	for _, item := range result.Items {
		u, err := url.Parse(item.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		items = append(items, map[string]any{
			"title":    truncate(item.Title, maxTitleLen),
			"url":      truncate(item.URL, maxURLLen),
			"snippet":  truncate(item.Snippet, maxSnippetLen),
			"provider": truncate(p.search.Name(), maxProviderLen),
			// Re-rank over the kept items so dropped entries never leave
			// gaps in the 1-based ordering.
			"rank": len(items) + 1,
		})
	}

	return map[string]any{
		"query":   a.Query,
		"items":   items,
		"summary": result.Summary,
	}, nil
}

func (p *Provider) invokeFetch(ctx context.Context, raw json.RawMessage) (any, error) {
	var a fetchArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, &oasis.InvalidInputError{Reason: "malformed web.fetch args: " + err.Error()}
	}
	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &oasis.InvalidInputError{Reason: "url must be http(s): " + a.URL}
	}
	if a.TimeoutMs == 0 {
		a.TimeoutMs = p.fetchTimeoutMs
	}
	if a.TimeoutMs < minTimeoutMs || a.TimeoutMs > maxTimeoutMs {
		return nil, &oasis.InvalidInputError{Reason: "timeout_ms must be between 1000 and 120000"}
	}

	result, err := p.fetch.Fetch(ctx, a.URL, a.TimeoutMs, p.fetchMaxBytes, "")
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"url":               result.URL,
		"final_url":         result.FinalURL,
		"status_code":       result.StatusCode,
		"content_type":      result.ContentType,
		"text":              result.Text,
		"title":             truncate(result.Title, maxTitleLen),
		"extracted_text":    result.ExtractedText,
		"extraction_method": result.ExtractionMethod,
		"paragraphs_count":  result.ParagraphsCount,
		"truncated":         result.Truncated,
		"cache_hit":         result.CacheHit,
		"provider":          p.fetch.Name(),
	}
	if len(result.ArtifactPaths) > 0 {
		out["artifact_paths"] = result.ArtifactPaths
	}
	return out, nil
}

// truncate cuts s to at most max bytes, pulling back to the last norm.NFC
// boundary so a multi-byte rune (search/fetch results routinely carry
// non-Latin titles and snippets) is never split mid-encoding.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	b := []byte(s[:max])
	if i := norm.NFC.LastBoundary(b); i > 0 {
		b = b[:i]
	}
	return string(b)
}
