package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	oasis "github.com/nevindra/runcore"
)

// BochaSearchBackend calls Bocha's web-search API, preferring the
// Bing-compatible webPages.value shape.
type BochaSearchBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewBochaSearchBackend(apiKey string) *BochaSearchBackend {
	return &BochaSearchBackend{
		apiKey:  apiKey,
		baseURL: "https://api.bochaai.com/v1/web-search",
		client:  &http.Client{},
		breaker: newUpstreamBreaker("bocha"),
	}
}

func (b *BochaSearchBackend) Name() string { return "bocha" }

type bochaRequest struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

type bochaResponse struct {
	WebPages struct {
		Value []bochaWebPage `json:"value"`
	} `json:"webPages"`
}

type bochaWebPage struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (b *BochaSearchBackend) Search(ctx context.Context, query string, maxResults int, timeoutMs int, remainingBudgetMs int) (SearchResult, error) {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if remainingBudgetMs > 0 && remainingBudgetMs < timeoutMs {
		timeout = time.Duration(remainingBudgetMs) * time.Millisecond
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := underBreaker(b.breaker, func() (any, error) {
			res, err := b.doRequest(ctx, query, maxResults, timeout)
			return res, err
		})
		if err == nil {
			return out.(SearchResult), nil
		}
		lastErr = err
		if !retryableBocha(err) || attempt == maxAttempts-1 {
			return SearchResult{}, err
		}
		delay := time.Duration(1<<uint(attempt)) * 500 * time.Millisecond
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return SearchResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return SearchResult{}, lastErr
}

// retryableBocha reports whether err warrants a retry: 5xx, timeout, or
// network failure only — never on 401/403/429.
func retryableBocha(err error) bool {
	var gw *oasis.BadGatewayError
	if errors.As(err, &gw) {
		return true
	}
	var to *oasis.TimeoutError
	if errors.As(err, &to) {
		return true
	}
	var ne *oasis.NetworkError
	return errors.As(err, &ne)
}

func (b *BochaSearchBackend) doRequest(ctx context.Context, query string, maxResults int, timeout time.Duration) (SearchResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(bochaRequest{Query: query, Count: maxResults})
	if err != nil {
		return SearchResult{}, &oasis.WebProviderError{Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, b.baseURL, bytes.NewReader(payload))
	if err != nil {
		return SearchResult{}, &oasis.WebProviderError{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return SearchResult{}, &oasis.TimeoutError{Op: "bocha search"}
		}
		return SearchResult{}, &oasis.NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))

	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return SearchResult{}, &oasis.AuthError{Status: resp.StatusCode}
	case resp.StatusCode == 429:
		return SearchResult{}, &oasis.WebBlockedError{Reason: "http 429", Detail: "http_429"}
	case resp.StatusCode >= 500:
		return SearchResult{}, &oasis.BadGatewayError{Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		return SearchResult{}, &oasis.WebProviderError{Reason: "bocha http " + http.StatusText(resp.StatusCode)}
	}

	var parsed bochaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return SearchResult{}, &oasis.WebParseError{Reason: err.Error()}
	}

	var items []SearchItem
	for _, p := range parsed.WebPages.Value {
		if len(items) >= maxResults {
			break
		}
		items = append(items, SearchItem{
			Title:    p.Name,
			URL:      p.URL,
			Snippet:  p.Snippet,
			Provider: "bocha",
			Rank:     len(items) + 1,
		})
	}

	return SearchResult{Items: items, RawProviderPayload: body}, nil
}
