package backends

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/sony/gobreaker"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/ingest"
	"github.com/nevindra/runcore/ingest/pdf"
)

// trackingPrefixes and trackingExact name the query params stripped during
// URL normalization.
var trackingPrefixes = []string{"utm_"}
var trackingExact = map[string]bool{"spm": true, "fbclid": true}

// HTTPXFetchBackend fetches a URL over plain HTTP(S) with an SSRF guard,
// retry-on-transient-status, a circuit breaker, and a readability-first
// extraction chain.
type HTTPXFetchBackend struct {
	client    *http.Client
	resolve   func(host string) ([]net.IP, error)
	breaker   *gobreaker.CircuitBreaker
	userAgent string
}

// FetchOption configures an HTTPXFetchBackend.
type FetchOption func(*HTTPXFetchBackend)

// WithUserAgent overrides the User-Agent header (WEB_FETCH_USER_AGENT).
func WithUserAgent(ua string) FetchOption {
	return func(h *HTTPXFetchBackend) {
		if ua != "" {
			h.userAgent = ua
		}
	}
}

// WithProxy routes requests through proxyURL (WEB_FETCH_PROXY). An
// unparseable URL leaves the default direct transport in place.
func WithProxy(proxyURL string) FetchOption {
	return func(h *HTTPXFetchBackend) {
		if proxyURL == "" {
			return
		}
		u, err := url.Parse(proxyURL)
		if err != nil {
			return
		}
		h.client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}
}

func NewHTTPXFetchBackend(opts ...FetchOption) *HTTPXFetchBackend {
	h := &HTTPXFetchBackend{
		client:    &http.Client{},
		resolve:   func(host string) ([]net.IP, error) { return net.LookupIP(host) },
		breaker:   newUpstreamBreaker("webfetch"),
		userAgent: "Mozilla/5.0 (compatible; runcore/1.0)",
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *HTTPXFetchBackend) Name() string { return "httpx" }

func (h *HTTPXFetchBackend) Fetch(ctx context.Context, rawURL string, timeoutMs int, maxBytes int, artifactDir string) (FetchResult, error) {
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return FetchResult{}, &oasis.InvalidInputError{Reason: err.Error()}
	}

	u, err := url.Parse(normalized)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return FetchResult{}, &oasis.InvalidInputError{Reason: "url must be http(s): " + rawURL}
	}

	if err := h.checkSSRF(u.Hostname()); err != nil {
		return FetchResult{}, err
	}

	timeout := time.Duration(timeoutMs) * time.Millisecond
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := underBreaker(h.breaker, func() (any, error) {
			res, err := h.doFetch(ctx, normalized, timeout, maxBytes)
			return res, err
		})
		if err == nil {
			result := out.(FetchResult)
			if artifactDir != "" {
				writeFetchArtifacts(artifactDir, &result)
			}
			return result, nil
		}
		lastErr = err
		if !retryableFetch(err) || attempt == maxAttempts-1 {
			return FetchResult{}, err
		}
		delay := time.Duration(1<<uint(attempt)) * time.Second
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return FetchResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return FetchResult{}, lastErr
}

// retryableFetch allows a retry only on 429/5xx/timeout.
func retryableFetch(err error) bool {
	switch err.(type) {
	case *oasis.BadGatewayError, *oasis.TimeoutError:
		return true
	}
	if wb, ok := err.(*oasis.WebBlockedError); ok {
		return wb.DetailCode() == "http_429"
	}
	return false
}

func (h *HTTPXFetchBackend) doFetch(ctx context.Context, fetchURL string, timeout time.Duration, maxBytes int) (FetchResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return FetchResult{}, &oasis.WebProviderError{Reason: err.Error()}
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return FetchResult{}, &oasis.TimeoutError{Op: "fetch " + fetchURL}
		}
		return FetchResult{}, &oasis.NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == 429 {
		return FetchResult{}, &oasis.WebBlockedError{Reason: "http 429", Detail: "http_429"}
	}
	if resp.StatusCode >= 500 {
		return FetchResult{}, &oasis.BadGatewayError{Status: resp.StatusCode}
	}
	if resp.StatusCode == 403 {
		return FetchResult{}, &oasis.WebBlockedError{Reason: "http 403", Detail: "http_403"}
	}

	limited := io.LimitReader(resp.Body, int64(maxBytes)+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return FetchResult{}, &oasis.NetworkError{Cause: err}
	}
	truncated := len(raw) > maxBytes
	if truncated {
		raw = raw[:maxBytes]
	}

	result := FetchResult{
		URL:         fetchURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Text:        string(raw),
		Truncated:   truncated,
		FinalURL:    resp.Request.URL.String(),
	}

	if strings.Contains(result.ContentType, "application/pdf") {
		extractPDF(&result, raw)
	} else {
		extractArticle(&result, raw, fetchURL)
	}
	return result, nil
}

// extractPDF extracts plain text from a PDF body via the ingest pdf
// extractor. PDFs have no readability tier, so a successful extraction is
// recorded as method "fallback" and a failed one as "none".
func extractPDF(result *FetchResult, raw []byte) {
	text, err := pdf.NewExtractor().Extract(raw)
	if err != nil || strings.TrimSpace(text) == "" {
		result.ExtractionMethod = "none"
		return
	}
	result.ExtractedText = text
	result.ExtractionMethod = "fallback"
	result.ParagraphsCount = strings.Count(strings.TrimSpace(text), "\n\n") + 1
}

// extractArticle runs the readability -> fallback extraction chain. This
// codebase has no Go trafilatura binding available, so the middle tier
// degrades straight to a goquery text-node fallback.
func extractArticle(result *FetchResult, raw []byte, pageURL string) {
	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(string(raw)), parsedURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		result.Title = article.Title
		result.ExtractedText = article.TextContent
		result.ExtractionMethod = "readability"
		result.ParagraphsCount = strings.Count(strings.TrimSpace(article.TextContent), "\n\n") + 1
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		result.ExtractionMethod = "none"
		return
	}
	result.Title = strings.TrimSpace(doc.Find("title").First().Text())
	var paragraphs []string
	doc.Find("p").Each(func(i int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) > 0 {
		result.ExtractedText = strings.Join(paragraphs, "\n\n")
		result.ExtractionMethod = "fallback"
		result.ParagraphsCount = len(paragraphs)
		return
	}

	// No <p> structure at all: strip tags wholesale before giving up.
	if stripped := ingest.StripHTML(string(raw)); strings.TrimSpace(stripped) != "" {
		result.ExtractedText = stripped
		result.ExtractionMethod = "fallback"
		result.ParagraphsCount = strings.Count(stripped, "\n") + 1
		return
	}
	result.ExtractionMethod = "none"
}

// checkSSRF resolves host and rejects any IP in a private/loopback/
// link-local range.
func (h *HTTPXFetchBackend) checkSSRF(host string) error {
	if host == "" {
		return &oasis.InvalidInputError{Reason: "empty host"}
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return &oasis.SSRFBlockedError{Host: host}
		}
		return nil
	}
	ips, err := h.resolve(host)
	if err != nil {
		return &oasis.NetworkError{Cause: err}
	}
	for _, ip := range ips {
		if isBlockedIP(ip) {
			return &oasis.SSRFBlockedError{Host: host}
		}
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	// fc00::/7 unique local addresses, in addition to IsPrivate's coverage.
	if ip4 := ip.To4(); ip4 == nil {
		if len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc {
			return true
		}
	}
	return false
}

// normalizeURL drops the fragment and strips tracking query params.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if trackingExact[lower] {
			q.Del(key)
			continue
		}
		for _, prefix := range trackingPrefixes {
			if strings.HasPrefix(lower, prefix) {
				q.Del(key)
				break
			}
		}
	}
	// url.Values.Encode sorts keys, which keeps normalization deterministic.
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// writeFetchArtifacts persists raw.html, extracted.txt, and meta.json under
// artifactDir, recording their paths on result. Failures are swallowed: the
// fetch result itself already succeeded and artifact persistence is best
// effort.
func writeFetchArtifacts(dir string, result *FetchResult) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	result.ArtifactPaths = map[string]string{}

	rawPath := filepath.Join(dir, "raw.html")
	if err := os.WriteFile(rawPath, []byte(result.Text), 0o644); err == nil {
		result.ArtifactPaths["raw_html"] = rawPath
	}

	extractedPath := filepath.Join(dir, "extracted.txt")
	if err := os.WriteFile(extractedPath, []byte(result.ExtractedText), 0o644); err == nil {
		result.ArtifactPaths["extracted_text"] = extractedPath
	}

	meta := map[string]any{
		"url":               result.URL,
		"final_url":         result.FinalURL,
		"title":             result.Title,
		"extraction_method": result.ExtractionMethod,
		"paragraphs_count":  result.ParagraphsCount,
		"truncated":         result.Truncated,
		"status_code":       result.StatusCode,
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return
	}
	metaPath := filepath.Join(dir, "meta.json")
	if err := os.WriteFile(metaPath, metaBytes, 0o644); err == nil {
		result.ArtifactPaths["meta_json"] = metaPath
	}
}
