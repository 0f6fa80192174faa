package backends

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	oasis "github.com/nevindra/runcore"
)

// blockMarkers are substrings in a DDG HTML body that indicate a
// block/captcha page rather than a results page (Baidu checks its own
// captchaMarkers).
var blockMarkers = []string{"captcha", "unusual traffic", "blocked"}

// DDGHTMLSearchBackend scrapes DuckDuckGo's HTML-only endpoint (no API key
// required, no JS rendering needed).
type DDGHTMLSearchBackend struct {
	client *http.Client
}

func NewDDGHTMLSearchBackend() *DDGHTMLSearchBackend {
	return &DDGHTMLSearchBackend{client: &http.Client{}}
}

func (d *DDGHTMLSearchBackend) Name() string { return "ddg_html" }

func (d *DDGHTMLSearchBackend) Search(ctx context.Context, query string, maxResults int, timeoutMs int, remainingBudgetMs int) (SearchResult, error) {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if remainingBudgetMs > 0 && remainingBudgetMs < timeoutMs {
		timeout = time.Duration(remainingBudgetMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SearchResult{}, &oasis.WebProviderError{Reason: err.Error()}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; runcore/1.0)")

	resp, err := d.client.Do(req)
	if err != nil {
		return SearchResult{}, &oasis.NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return SearchResult{}, &oasis.NetworkError{Cause: err}
	}
	bodyStr := string(body)

	if resp.StatusCode == 403 || resp.StatusCode == 429 {
		return SearchResult{}, blockedError(resp.StatusCode, bodyStr)
	}
	lower := strings.ToLower(bodyStr)
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return SearchResult{}, &oasis.WebBlockedError{Reason: "block marker: " + marker, Detail: "captcha_required"}
		}
	}
	if resp.StatusCode >= 400 {
		return SearchResult{}, &oasis.BadGatewayError{Status: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(bodyStr))
	if err != nil {
		return SearchResult{}, &oasis.WebParseError{Reason: err.Error()}
	}

	var items []SearchItem
	doc.Find(".result").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if len(items) >= maxResults {
			return false
		}
		link := sel.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(sel.Find(".result__snippet").First().Text())
		target := decodeDDGRedirect(href)
		if target == "" || title == "" {
			return true
		}
		items = append(items, SearchItem{
			Title:    title,
			URL:      target,
			Snippet:  snippet,
			Provider: "ddg_html",
			Rank:     len(items) + 1,
		})
		return true
	})

	return SearchResult{Items: items}, nil
}

// decodeDDGRedirect extracts the real target URL from DuckDuckGo's
// "//duckduckgo.com/l/?uddg=<encoded>&..." redirect links.
func decodeDDGRedirect(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if uddg := u.Query().Get("uddg"); uddg != "" {
		decoded, err := url.QueryUnescape(uddg)
		if err == nil {
			return decoded
		}
		return uddg
	}
	return href
}

func blockedError(status int, body string) error {
	detail := "http_" + strconv.Itoa(status)
	return &oasis.WebBlockedError{Reason: "http " + strconv.Itoa(status), Detail: detail}
}
