package backends

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	oasis "github.com/nevindra/runcore"
)

// captchaMarkers are Baidu's Chinese-language captcha/verification prompts.
var captchaMarkers = []string{"验证码", "安全验证"}

// BaiduSearchBackend scrapes Baidu's HTML search results page.
type BaiduSearchBackend struct {
	client *http.Client
}

func NewBaiduSearchBackend() *BaiduSearchBackend {
	return &BaiduSearchBackend{client: &http.Client{}}
}

func (b *BaiduSearchBackend) Name() string { return "baidu" }

func (b *BaiduSearchBackend) Search(ctx context.Context, query string, maxResults int, timeoutMs int, remainingBudgetMs int) (SearchResult, error) {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if remainingBudgetMs > 0 && remainingBudgetMs < timeoutMs {
		timeout = time.Duration(remainingBudgetMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := "https://www.baidu.com/s?wd=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SearchResult{}, &oasis.WebProviderError{Reason: err.Error()}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; runcore/1.0)")

	resp, err := b.client.Do(req)
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
	for _, marker := range captchaMarkers {
		if strings.Contains(bodyStr, marker) {
			return SearchResult{}, &oasis.WebBlockedError{Reason: "captcha marker: " + marker, Detail: "captcha_required"}
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
	sels := doc.Find(".result, .c-container")
	sels.EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if len(items) >= maxResults {
			return false
		}
		link := sel.Find("h3.t a").First()
		if link.Length() == 0 {
			link = sel.Find("h3 a").First()
		}
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(sel.Find(".c-abstract").First().Text())
		if title == "" || href == "" {
			return true
		}
		items = append(items, SearchItem{
			Title:    title,
			URL:      href,
			Snippet:  snippet,
			Provider: "baidu",
			Rank:     len(items) + 1,
		})
		return true
	})

	if len(items) == 0 {
		return SearchResult{}, &oasis.WebParseError{Reason: "parse_failed: no results or no recognizable markup"}
	}

	return SearchResult{Items: items}, nil
}
