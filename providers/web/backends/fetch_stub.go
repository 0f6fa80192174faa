package backends

import (
	"context"
	"fmt"
	"strings"

	oasis "github.com/nevindra/runcore"
)

// StubFetchBackend returns fixed content for any http(s) URL and rejects
// anything else.
type StubFetchBackend struct{}

func NewStubFetchBackend() *StubFetchBackend { return &StubFetchBackend{} }

func (s *StubFetchBackend) Name() string { return "stub" }

func (s *StubFetchBackend) Fetch(ctx context.Context, url string, timeoutMs int, maxBytes int, artifactDir string) (FetchResult, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return FetchResult{}, &oasis.InvalidInputError{Reason: "url must be http(s): " + url}
	}
	text := fmt.Sprintf("Stub fetched content for %s.\n\nThis is a deterministic placeholder body used when no fetch backend is configured.", url)
	return FetchResult{
		URL:              url,
		StatusCode:       200,
		ContentType:      "text/plain",
		Text:             text,
		FinalURL:         url,
		Title:            "Stub: " + url,
		ExtractedText:    text,
		ExtractionMethod: "fallback",
		ParagraphsCount:  1,
	}, nil
}
