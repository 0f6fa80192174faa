package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/taskctx"
	"github.com/nevindra/runcore/toolcatalog"
	"github.com/nevindra/runcore/worker"
)

// defaultMaxSources is applied when the request omits max_sources.
const defaultMaxSources = 2

// maxQuoteLen bounds each evidence entry's quote.
const maxQuoteLen = 280

// ResearchReportInput is the input shape for research_report.
type ResearchReportInput struct {
	oasis.RunInput
	Query      string `json:"query"`
	MaxSources int    `json:"max_sources,omitempty"`
}

// ResearchReportDeps are the collaborators research_report needs.
type ResearchReportDeps struct {
	Tools *toolcatalog.Runtime
	LLM   oasis.LLM
}

type reportSource struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet"`
	Provider string `json:"provider"`
	Rank     int    `json:"rank"`
}

type reportEvidence struct {
	Quote       string `json:"quote"`
	SourceURL   string `json:"source_url"`
	SourceIndex int    `json:"source_index"`
}

// ResearchReport builds a closure implementing worker.Handler for
// research_report: tool.web.search -> one tool.web.fetch per source
// (bounded by max_sources) -> extract -> dedupe_rank -> write_report.
func ResearchReport(deps ResearchReportDeps) worker.HandlerFunc {
	return func(ctx context.Context, run oasis.Run, hb worker.HeartbeatFunc) (oasis.TaskResult, error) {
		var input ResearchReportInput
		if err := unmarshalInput(run.Input, &input); err != nil {
			return oasis.TaskResult{}, &oasis.InvalidArgumentError{Reason: err.Error()}
		}
		if strings.TrimSpace(input.Query) == "" {
			return oasis.TaskResult{}, &oasis.InvalidInputError{Reason: "query must be non-empty"}
		}
		maxSources := input.MaxSources
		if maxSources <= 0 {
			maxSources = defaultMaxSources
		}

		tc := taskctx.New(run.Type, input.RunInput)

		sources, err := searchSources(ctx, tc, deps, input.Query, maxSources)
		if err != nil {
			return tc.Build(), nil
		}
		if len(sources) > maxSources {
			sources = sources[:maxSources]
		}

		fetched := make([]*fetchedSource, len(sources))
		anyFetched := false
		for i, src := range sources {
			if err := hb(ctx); err != nil {
				return oasis.TaskResult{}, err
			}
			f, ferr := fetchSource(ctx, tc, deps, src)
			if ferr == nil {
				fetched[i] = f
				anyFetched = true
			}
		}

		var extracted []extractedSource
		_ = tc.Step(ctx, "extract", func(meta map[string]any) error {
			for i, f := range fetched {
				if f == nil {
					continue
				}
				extracted = append(extracted, extractedSource{
					index: i,
					url:   sources[i].URL,
					text:  f.ExtractedText,
				})
			}
			meta["count"] = len(extracted)
			return nil
		})

		var ranked []reportSource
		_ = tc.Step(ctx, "dedupe_rank", func(meta map[string]any) error {
			seen := make(map[string]bool)
			for _, s := range sources {
				if seen[s.URL] {
					continue
				}
				seen[s.URL] = true
				ranked = append(ranked, s)
			}
			sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Rank < ranked[j].Rank })
			meta["count"] = len(ranked)
			return nil
		})

		var report string
		var evidenceList []reportEvidence
		_ = tc.Step(ctx, "write_report", func(meta map[string]any) error {
			report, evidenceList = writeReport(input.Query, sources, extracted)
			meta["evidence_count"] = len(evidenceList)
			return nil
		})

		tc.SetResult(map[string]any{
			"query":          input.Query,
			"sources_count":  len(sources),
			"evidence_count": len(evidenceList),
		})
		tc.SetArtifacts(map[string]any{
			"report":      report,
			"report_html": renderMarkdownHTML(report),
			"sources":     sources,
			"evidence":    evidenceList,
		})

		if anyFetched {
			// Partial-success: at least one fetch succeeded and a report
			// (the primary artifact) was produced, so the overall failure
			// from any individual fetch is overridden.
			tc.SetOK(true)
			tc.ClearError()
		}

		return tc.Build(), nil
	}
}

// searchSources invokes web.search and normalizes the item list. The
// returned error is the raw tool error (already recorded as the
// tool.web.search step) for the caller to decide whether to short-circuit.
func searchSources(ctx context.Context, tc *taskctx.Context, deps ResearchReportDeps, query string, maxResults int) ([]reportSource, error) {
	args, _ := json.Marshal(map[string]any{"query": query, "max_results": maxResults})
	v, err := deps.Tools.Invoke(ctx, tc, "web.search", args, deps.LLM)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	rawItems, _ := m["items"].([]map[string]any)
	if rawItems == nil {
		// Invoke may hand back a value round-tripped through JSON
		// (e.g. from a remote provider) where items decode as []any.
		if anyItems, ok := m["items"].([]any); ok {
			for _, it := range anyItems {
				if im, ok := it.(map[string]any); ok {
					rawItems = append(rawItems, im)
				}
			}
		}
	}
	sources := make([]reportSource, 0, len(rawItems))
	for _, it := range rawItems {
		sources = append(sources, reportSource{
			Title:    stringField(it, "title"),
			URL:      stringField(it, "url"),
			Snippet:  stringField(it, "snippet"),
			Provider: stringField(it, "provider"),
			Rank:     intField(it, "rank"),
		})
	}
	return sources, nil
}

type fetchedSource struct {
	ExtractedText string
}

// fetchSource invokes web.fetch for one source. A failure is recorded as
// its own tool.web.fetch step (first-error-wins against the envelope's
// top-level error) but never aborts the remaining sources.
func fetchSource(ctx context.Context, tc *taskctx.Context, deps ResearchReportDeps, src reportSource) (*fetchedSource, error) {
	args, _ := json.Marshal(map[string]any{"url": src.URL})
	v, err := deps.Tools.Invoke(ctx, tc, "web.fetch", args, deps.LLM)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	return &fetchedSource{ExtractedText: stringField(m, "extracted_text")}, nil
}

type extractedSource struct {
	index int
	url   string
	text  string
}

// writeReport renders a markdown report and the evidence list, each entry
// carrying the source_index/source_url pair readers resolve quotes with.
func writeReport(query string, sources []reportSource, extracted []extractedSource) (string, []reportEvidence) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research report: %s\n\n", query)

	var evidence []reportEvidence
	for _, e := range extracted {
		quote := firstQuote(e.text)
		if quote == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", sources[e.index].Title, quote)
		evidence = append(evidence, reportEvidence{
			Quote:       quote,
			SourceURL:   sources[e.index].URL,
			SourceIndex: e.index,
		})
	}
	if len(evidence) == 0 {
		b.WriteString("_No sources could be fetched._\n")
	}
	return b.String(), evidence
}

// firstQuote trims extracted text to a leading quote of at most
// maxQuoteLen, breaking on a sentence boundary when one is found.
func firstQuote(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if len(text) <= maxQuoteLen {
		return text
	}
	cut := truncateRuneBoundary(text, maxQuoteLen)
	if i := strings.LastIndexAny(cut, ".。!?"); i > 0 {
		return cut[:i+1]
	}
	return cut
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
