package web

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/providers/web/backends"
)

func stubProvider() *Provider {
	return New(backends.NewStubSearchBackend(), backends.NewStubFetchBackend())
}

func invokeSearch(t *testing.T, args string) (map[string]any, error) {
	t.Helper()
	v, err := stubProvider().Invoke(context.Background(), "web.search", json.RawMessage(args), nil)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func TestSearchValidation(t *testing.T) {
	cases := []struct {
		name string
		args string
	}{
		{"empty query", `{"query":""}`},
		{"whitespace query", `{"query":"   "}`},
		{"max_results explicit zero", `{"query":"x","max_results":0}`},
		{"max_results negative", `{"query":"x","max_results":-1}`},
		{"max_results too large", `{"query":"x","max_results":11}`},
		{"timeout too small", `{"query":"x","timeout_ms":500}`},
		{"timeout too large", `{"query":"x","timeout_ms":200000}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := invokeSearch(t, tc.args)
			var inv *oasis.InvalidInputError
			if !errors.As(err, &inv) {
				t.Errorf("args %s: got %v, want InvalidInputError", tc.args, err)
			}
		})
	}
}

func TestSearchNormalizesItems(t *testing.T) {
	out, err := invokeSearch(t, `{"query":"golang","max_results":3}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := out["items"].([]map[string]any)
	if len(items) == 0 {
		t.Fatal("stub backend returned no items")
	}
	for i, item := range items {
		if item["rank"] != i+1 {
			t.Errorf("item %d rank = %v, want %d", i, item["rank"], i+1)
		}
		if item["provider"] != "stub" {
			t.Errorf("item %d provider = %v", i, item["provider"])
		}
		if item["url"] == "" {
			t.Errorf("item %d has empty url", i)
		}
	}
}

func TestFetchValidation(t *testing.T) {
	p := stubProvider()
	for _, args := range []string{
		`{"url":"ftp://example.com/file"}`,
		`{"url":"not a url at all %%%"}`,
		`{"url":""}`,
		`{"url":"https://example.com","timeout_ms":1}`,
	} {
		_, err := p.Invoke(context.Background(), "web.fetch", json.RawMessage(args), nil)
		var inv *oasis.InvalidInputError
		if !errors.As(err, &inv) {
			t.Errorf("args %s: got %v, want InvalidInputError", args, err)
		}
	}
}

func TestFetchCanonicalShape(t *testing.T) {
	p := stubProvider()
	v, err := p.Invoke(context.Background(), "web.fetch", json.RawMessage(`{"url":"https://example.com/page"}`), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := v.(map[string]any)
	for _, key := range []string{"url", "status_code", "content_type", "text", "truncated", "extraction_method"} {
		if _, ok := out[key]; !ok {
			t.Errorf("canonical fetch shape missing %q", key)
		}
	}
}

func TestUnknownToolName(t *testing.T) {
	_, err := stubProvider().Invoke(context.Background(), "web.nope", nil, nil)
	var nf *oasis.ToolNotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("got %v, want ToolNotFoundError", err)
	}
}
