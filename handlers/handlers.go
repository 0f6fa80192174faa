package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/yuin/goldmark"
	"golang.org/x/text/unicode/norm"
)

// unmarshalInput decodes run.Input into dst, surfacing a readable error
// rather than the bare encoding/json message.
func unmarshalInput(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty input")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return nil
}

// renderMarkdownHTML converts md to HTML for the chat emitter's preview
// rendering. A conversion failure degrades to an escaped-looking empty
// string rather than raising — the markdown artifact itself remains the
// source of truth.
func renderMarkdownHTML(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return buf.String()
}

// truncateRuneBoundary cuts s to at most max bytes, pulling back to the last
// norm.NFC boundary so a multi-byte rune is never split mid-encoding.
func truncateRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	b := []byte(s[:max])
	if i := norm.NFC.LastBoundary(b); i > 0 {
		b = b[:i]
	}
	return string(b)
}
