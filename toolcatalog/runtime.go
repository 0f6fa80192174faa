package toolcatalog

import (
	"context"
	"encoding/json"

	"golang.org/x/text/unicode/norm"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/taskctx"
)

// maxPreviewLen bounds args_preview/result_preview.
const maxPreviewLen = 200

// Runtime is the single entry point handlers use to call a tool.
type Runtime struct {
	catalog *Catalog
	schemas *schemaCache
}

// NewRuntime creates a Runtime over catalog.
func NewRuntime(catalog *Catalog) *Runtime {
	return &Runtime{catalog: catalog, schemas: newSchemaCache()}
}

// Invoke resolves name, opens a "tool.<name>" step on tc, validates args
// against the resolved tool's input_schema, and dispatches to the provider.
func (r *Runtime) Invoke(ctx context.Context, tc *taskctx.Context, name string, args json.RawMessage, llm oasis.LLM) (any, error) {
	var value any
	err := tc.Step(ctx, "tool."+name, func(meta map[string]any) error {
		meta["tool_name"] = name
		meta["args_preview"] = preview(args)

		meta2, provider, found := r.catalog.Resolve(ctx, name)
		if !found {
			return &oasis.ToolNotFoundError{Name: name}
		}
		meta["provider_id"] = meta2.ProviderID
		meta["risk_level"] = meta2.RiskLevel
		meta["capability_level"] = meta2.CapabilityLevel

		if err := r.schemas.validate(name, meta2.InputSchema, args); err != nil {
			return &oasis.InvalidInputError{Reason: err.Error()}
		}

		v, err := provider.Invoke(ctx, name, args, llm)
		if err != nil {
			meta["result_preview"] = "(error)"
			return err
		}
		value = v
		meta["result_preview"] = previewValue(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// preview renders raw JSON args truncated to maxPreviewLen, never raising.
func preview(raw json.RawMessage) string {
	return truncateUTF8(string(raw), maxPreviewLen)
}

// previewValue renders an arbitrary result value as a JSON-safe preview
// string, truncated to maxPreviewLen. Marshal failures degrade to a fixed
// placeholder rather than raising.
func previewValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "(unrepresentable)"
	}
	return truncateUTF8(string(b), maxPreviewLen)
}

// truncateUTF8 truncates s to at most max bytes, cutting back to the last
// norm.NFC boundary at or before max so the result never ends mid-rune, and
// appends an ellipsis marker when truncation actually occurred.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	b := []byte(s[:max])
	if i := norm.NFC.LastBoundary(b); i > 0 {
		b = b[:i]
	}
	return string(b) + "…"
}
