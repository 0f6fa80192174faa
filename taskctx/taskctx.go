// Package taskctx builds the task_result_v0 envelope every handler produces.
// A Context is created once per run; handlers call Step for
// each scoped region of work and Build at the end to get the envelope the
// worker persists.
package taskctx

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"time"

	"golang.org/x/text/unicode/norm"

	oasis "github.com/nevindra/runcore"
)

// webBlockedMessage is the localized user-visible message substituted for
// any error whose code is CodeWebBlocked.
const webBlockedMessage = "请求过于频繁或被限制（如 403/429），请稍后再试。"

// maxErrorMessageLen truncates all other error messages.
const maxErrorMessageLen = 500

// maxOutputBytes is the JSON size above which Build records a non-fatal
// trace line instead of failing.
const maxOutputBytes = 1 << 20 // 1 MiB

var hex32 = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// ValidTraceID reports whether s is a 32-hex trace id.
func ValidTraceID(s string) bool { return hex32.MatchString(s) }

// NewTraceID generates a fresh 32-hex trace id.
func NewTraceID() string {
	// UUIDv7 is 32 hex digits once dashes are stripped; reuse oasis.NewID
	// rather than rolling a second random source.
	id := oasis.NewID()
	out := make([]byte, 0, 32)
	for _, r := range id {
		if r != '-' {
			out = append(out, byte(r))
		}
	}
	return string(out)
}

// Context accumulates steps, artifacts, and the first error for one run,
// then serializes into a task_result_v0 envelope via Build.
type Context struct {
	taskType string
	traceID  string

	steps      []oasis.Step
	traceLines []string
	err        *oasis.ErrorInfo

	okOverridden bool
	okValue      bool

	result    json.RawMessage
	artifacts json.RawMessage

	factsSnapshotID     string
	factsSnapshotSource string
}

// New creates a Context for taskType. If input.TraceID is a valid 32-hex
// string it is reused (propagating the orchestrator's trace across child
// runs); otherwise a fresh one is generated.
func New(taskType string, input oasis.RunInput) *Context {
	traceID := input.TraceID
	if !ValidTraceID(traceID) {
		traceID = NewTraceID()
	}
	return &Context{taskType: taskType, traceID: traceID}
}

// TraceID returns the trace id this context was created with.
func (c *Context) TraceID() string { return c.traceID }

// Step runs fn as one scoped region under ctx. meta is a mutable map fn can
// populate with per-step detail (args_preview, tool_name, …); it is attached
// to the recorded Step regardless of outcome. On error, Step records
// duration/error_code, sets the top-level error on the FIRST failure only,
// and returns err unchanged so callers can short-circuit. If ctx carries a
// Tracer (oasis.ContextWithTracer, set by the worker loop) the step runs
// inside a "task.step.<name>" child span.
func (c *Context) Step(ctx context.Context, name string, fn func(meta map[string]any) error) error {
	var span oasis.Span
	if tracer, ok := oasis.TracerFromContext(ctx); ok {
		_, span = tracer.Start(ctx, "task.step."+name, oasis.StringAttr("task.type", c.taskType))
	}

	start := time.Now()
	meta := map[string]any{}
	err := fn(meta)
	durationMs := int64(math.Ceil(time.Since(start).Seconds() * 1000))

	if span != nil {
		if err != nil {
			span.Error(err)
		}
		span.End()
	}

	step := oasis.Step{Name: name, DurationMs: durationMs, Meta: meta}
	if err != nil {
		code := oasis.CodeOf(err)
		step.OK = false
		step.ErrorCode = code
		if detail := oasis.DetailCodeOf(err); detail != "" {
			meta["detail_code"] = detail
		}
		c.steps = append(c.steps, step)
		if c.err == nil {
			c.err = &oasis.ErrorInfo{
				Code:      code,
				Message:   renderErrorMessage(code, err.Error()),
				Retryable: oasis.IsRetryable(err),
				Step:      name,
			}
		}
		return err
	}
	step.OK = true
	c.steps = append(c.steps, step)
	return nil
}

// renderErrorMessage applies the WebBlocked localization override, else
// truncates the original message to 500 bytes on a normalization boundary
// so a multi-byte rune (e.g. the Chinese text webBlockedMessage carries
// elsewhere in this package) is never split mid-encoding.
func renderErrorMessage(code, message string) string {
	if code == oasis.CodeWebBlocked {
		return webBlockedMessage
	}
	return truncateUTF8(message, maxErrorMessageLen)
}

// truncateUTF8 truncates s to at most max bytes, cutting back to the last
// norm.NFC boundary at or before max so the result never ends mid-rune or
// mid-combining-sequence.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	b := []byte(s[:max])
	if i := norm.NFC.LastBoundary(b); i > 0 {
		b = b[:i]
	}
	return string(b)
}

// SetOK lets a partial-success handler override the step-conjunction
// default once it has cleared the error.
func (c *Context) SetOK(ok bool) {
	c.okOverridden = true
	c.okValue = ok
}

// ClearError drops the top-level error. Callers must pair this with
// SetOK(true) and must only do so after at least one primary artifact was
// produced.
func (c *Context) ClearError() { c.err = nil }

// SetResult marshals v as the envelope's result payload.
func (c *Context) SetResult(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.traceLines = append(c.traceLines, "task.result.marshal_failed: "+err.Error())
		return
	}
	c.result = b
}

// SetArtifacts marshals v as the envelope's artifacts payload.
func (c *Context) SetArtifacts(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.traceLines = append(c.traceLines, "task.artifacts.marshal_failed: "+err.Error())
		return
	}
	c.artifacts = b
}

// SetFactsSnapshot records the active-facts snapshot id/source a handler
// consulted.
func (c *Context) SetFactsSnapshot(id, source string) {
	c.factsSnapshotID = id
	c.factsSnapshotSource = source
}

// Trace appends a free-form trace line, bounded to the envelope's
// trace_lines.
func (c *Context) Trace(line string) { c.traceLines = append(c.traceLines, line) }

// Build serializes the accumulated state into a task_result_v0 envelope.
// OK equals the conjunction of step outcomes unless overridden via SetOK
// after ClearError.
func (c *Context) Build() oasis.TaskResult {
	out := oasis.TaskResult{
		Version:             oasis.TaskResultVersion,
		TaskType:            c.taskType,
		TraceID:             c.traceID,
		Result:              c.result,
		Artifacts:           c.artifacts,
		Steps:               c.steps,
		TraceLines:          c.traceLines,
		Error:               c.err,
		FactsSnapshotID:     c.factsSnapshotID,
		FactsSnapshotSource: c.factsSnapshotSource,
	}
	if c.okOverridden {
		out.OK = c.okValue
	} else {
		out.OK = out.AllStepsOK()
	}

	if b, err := json.Marshal(out); err == nil && len(b) > maxOutputBytes {
		out.TraceLines = append(out.TraceLines, "task.output.too_large")
	}
	return out
}
