package taskctx

import (
	"context"
	"errors"
	"testing"

	oasis "github.com/nevindra/runcore"
)

func TestStepRecordsFirstErrorOnly(t *testing.T) {
	c := New("research_report", oasis.RunInput{})

	_ = c.Step(context.Background(), "tool.web.search", func(meta map[string]any) error {
		return &oasis.WebBlockedError{Reason: "HTTP 403", Detail: "http_403"}
	})
	_ = c.Step(context.Background(), "tool.web.fetch", func(meta map[string]any) error {
		return errors.New("second failure, should not overwrite top-level error")
	})

	out := c.Build()
	if out.OK {
		t.Fatalf("expected ok=false")
	}
	if len(out.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(out.Steps))
	}
	if out.Error == nil {
		t.Fatalf("expected top-level error")
	}
	if out.Error.Step != "tool.web.search" {
		t.Fatalf("expected first failing step recorded, got %q", out.Error.Step)
	}
	if out.Error.Code != oasis.CodeWebBlocked {
		t.Fatalf("expected code WebBlocked, got %q", out.Error.Code)
	}
	if !out.Error.Retryable {
		t.Fatalf("WebBlocked must be retryable")
	}
	if out.Error.Message == "" || out.Error.Message == "HTTP 403" {
		t.Fatalf("expected localized rate-limit message, got %q", out.Error.Message)
	}
}

func TestPartialSuccessOverride(t *testing.T) {
	c := New("research_report", oasis.RunInput{})
	_ = c.Step(context.Background(), "tool.web.fetch", func(meta map[string]any) error {
		return errors.New("one source failed")
	})
	_ = c.Step(context.Background(), "write_report", func(meta map[string]any) error { return nil })

	c.SetOK(true)
	c.ClearError()

	out := c.Build()
	if !out.OK {
		t.Fatalf("expected ok=true after override")
	}
	if out.Error != nil {
		t.Fatalf("expected error cleared")
	}
	// step-level failure must still be visible even though top-level ok=true.
	if out.Steps[0].OK {
		t.Fatalf("expected first step to retain its failure")
	}
}

func TestBuildDefaultsOKToStepConjunction(t *testing.T) {
	c := New("sleep", oasis.RunInput{})
	_ = c.Step(context.Background(), "sleep", func(meta map[string]any) error { return nil })
	out := c.Build()
	if !out.OK {
		t.Fatalf("expected ok=true when all steps succeed")
	}
}

func TestTraceIDPropagationAndGeneration(t *testing.T) {
	c := New("sleep", oasis.RunInput{TraceID: "ffffffffffffffffffffffffffffffff"[:32]})
	if c.TraceID() != "ffffffffffffffffffffffffffffffff"[:32] {
		t.Fatalf("expected propagated trace id")
	}

	c2 := New("sleep", oasis.RunInput{TraceID: "not-valid"})
	if !ValidTraceID(c2.TraceID()) {
		t.Fatalf("expected generated trace id to be valid 32-hex, got %q", c2.TraceID())
	}
}
