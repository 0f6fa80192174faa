package observer

import (
	"context"
	"testing"

	oasis "github.com/nevindra/runcore"
)

// fakeProvider counts calls and returns canned responses. Instruments built
// without Init record against no-op OTEL globals, so these tests exercise
// delegation and accounting paths without an exporter.
type fakeProvider struct {
	chats int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Chat(_ context.Context, _ oasis.ChatRequest) (oasis.ChatResponse, error) {
	f.chats++
	return oasis.ChatResponse{Content: "ok", Usage: oasis.Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (f *fakeProvider) ChatWithTools(_ context.Context, _ oasis.ChatRequest, _ []oasis.ToolDefinition) (oasis.ChatResponse, error) {
	f.chats++
	return oasis.ChatResponse{Content: "ok"}, nil
}

func (f *fakeProvider) ChatStream(_ context.Context, _ oasis.ChatRequest, ch chan<- string) (oasis.ChatResponse, error) {
	ch <- "ok"
	close(ch)
	return oasis.ChatResponse{Content: "ok"}, nil
}

func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

func TestWrapProvider_DelegatesChat(t *testing.T) {
	fake := &fakeProvider{}
	p := WrapProvider(fake, "gemini-2.5-flash", testInstruments(t))

	resp, err := p.Chat(context.Background(), oasis.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q, want ok", resp.Content)
	}
	if fake.chats != 1 {
		t.Errorf("inner calls = %d, want 1", fake.chats)
	}
}

func TestWrapProvider_StreamForwardsTokens(t *testing.T) {
	p := WrapProvider(&fakeProvider{}, "gemini-2.5-flash", testInstruments(t))

	ch := make(chan string, 4)
	if _, err := p.ChatStream(context.Background(), oasis.ChatRequest{}, ch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got string
	for tok := range ch {
		got += tok
	}
	if got != "ok" {
		t.Errorf("streamed %q, want ok", got)
	}
}

func TestNewRunMetrics_RecordsWithoutExporter(t *testing.T) {
	m := NewRunMetrics(testInstruments(t))
	ctx := context.Background()
	// No exporter configured: these must be safe no-ops, not panics.
	m.RunClaimed(ctx, "sleep", 1)
	m.RunCompleted(ctx, "sleep", "succeeded", 12.5)
	m.HeartbeatLost(ctx, "sleep")
}

func TestNewTracer_SpansWithoutExporter(t *testing.T) {
	tr := NewTracer()
	ctx, span := tr.Start(context.Background(), "worker.execute",
		oasis.StringAttr("run.id", "r1"))
	if ctx == nil || span == nil {
		t.Fatal("nil ctx or span")
	}
	span.Event("claimed")
	span.SetAttr(oasis.IntAttr("run.attempt", 1))
	span.End()
}
