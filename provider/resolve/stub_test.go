package resolve

import (
	"context"
	"testing"

	oasis "github.com/nevindra/runcore"
)

func TestStubReply_EchoesLastUserMessage(t *testing.T) {
	req := oasis.ChatRequest{Messages: []oasis.ChatMessage{
		{Role: "system", Content: "be helpful"},
		oasis.UserMessage("what time is it"),
	}}
	got := stubReply(req)
	if got != "Noted: what time is it" {
		t.Errorf("stubReply = %q", got)
	}
}

func TestStubReply_EmptyMessages(t *testing.T) {
	if got := stubReply(oasis.ChatRequest{}); got != "Acknowledged." {
		t.Errorf("stubReply(empty) = %q, want %q", got, "Acknowledged.")
	}
}

func TestStubProvider_ChatStream(t *testing.T) {
	p := NewStub()
	ch := make(chan string, 1)
	resp, err := p.ChatStream(context.Background(), oasis.ChatRequest{
		Messages: []oasis.ChatMessage{oasis.UserMessage("ping")},
	}, ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := <-ch; got != resp.Content {
		t.Errorf("streamed chunk %q != response content %q", got, resp.Content)
	}
}

func TestStubProvider_ChatWithTools(t *testing.T) {
	p := NewStub()
	resp, err := p.ChatWithTools(context.Background(), oasis.ChatRequest{
		Messages: []oasis.ChatMessage{oasis.UserMessage("use a tool")},
	}, []oasis.ToolDefinition{{Name: "noop"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content == "" {
		t.Error("expected non-empty content")
	}
}
