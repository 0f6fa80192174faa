package resolve

import (
	"context"
	"fmt"
	"math"
	"strings"

	oasis "github.com/nevindra/runcore"
)

// stubProvider is the deterministic LLM_PROVIDER=stub implementation: no
// network calls, no API key required. It echoes a canned decision/summary
// shaped well enough for handlers and the orchestrator to exercise their
// full step sequence against in tests and in offline/demo deployments,
// mirroring the same "stub backend, always available" posture the web
// search/fetch backends use (providers/web/backends/search_stub.go,
// fetch_stub.go).
type stubProvider struct{}

// NewStub creates the stub Provider.
func NewStub() oasis.Provider { return stubProvider{} }

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Chat(ctx context.Context, req oasis.ChatRequest) (oasis.ChatResponse, error) {
	return oasis.ChatResponse{Content: stubReply(req)}, nil
}

func (p stubProvider) ChatWithTools(ctx context.Context, req oasis.ChatRequest, tools []oasis.ToolDefinition) (oasis.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (p stubProvider) ChatStream(ctx context.Context, req oasis.ChatRequest, ch chan<- string) (oasis.ChatResponse, error) {
	defer close(ch)
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return resp, err
	}
	ch <- resp.Content
	return resp, nil
}

// stubEmbedding is the LLM_PROVIDER=stub analogue for embeddings: a
// deterministic byte-histogram vector. Similar strings land near each other
// well enough for the skill-author search path to be exercised offline;
// production deployments configure a real embedding provider.
type stubEmbedding struct {
	dims int
}

// NewStubEmbedding creates the stub EmbeddingProvider. dims <= 0 defaults
// to 64.
func NewStubEmbedding(dims int) oasis.EmbeddingProvider {
	if dims <= 0 {
		dims = 64
	}
	return stubEmbedding{dims: dims}
}

func (e stubEmbedding) Name() string    { return "stub" }
func (e stubEmbedding) Dimensions() int { return e.dims }

func (e stubEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dims)
		for j := 0; j < len(text); j++ {
			vec[int(text[j])%e.dims]++
		}
		var norm float32
		for _, v := range vec {
			norm += v * v
		}
		if norm > 0 {
			inv := 1 / float32(math.Sqrt(float64(norm)))
			for j := range vec {
				vec[j] *= inv
			}
		}
		out[i] = vec
	}
	return out, nil
}

// stubReply synthesizes a plausible answer from the last user message so
// callers exercising summarize_conversation/the orchestrator against the
// stub provider see non-empty, vaguely on-topic text rather than a fixed
// constant every time.
func stubReply(req oasis.ChatRequest) string {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	last = strings.TrimSpace(last)
	if last == "" {
		return "Acknowledged."
	}
	if len(last) > 120 {
		last = last[:120] + "…"
	}
	return fmt.Sprintf("Noted: %s", last)
}
