package runcore

import "context"

// Provider abstracts the LLM backend.
type Provider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatWithTools sends a request with tool definitions, returns response (may contain tool calls).
	ChatWithTools(ctx context.Context, req ChatRequest, tools []ToolDefinition) (ChatResponse, error)
	// ChatStream streams tokens into ch, then returns the final response with usage stats.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error)
	// Name returns the provider name (e.g. "gemini", "anthropic").
	Name() string
}

// LLM is the minimal collaborator contract task handlers and the
// orchestrator depend on: generate(prompt) and generate_messages(history).
// AdaptLLM adapts any Provider to this narrower surface at its
// construction site, rather than handlers probing Provider with a type
// switch at each call site.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateMessages(ctx context.Context, messages []ChatMessage) (string, error)
}

// providerLLM adapts a Provider to the LLM interface.
type providerLLM struct{ p Provider }

// AdaptLLM wraps a Provider so it satisfies LLM.
func AdaptLLM(p Provider) LLM { return &providerLLM{p: p} }

func (a *providerLLM) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.p.Chat(ctx, ChatRequest{Messages: []ChatMessage{UserMessage(prompt)}})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (a *providerLLM) GenerateMessages(ctx context.Context, messages []ChatMessage) (string, error) {
	resp, err := a.p.Chat(ctx, ChatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}
