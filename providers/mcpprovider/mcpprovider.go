// Package mcpprovider adapts one or more MCP subprocess servers into a
// toolcatalog.Provider, namespacing every tool mcp.<server>.<raw>.
package mcpprovider

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/mcp"
	"github.com/nevindra/runcore/toolcatalog"
)

// ServerConfig names one subprocess MCP server to dial.
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
}

// Provider fans a catalog lookup out to however many MCP servers were
// successfully dialed. A server that fails to dial or to list is dropped
// rather than failing the whole provider — consistent with the catalog's
// own degrade-to-empty-list contract for a single misbehaving Provider.
type Provider struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[string]*mcp.Client // server name -> client
}

// New dials every configured server, logging and skipping any that fail.
func New(ctx context.Context, configs []ServerConfig, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{log: log, clients: make(map[string]*mcp.Client)}
	for _, cfg := range configs {
		client, err := mcp.Dial(ctx, cfg.Name, cfg.Command, cfg.Args)
		if err != nil {
			log.Warn("mcp.dial.failed", zap.String("server", cfg.Name), zap.Error(err))
			continue
		}
		p.clients[cfg.Name] = client
	}
	return p
}

func (p *Provider) ID() string { return "mcp" }

// List lists tools across every dialed server, namespaced mcp.<server>.<raw>.
// A single server's listing failure never raises — ListTools itself degrades
// to an empty slice and logs mcp.list_tools.failed.
func (p *Provider) List(ctx context.Context) ([]toolcatalog.ToolMeta, error) {
	p.mu.RLock()
	clients := make(map[string]*mcp.Client, len(p.clients))
	for name, c := range p.clients {
		clients[name] = c
	}
	p.mu.RUnlock()

	var out []toolcatalog.ToolMeta
	for name, client := range clients {
		for _, def := range client.ListTools(ctx, p.log.Sugar().Warnw) {
			schema, _ := json.Marshal(def.InputSchema)
			out = append(out, toolcatalog.ToolMeta{
				Name:            "mcp." + name + "." + def.Name,
				ProviderID:      p.ID(),
				RiskLevel:       toolcatalog.RiskUnknown,
				CapabilityLevel: toolcatalog.CapabilityL2,
				InputSchema:     schema,
			})
		}
	}
	return out, nil
}

// Invoke dispatches to the named server's raw tool name, stripping the
// mcp.<server>. prefix.
func (p *Provider) Invoke(ctx context.Context, name string, args json.RawMessage, llm oasis.LLM) (any, error) {
	server, raw, ok := splitMCPName(name)
	if !ok {
		return nil, &oasis.ToolNotFoundError{Name: name}
	}
	p.mu.RLock()
	client, ok := p.clients[server]
	p.mu.RUnlock()
	if !ok {
		return nil, &oasis.ToolNotFoundError{Name: name}
	}

	result, err := client.CallTool(ctx, raw, args)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		texts = append(texts, c.Text)
	}
	if result.IsError {
		return nil, &oasis.RuntimeError{Cause: errString(joinTexts(texts))}
	}
	return map[string]any{"content": joinTexts(texts)}, nil
}

// Close shuts down every dialed subprocess. Idempotent per client.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		_ = c.Close()
	}
	return nil
}

// splitMCPName parses "mcp.<server>.<raw...>" into its server and raw parts.
func splitMCPName(name string) (server, raw string, ok bool) {
	const prefix = "mcp."
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := name[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '.' {
			return rest[:i], rest[i+1:], true
		}
	}
	return "", "", false
}

func joinTexts(texts []string) string {
	out := ""
	for i, t := range texts {
		if i > 0 {
			out += "\n"
		}
		out += t
	}
	return out
}

type errString string

func (e errString) Error() string { return string(e) }
