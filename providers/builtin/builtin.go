// Package builtin implements the builtin/stub provider tier: local,
// no-network tools that never shadow a configured web/skills backend
// (provider order: web precedes builtin precedes stub).
//
// Two tool families live here: workspace file operations (builtin.file_*)
// and self-authored skill management (builtin.skill_*), the latter enabled
// only when the provider is constructed with a SkillStore and an
// EmbeddingProvider.
package builtin

import (
	"context"
	"encoding/json"
	"strings"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/toolcatalog"
)

// Provider exposes the builtin.* tool family.
type Provider struct {
	files  *fileTools
	skills *skillAuthor
}

// Option configures a Provider.
type Option func(*Provider)

// WithSkillAuthoring enables the builtin.skill_* tools backed by store for
// persistence and emb for semantic search vectors.
func WithSkillAuthoring(store oasis.SkillStore, emb oasis.EmbeddingProvider) Option {
	return func(p *Provider) { p.skills = newSkillAuthor(store, emb) }
}

// New creates a builtin Provider whose file tools are restricted to
// workspacePath.
func New(workspacePath string, opts ...Option) *Provider {
	p := &Provider{files: newFileTools(workspacePath)}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) ID() string { return "builtin" }

func (p *Provider) List(ctx context.Context) ([]toolcatalog.ToolMeta, error) {
	tools := p.files.list()
	if p.skills != nil {
		tools = append(tools, p.skills.list()...)
	}
	return tools, nil
}

func (p *Provider) Invoke(ctx context.Context, name string, args json.RawMessage, llm oasis.LLM) (any, error) {
	raw, found := strings.CutPrefix(name, "builtin.")
	if !found {
		return nil, &oasis.ToolNotFoundError{Name: name}
	}
	switch {
	case strings.HasPrefix(raw, "file_"):
		return p.files.invoke(ctx, raw, args)
	case strings.HasPrefix(raw, "skill_"):
		if p.skills == nil {
			return nil, &oasis.ToolNotFoundError{Name: name}
		}
		return p.skills.invoke(ctx, raw, args)
	default:
		return nil, &oasis.ToolNotFoundError{Name: name}
	}
}

// StubProvider is the last-resort provider: it lists no tools of its own
// and any invoke against it fails with ToolNotFound, guaranteeing the
// preferred-order chain (web < builtin < stub) always terminates instead
// of panicking on an unresolvable name.
type StubProvider struct{}

func NewStub() *StubProvider { return &StubProvider{} }

func (s *StubProvider) ID() string { return "stub" }

func (s *StubProvider) List(ctx context.Context) ([]toolcatalog.ToolMeta, error) {
	return nil, nil
}

func (s *StubProvider) Invoke(ctx context.Context, name string, args json.RawMessage, llm oasis.LLM) (any, error) {
	return nil, &oasis.ToolNotFoundError{Name: name}
}
