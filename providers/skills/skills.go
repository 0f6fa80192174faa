// Package skills implements the SkillsProvider: tools backed by manifests
// listed from a skill catalog endpoint, each invoked through the sandbox
// via an HTTP invoke endpoint.
package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/toolcatalog"
)

// Manifest is one skill as returned by the catalog's GET /skills endpoint.
type Manifest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Runtime     string          `json:"runtime"`
	Interface   json.RawMessage `json:"interface"`
	Permissions json.RawMessage `json:"permissions"`
	Limits      json.RawMessage `json:"limits"`
}

// Provider lists tools named skill.<id> for every manifest the catalog
// endpoint currently advertises, and invokes them against the per-skill
// invoke endpoint.
type Provider struct {
	baseURL        string
	client         *http.Client
	fallbackOnFail bool

	mu        sync.Mutex
	manifests map[string]Manifest
}

// New creates a skills Provider against a catalog base URL (e.g.
// http://localhost:8090). fallbackOnFail mirrors SKILLS_LIST_FALLBACK:
// when true, a catalog listing failure degrades to the hardcoded
// skill.python.run/skill.shell.run placeholders instead of raising.
func New(baseURL string, fallbackOnFail bool) *Provider {
	return &Provider{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         &http.Client{},
		fallbackOnFail: fallbackOnFail,
		manifests:      make(map[string]Manifest),
	}
}

func (p *Provider) ID() string { return "skills" }

var fallbackManifests = []Manifest{
	{ID: "python.run", Name: "Python", Description: "Run a Python snippet in the sandbox.", Runtime: "python"},
	{ID: "shell.run", Name: "Shell", Description: "Run a shell command in the sandbox.", Runtime: "shell"},
}

func (p *Provider) List(ctx context.Context) ([]toolcatalog.ToolMeta, error) {
	manifests, err := p.listManifests(ctx)
	if err != nil {
		if !p.fallbackOnFail {
			return nil, &oasis.SkillsListError{BaseURL: p.baseURL, Reason: err.Error()}
		}
		manifests = fallbackManifests
	}

	p.mu.Lock()
	p.manifests = make(map[string]Manifest, len(manifests))
	for _, m := range manifests {
		p.manifests[m.ID] = m
	}
	p.mu.Unlock()

	tools := make([]toolcatalog.ToolMeta, 0, len(manifests))
	for _, m := range manifests {
		tools = append(tools, toolcatalog.ToolMeta{
			Name:            "skill." + m.ID,
			ProviderID:      p.ID(),
			RiskLevel:       toolcatalog.RiskWrite,
			CapabilityLevel: toolcatalog.CapabilityL2,
			RequiresConfirm: true,
			InputSchema:     m.Interface,
		})
	}
	return tools, nil
}

func (p *Provider) listManifests(ctx context.Context) ([]Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/skills", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &oasis.NetworkError{Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned http %d", resp.StatusCode)
	}
	var manifests []Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifests); err != nil {
		return nil, &oasis.WebParseError{Reason: err.Error()}
	}
	return manifests, nil
}

// Invoke posts args plus project_id (the executing run's conversation id,
// falling back to the run id) to the skill's invoke endpoint, and rejects
// any tool name not in the currently listed set.
func (p *Provider) Invoke(ctx context.Context, name string, args json.RawMessage, llm oasis.LLM) (any, error) {
	id := strings.TrimPrefix(name, "skill.")
	p.mu.Lock()
	_, known := p.manifests[id]
	p.mu.Unlock()
	if !known {
		return nil, &oasis.ToolNotFoundError{Name: name}
	}

	args = withProjectID(ctx, args)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/skills/"+id+"/invoke", bytes.NewReader(args))
	if err != nil {
		return nil, &oasis.WebProviderError{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &oasis.NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return nil, &oasis.InvalidArgumentError{Reason: "skill invoke rejected args"}
	case http.StatusForbidden:
		return nil, &oasis.PolicyDeniedError{Reason: "skill invoke denied by policy"}
	case http.StatusNotFound:
		return nil, &oasis.ToolNotFoundError{Name: name}
	}
	if resp.StatusCode >= 500 {
		return nil, &oasis.RuntimeError{Cause: fmt.Errorf("skill invoke http %d", resp.StatusCode)}
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &oasis.WebParseError{Reason: err.Error()}
	}
	return result, nil
}

// withProjectID merges a project_id into args when the caller didn't supply
// one: the executing run's conversation id, else its run id, else the args
// pass through untouched.
func withProjectID(ctx context.Context, args json.RawMessage) json.RawMessage {
	var m map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &m); err != nil {
			return args
		}
	}
	if m == nil {
		m = map[string]any{}
	}
	if _, has := m["project_id"]; !has {
		if conv, ok := oasis.ConversationIDFromContext(ctx); ok && conv != "" {
			m["project_id"] = conv
		} else if runID, ok := oasis.RunIDFromContext(ctx); ok && runID != "" {
			m["project_id"] = runID
		} else {
			return args
		}
	}
	merged, err := json.Marshal(m)
	if err != nil {
		return args
	}
	return merged
}
