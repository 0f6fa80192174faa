// Package toolcatalog resolves tool names to providers and records one step
// per invocation.
package toolcatalog

import (
	"context"
	"encoding/json"
	"sync"

	oasis "github.com/nevindra/runcore"
)

// Capability levels.
const (
	CapabilityL0 = "L0"
	CapabilityL1 = "L1"
	CapabilityL2 = "L2"
)

// Risk levels.
const (
	RiskReadOnly = "read_only"
	RiskWrite    = "write"
	RiskUnknown  = "unknown"
)

// ToolMeta is the catalog-level description of one tool.
type ToolMeta struct {
	Name            string
	InputSchema     json.RawMessage
	ProviderID      string
	RiskLevel       string
	SideEffects     bool
	CapabilityLevel string
	RequiresConfirm bool
	TimeoutMs       int
}

// Provider groups tools sharing an implementation (web, skills, builtin,
// mcp.<server>). List results are cached by the Catalog; a Provider that
// fails to list degrades to an empty list rather than erroring the caller.
type Provider interface {
	ID() string
	List(ctx context.Context) ([]ToolMeta, error)
	// Invoke executes name with args. llm is passed through for providers
	// (builtin) whose tools need to call back into an LLM.
	Invoke(ctx context.Context, name string, args json.RawMessage, llm oasis.LLM) (any, error)
}

// Catalog holds every registered Provider and a preferred resolution order.
type Catalog struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	cache     map[string][]ToolMeta // providerID -> cached tools
}

// NewCatalog creates a Catalog with the given preferred provider order.
// Providers not listed in order are still registrable and resolvable, but
// always lose to anything earlier in order.
func NewCatalog(order []string) *Catalog {
	return &Catalog{
		providers: make(map[string]Provider),
		order:     order,
		cache:     make(map[string][]ToolMeta),
	}
}

// Register adds p to the catalog, invalidating its cached tool list.
func (c *Catalog) Register(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p.ID()] = p
	delete(c.cache, p.ID())
	if !contains(c.order, p.ID()) {
		c.order = append(c.order, p.ID())
	}
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// listProvider returns p's cached tool list, populating the cache on first
// access. A listing error degrades to an empty slice.
func (c *Catalog) listProvider(ctx context.Context, id string) []ToolMeta {
	c.mu.RLock()
	if cached, ok := c.cache[id]; ok {
		c.mu.RUnlock()
		return cached
	}
	p, ok := c.providers[id]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	tools, err := p.List(ctx)
	if err != nil {
		tools = nil
	}
	c.mu.Lock()
	c.cache[id] = tools
	c.mu.Unlock()
	return tools
}

// Resolve picks the provider earliest in the preferred order that exposes
// name, and returns its ToolMeta. found=false means no registered provider
// currently lists this tool.
func (c *Catalog) Resolve(ctx context.Context, name string) (ToolMeta, Provider, bool) {
	c.mu.RLock()
	order := append([]string(nil), c.order...)
	c.mu.RUnlock()

	for _, id := range order {
		for _, meta := range c.listProvider(ctx, id) {
			if meta.Name == name {
				c.mu.RLock()
				p := c.providers[id]
				c.mu.RUnlock()
				return meta, p, true
			}
		}
	}
	return ToolMeta{}, nil, false
}

// AllDefinitions returns every currently-listed tool across all providers,
// in preferred order, deduplicated by name (earliest provider wins) — the
// shape the LLM-facing decision step needs.
func (c *Catalog) AllDefinitions(ctx context.Context) []ToolMeta {
	c.mu.RLock()
	order := append([]string(nil), c.order...)
	c.mu.RUnlock()

	seen := make(map[string]bool)
	var out []ToolMeta
	for _, id := range order {
		for _, meta := range c.listProvider(ctx, id) {
			if seen[meta.Name] {
				continue
			}
			seen[meta.Name] = true
			out = append(out, meta)
		}
	}
	return out
}

// InvalidateCache drops cached tool lists for all providers, forcing the
// next Resolve/AllDefinitions to re-list.
func (c *Catalog) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string][]ToolMeta)
}
