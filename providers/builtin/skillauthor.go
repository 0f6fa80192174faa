package builtin

import (
	"context"
	"encoding/json"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/toolcatalog"
)

// skillAuthor implements the builtin.skill_* family: agents persist learned
// behavior as stored instruction packages and retrieve them by semantic
// similarity. Distinct from providers/skills, which lists and invokes
// sandboxed on-disk skills — these are durable records in the SkillStore.
type skillAuthor struct {
	store oasis.SkillStore
	emb   oasis.EmbeddingProvider
	topK  int
}

func newSkillAuthor(store oasis.SkillStore, emb oasis.EmbeddingProvider) *skillAuthor {
	return &skillAuthor{store: store, emb: emb, topK: 5}
}

func (a *skillAuthor) list() []toolcatalog.ToolMeta {
	meta := func(name, schema, risk string, sideEffects bool) toolcatalog.ToolMeta {
		return toolcatalog.ToolMeta{
			Name:            "builtin." + name,
			ProviderID:      "builtin",
			RiskLevel:       risk,
			SideEffects:     sideEffects,
			CapabilityLevel: toolcatalog.CapabilityL1,
			InputSchema:     json.RawMessage(schema),
		}
	}
	return []toolcatalog.ToolMeta{
		meta("skill_search",
			`{"type":"object","properties":{"query":{"type":"string","description":"Natural language query to find relevant skills"}},"required":["query"]}`,
			toolcatalog.RiskReadOnly, false),
		meta("skill_create",
			`{"type":"object","properties":{"name":{"type":"string"},"description":{"type":"string","description":"What this skill does, used for semantic search matching"},"instructions":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}},"tools":{"type":"array","items":{"type":"string"}},"model":{"type":"string"},"references":{"type":"array","items":{"type":"string"}}},"required":["name","description","instructions"]}`,
			toolcatalog.RiskWrite, true),
		meta("skill_update",
			`{"type":"object","properties":{"id":{"type":"string"},"name":{"type":"string"},"description":{"type":"string","description":"New description (triggers re-embedding)"},"instructions":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}},"tools":{"type":"array","items":{"type":"string"}},"model":{"type":"string"},"references":{"type":"array","items":{"type":"string"}}},"required":["id"]}`,
			toolcatalog.RiskWrite, true),
	}
}

func (a *skillAuthor) invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "skill_search":
		return a.search(ctx, args)
	case "skill_create":
		return a.create(ctx, args)
	case "skill_update":
		return a.update(ctx, args)
	default:
		return nil, &oasis.ToolNotFoundError{Name: "builtin." + name}
	}
}

func (a *skillAuthor) embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := a.emb.Embed(ctx, []string{text})
	if err != nil {
		return nil, &oasis.RuntimeError{Cause: err}
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, &oasis.RuntimeError{Cause: errEmptyEmbedding}
	}
	return vectors[0], nil
}

var errEmptyEmbedding = &oasis.InvalidInputError{Reason: "embedding returned empty result"}

func (a *skillAuthor) search(ctx context.Context, args json.RawMessage) (any, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &oasis.InvalidInputError{Reason: "decode args: " + err.Error()}
	}
	if p.Query == "" {
		return nil, &oasis.InvalidInputError{Reason: "query is required"}
	}

	vector, err := a.embed(ctx, p.Query)
	if err != nil {
		return nil, err
	}
	results, err := a.store.SearchSkills(ctx, vector, a.topK)
	if err != nil {
		return nil, &oasis.RuntimeError{Cause: err}
	}

	matches := make([]map[string]any, 0, len(results))
	for _, r := range results {
		matches = append(matches, map[string]any{
			"id":           r.ID,
			"name":         r.Name,
			"description":  r.Description,
			"instructions": r.Instructions,
			"tags":         r.Tags,
			"created_by":   r.CreatedBy,
			"score":        r.Score,
		})
	}
	return map[string]any{"matches": matches}, nil
}

func (a *skillAuthor) create(ctx context.Context, args json.RawMessage) (any, error) {
	var p struct {
		Name         string   `json:"name"`
		Description  string   `json:"description"`
		Instructions string   `json:"instructions"`
		Tags         []string `json:"tags"`
		Tools        []string `json:"tools"`
		Model        string   `json:"model"`
		References   []string `json:"references"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &oasis.InvalidInputError{Reason: "decode args: " + err.Error()}
	}
	if p.Name == "" || p.Description == "" || p.Instructions == "" {
		return nil, &oasis.InvalidInputError{Reason: "name, description, and instructions are required"}
	}

	vector, err := a.embed(ctx, p.Description)
	if err != nil {
		return nil, err
	}

	createdBy := "unknown"
	if runID, ok := oasis.RunIDFromContext(ctx); ok && runID != "" {
		createdBy = runID
	}

	now := oasis.NowUnix()
	skill := oasis.Skill{
		ID:           oasis.NewID(),
		Name:         p.Name,
		Description:  p.Description,
		Instructions: p.Instructions,
		Tools:        p.Tools,
		Model:        p.Model,
		Tags:         p.Tags,
		CreatedBy:    createdBy,
		References:   p.References,
		Embedding:    vector,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateSkill(ctx, skill); err != nil {
		return nil, &oasis.RuntimeError{Cause: err}
	}
	return map[string]any{"id": skill.ID, "name": skill.Name}, nil
}

func (a *skillAuthor) update(ctx context.Context, args json.RawMessage) (any, error) {
	var p struct {
		ID           string   `json:"id"`
		Name         *string  `json:"name"`
		Description  *string  `json:"description"`
		Instructions *string  `json:"instructions"`
		Tags         []string `json:"tags"`
		Tools        []string `json:"tools"`
		Model        *string  `json:"model"`
		References   []string `json:"references"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, &oasis.InvalidInputError{Reason: "decode args: " + err.Error()}
	}
	if p.ID == "" {
		return nil, &oasis.InvalidInputError{Reason: "skill id is required"}
	}

	skill, err := a.store.GetSkill(ctx, p.ID)
	if err != nil {
		return nil, &oasis.InvalidInputError{Reason: "skill not found: " + err.Error()}
	}

	var changed []string
	if p.Name != nil {
		skill.Name = *p.Name
		changed = append(changed, "name")
	}
	if p.Description != nil {
		skill.Description = *p.Description
		changed = append(changed, "description")
	}
	if p.Instructions != nil {
		skill.Instructions = *p.Instructions
		changed = append(changed, "instructions")
	}
	if p.Tags != nil {
		skill.Tags = p.Tags
		changed = append(changed, "tags")
	}
	if p.Tools != nil {
		skill.Tools = p.Tools
		changed = append(changed, "tools")
	}
	if p.Model != nil {
		skill.Model = *p.Model
		changed = append(changed, "model")
	}
	if p.References != nil {
		skill.References = p.References
		changed = append(changed, "references")
	}
	if len(changed) == 0 {
		return map[string]any{"id": skill.ID, "changed": []string{}}, nil
	}

	if p.Description != nil {
		vector, err := a.embed(ctx, skill.Description)
		if err != nil {
			return nil, err
		}
		skill.Embedding = vector
	}

	skill.UpdatedAt = oasis.NowUnix()
	if err := a.store.UpdateSkill(ctx, skill); err != nil {
		return nil, &oasis.RuntimeError{Cause: err}
	}
	return map[string]any{"id": skill.ID, "changed": changed}, nil
}
