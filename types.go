package runcore

import "encoding/json"

// --- LLM protocol types ---
//
// These are the wire-shaped structures the Provider/LLM collaborators speak.
// Kept independent from the Run/TaskResult domain so handlers can compose an
// LLM call without pulling in run-store concerns.

type ChatMessage struct {
	Role       string          `json:"role"` // "system", "user", "assistant", "tool"
	Content    string          `json:"content"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

type ToolCall struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ResponseSchema tells the provider to enforce structured JSON output.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type ChatRequest struct {
	Messages       []ChatMessage   `json:"messages"`
	ResponseSchema *ResponseSchema `json:"response_schema,omitempty"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition is the LLM-facing shape of a callable tool: name,
// description, and JSON Schema parameters. The richer catalog metadata
// (provider id, risk level, capability level) lives in toolcatalog.ToolMeta;
// ToolDefinition is what gets handed to Provider.ChatWithTools.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}

// Skill is a stored instruction package. SkillsProvider lists and invokes
// skills that live on disk under SKILLS_ROOT (see providers/skills); this
// record is the self-authored variant the builtin.skill_* tools expose for
// agents that want to persist learned behavior to the durable store.
type Skill struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Instructions string    `json:"instructions"`
	Tools        []string  `json:"tools,omitempty"`
	Model        string    `json:"model,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedBy    string    `json:"created_by,omitempty"`
	References   []string  `json:"references,omitempty"`
	Embedding    []float32 `json:"-"`
	CreatedAt    int64     `json:"created_at"`
	UpdatedAt    int64     `json:"updated_at"`
}

// ScoredSkill is a Skill paired with its cosine similarity score.
type ScoredSkill struct {
	Skill
	Score float32
}
