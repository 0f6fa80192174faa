// Package settings implements the effective-settings merge: defaults < TOML
// file < env < DB, where the DB layer is the only one writable at runtime.
// Every Run embeds the resulting snapshot as input.settings_snapshot so a
// worker executing it later reproduces the settings that were in effect at
// creation time, even if the live settings have since changed.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	oasis "github.com/nevindra/runcore"
)

// RunConfig controls the queue/leaser knobs (RUN_LEASE_SECONDS, …).
type RunConfig struct {
	LeaseSeconds     int `json:"lease_seconds" toml:"lease_seconds"`
	HeartbeatSeconds int `json:"heartbeat_seconds" toml:"heartbeat_seconds"`
	PollSeconds      int `json:"poll_seconds" toml:"poll_seconds"`
	MaxAttempts      int `json:"max_attempts" toml:"max_attempts"`
}

// LLMConfig selects and configures the chat LLM collaborator.
// Provider is one of stub|openai|qwen|ollama; "qwen" and
// "ollama" resolve through provider/resolve's openai-compat path exactly
// like "openai" since all three speak the OpenAI chat-completions wire
// format, just against different BaseURL defaults.
type LLMConfig struct {
	Provider       string  `json:"provider" toml:"provider"`
	APIKey         string  `json:"api_key" toml:"api_key"`
	BaseURL        string  `json:"base_url" toml:"base_url"`
	Model          string  `json:"model" toml:"model"`
	TimeoutS       int     `json:"timeout_s" toml:"timeout_s"`
	MaxRetries     int     `json:"max_retries" toml:"max_retries"`
	RetryBackoffS  float64 `json:"retry_backoff_s" toml:"retry_backoff_s"`
	MaxPromptChars int     `json:"max_prompt_chars" toml:"max_prompt_chars"`
}

// WebSearchConfig selects the search backend.
type WebSearchConfig struct {
	Backend        string `json:"backend" toml:"backend"`
	TimeoutMs      int    `json:"timeout_ms" toml:"timeout_ms"`
	SearxngBaseURL string `json:"searxng_base_url" toml:"searxng_base_url"`
	BochaAPIKey    string `json:"bocha_api_key" toml:"bocha_api_key"`
}

// WebFetchConfig selects the fetch backend.
type WebFetchConfig struct {
	Backend   string `json:"backend" toml:"backend"`
	TimeoutMs int    `json:"timeout_ms" toml:"timeout_ms"`
	MaxBytes  int    `json:"max_bytes" toml:"max_bytes"`
	UserAgent string `json:"user_agent" toml:"user_agent"`
	Proxy     string `json:"proxy" toml:"proxy"`
}

// SkillsConfig points the SkillsProvider at its catalog root.
type SkillsConfig struct {
	Root         string `json:"root" toml:"root"`
	ListFallback bool   `json:"list_fallback" toml:"list_fallback"`
}

// AgentLoopConfig gates the orchestrator.
type AgentLoopConfig struct {
	Enabled                bool     `json:"enabled" toml:"enabled"`
	AllowedRunTypes        []string `json:"allowed_run_types" toml:"allowed_run_types"`
	DecisionTimeoutSeconds int      `json:"decision_timeout_seconds" toml:"decision_timeout_seconds"`
}

// TraceConfig is the trace verbosity knob: OFF | BASIC | FULL.
type TraceConfig struct {
	Verbosity string `json:"verbosity" toml:"verbosity"`
}

// Settings is the fully merged configuration a process needs to wire up
// the Run Execution Core.
type Settings struct {
	Run       RunConfig       `json:"run" toml:"run"`
	LLM       LLMConfig       `json:"llm" toml:"llm"`
	WebSearch WebSearchConfig `json:"web_search" toml:"web_search"`
	WebFetch  WebFetchConfig  `json:"web_fetch" toml:"web_fetch"`
	Skills    SkillsConfig    `json:"skills" toml:"skills"`
	AgentLoop AgentLoopConfig `json:"agent_loop" toml:"agent_loop"`
	Trace     TraceConfig     `json:"trace" toml:"trace"`
}

// validWebSearchBackends / validWebFetchBackends are the recognized
// values; an unrecognized WEB_SEARCH_BACKEND degrades to "stub" with a
// warning rather than failing startup.
var validWebSearchBackends = map[string]bool{"stub": true, "ddg_html": true, "searxng": true, "baidu": true, "bocha": true}
var validWebFetchBackends = map[string]bool{"stub": true, "httpx": true}
var validTraceVerbosity = map[string]bool{"OFF": true, "BASIC": true, "FULL": true}

// Defaults returns the system-default layer, the weakest tier of the
// merge (defaults < env < DB).
func Defaults() Settings {
	return Settings{
		Run: RunConfig{
			LeaseSeconds:     60,
			HeartbeatSeconds: 20,
			PollSeconds:      1,
			MaxAttempts:      5,
		},
		LLM: LLMConfig{
			Provider:       "stub",
			TimeoutS:       30,
			MaxRetries:     3,
			RetryBackoffS:  1.0,
			MaxPromptChars: 24000,
		},
		WebSearch: WebSearchConfig{
			Backend:   "stub",
			TimeoutMs: 15000,
		},
		WebFetch: WebFetchConfig{
			Backend:   "stub",
			TimeoutMs: 15000,
			MaxBytes:  5 << 20,
			UserAgent: "runcore-webfetch/1.0",
		},
		Skills: SkillsConfig{
			ListFallback: false,
		},
		AgentLoop: AgentLoopConfig{
			Enabled:                true,
			AllowedRunTypes:        []string{"run_code_snippet"},
			DecisionTimeoutSeconds: 30,
		},
		Trace: TraceConfig{
			Verbosity: "BASIC",
		},
	}
}

// Warning is a non-fatal issue recorded while loading settings (e.g. an
// unrecognized backend name falling back to stub).
type Warning struct {
	Field   string
	Value   string
	Message string
}

// Load merges defaults -> a TOML file (if present and readable) -> process
// env vars (env always wins). tomlPath="" skips the file layer. Load never
// fails on a missing/malformed file or an unrecognized enum value — it
// degrades and reports the degradation via the returned warnings, matching
// the "unknown backend degrades to stub with a warning" policy.
func Load(tomlPath string) (Settings, []Warning) {
	cfg := Defaults()
	var warnings []Warning

	if tomlPath != "" {
		if data, err := os.ReadFile(tomlPath); err == nil {
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				warnings = append(warnings, Warning{Field: "toml", Value: tomlPath, Message: err.Error()})
				cfg = Defaults()
			}
		}
	}

	applyEnv(&cfg, &warnings)
	validate(&cfg, &warnings)
	return cfg, warnings
}

func applyEnv(cfg *Settings, warnings *[]Warning) {
	envInt(&cfg.Run.LeaseSeconds, "RUN_LEASE_SECONDS")
	envInt(&cfg.Run.HeartbeatSeconds, "RUN_HEARTBEAT_SECONDS")
	envInt(&cfg.Run.PollSeconds, "RUN_POLL_SECONDS")
	envInt(&cfg.Run.MaxAttempts, "RUN_MAX_ATTEMPTS")

	envStr(&cfg.LLM.Provider, "LLM_PROVIDER")
	envStr(&cfg.LLM.APIKey, "API_KEY")
	envStr(&cfg.LLM.BaseURL, "BASE_URL")
	envStr(&cfg.LLM.Model, "MODEL")
	envInt(&cfg.LLM.TimeoutS, "TIMEOUT_S")
	envInt(&cfg.LLM.MaxRetries, "MAX_RETRIES")
	envFloat(&cfg.LLM.RetryBackoffS, "RETRY_BACKOFF_S")
	envInt(&cfg.LLM.MaxPromptChars, "MAX_PROMPT_CHARS")

	envStr(&cfg.WebSearch.Backend, "WEB_SEARCH_BACKEND")
	envInt(&cfg.WebSearch.TimeoutMs, "WEB_SEARCH_TIMEOUT_MS")
	envStr(&cfg.WebSearch.SearxngBaseURL, "SEARXNG_BASE_URL")
	envStr(&cfg.WebSearch.BochaAPIKey, "BOCHA_API_KEY")

	envStr(&cfg.WebFetch.Backend, "WEB_FETCH_BACKEND")
	envInt(&cfg.WebFetch.TimeoutMs, "WEB_FETCH_TIMEOUT_MS")
	envInt(&cfg.WebFetch.MaxBytes, "WEB_FETCH_MAX_BYTES")
	envStr(&cfg.WebFetch.UserAgent, "WEB_FETCH_USER_AGENT")
	envStr(&cfg.WebFetch.Proxy, "WEB_FETCH_PROXY")

	if v := os.Getenv("SKILLS_ROOT"); v != "" {
		cfg.Skills.Root = v
	} else if v := os.Getenv("REPO_ROOT"); v != "" {
		cfg.Skills.Root = v
	}
	envBool(&cfg.Skills.ListFallback, "SKILLS_LIST_FALLBACK")

	envBool(&cfg.AgentLoop.Enabled, "AGENT_LOOP_ENABLED")
	if v := os.Getenv("AGENT_ALLOWED_RUN_TYPES"); v != "" {
		cfg.AgentLoop.AllowedRunTypes = strings.Split(v, ",")
	}
	envInt(&cfg.AgentLoop.DecisionTimeoutSeconds, "AGENT_DECISION_TIMEOUT_SECONDS")

	envStr(&cfg.Trace.Verbosity, "TRACE_VERBOSITY")
}

func validate(cfg *Settings, warnings *[]Warning) {
	if !validWebSearchBackends[cfg.WebSearch.Backend] {
		*warnings = append(*warnings, Warning{
			Field: "web_search.backend", Value: cfg.WebSearch.Backend,
			Message: "unknown WEB_SEARCH_BACKEND, falling back to stub",
		})
		cfg.WebSearch.Backend = "stub"
	}
	if !validWebFetchBackends[cfg.WebFetch.Backend] {
		*warnings = append(*warnings, Warning{
			Field: "web_fetch.backend", Value: cfg.WebFetch.Backend,
			Message: "unknown WEB_FETCH_BACKEND, falling back to stub",
		})
		cfg.WebFetch.Backend = "stub"
	}
	if !validTraceVerbosity[cfg.Trace.Verbosity] {
		*warnings = append(*warnings, Warning{
			Field: "trace.verbosity", Value: cfg.Trace.Verbosity,
			Message: "unknown trace verbosity, falling back to BASIC",
		})
		cfg.Trace.Verbosity = "BASIC"
	}
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "1" || strings.EqualFold(v, "true")
	}
}

// ApplyDBOverrides merges the DB override layer (dotted keys, e.g.
// "llm.model") onto base, the final and only layer allowed to be written
// at runtime (the DB layer is the only writable one). Unknown keys or
// malformed values are skipped rather than failing the merge — settings
// must always produce a usable Settings value.
func ApplyDBOverrides(base Settings, overrides map[string]json.RawMessage) Settings {
	if len(overrides) == 0 {
		return base
	}

	raw, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return base
	}

	for dotted, value := range overrides {
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			continue
		}
		setDotted(tree, strings.Split(dotted, "."), decoded)
	}

	merged, err := json.Marshal(tree)
	if err != nil {
		return base
	}
	var out Settings
	if err := json.Unmarshal(merged, &out); err != nil {
		return base
	}
	validate(&out, &[]Warning{})
	return out
}

// setDotted walks path into tree, creating intermediate maps as needed,
// and sets the final segment to value.
func setDotted(tree map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		tree[path[0]] = value
		return
	}
	next, ok := tree[path[0]].(map[string]any)
	if !ok {
		next = map[string]any{}
		tree[path[0]] = next
	}
	setDotted(next, path[1:], value)
}

// EffectiveFromStore loads defaults<-env, then applies the DB override
// layer from store (nil store = defaults/env only, matching a process
// that hasn't wired a SettingsStore yet).
func EffectiveFromStore(ctx context.Context, tomlPath string, store oasis.SettingsStore) (Settings, []Warning, error) {
	cfg, warnings := Load(tomlPath)
	if store == nil {
		return cfg, warnings, nil
	}
	overrides, err := store.GetSettingsOverrides(ctx)
	if err != nil {
		return cfg, warnings, fmt.Errorf("settings: load DB overrides: %w", err)
	}
	return ApplyDBOverrides(cfg, overrides), warnings, nil
}

// Snapshot marshals s as the opaque settings_snapshot every run's input
// embeds at creation time, so a worker executing it later sees the
// settings that were effective then, even if they've since changed.
func Snapshot(s Settings) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// FromSnapshot decodes a run's settings_snapshot back into Settings,
// falling back to Defaults() if the snapshot is empty or malformed (an
// older run created before a field existed, for instance).
func FromSnapshot(raw json.RawMessage) Settings {
	cfg := Defaults()
	if len(raw) == 0 {
		return cfg
	}
	_ = json.Unmarshal(raw, &cfg)
	return cfg
}
