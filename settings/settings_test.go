package settings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Run.LeaseSeconds != 60 {
		t.Errorf("expected lease 60, got %d", cfg.Run.LeaseSeconds)
	}
	if cfg.LLM.Provider != "stub" {
		t.Errorf("expected stub provider, got %s", cfg.LLM.Provider)
	}
	if cfg.WebSearch.Backend != "stub" {
		t.Errorf("expected stub search backend, got %s", cfg.WebSearch.Backend)
	}
	if cfg.Trace.Verbosity != "BASIC" {
		t.Errorf("expected BASIC trace verbosity, got %s", cfg.Trace.Verbosity)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[run]
lease_seconds = 120

[llm]
provider = "openai"
model = "gpt-4o-mini"
`), 0644)

	cfg, warnings := Load(path)
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if cfg.Run.LeaseSeconds != 120 {
		t.Errorf("expected lease 120, got %d", cfg.Run.LeaseSeconds)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected openai, got %s", cfg.LLM.Provider)
	}
	// Defaults preserved for untouched fields.
	if cfg.Run.HeartbeatSeconds != 20 {
		t.Errorf("expected default heartbeat 20, got %d", cfg.Run.HeartbeatSeconds)
	}
}

func TestEnvOverridesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[llm]
provider = "openai"
`), 0644)

	t.Setenv("LLM_PROVIDER", "qwen")
	t.Setenv("RUN_MAX_ATTEMPTS", "9")

	cfg, _ := Load(path)
	if cfg.LLM.Provider != "qwen" {
		t.Errorf("expected env to win with qwen, got %s", cfg.LLM.Provider)
	}
	if cfg.Run.MaxAttempts != 9 {
		t.Errorf("expected 9, got %d", cfg.Run.MaxAttempts)
	}
}

func TestUnknownBackendFallsBackToStubWithWarning(t *testing.T) {
	t.Setenv("WEB_SEARCH_BACKEND", "not_a_real_backend")

	cfg, warnings := Load("")
	if cfg.WebSearch.Backend != "stub" {
		t.Errorf("expected fallback to stub, got %s", cfg.WebSearch.Backend)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d: %v", len(warnings), warnings)
	}
	if warnings[0].Field != "web_search.backend" {
		t.Errorf("unexpected warning field %s", warnings[0].Field)
	}
}

func TestApplyDBOverrides(t *testing.T) {
	base := Defaults()
	overrides := map[string]json.RawMessage{
		"llm.model":          json.RawMessage(`"gpt-4o"`),
		"run.lease_seconds":  json.RawMessage(`90`),
		"agent_loop.enabled": json.RawMessage(`false`),
	}

	merged := ApplyDBOverrides(base, overrides)
	if merged.LLM.Model != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %s", merged.LLM.Model)
	}
	if merged.Run.LeaseSeconds != 90 {
		t.Errorf("expected 90, got %d", merged.Run.LeaseSeconds)
	}
	if merged.AgentLoop.Enabled {
		t.Errorf("expected agent loop disabled")
	}
	// Untouched fields survive the round trip.
	if merged.LLM.Provider != base.LLM.Provider {
		t.Errorf("expected provider preserved, got %s", merged.LLM.Provider)
	}
}

func TestApplyDBOverridesSkipsMalformedValues(t *testing.T) {
	base := Defaults()
	overrides := map[string]json.RawMessage{
		"llm.model": json.RawMessage(`not valid json`),
	}
	merged := ApplyDBOverrides(base, overrides)
	if merged.LLM.Model != base.LLM.Model {
		t.Errorf("malformed override should be skipped, got %s", merged.LLM.Model)
	}
}

type fakeSettingsStore struct {
	overrides map[string]json.RawMessage
	err       error
}

func (f *fakeSettingsStore) GetSettingsOverrides(ctx context.Context) (map[string]json.RawMessage, error) {
	return f.overrides, f.err
}
func (f *fakeSettingsStore) SetSettingOverride(ctx context.Context, key string, value json.RawMessage) error {
	if f.overrides == nil {
		f.overrides = map[string]json.RawMessage{}
	}
	f.overrides[key] = value
	return nil
}
func (f *fakeSettingsStore) DeleteSettingOverride(ctx context.Context, key string) error {
	delete(f.overrides, key)
	return nil
}

func TestEffectiveFromStore(t *testing.T) {
	store := &fakeSettingsStore{overrides: map[string]json.RawMessage{
		"llm.provider": json.RawMessage(`"ollama"`),
	}}

	cfg, _, err := EffectiveFromStore(context.Background(), "", store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected ollama, got %s", cfg.LLM.Provider)
	}
}

func TestEffectiveFromStoreNilStore(t *testing.T) {
	cfg, _, err := EffectiveFromStore(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Provider != "stub" {
		t.Errorf("expected defaults preserved, got %s", cfg.LLM.Provider)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Model = "test-model"

	snap := Snapshot(cfg)
	restored := FromSnapshot(snap)
	if restored.LLM.Model != "test-model" {
		t.Errorf("expected test-model, got %s", restored.LLM.Model)
	}
}

func TestFromSnapshotEmptyFallsBackToDefaults(t *testing.T) {
	restored := FromSnapshot(nil)
	if restored.LLM.Provider != "stub" {
		t.Errorf("expected defaults, got %s", restored.LLM.Provider)
	}
}
