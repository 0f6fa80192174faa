package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	oasis "github.com/nevindra/runcore"
)

func invokeMap(t *testing.T, p *Provider, name, args string) map[string]any {
	t.Helper()
	v, err := p.Invoke(context.Background(), name, json.RawMessage(args), nil)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("%s: result is %T, want map", name, v)
	}
	return m
}

func TestFileTools_WriteReadRoundTrip(t *testing.T) {
	p := New(t.TempDir())

	out := invokeMap(t, p, "builtin.file_write", `{"path":"notes/a.txt","content":"hello"}`)
	if out["written_bytes"] != 5 {
		t.Errorf("written_bytes = %v, want 5", out["written_bytes"])
	}

	out = invokeMap(t, p, "builtin.file_read", `{"path":"notes/a.txt"}`)
	if out["content"] != "hello" {
		t.Errorf("content = %q, want %q", out["content"], "hello")
	}
	if out["truncated"] != false {
		t.Errorf("truncated = %v, want false", out["truncated"])
	}
}

func TestFileTools_ReadTruncatesLargeFiles(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, readPreviewMax+100)
	for i := range big {
		big[i] = 'x'
	}
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), big, 0o644); err != nil {
		t.Fatal(err)
	}
	p := New(dir)

	out := invokeMap(t, p, "builtin.file_read", `{"path":"big.txt"}`)
	if out["truncated"] != true {
		t.Errorf("truncated = %v, want true", out["truncated"])
	}
	if len(out["content"].(string)) != readPreviewMax {
		t.Errorf("content length = %d, want %d", len(out["content"].(string)), readPreviewMax)
	}
}

func TestFileTools_RejectsTraversalAndAbsolute(t *testing.T) {
	p := New(t.TempDir())

	for _, path := range []string{"../escape.txt", "a/../../b", "/etc/passwd"} {
		args, _ := json.Marshal(map[string]string{"path": path})
		_, err := p.Invoke(context.Background(), "builtin.file_read", args, nil)
		var inv *oasis.InvalidArgumentError
		if !errors.As(err, &inv) {
			t.Errorf("path %q: got %v, want InvalidArgumentError", path, err)
		}
	}
}

func TestFileTools_ListAndStat(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	p := New(dir)

	out := invokeMap(t, p, "builtin.file_list", `{}`)
	entries := out["entries"].([]map[string]any)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	out = invokeMap(t, p, "builtin.file_stat", `{"path":"sub"}`)
	if out["type"] != "directory" {
		t.Errorf("type = %v, want directory", out["type"])
	}
}

func TestProvider_UnknownToolFails(t *testing.T) {
	p := New(t.TempDir())

	for _, name := range []string{"web.search", "builtin.nope", "builtin.skill_search"} {
		_, err := p.Invoke(context.Background(), name, json.RawMessage(`{}`), nil)
		var nf *oasis.ToolNotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("%s: got %v, want ToolNotFoundError", name, err)
		}
	}
}

func TestStubProvider_AlwaysToolNotFound(t *testing.T) {
	s := NewStub()
	tools, err := s.List(context.Background())
	if err != nil || len(tools) != 0 {
		t.Fatalf("List = (%v, %v), want empty", tools, err)
	}
	_, err = s.Invoke(context.Background(), "anything", nil, nil)
	var nf *oasis.ToolNotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("got %v, want ToolNotFoundError", err)
	}
}

// --- skill authoring ---

type fakeSkillStore struct {
	skills map[string]oasis.Skill
}

func newFakeSkillStore() *fakeSkillStore {
	return &fakeSkillStore{skills: map[string]oasis.Skill{}}
}

func (f *fakeSkillStore) CreateSkill(_ context.Context, s oasis.Skill) error {
	f.skills[s.ID] = s
	return nil
}

func (f *fakeSkillStore) GetSkill(_ context.Context, id string) (oasis.Skill, error) {
	s, ok := f.skills[id]
	if !ok {
		return oasis.Skill{}, errors.New("no such skill")
	}
	return s, nil
}

func (f *fakeSkillStore) ListSkills(_ context.Context) ([]oasis.Skill, error) {
	var out []oasis.Skill
	for _, s := range f.skills {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSkillStore) UpdateSkill(_ context.Context, s oasis.Skill) error {
	f.skills[s.ID] = s
	return nil
}

func (f *fakeSkillStore) DeleteSkill(_ context.Context, id string) error {
	delete(f.skills, id)
	return nil
}

func (f *fakeSkillStore) SearchSkills(_ context.Context, _ []float32, topK int) ([]oasis.ScoredSkill, error) {
	var out []oasis.ScoredSkill
	for _, s := range f.skills {
		out = append(out, oasis.ScoredSkill{Skill: s, Score: 0.9})
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

type fakeEmbedding struct{}

func (fakeEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (fakeEmbedding) Dimensions() int { return 3 }
func (fakeEmbedding) Name() string    { return "fake" }

func TestSkillAuthor_CreateSearchUpdate(t *testing.T) {
	store := newFakeSkillStore()
	p := New(t.TempDir(), WithSkillAuthoring(store, fakeEmbedding{}))

	out := invokeMap(t, p, "builtin.skill_create",
		`{"name":"reviewer","description":"review go code","instructions":"be strict"}`)
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatal("create returned empty id")
	}
	if store.skills[id].Embedding == nil {
		t.Error("skill stored without embedding")
	}

	out = invokeMap(t, p, "builtin.skill_search", `{"query":"go review"}`)
	matches := out["matches"].([]map[string]any)
	if len(matches) != 1 || matches[0]["name"] != "reviewer" {
		t.Fatalf("search matches = %v", matches)
	}

	args, _ := json.Marshal(map[string]any{"id": id, "instructions": "be kind"})
	out = invokeMap(t, p, "builtin.skill_update", string(args))
	changed := out["changed"].([]string)
	if len(changed) != 1 || changed[0] != "instructions" {
		t.Errorf("changed = %v, want [instructions]", changed)
	}
	if store.skills[id].Instructions != "be kind" {
		t.Errorf("instructions = %q", store.skills[id].Instructions)
	}
}

func TestSkillAuthor_ValidatesInput(t *testing.T) {
	p := New(t.TempDir(), WithSkillAuthoring(newFakeSkillStore(), fakeEmbedding{}))

	cases := []struct {
		name string
		args string
	}{
		{"builtin.skill_search", `{"query":""}`},
		{"builtin.skill_create", `{"name":"x"}`},
		{"builtin.skill_update", `{}`},
	}
	for _, tc := range cases {
		_, err := p.Invoke(context.Background(), tc.name, json.RawMessage(tc.args), nil)
		var inv *oasis.InvalidInputError
		if !errors.As(err, &inv) {
			t.Errorf("%s %s: got %v, want InvalidInputError", tc.name, tc.args, err)
		}
	}
}
