package skills

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	oasis "github.com/nevindra/runcore"
)

func catalogServer(t *testing.T, manifests []Manifest, invoked *map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /skills", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(manifests)
	})
	mux.HandleFunc("POST /skills/{id}/invoke", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if invoked != nil {
			*invoked = body
		}
		json.NewEncoder(w).Encode(map[string]any{
			"exec_id": "e1", "status": "SUCCEEDED", "exit_code": 0, "stdout": "hi", "stderr": "",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListNamespacesTools(t *testing.T) {
	srv := catalogServer(t, []Manifest{{ID: "python.run", Name: "Python"}}, nil)
	p := New(srv.URL, false)

	tools, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "skill.python.run" {
		t.Fatalf("tools = %+v", tools)
	}
	if tools[0].RiskLevel != "write" || tools[0].CapabilityLevel != "L2" {
		t.Errorf("skill tools must be write/L2, got %+v", tools[0])
	}
}

func TestListFailureRaisesWithoutFallback(t *testing.T) {
	p := New("http://127.0.0.1:1", false)
	_, err := p.List(context.Background())
	var le *oasis.SkillsListError
	if !errors.As(err, &le) {
		t.Fatalf("got %v, want SkillsListError", err)
	}
}

func TestListFailureFallsBackWhenConfigured(t *testing.T) {
	p := New("http://127.0.0.1:1", true)
	tools, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("fallback list: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
	}
	if !names["skill.python.run"] || !names["skill.shell.run"] {
		t.Errorf("fallback placeholders missing: %v", names)
	}
}

func TestInvokeRejectsUnlistedTool(t *testing.T) {
	srv := catalogServer(t, []Manifest{{ID: "python.run"}}, nil)
	p := New(srv.URL, false)
	if _, err := p.List(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := p.Invoke(context.Background(), "skill.shell.run", json.RawMessage(`{}`), nil)
	var nf *oasis.ToolNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want ToolNotFoundError", err)
	}
}

func TestInvokeMergesProjectIDFromContext(t *testing.T) {
	var invoked map[string]any
	srv := catalogServer(t, []Manifest{{ID: "python.run"}}, &invoked)
	p := New(srv.URL, false)
	if _, err := p.List(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := oasis.ContextWithConversationID(context.Background(), "conv-7")
	v, err := p.Invoke(ctx, "skill.python.run", json.RawMessage(`{"code":"print(1)"}`), nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if invoked["project_id"] != "conv-7" {
		t.Errorf("project_id = %v, want conv-7", invoked["project_id"])
	}
	result := v.(map[string]any)
	if result["status"] != "SUCCEEDED" {
		t.Errorf("status = %v", result["status"])
	}
}

func TestInvokeFallsBackToRunIDForProjectID(t *testing.T) {
	var invoked map[string]any
	srv := catalogServer(t, []Manifest{{ID: "python.run"}}, &invoked)
	p := New(srv.URL, false)
	if _, err := p.List(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := oasis.ContextWithRunID(context.Background(), "run-9")
	if _, err := p.Invoke(ctx, "skill.python.run", json.RawMessage(`{"code":"x"}`), nil); err != nil {
		t.Fatal(err)
	}
	if invoked["project_id"] != "run-9" {
		t.Errorf("project_id = %v, want run-9", invoked["project_id"])
	}
}
