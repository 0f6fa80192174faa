package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	oasis "github.com/nevindra/runcore"
)

// fakeStore is an in-memory oasis.Store for HTTP-layer tests; it doesn't
// enforce the lease/claim invariants the real store/sqlite and
// store/postgres implementations do — those are exercised in their own
// packages.
type fakeStore struct {
	mu    sync.Mutex
	runs  map[string]oasis.Run
	nextID int
}

func newFakeStore() *fakeStore { return &fakeStore{runs: map[string]oasis.Run{}} }

func (s *fakeStore) CreateRun(ctx context.Context, req oasis.CreateRunRequest) (oasis.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := time.Unix(int64(s.nextID), 0)
	run := oasis.Run{
		ID:             fmt.Sprintf("run-%d", s.nextID),
		Type:           req.Type,
		Title:          req.Title,
		Status:         oasis.RunQueued,
		Input:          req.Input,
		ConversationID: req.ConversationID,
		ParentRunID:    req.ParentRunID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.runs[run.ID] = run
	return run, nil
}

func (s *fakeStore) GetRun(ctx context.Context, id string) (oasis.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return oasis.Run{}, fmt.Errorf("not found")
	}
	return run, nil
}

func (s *fakeStore) ListRuns(ctx context.Context, filter oasis.RunFilter) ([]oasis.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []oasis.Run
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *fakeStore) ListRunsByConversation(ctx context.Context, conversationID string, filter oasis.RunFilter) ([]oasis.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []oasis.Run
	for _, run := range s.runs {
		if run.ConversationID == conversationID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("not found")
	}
	delete(s.runs, id)
	return nil
}

func (s *fakeStore) CancelRun(ctx context.Context, id, reason string) (oasis.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return oasis.Run{}, false, nil
	}
	if run.Status.Terminal() {
		return oasis.Run{}, false, nil
	}
	run.Status = oasis.RunCanceled
	run.CancelReason = reason
	s.runs[id] = run
	return run, true, nil
}

func (s *fakeStore) ClaimNext(ctx context.Context, workerID string, lease time.Duration, maxAttempts int) (oasis.Run, bool, error) {
	return oasis.Run{}, false, nil
}
func (s *fakeStore) Heartbeat(ctx context.Context, id, workerID string, lease time.Duration) (bool, error) {
	return false, nil
}
func (s *fakeStore) CompleteSuccess(ctx context.Context, id, workerID string, output oasis.TaskResult) error {
	return nil
}
func (s *fakeStore) CompleteFailed(ctx context.Context, id, workerID string, errMsg string, output *oasis.TaskResult) error {
	return nil
}
func (s *fakeStore) CompleteCanceled(ctx context.Context, id, workerID string) error { return nil }
func (s *fakeStore) Init(ctx context.Context) error                                 { return nil }
func (s *fakeStore) Close() error                                                    { return nil }

func TestCreateRunRequiresType(t *testing.T) {
	router := NewRouter(Deps{Store: newFakeStore()})
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	router := NewRouter(Deps{Store: newFakeStore()})

	body := []byte(`{"type":"sleep","input":{"seconds":1}}`)
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var created oasis.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != oasis.RunQueued {
		t.Errorf("expected queued, got %s", created.Status)
	}

	req = httptest.NewRequest(http.MethodGet, "/runs/"+created.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	router := NewRouter(Deps{Store: newFakeStore()})
	req := httptest.NewRequest(http.MethodGet, "/runs/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelRun(t *testing.T) {
	store := newFakeStore()
	router := NewRouter(Deps{Store: store})

	run, _ := store.CreateRun(context.Background(), oasis.CreateRunRequest{Type: "sleep", Input: json.RawMessage(`{}`)})

	req := httptest.NewRequest(http.MethodPost, "/runs/"+run.ID+"/cancel", bytes.NewReader([]byte(`{"reason":"user request"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var canceled oasis.Run
	json.Unmarshal(rec.Body.Bytes(), &canceled)
	if canceled.Status != oasis.RunCanceled {
		t.Errorf("expected canceled, got %s", canceled.Status)
	}
}

func TestCancelAlreadyTerminalReturnsBadRequest(t *testing.T) {
	store := newFakeStore()
	router := NewRouter(Deps{Store: store})

	run, _ := store.CreateRun(context.Background(), oasis.CreateRunRequest{Type: "sleep", Input: json.RawMessage(`{}`)})
	store.mu.Lock()
	r := store.runs[run.ID]
	r.Status = oasis.RunSucceeded
	store.runs[run.ID] = r
	store.mu.Unlock()

	req := httptest.NewRequest(http.MethodPost, "/runs/"+run.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteRun(t *testing.T) {
	store := newFakeStore()
	router := NewRouter(Deps{Store: store})
	run, _ := store.CreateRun(context.Background(), oasis.CreateRunRequest{Type: "sleep", Input: json.RawMessage(`{}`)})

	req := httptest.NewRequest(http.MethodDelete, "/runs/"+run.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestListRunsFiltersByStatus(t *testing.T) {
	store := newFakeStore()
	router := NewRouter(Deps{Store: store})
	store.CreateRun(context.Background(), oasis.CreateRunRequest{Type: "sleep", Input: json.RawMessage(`{}`)})

	req := httptest.NewRequest(http.MethodGet, "/runs?status=queued", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Runs []oasis.Run `json:"runs"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(body.Runs))
	}
}

func TestCreateRunUnknownParentReturnsNotFound(t *testing.T) {
	router := NewRouter(Deps{Store: newFakeStore()})
	body := []byte(`{"type":"sleep","parent_run_id":"missing","input":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListRunsRejectsInvalidStatus(t *testing.T) {
	router := NewRouter(Deps{Store: newFakeStore()})
	req := httptest.NewRequest(http.MethodGet, "/runs?status=bogus", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEmitMessageRejectsNonTerminalRun(t *testing.T) {
	store := newFakeStore()
	router := NewRouter(Deps{Store: store})
	run, _ := store.CreateRun(context.Background(), oasis.CreateRunRequest{Type: "sleep", Input: json.RawMessage(`{}`)})

	req := httptest.NewRequest(http.MethodPost, "/internal/runs/"+run.ID+"/emit-message", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEmitMessageTerminalRunIsIdempotent(t *testing.T) {
	store := newFakeStore()
	var emitted int
	router := NewRouter(Deps{Store: store, Emit: func(context.Context, oasis.Run) { emitted++ }})
	run, _ := store.CreateRun(context.Background(), oasis.CreateRunRequest{Type: "sleep", Input: json.RawMessage(`{}`)})
	store.mu.Lock()
	r := store.runs[run.ID]
	r.Status = oasis.RunSucceeded
	store.runs[run.ID] = r
	store.mu.Unlock()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/internal/runs/"+run.ID+"/emit-message", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("call %d: expected 204, got %d", i, rec.Code)
		}
	}
	if emitted != 2 {
		t.Errorf("emit calls = %d, want 2 (dedup is the emitter's job)", emitted)
	}
}

func TestSkillsNotConfigured(t *testing.T) {
	router := NewRouter(Deps{Store: newFakeStore()})
	req := httptest.NewRequest(http.MethodGet, "/skills/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != "SKILLS_NOT_CONFIGURED" {
		t.Errorf("code = %q", body["code"])
	}
}
