package sqlite

import (
	"context"
	"testing"
	"time"

	oasis "github.com/nevindra/runcore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(":memory:")
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, err := s.CreateRun(ctx, oasis.CreateRunRequest{Type: "sleep", Title: "nap", Input: []byte(`{"seconds":1}`)})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if r.Status != oasis.RunQueued {
		t.Fatalf("expected queued, got %s", r.Status)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Type != "sleep" || got.Title != "nap" {
		t.Fatalf("unexpected run: %+v", got)
	}
}

func TestClaimNextFIFOAndHeartbeat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, _ := s.CreateRun(ctx, oasis.CreateRunRequest{Type: "a", Input: []byte(`{}`)})
	time.Sleep(2 * time.Millisecond)
	_, _ = s.CreateRun(ctx, oasis.CreateRunRequest{Type: "b", Input: []byte(`{}`)})

	claimed, found, err := s.ClaimNext(ctx, "worker-1", time.Minute, 5)
	if err != nil || !found {
		t.Fatalf("claim next: found=%v err=%v", found, err)
	}
	if claimed.ID != first.ID {
		t.Fatalf("expected FIFO order to claim %s first, got %s", first.ID, claimed.ID)
	}
	if claimed.Status != oasis.RunRunning {
		t.Fatalf("expected running, got %s", claimed.Status)
	}

	ok, err := s.Heartbeat(ctx, claimed.ID, "worker-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("heartbeat: ok=%v err=%v", ok, err)
	}

	ok, err = s.Heartbeat(ctx, claimed.ID, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if ok {
		t.Fatalf("heartbeat from wrong worker should fail")
	}
}

func TestCancelRunRejectsTerminal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, _ := s.CreateRun(ctx, oasis.CreateRunRequest{Type: "a", Input: []byte(`{}`)})
	_, ok, err := s.CancelRun(ctx, r.ID, "user requested")
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}

	_, ok, err = s.CancelRun(ctx, r.ID, "again")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ok {
		t.Fatalf("canceling an already-canceled run should be a no-op")
	}
}

func TestCompleteSuccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, _ := s.CreateRun(ctx, oasis.CreateRunRequest{Type: "a", Input: []byte(`{}`)})
	claimed, _, _ := s.ClaimNext(ctx, "worker-1", time.Minute, 5)

	out := oasis.TaskResult{Version: oasis.TaskResultVersion, OK: true, TaskType: "a"}
	if err := s.CompleteSuccess(ctx, claimed.ID, "worker-1", out); err != nil {
		t.Fatalf("complete success: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != oasis.RunSucceeded {
		t.Fatalf("expected succeeded, got %s", got.Status)
	}
	if got.Output == nil || !got.Output.OK {
		t.Fatalf("expected output preserved, got %+v", got.Output)
	}
}

func TestSkillCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sk := oasis.Skill{ID: oasis.NewID(), Name: "summarize", Description: "summarizes text", Instructions: "do it", CreatedAt: oasis.NowUnix(), UpdatedAt: oasis.NowUnix()}
	if err := s.CreateSkill(ctx, sk); err != nil {
		t.Fatalf("create skill: %v", err)
	}
	got, err := s.GetSkill(ctx, sk.ID)
	if err != nil {
		t.Fatalf("get skill: %v", err)
	}
	if got.Name != "summarize" {
		t.Fatalf("unexpected skill: %+v", got)
	}
	if err := s.DeleteSkill(ctx, sk.ID); err != nil {
		t.Fatalf("delete skill: %v", err)
	}
}

func TestClaimNextReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, _ := s.CreateRun(ctx, oasis.CreateRunRequest{Type: "a", Input: []byte(`{}`)})

	claimed, found, err := s.ClaimNext(ctx, "worker-a", 5*time.Millisecond, 5)
	if err != nil || !found || claimed.ID != r.ID {
		t.Fatalf("first claim: found=%v err=%v", found, err)
	}
	if claimed.Attempt != 1 {
		t.Fatalf("attempt after first claim = %d, want 1", claimed.Attempt)
	}

	// Worker A goes silent; once the lease lapses worker B promotes the run.
	time.Sleep(10 * time.Millisecond)
	reclaimed, found, err := s.ClaimNext(ctx, "worker-b", time.Minute, 5)
	if err != nil || !found {
		t.Fatalf("reclaim: found=%v err=%v", found, err)
	}
	if reclaimed.ID != r.ID || reclaimed.WorkerID != "worker-b" {
		t.Fatalf("reclaim got %+v", reclaimed)
	}
	if reclaimed.Attempt != 2 {
		t.Fatalf("attempt after reclaim = %d, want 2", reclaimed.Attempt)
	}

	// Worker A's stale heartbeat must fail and write nothing.
	ok, err := s.Heartbeat(ctx, r.ID, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if ok {
		t.Fatal("stale worker's heartbeat must return false")
	}
}

func TestClaimNextUnexpiredLeaseNotClaimable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, _ = s.CreateRun(ctx, oasis.CreateRunRequest{Type: "a", Input: []byte(`{}`)})
	if _, found, _ := s.ClaimNext(ctx, "worker-a", time.Minute, 5); !found {
		t.Fatal("first claim should succeed")
	}
	if _, found, _ := s.ClaimNext(ctx, "worker-b", time.Minute, 5); found {
		t.Fatal("run with a live lease must not be claimable")
	}
}

func TestClaimNextHandsOutOneClaimPastMaxAttempts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// maxAttempts=2: the run is claimable at attempts 0, 1, and 2 — the
	// last claim pushes attempt past the cap so the worker loop can fail it
	// with its dedicated attempt-exceeded error — and never again after.
	_, _ = s.CreateRun(ctx, oasis.CreateRunRequest{Type: "a", Input: []byte(`{}`)})
	for i := 0; i < 3; i++ {
		claimed, found, err := s.ClaimNext(ctx, "w", time.Millisecond, 2)
		if err != nil || !found {
			t.Fatalf("claim %d: found=%v err=%v", i, found, err)
		}
		if claimed.Attempt != i+1 {
			t.Fatalf("claim %d attempt = %d", i, claimed.Attempt)
		}
		time.Sleep(3 * time.Millisecond)
	}
	if _, found, _ := s.ClaimNext(ctx, "w", time.Millisecond, 2); found {
		t.Fatal("run past max attempts must not be claimable again")
	}
}

func TestHeartbeatOnCanceledRunReturnsFalse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, _ := s.CreateRun(ctx, oasis.CreateRunRequest{Type: "a", Input: []byte(`{}`)})
	if _, found, _ := s.ClaimNext(ctx, "w", time.Minute, 5); !found {
		t.Fatal("claim should succeed")
	}

	canceled, ok, err := s.CancelRun(ctx, r.ID, "user requested")
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	if canceled.CanceledBy != "user" {
		t.Errorf("canceled_by = %q, want user", canceled.CanceledBy)
	}
	if canceled.WorkerID != "" || canceled.LeaseExpiresAt != nil {
		t.Errorf("cancel must clear the lease: %+v", canceled)
	}

	ok, err = s.Heartbeat(ctx, r.ID, "w", time.Minute)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if ok {
		t.Fatal("heartbeat on a canceled run must return false")
	}
}

func TestRunningInvariantLeaseAndWorkerSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, _ := s.CreateRun(ctx, oasis.CreateRunRequest{Type: "a", Input: []byte(`{}`)})
	if r.WorkerID != "" || r.LeaseExpiresAt != nil {
		t.Fatalf("queued run must have no lease: %+v", r)
	}

	claimed, _, _ := s.ClaimNext(ctx, "w", time.Minute, 5)
	if claimed.WorkerID == "" || claimed.LeaseExpiresAt == nil {
		t.Fatalf("running run must carry worker_id and lease: %+v", claimed)
	}

	_ = s.CompleteSuccess(ctx, claimed.ID, "w", oasis.TaskResult{Version: oasis.TaskResultVersion, OK: true, TaskType: "a"})
	final, _ := s.GetRun(ctx, r.ID)
	if final.WorkerID != "" || final.LeaseExpiresAt != nil {
		t.Fatalf("terminal run must have no lease: %+v", final)
	}
}
