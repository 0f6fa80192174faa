package facts

import (
	"context"
	"errors"
	"regexp"
	"testing"

	oasis "github.com/nevindra/runcore"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestComputeSnapshotID_OrderIndependent(t *testing.T) {
	set := []oasis.Fact{
		{ID: "1", Key: "likes", Value: "cats", Status: oasis.FactActive},
		{ID: "2", Key: "language", Value: "zh-CN", Status: oasis.FactActive},
	}
	reversed := []oasis.Fact{set[1], set[0]}

	a := ComputeSnapshotID(set)
	b := ComputeSnapshotID(reversed)
	if a != b {
		t.Errorf("snapshot ids differ: %s vs %s", a, b)
	}
	if !hex64.MatchString(a) {
		t.Errorf("snapshot id %q is not 64-hex", a)
	}
}

func TestComputeSnapshotID_ChangesWhenSetChanges(t *testing.T) {
	base := []oasis.Fact{
		{ID: "1", Key: "likes", Value: "cats", Status: oasis.FactActive},
	}
	grown := append([]oasis.Fact{}, base...)
	grown = append(grown, oasis.Fact{ID: "3", Key: "new", Value: "v", Status: oasis.FactActive})

	if ComputeSnapshotID(base) == ComputeSnapshotID(grown) {
		t.Error("adding a fact must change the snapshot id")
	}
}

func TestComputeSnapshotID_NilValueCanonicalizesToEmptyString(t *testing.T) {
	withNil := []oasis.Fact{{ID: "1", Key: "k", Value: nil}}
	withEmpty := []oasis.Fact{{ID: "1", Key: "k", Value: ""}}
	if ComputeSnapshotID(withNil) != ComputeSnapshotID(withEmpty) {
		t.Error("nil value must hash identically to empty string")
	}
}

func TestComputeSnapshotID_IgnoresNonHashedFields(t *testing.T) {
	a := []oasis.Fact{{ID: "1", Key: "k", Value: "v", Status: oasis.FactActive, Scope: oasis.FactScopeGlobal}}
	b := []oasis.Fact{{ID: "1", Key: "k", Value: "v", Status: oasis.FactActive, Scope: oasis.FactScopeSession, SessionID: "s9"}}
	if ComputeSnapshotID(a) != ComputeSnapshotID(b) {
		t.Error("only {id, key, value} participate in the snapshot id")
	}
}

// fakeFactStore scripts per-scope responses.
type fakeFactStore struct {
	global     []oasis.Fact
	session    []oasis.Fact
	globalErr  error
	sessionErr error
}

func (f *fakeFactStore) ListFacts(_ context.Context, scope oasis.FactScope, _ oasis.FactStatus, _ string, _ string) ([]oasis.Fact, error) {
	if scope == oasis.FactScopeGlobal {
		return f.global, f.globalErr
	}
	return f.session, f.sessionErr
}

func TestFetch_SessionOverridesGlobalByKey(t *testing.T) {
	store := &fakeFactStore{
		global: []oasis.Fact{
			{ID: "g1", Key: "language", Value: "en"},
			{ID: "g2", Key: "likes", Value: "cats"},
		},
		session: []oasis.Fact{
			{ID: "s1", Key: "language", Value: "zh-CN"},
		},
	}

	got := Fetch(context.Background(), store, "conv-1", 0)
	if got.Source != SourceStore {
		t.Fatalf("source = %q, want store", got.Source)
	}
	if len(got.Facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(got.Facts))
	}
	// Sorted by (key, id): language before likes.
	if got.Facts[0].Key != "language" || got.Facts[0].Value != "zh-CN" {
		t.Errorf("facts[0] = %+v, want session language override", got.Facts[0])
	}
	if got.Facts[1].Key != "likes" {
		t.Errorf("facts[1] = %+v", got.Facts[1])
	}
}

func TestFetch_StoreErrorFallsBackToZero(t *testing.T) {
	store := &fakeFactStore{
		global:     []oasis.Fact{{ID: "g1", Key: "k", Value: "v"}},
		sessionErr: errors.New("db locked"),
	}

	got := Fetch(context.Background(), store, "conv-1", 0)
	if got.Source != SourceFallbackZero {
		t.Errorf("source = %q, want fallback_zero", got.Source)
	}
	if len(got.Facts) != 0 {
		t.Errorf("fallback must never return a partial list, got %d facts", len(got.Facts))
	}
}

func TestFetch_NilStoreFallsBackToZero(t *testing.T) {
	got := Fetch(context.Background(), nil, "conv-1", 0)
	if got.Source != SourceFallbackZero || len(got.Facts) != 0 {
		t.Errorf("got %+v", got)
	}
}

func TestFetch_TruncatesToLimit(t *testing.T) {
	store := &fakeFactStore{
		global: []oasis.Fact{
			{ID: "1", Key: "a", Value: "1"},
			{ID: "2", Key: "b", Value: "2"},
			{ID: "3", Key: "c", Value: "3"},
		},
	}
	got := Fetch(context.Background(), store, "", 2)
	if len(got.Facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(got.Facts))
	}
	if got.Facts[0].Key != "a" || got.Facts[1].Key != "b" {
		t.Errorf("truncation must keep (key, id) order: %+v", got.Facts)
	}
}
