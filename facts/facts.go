// Package facts fetches the active-facts set a handler consults and
// computes its content-addressed snapshot id, grounded on the same
// canonical-JSON/sha256 idiom oasis.ComputePatchID uses for diffs.
package facts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	oasis "github.com/nevindra/runcore"
)

// DefaultLimit is applied when callers pass limit<=0.
const DefaultLimit = 100

// Source classifies where a Fetch result came from.
const (
	SourceStore        = "store"
	SourceProvided     = "provided"
	SourceFallbackZero = "fallback_zero"
)

// Result is the outcome of Fetch: the merged active set plus the source
// classification the caller embeds as facts_snapshot_source.
type Result struct {
	Facts  []oasis.Fact
	Source string
}

// Fetch merges scope=global and scope=session(conversationID) ACTIVE facts
// by key, with session entries overriding global, stable-sorts by (key, id),
// and truncates to limit. Any store error is classified as fallback_zero —
// Fetch never returns a partial list.
func Fetch(ctx context.Context, store oasis.FactStore, conversationID string, limit int) Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if store == nil {
		return Result{Source: SourceFallbackZero}
	}

	global, err := store.ListFacts(ctx, oasis.FactScopeGlobal, oasis.FactActive, "", "")
	if err != nil {
		return Result{Source: SourceFallbackZero}
	}
	session, err := store.ListFacts(ctx, oasis.FactScopeSession, oasis.FactActive, conversationID, "")
	if err != nil {
		return Result{Source: SourceFallbackZero}
	}

	merged := make(map[string]oasis.Fact, len(global)+len(session))
	for _, f := range global {
		merged[f.Key] = f
	}
	for _, f := range session {
		merged[f.Key] = f
	}

	out := make([]oasis.Fact, 0, len(merged))
	for _, f := range merged {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return Result{Facts: out, Source: SourceStore}
}

// canonicalFact is the {id, key, value} projection the snapshot id hashes,
// with value canonicalized (nil -> "", maps/slices already sort by key via
// json.Marshal's own map-key ordering).
type canonicalFact struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ComputeSnapshotID returns the 64-hex sha256 of the canonical JSON of the
// sorted active set — same input set regardless of order always yields the
// same id. Sorted by (id, key): a deliberately different tie order from
// Fetch's (key, id) listing order — listing is for display, hashing only
// needs a stable order, and listing and hashing deliberately differ.
func ComputeSnapshotID(facts []oasis.Fact) string {
	sorted := make([]oasis.Fact, len(facts))
	copy(sorted, facts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ID != sorted[j].ID {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Key < sorted[j].Key
	})

	canon := make([]canonicalFact, len(sorted))
	for i, f := range sorted {
		value := f.Value
		if value == nil {
			value = ""
		}
		canon[i] = canonicalFact{ID: f.ID, Key: f.Key, Value: value}
	}

	// encoding/json already serializes object keys in sorted order and uses
	// compact separators, matching the canonical-JSON requirement.
	b, err := json.Marshal(canon)
	if err != nil {
		b = []byte("[]")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
