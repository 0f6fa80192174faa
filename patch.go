package runcore

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Patch is the artifact shape of the edit_docs_{propose,apply,cancel} two-phase
// flow.
type Patch struct {
	PatchID      string   `json:"patch_id"`
	PatchIDShort string   `json:"patch_id_short"`
	Diff         string   `json:"diff"`
	Files        []string `json:"files"`
	Applied      bool     `json:"applied"`
}

// PatchIDShortLen is the length of the truncated id surfaced to callers that
// need something shorter to echo back.
const PatchIDShortLen = 16

// ComputePatchID returns the 64-hex sha256 of the unified diff text — the
// patch's content fingerprint.
func ComputePatchID(diff string) string {
	sum := sha256.Sum256([]byte(diff))
	return hex.EncodeToString(sum[:])
}

// PatchIDMatches reports whether candidate is a non-empty prefix of full that
// uniquely identifies it — the rule `apply` uses to accept a shortened
// patch_id.
func PatchIDMatches(full, candidate string) bool {
	if candidate == "" {
		return false
	}
	return strings.HasPrefix(full, candidate)
}
