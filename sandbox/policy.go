// Package sandbox executes one skill invocation inside a Docker container
// under a merged policy: per-exec workspace, byte-capped stdout/stderr
// capture, wall-clock timeout, and a persisted artifact directory.
package sandbox

import "encoding/json"

// NetMode values. "none" is the only value with special meaning; other
// values pass through to the container's NetworkMode as-is.
const (
	NetModeNone = "none"
)

// Policy is the effective resource/behavior envelope for one exec, the
// deep-merge of system defaults, settings, manifest.limits, and
// request-level policy_overrides.
type Policy struct {
	TimeoutMs              int     `json:"timeout_ms"`
	MaxStdoutBytes         int     `json:"max_stdout_bytes"`
	MaxStderrBytes         int     `json:"max_stderr_bytes"`
	MaxArtifactsBytesTotal int     `json:"max_artifacts_bytes_total"`
	MemoryMB               int     `json:"memory_mb"`
	CPUCores               float64 `json:"cpu_cores"`
	Pids                   int64   `json:"pids"`
	NetMode                string  `json:"net_mode"`
	MaxConcurrentExecs     int     `json:"max_concurrent_execs"`
}

// DefaultPolicy is the system-default layer, the first and weakest tier of
// the merge.
func DefaultPolicy() Policy {
	return Policy{
		TimeoutMs:              30_000,
		MaxStdoutBytes:         256 << 10,
		MaxStderrBytes:         256 << 10,
		MaxArtifactsBytesTotal: 10 << 20,
		MemoryMB:               512,
		CPUCores:               1.0,
		Pids:                   128,
		NetMode:                NetModeNone,
		MaxConcurrentExecs:     4,
	}
}

// MergePolicy deep-merges layers in order (weakest first): a later layer's
// non-zero field wins over an earlier one's. The call order in every caller
// is system defaults -> settings -> manifest.limits -> request-level
// policy_overrides.
func MergePolicy(layers ...Policy) Policy {
	out := Policy{}
	for _, l := range layers {
		if l.TimeoutMs != 0 {
			out.TimeoutMs = l.TimeoutMs
		}
		if l.MaxStdoutBytes != 0 {
			out.MaxStdoutBytes = l.MaxStdoutBytes
		}
		if l.MaxStderrBytes != 0 {
			out.MaxStderrBytes = l.MaxStderrBytes
		}
		if l.MaxArtifactsBytesTotal != 0 {
			out.MaxArtifactsBytesTotal = l.MaxArtifactsBytesTotal
		}
		if l.MemoryMB != 0 {
			out.MemoryMB = l.MemoryMB
		}
		if l.CPUCores != 0 {
			out.CPUCores = l.CPUCores
		}
		if l.Pids != 0 {
			out.Pids = l.Pids
		}
		if l.NetMode != "" {
			out.NetMode = l.NetMode
		}
		if l.MaxConcurrentExecs != 0 {
			out.MaxConcurrentExecs = l.MaxConcurrentExecs
		}
	}
	return out
}

// PolicyFromJSON decodes a policy layer from raw JSON (manifest.limits or
// policy_overrides), tolerating an empty/absent layer.
func PolicyFromJSON(raw json.RawMessage) (Policy, error) {
	var p Policy
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, err
	}
	return p, nil
}
