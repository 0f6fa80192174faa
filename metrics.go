package runcore

import "context"

// RunMetrics receives run-lifecycle measurements from the worker loop.
// The observer package provides an OTEL-backed implementation; a nil
// RunMetrics disables measurement.
type RunMetrics interface {
	// RunClaimed is recorded after a successful claim. attempt > 1 means the
	// run came back through the queue — a retry or a reclaimed lease.
	RunClaimed(ctx context.Context, runType string, attempt int)
	// RunCompleted is recorded after a terminal write, with the terminal
	// status (succeeded, failed, canceled) and wall-clock handler duration.
	RunCompleted(ctx context.Context, runType, status string, durationMs float64)
	// HeartbeatLost is recorded when a worker abandons a run because another
	// worker reclaimed its lease.
	HeartbeatLost(ctx context.Context, runType string)
}
