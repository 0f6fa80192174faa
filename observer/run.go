package observer

import (
	"context"

	oasis "github.com/nevindra/runcore"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// runMetrics implements oasis.RunMetrics on top of the OTEL instruments.
type runMetrics struct {
	inst *Instruments
}

// NewRunMetrics returns an oasis.RunMetrics the worker loop records claims,
// completions, and lost heartbeats against.
func NewRunMetrics(inst *Instruments) oasis.RunMetrics {
	return &runMetrics{inst: inst}
}

func (m *runMetrics) RunClaimed(ctx context.Context, runType string, attempt int) {
	m.inst.RunClaims.Add(ctx, 1, metric.WithAttributes(
		AttrRunType.String(runType),
		attribute.Bool("retry", attempt > 1),
	))
}

func (m *runMetrics) RunCompleted(ctx context.Context, runType, status string, durationMs float64) {
	m.inst.RunCompletions.Add(ctx, 1, metric.WithAttributes(
		AttrRunType.String(runType),
		AttrRunStatus.String(status),
	))
	m.inst.RunDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrRunType.String(runType),
	))
}

func (m *runMetrics) HeartbeatLost(ctx context.Context, runType string) {
	m.inst.HeartbeatsLost.Add(ctx, 1, metric.WithAttributes(
		AttrRunType.String(runType),
	))
}

var _ oasis.RunMetrics = (*runMetrics)(nil)
