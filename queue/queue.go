// Package queue wraps a runcore.Store with the FIFO-by-updated_at claim
// protocol and lease/heartbeat defaults. The Store itself is
// where the atomic conditional updates live; Queue just fixes the
// lease/heartbeat/poll/max-attempts knobs so callers (worker) don't thread
// five durations through every call.
package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	oasis "github.com/nevindra/runcore"
)

// Lease/heartbeat/poll/attempt defaults.
const (
	DefaultLease       = 60 * time.Second
	DefaultHeartbeat   = 20 * time.Second
	DefaultPoll        = 1 * time.Second
	DefaultMaxAttempts = 5
)

// Config holds the lease/heartbeat/poll/attempt knobs, overridable via the
// RUN_LEASE_SECONDS / RUN_HEARTBEAT_SECONDS / RUN_POLL_SECONDS /
// RUN_MAX_ATTEMPTS settings.
type Config struct {
	Lease       time.Duration
	Heartbeat   time.Duration
	Poll        time.Duration
	MaxAttempts int
}

// DefaultConfig returns the documented lease defaults.
func DefaultConfig() Config {
	return Config{
		Lease:       DefaultLease,
		Heartbeat:   DefaultHeartbeat,
		Poll:        DefaultPoll,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Queue is a thin, config-bound facade over a Store's claim protocol.
type Queue struct {
	store  oasis.Store
	cfg    Config
	logger *zap.Logger
	tracer oasis.Tracer
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the structured logger used for claim/heartbeat failures.
func WithLogger(l *zap.Logger) Option { return func(q *Queue) { q.logger = l } }

// WithTracer sets the tracer used to span claim/heartbeat calls.
func WithTracer(t oasis.Tracer) Option { return func(q *Queue) { q.tracer = t } }

// New creates a Queue over store with cfg. Zero fields in cfg fall back to
// DefaultConfig's values.
func New(store oasis.Store, cfg Config, opts ...Option) *Queue {
	d := DefaultConfig()
	if cfg.Lease <= 0 {
		cfg.Lease = d.Lease
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = d.Heartbeat
	}
	if cfg.Poll <= 0 {
		cfg.Poll = d.Poll
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	q := &Queue{store: store, cfg: cfg, logger: zap.NewNop()}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Queue) Config() Config { return q.cfg }

// Claim attempts to lease the oldest eligible run for workerID. found=false
// means no candidate was available; the caller should sleep Config.Poll and
// retry.
func (q *Queue) Claim(ctx context.Context, workerID string) (run oasis.Run, found bool, err error) {
	if q.tracer != nil {
		var span oasis.Span
		ctx, span = q.tracer.Start(ctx, "queue.claim", oasis.StringAttr("worker.id", workerID))
		defer func() {
			if err != nil {
				span.Error(err)
			}
			span.SetAttr(oasis.BoolAttr("found", found))
			span.End()
		}()
	}
	run, found, err = q.store.ClaimNext(ctx, workerID, q.cfg.Lease, q.cfg.MaxAttempts)
	if err != nil {
		q.logger.Error("queue: claim failed", zap.String("worker_id", workerID), zap.Error(err))
	}
	return run, found, err
}

// Heartbeat extends the lease for (id, workerID). ok=false means the run was
// pre-empted or canceled; the caller must abort without writing a terminal
// status.
func (q *Queue) Heartbeat(ctx context.Context, id, workerID string) (ok bool, err error) {
	if q.tracer != nil {
		var span oasis.Span
		ctx, span = q.tracer.Start(ctx, "queue.heartbeat", oasis.StringAttr("run.id", id), oasis.StringAttr("worker.id", workerID))
		defer func() {
			if err != nil {
				span.Error(err)
			}
			span.SetAttr(oasis.BoolAttr("ok", ok))
			span.End()
		}()
	}
	ok, err = q.store.Heartbeat(ctx, id, workerID, q.cfg.Heartbeat)
	if err != nil {
		q.logger.Error("queue: heartbeat failed", zap.String("run_id", id), zap.String("worker_id", workerID), zap.Error(err))
	}
	return ok, err
}
