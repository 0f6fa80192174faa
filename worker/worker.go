// Package worker drives the poll/claim/dispatch/finalize loop.
// Each Loop is single-threaded: it processes one run at a time, end to end,
// before claiming the next. Running several workers means running several
// Loops, typically one per process.
package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/queue"
)

// ErrHeartbeatLost is raised by a HeartbeatFunc when the lease has been
// reclaimed by another worker. It is never translated into complete_failed —
// the run already belongs to someone else.
var ErrHeartbeatLost = errors.New("worker: heartbeat lost (lease reclaimed)")

// ErrCanceled is raised by a HeartbeatFunc when the run was canceled by a
// user while this worker held it.
var ErrCanceled = errors.New("worker: run canceled")

// HeartbeatFunc extends the run's lease and surfaces pre-emption. Handlers
// call it between blocking operations (sandbox wait, tool HTTP calls, LLM
// calls, sleep ticks) so the worker can be interrupted at those points.
type HeartbeatFunc func(ctx context.Context) error

// Handler executes one run's type and returns its task_result_v0 envelope.
// Handlers MUST populate Output.OK — the worker treats a missing/zero value
// as ok=false.
type Handler interface {
	Handle(ctx context.Context, run oasis.Run, hb HeartbeatFunc) (oasis.TaskResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, run oasis.Run, hb HeartbeatFunc) (oasis.TaskResult, error)

func (f HandlerFunc) Handle(ctx context.Context, run oasis.Run, hb HeartbeatFunc) (oasis.TaskResult, error) {
	return f(ctx, run, hb)
}

// Loop is one worker process's claim/dispatch/finalize driver.
type Loop struct {
	ID       string
	store    oasis.Store
	q        *queue.Queue
	handlers map[string]Handler
	logger   *zap.Logger
	tracer   oasis.Tracer
	metrics  oasis.RunMetrics

	// emitMessage is called after a terminal write, best-effort, mirroring
	// the chat-emitter collaborator. Nil disables it.
	emitMessage func(ctx context.Context, run oasis.Run)
}

// Option configures a Loop.
type Option func(*Loop)

func WithLogger(l *zap.Logger) Option       { return func(w *Loop) { w.logger = l } }
func WithTracer(t oasis.Tracer) Option      { return func(w *Loop) { w.tracer = t } }
func WithMetrics(m oasis.RunMetrics) Option { return func(w *Loop) { w.metrics = m } }
func WithEmitMessage(f func(ctx context.Context, run oasis.Run)) Option {
	return func(w *Loop) { w.emitMessage = f }
}

// New creates a Loop with a freshly generated worker id.
func New(store oasis.Store, q *queue.Queue, handlers map[string]Handler, opts ...Option) *Loop {
	l := &Loop{
		ID:       NewWorkerID(),
		store:    store,
		q:        q,
		handlers: handlers,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewWorkerID generates "hostname-pid-random8".
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), hex.EncodeToString(buf))
}

// Run blocks, polling and executing runs until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("worker: started", zap.String("worker_id", l.ID))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("worker: stopped", zap.String("worker_id", l.ID))
			return ctx.Err()
		default:
		}

		run, found, err := l.q.Claim(ctx, l.ID)
		if err != nil {
			l.logger.Error("worker: claim failed", zap.Error(err))
			if !sleepCtx(ctx, l.q.Config().Poll) {
				return ctx.Err()
			}
			continue
		}
		if !found {
			if !sleepCtx(ctx, l.q.Config().Poll) {
				return ctx.Err()
			}
			continue
		}

		l.process(ctx, run)
	}
}

// process drives one claimed run end to end.
func (l *Loop) process(ctx context.Context, run oasis.Run) {
	logger := l.logger.With(zap.String("run_id", run.ID), zap.String("run_type", run.Type), zap.String("worker_id", l.ID), zap.Int("attempt", run.Attempt))
	if l.metrics != nil {
		l.metrics.RunClaimed(ctx, run.Type, run.Attempt)
	}
	started := time.Now()
	completed := func(status string) {
		if l.metrics != nil {
			l.metrics.RunCompleted(ctx, run.Type, status, float64(time.Since(started).Milliseconds()))
		}
	}

	if run.Status == oasis.RunCanceled {
		logger.Info("worker: run already canceled, skipping")
		return
	}

	if run.Attempt > l.q.Config().MaxAttempts {
		logger.Warn("worker: attempt exceeded, failing")
		l.completeFailed(ctx, run, "attempt exceeded max_attempts", nil)
		return
	}

	handler, ok := l.handlers[run.Type]
	if !ok {
		l.completeFailed(ctx, run, fmt.Sprintf("no handler registered for run type %q", run.Type), nil)
		return
	}

	ctx = oasis.ContextWithRunID(ctx, run.ID)
	if run.ConversationID != "" {
		ctx = oasis.ContextWithConversationID(ctx, run.ConversationID)
	}

	var span oasis.Span
	if l.tracer != nil {
		ctx = oasis.ContextWithTracer(ctx, l.tracer)
		ctx, span = l.tracer.Start(ctx, "worker.execute",
			oasis.StringAttr("run.id", run.ID), oasis.StringAttr("run.type", run.Type))
	}

	hb := func(ctx context.Context) error {
		// Re-query status so a cancel that raced the claim is caught even
		// if the heartbeat update itself would still match.
		current, err := l.store.GetRun(ctx, run.ID)
		if err == nil && current.Status == oasis.RunCanceled {
			return ErrCanceled
		}
		ok, err := l.q.Heartbeat(ctx, run.ID, l.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrHeartbeatLost
		}
		return nil
	}

	output, err := func() (result oasis.TaskResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return handler.Handle(ctx, run, hb)
	}()

	if span != nil {
		if err != nil {
			span.Error(err)
		}
		span.End()
	}

	switch {
	case errors.Is(err, ErrHeartbeatLost):
		logger.Info("worker: heartbeat lost, abandoning run (another worker owns it)")
		if l.metrics != nil {
			l.metrics.HeartbeatLost(ctx, run.Type)
		}
		return
	case errors.Is(err, ErrCanceled):
		logger.Info("worker: run canceled mid-execution")
		l.completeCanceled(ctx, run)
		completed(string(oasis.RunCanceled))
		return
	case err != nil:
		logger.Error("worker: handler error", zap.Error(err))
		l.completeFailed(ctx, run, err.Error(), nil)
		completed(string(oasis.RunFailed))
		return
	}

	if output.Version == "" {
		// Missing ok: treat as failure, persist envelope.
		output.Version = oasis.TaskResultVersion
		output.TaskType = run.Type
	}
	if !output.OK {
		logger.Warn("worker: handler reported failure", zap.String("error", errMessage(output.Error)))
		l.completeFailed(ctx, run, errMessage(output.Error), &output)
		completed(string(oasis.RunFailed))
		return
	}
	if output.Yielded {
		// Parent suspension: leave the run in its current running state
		// rather than writing a terminal status. The in-process
		// orchestrator driver (see package orchestrator) never actually
		// returns Yielded=true from within a single Handle call — it
		// blocks on each child run directly — so this path only fires for
		// handlers that intentionally hand control back to a future claim.
		logger.Info("worker: run yielded, leaving running for a future pass")
		return
	}

	logger.Info("worker: run succeeded")
	if err := l.store.CompleteSuccess(ctx, run.ID, l.ID, output); err != nil {
		logger.Error("worker: complete success failed", zap.Error(err))
		return
	}
	completed(string(oasis.RunSucceeded))
	if l.emitMessage != nil && run.ParentRunID == "" {
		final, err := l.store.GetRun(ctx, run.ID)
		if err == nil {
			l.emitMessage(ctx, final)
		}
	}
}

func (l *Loop) completeFailed(ctx context.Context, run oasis.Run, msg string, output *oasis.TaskResult) {
	if err := l.store.CompleteFailed(ctx, run.ID, l.ID, msg, output); err != nil {
		l.logger.Error("worker: complete failed write error", zap.Error(err))
		return
	}
	if l.emitMessage != nil && run.ParentRunID == "" {
		final, err := l.store.GetRun(ctx, run.ID)
		if err == nil {
			l.emitMessage(ctx, final)
		}
	}
}

func (l *Loop) completeCanceled(ctx context.Context, run oasis.Run) {
	if err := l.store.CompleteCanceled(ctx, run.ID, l.ID); err != nil {
		l.logger.Error("worker: complete canceled write error", zap.Error(err))
	}
}

func errMessage(e *oasis.ErrorInfo) string {
	if e == nil {
		return "unknown error"
	}
	return e.Message
}

// sleepCtx sleeps for d or returns early (false) if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
