package runcore

import "context"

type runIDKey struct{}
type tracerKey struct{}

// ContextWithRunID attaches the id of the run currently executing in ctx.
// The worker loop sets this before dispatching to a handler; tools that
// need to attribute an action to the run they're invoked from (e.g.
// the skill-author tools' CreatedBy) read it back with RunIDFromContext.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the id of the run executing in ctx, if any.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

type conversationIDKey struct{}

// ContextWithConversationID attaches the executing run's conversation id.
// The skills provider derives its project_id from it, falling back to the
// run id when the run has no conversation.
func ContextWithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationIDKey{}, conversationID)
}

// ConversationIDFromContext returns the conversation id attached to ctx, if any.
func ConversationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(conversationIDKey{}).(string)
	return id, ok
}

// ContextWithTracer attaches the Tracer the worker loop was configured with
// so deeper collaborators (taskctx.Step, toolcatalog.Runtime) can open child
// spans without threading a Tracer through every handler's Deps struct.
func ContextWithTracer(ctx context.Context, t Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

// TracerFromContext returns the Tracer attached to ctx, if any.
func TracerFromContext(ctx context.Context) (Tracer, bool) {
	t, ok := ctx.Value(tracerKey{}).(Tracer)
	return t, ok
}
