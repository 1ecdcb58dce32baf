package contextkey

import "context"

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	SessionID key = "session_id"
	Language  key = "language"
	TestIndex key = "test_index"
)

// WithSession tags ctx with the execution session id and language.
func WithSession(ctx context.Context, sessionID, language string) context.Context {
	ctx = context.WithValue(ctx, SessionID, sessionID)
	return context.WithValue(ctx, Language, language)
}

// WithTestIndex tags ctx with the position of the test case being executed.
func WithTestIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, TestIndex, index)
}

// WithTraceID tags ctx with a caller supplied trace id. Empty ids are ignored.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceID, traceID)
}
