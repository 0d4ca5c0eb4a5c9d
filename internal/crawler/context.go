package crawler

import "context"

type runIDKey struct{}

// WithRunID returns a context carrying the run ID. Sinks use it to label output.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run ID stored by WithRunID, or "" when absent.
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
