package dcontext

import "context"

// DetachedContext returns a context that won't be canceled when the parent
// context is canceled. This is useful for operations that need to complete
// even after the triggering context is gone — e.g. the crash hook fired
// from Engine.Emergency, whose ctx argument is canceled by the very signal
// that woke the handler up.
//
// The detached context preserves all values from the parent context (logger,
// request ID, etc.) but removes cancellation/deadline behavior.
//
// Example usage:
//
//	detachedCtx := dcontext.DetachedContext(ctx)
//	// Use detachedCtx for operations that must complete even if ctx is canceled
//	if err := someOperation(detachedCtx); err != nil {
//		GetLogger(ctx).Errorf("operation failed: %v", err)
//	}
func DetachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
