// Package retry implements retry with exponential backoff for transient
// upstream failures. The gateway applies it only to GET requests; mutating
// methods are never retried because upstream services do not guarantee
// idempotency.
//
// Usage:
//
//	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
//	    return callBackend(ctx)
//	})
package retry
