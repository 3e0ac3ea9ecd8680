// Package circuitbreaker implements the circuit breaker pattern for backend
// service calls.
//
// A circuit breaker prevents cascading failures by temporarily rejecting
// requests to a failing backend. It has three states:
//
//   - CLOSED: Normal operation, calls pass through. Outcomes feed a rolling
//     window; when the window holds enough samples and the failure
//     percentage reaches the threshold, the breaker opens.
//   - OPEN: Calls are rejected with ErrOpen without touching the backend.
//   - HALF_OPEN: After the reset timeout, a limited number of trial calls
//     probe whether the backend recovered.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultSettings(), nil)
//	cb := registry.GetBreaker("portfolio")
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return callBackend(ctx)
//	})
//	if errors.Is(err, circuitbreaker.ErrOpen) {
//	    // Fast-fail: the backend was not called.
//	}
package circuitbreaker
