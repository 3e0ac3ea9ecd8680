// Package metrics provides real-time metrics collection for the gateway.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Forwarded request counts per backend service
//   - Response times with percentile calculations (P50, P95, P99)
//   - HTTP status code distribution
//   - Retry and circuit-breaker rejection counts
//   - Health status and breaker state per service
//
// The collector runs in a dedicated goroutine and processes events without
// blocking the proxy path. Events are emitted with non-blocking semantics
// and dropped when the buffer is full.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseRelayed,
//		Service:    "portfolio",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot()
package metrics
