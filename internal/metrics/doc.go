// Package metrics collects proxy metrics off the request path.
//
// Handlers emit events into a buffered channel; a single goroutine folds them
// into per-route counters, response time percentiles and backend health, and
// mirrors them into a private Prometheus registry. Emitting never blocks: when
// the buffer is full the event is dropped.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Route:      "orders",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 302,
//	})
//
//	snapshot := collector.Snapshot()
//
// Pending events are drained when the collector's context is cancelled.
package metrics
