package taskmgr

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type taskMetrics struct {
	queueDepth   metric.Int64UpDownCounter
	enqueued     metric.Int64Counter
	completed    metric.Int64Counter
	failed       metric.Int64Counter
	cancelled    metric.Int64Counter
	dropped      metric.Int64Counter
	durationMs   metric.Float64Histogram
}

// metrics is package-level for the same reason internal/storage/dolt's
// doltMetrics is: the manager is constructed once per process but workers
// run on many goroutines, and there's no per-call configuration these
// instruments would need.
var metrics = newTaskMetrics()

func newTaskMetrics() taskMetrics {
	meter := otel.Meter("github.com/findingstore/findingstore/internal/taskmgr")

	queueDepth, _ := meter.Int64UpDownCounter(
		"task.queue.depth",
		metric.WithDescription("Number of tasks enqueued but not yet started"),
	)
	enqueued, _ := meter.Int64Counter("task.enqueued_total", metric.WithDescription("Tasks enqueued"))
	completed, _ := meter.Int64Counter("task.completed_total", metric.WithDescription("Tasks completed"))
	failed, _ := meter.Int64Counter("task.failed_total", metric.WithDescription("Tasks failed"))
	cancelled, _ := meter.Int64Counter("task.cancelled_total", metric.WithDescription("Tasks cancelled"))
	dropped, _ := meter.Int64Counter("task.dropped_total", metric.WithDescription("Tasks dropped (stale or reaped)"))
	durationMs, _ := meter.Float64Histogram(
		"task.duration_ms",
		metric.WithDescription("Wall-clock duration of a task's Run function"),
	)

	return taskMetrics{
		queueDepth: queueDepth, enqueued: enqueued, completed: completed,
		failed: failed, cancelled: cancelled, dropped: dropped, durationMs: durationMs,
	}
}
