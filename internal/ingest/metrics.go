package ingest

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type ingestMetrics struct {
	lockWaitMs  metric.Float64Histogram
	durationMs  metric.Float64Histogram
	reportCount metric.Int64Counter
}

// metrics is package-level for the same reason as the storage layer's
// doltMetrics: mass_store_run is invoked from more than one call site (the
// façade's RPC handler, tests) and every one shares the same instruments.
var metrics = newIngestMetrics()

func newIngestMetrics() ingestMetrics {
	meter := otel.Meter("github.com/findingstore/findingstore/internal/ingest")

	lockWaitMs, _ := meter.Float64Histogram(
		"ingest.lock.wait_ms",
		metric.WithDescription("Time spent waiting for the per-(product,run_name) ingestion lock"),
	)
	durationMs, _ := meter.Float64Histogram(
		"ingest.run.duration_ms",
		metric.WithDescription("Wall time of one mass_store_run transaction"),
	)
	reportCount, _ := meter.Int64Counter(
		"ingest.reports.processed_total",
		metric.WithDescription("Number of reports reconciled across all ingestions"),
	)
	return ingestMetrics{lockWaitMs: lockWaitMs, durationMs: durationMs, reportCount: reportCount}
}
