package query

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type queryMetrics struct {
	latencyMs metric.Float64Histogram
	rows      metric.Int64Counter
}

var metrics = newQueryMetrics()

func newQueryMetrics() queryMetrics {
	meter := otel.Meter("github.com/findingstore/findingstore/internal/query")

	latencyMs, _ := meter.Float64Histogram(
		"query.report.latency_ms",
		metric.WithDescription("Wall time of one report listing query"),
	)
	rows, _ := meter.Int64Counter(
		"query.report.rows_total",
		metric.WithDescription("Report rows returned across all listing queries"),
	)
	return queryMetrics{latencyMs: latencyMs, rows: rows}
}
