package dolt

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type storeMetrics struct {
	lockWaitMs metric.Float64Histogram
	openTotal  metric.Int64Counter
}

// doltMetrics is package-level: the embedded
// engine is opened from many call sites (schema init, per-product open,
// tests) and threading a meter through every one of them would be more
// ceremony than value for a metrics instrument that never needs per-call
// configuration.
var doltMetrics = newStoreMetrics()

func newStoreMetrics() storeMetrics {
	meter := otel.Meter("github.com/findingstore/findingstore/internal/storage/dolt")

	lockWaitMs, _ := meter.Float64Histogram(
		"dolt.lock.wait_ms",
		metric.WithDescription("Time spent waiting for the Dolt directory access lock"),
	)
	openTotal, _ := meter.Int64Counter(
		"dolt.store.open_total",
		metric.WithDescription("Number of embedded Dolt store opens"),
	)

	return storeMetrics{lockWaitMs: lockWaitMs, openTotal: openTotal}
}
