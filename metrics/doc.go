// Package metrics holds the metric value type, the in-memory sliding-window
// aggregator and the two-stage collector that feeds both the aggregator and a
// durable store.
//
// Producers never block and never see an error from the collector:
//
//	m, err := metrics.New("db.query.duration_ms", 12.5, metrics.Timer,
//		metrics.WithTag("table", "messages"))
//	if err == nil {
//		collector.Collect(m)
//	}
//
// Construction is where malformed input is rejected; once a Metric exists it
// is immutable and flows through the pipeline unchanged.
package metrics
