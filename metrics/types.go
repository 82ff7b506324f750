package metrics

import (
	"strconv"
	"time"
)

// NewPerformance records how long an operation took, as a timer named
// perf.<operation>.duration_ms.
func NewPerformance(operation string, d time.Duration, opts ...Option) (Metric, error) {
	opts = append([]Option{WithTag("operation", operation)}, opts...)
	return New("perf."+operation+".duration_ms", durationMillis(d), Timer, opts...)
}

// NewDatabase records one database call as a timer named
// db.<operation>.duration_ms, tagged with the table and outcome.
func NewDatabase(operation, table string, d time.Duration, rows int64, success bool, opts ...Option) (Metric, error) {
	base := []Option{
		WithTag("table", table),
		WithTag("success", strconv.FormatBool(success)),
		WithMetadata(map[string]any{"rows": rows}),
	}
	return New("db."+operation+".duration_ms", durationMillis(d), Timer, append(base, opts...)...)
}

// NewBusiness counts a business event as business.<event>.count.
func NewBusiness(event string, value float64, opts ...Option) (Metric, error) {
	return New("business."+event+".count", value, Counter, opts...)
}

// NewErrorCount counts one error occurrence of errorType.
func NewErrorCount(errorType string, opts ...Option) (Metric, error) {
	opts = append([]Option{WithTag("error_type", errorType)}, opts...)
	return New("error.count", 1, Counter, opts...)
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
