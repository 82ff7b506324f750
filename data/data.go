// Package data defines the durable store contract for metrics and error
// occurrences, the row shapes it persists, and a registry through which
// backends make themselves available by name.
//
// Backends register from init, following database/sql:
//
//	import _ "github.com/ncobase/telemetry/data/sqlite"
//
//	store, err := data.Open(ctx, cfg.Data)
package data

import (
	"context"
	"errors"
	"time"

	"github.com/ncobase/telemetry/metrics"
)

const (
	// DefaultLimit is used when a query does not set one.
	DefaultLimit = 100
	// MaxLimit caps any single query.
	MaxLimit = 10000
)

var (
	// ErrUnknownDriver is returned by Open for an unregistered driver name.
	ErrUnknownDriver = errors.New("unknown data driver")
	// ErrDisabled is returned by Open when no driver is configured.
	ErrDisabled = errors.New("data store disabled")
	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("data store closed")
)

// MetricRow is the flattened, persisted shape of a metric.
type MetricRow struct {
	ID        int64             `json:"id"`
	Timestamp time.Time         `json:"ts"`
	Name      string            `json:"name"`
	Kind      metrics.Kind      `json:"kind"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags"`
	Metadata  map[string]any    `json:"metadata"`
}

// ErrorRow is one persisted error occurrence.
type ErrorRow struct {
	ID          int64          `json:"id"`
	Timestamp   time.Time      `json:"ts"`
	Fingerprint string         `json:"fingerprint"`
	ErrorType   string         `json:"error_type"`
	Message     string         `json:"message"`
	Stack       string         `json:"stack"`
	Context     map[string]any `json:"context"`
}

// Query filters MetricsRecent. Zero fields do not filter.
type Query struct {
	Limit int
	Name  string
	Since time.Time
}

// ErrorQuery filters ErrorsRecent. Zero fields do not filter.
type ErrorQuery struct {
	Limit       int
	Fingerprint string
	Since       time.Time
}

// MetricStore persists metric batches and reads them back newest first.
type MetricStore interface {
	InsertMetrics(ctx context.Context, batch []metrics.Metric) error
	MetricsRecent(ctx context.Context, q Query) ([]MetricRow, error)
}

// ErrorStore persists error occurrences and reads them back newest first.
type ErrorStore interface {
	InsertErrors(ctx context.Context, rows []ErrorRow) error
	ErrorsRecent(ctx context.Context, q ErrorQuery) ([]ErrorRow, error)
}

// Store is a complete durable backend.
type Store interface {
	MetricStore
	ErrorStore
	// Cleanup deletes rows of both kinds older than retentionDays and
	// returns how many were removed. A non-positive value deletes nothing.
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
	Close() error
}

// NewMetricRow flattens m.
func NewMetricRow(m metrics.Metric) MetricRow {
	return MetricRow{
		Timestamp: m.Timestamp(),
		Name:      m.Name(),
		Kind:      m.Kind(),
		Value:     m.Value(),
		Tags:      m.Tags(),
		Metadata:  m.Metadata(),
	}
}

// NormalizeLimit applies DefaultLimit and MaxLimit.
func NormalizeLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}

// Cutoff returns the instant before which rows are expired, or the zero
// time when retentionDays disables cleanup.
func Cutoff(now time.Time, retentionDays int) time.Time {
	if retentionDays <= 0 {
		return time.Time{}
	}
	return now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
}
