// Package memory is an in-process data.Store for tests and for hosts that
// want the query surface without a database. Registered as "memory".
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/metrics"
)

type driver struct{}

func (driver) Name() string { return "memory" }

func (driver) Open(_ context.Context, _ *config.Data) (data.Store, error) {
	return New(), nil
}

func init() {
	data.RegisterDriver(driver{})
}

// Store keeps rows in slices ordered by insertion.
type Store struct {
	mu      sync.RWMutex
	metrics []data.MetricRow
	errors  []data.ErrorRow
	nextID  int64
	closed  bool
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{now: time.Now}
}

func (s *Store) InsertMetrics(_ context.Context, batch []metrics.Metric) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return data.ErrClosed
	}
	for _, m := range batch {
		s.nextID++
		row := data.NewMetricRow(m)
		row.ID = s.nextID
		s.metrics = append(s.metrics, row)
	}
	return nil
}

func (s *Store) MetricsRecent(_ context.Context, q data.Query) ([]data.MetricRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, data.ErrClosed
	}

	out := make([]data.MetricRow, 0)
	for _, row := range s.metrics {
		if q.Name != "" && row.Name != q.Name {
			continue
		}
		if !q.Since.IsZero() && row.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, copyMetricRow(row))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit := data.NormalizeLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertErrors(_ context.Context, rows []data.ErrorRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return data.ErrClosed
	}
	for _, row := range rows {
		s.nextID++
		row.ID = s.nextID
		row.Context = copyMap(row.Context)
		s.errors = append(s.errors, row)
	}
	return nil
}

func (s *Store) ErrorsRecent(_ context.Context, q data.ErrorQuery) ([]data.ErrorRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, data.ErrClosed
	}

	out := make([]data.ErrorRow, 0)
	for _, row := range s.errors {
		if q.Fingerprint != "" && row.Fingerprint != q.Fingerprint {
			continue
		}
		if !q.Since.IsZero() && row.Timestamp.Before(q.Since) {
			continue
		}
		row.Context = copyMap(row.Context)
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit := data.NormalizeLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Cleanup(_ context.Context, retentionDays int) (int64, error) {
	cutoff := data.Cutoff(s.now(), retentionDays)
	if cutoff.IsZero() {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, data.ErrClosed
	}

	var removed int64
	keptMetrics := s.metrics[:0]
	for _, row := range s.metrics {
		if row.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		keptMetrics = append(keptMetrics, row)
	}
	clear(s.metrics[len(keptMetrics):])
	s.metrics = keptMetrics

	keptErrors := s.errors[:0]
	for _, row := range s.errors {
		if row.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		keptErrors = append(keptErrors, row)
	}
	clear(s.errors[len(keptErrors):])
	s.errors = keptErrors

	return removed, nil
}

// Len returns the number of metric and error rows held.
func (s *Store) Len() (metricRows, errorRows int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics), len(s.errors)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.metrics = nil
	s.errors = nil
	return nil
}

func copyMetricRow(row data.MetricRow) data.MetricRow {
	tags := make(map[string]string, len(row.Tags))
	for k, v := range row.Tags {
		tags[k] = v
	}
	row.Tags = tags
	row.Metadata = copyMap(row.Metadata)
	return row
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
