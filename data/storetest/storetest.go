// Package storetest is a conformance suite every data.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) data.Store

// Run exercises the full data.Store contract.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s data.Store)
	}{
		{"InsertEmpty", testInsertEmpty},
		{"RoundTrip", testRoundTrip},
		{"FilterByName", testFilterByName},
		{"FilterBySince", testFilterBySince},
		{"Limit", testLimit},
		{"SameTimestamp", testSameTimestamp},
		{"Errors", testErrors},
		{"Cleanup", testCleanup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func metric(t *testing.T, name string, v float64, kind metrics.Kind, ts time.Time, tags map[string]string) metrics.Metric {
	t.Helper()
	m, err := metrics.New(name, v, kind, metrics.WithTags(tags), metrics.WithTimestamp(ts),
		metrics.WithMetadata(map[string]any{"source": "storetest"}))
	require.NoError(t, err)
	return m
}

func testInsertEmpty(t *testing.T, s data.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertMetrics(ctx, nil))
	require.NoError(t, s.InsertErrors(ctx, nil))

	rows, err := s.MetricsRecent(ctx, data.Query{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testRoundTrip(t *testing.T, s data.Store) {
	ctx := context.Background()
	base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	batch := []metrics.Metric{
		metric(t, "db.query.duration_ms", 12.5, metrics.Timer, base, map[string]string{"table": "users"}),
		metric(t, "business.forward.count", 1, metrics.Counter, base.Add(time.Second), map[string]string{"success": "true"}),
		metric(t, "queue.depth", 7, metrics.Gauge, base.Add(2*time.Second), nil),
	}
	require.NoError(t, s.InsertMetrics(ctx, batch))

	rows, err := s.MetricsRecent(ctx, data.Query{Limit: len(batch)})
	require.NoError(t, err)
	require.Len(t, rows, len(batch))

	for i, row := range rows {
		want := batch[len(batch)-1-i]
		assert.Equal(t, want.Name(), row.Name)
		assert.Equal(t, want.Value(), row.Value)
		assert.Equal(t, want.Kind(), row.Kind)
		assert.WithinDuration(t, want.Timestamp(), row.Timestamp, time.Millisecond)
		assert.Equal(t, want.Tags(), row.Tags)
		assert.Equal(t, "storetest", row.Metadata["source"])
		assert.NotZero(t, row.ID)
	}
}

func testFilterByName(t *testing.T, s data.Store) {
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.InsertMetrics(ctx, []metrics.Metric{
		metric(t, "a.one", 1, metrics.Gauge, now.Add(-3*time.Second), nil),
		metric(t, "b.two", 2, metrics.Gauge, now.Add(-2*time.Second), nil),
		metric(t, "a.one", 3, metrics.Gauge, now.Add(-time.Second), nil),
	}))

	rows, err := s.MetricsRecent(ctx, data.Query{Name: "a.one"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 3.0, rows[0].Value)
	assert.Equal(t, 1.0, rows[1].Value)
}

func testFilterBySince(t *testing.T, s data.Store) {
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.InsertMetrics(ctx, []metrics.Metric{
		metric(t, "a.one", 1, metrics.Gauge, now.Add(-time.Hour), nil),
		metric(t, "a.one", 2, metrics.Gauge, now.Add(-time.Minute), nil),
	}))

	rows, err := s.MetricsRecent(ctx, data.Query{Since: now.Add(-10 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, rows[0].Value)
}

func testLimit(t *testing.T, s data.Store) {
	ctx := context.Background()
	now := time.Now()
	batch := make([]metrics.Metric, 0, 20)
	for i := 0; i < 20; i++ {
		batch = append(batch, metric(t, "a.one", float64(i), metrics.Gauge, now.Add(time.Duration(i-20)*time.Second), nil))
	}
	require.NoError(t, s.InsertMetrics(ctx, batch))

	rows, err := s.MetricsRecent(ctx, data.Query{Limit: 5})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, 19.0, rows[0].Value)
	assert.Equal(t, 15.0, rows[4].Value)
}

func testSameTimestamp(t *testing.T, s data.Store) {
	ctx := context.Background()
	now := time.Now()
	batch := make([]metrics.Metric, 0, 12)
	rows := make([]data.ErrorRow, 0, 12)
	for i := 1; i <= 12; i++ {
		batch = append(batch, metric(t, "a.same", float64(i), metrics.Counter, now, nil))
		rows = append(rows, data.ErrorRow{Timestamp: now, Fingerprint: "fp", ErrorType: "E", Message: fmt.Sprintf("m%d", i)})
	}
	require.NoError(t, s.InsertMetrics(ctx, batch))
	require.NoError(t, s.InsertErrors(ctx, rows))

	got, err := s.MetricsRecent(ctx, data.Query{Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{12, 11, 10}, []float64{got[0].Value, got[1].Value, got[2].Value})
	assert.Greater(t, got[0].ID, got[1].ID)

	errs, err := s.ErrorsRecent(ctx, data.ErrorQuery{Limit: 3})
	require.NoError(t, err)
	require.Len(t, errs, 3)
	assert.Equal(t, []string{"m12", "m11", "m10"}, []string{errs[0].Message, errs[1].Message, errs[2].Message})
}

func testErrors(t *testing.T, s data.Store) {
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.InsertErrors(ctx, []data.ErrorRow{
		{Timestamp: now.Add(-2 * time.Second), Fingerprint: "fp1", ErrorType: "TimeoutError", Message: "first", Stack: "a\nb", Context: map[string]any{"chat": "42"}},
		{Timestamp: now.Add(-time.Second), Fingerprint: "fp2", ErrorType: "ValueError", Message: "other"},
		{Timestamp: now, Fingerprint: "fp1", ErrorType: "TimeoutError", Message: "second"},
	}))

	rows, err := s.ErrorsRecent(ctx, data.ErrorQuery{Fingerprint: "fp1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "second", rows[0].Message)
	assert.Equal(t, "first", rows[1].Message)
	assert.Equal(t, "a\nb", rows[1].Stack)
	assert.Equal(t, "42", rows[1].Context["chat"])
	assert.Equal(t, "TimeoutError", rows[1].ErrorType)

	all, err := s.ErrorsRecent(ctx, data.ErrorQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].Message)
	assert.Equal(t, "other", all[1].Message)

	since, err := s.ErrorsRecent(ctx, data.ErrorQuery{Since: now.Add(-1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func testCleanup(t *testing.T, s data.Store) {
	ctx := context.Background()
	now := time.Now()
	old := now.AddDate(0, 0, -10)
	require.NoError(t, s.InsertMetrics(ctx, []metrics.Metric{
		metric(t, "a.one", 1, metrics.Gauge, old, nil),
		metric(t, "b.two", 2, metrics.Gauge, old, nil),
		metric(t, "a.one", 3, metrics.Gauge, now, nil),
	}))
	require.NoError(t, s.InsertErrors(ctx, []data.ErrorRow{
		{Timestamp: old, Fingerprint: "fp", ErrorType: "E", Message: "old"},
		{Timestamp: now, Fingerprint: "fp", ErrorType: "E", Message: "new"},
	}))

	n, err := s.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Cleanup(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rows, err := s.MetricsRecent(ctx, data.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3.0, rows[0].Value)

	byName, err := s.MetricsRecent(ctx, data.Query{Name: "b.two"})
	require.NoError(t, err)
	assert.Empty(t, byName)

	errs, err := s.ErrorsRecent(ctx, data.ErrorQuery{Fingerprint: "fp"})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "new", errs[0].Message)
}
