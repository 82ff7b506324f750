package memory

import (
	"context"
	"testing"

	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/data/storetest"
	"github.com/ncobase/telemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) data.Store { return New() })
}

func TestRegistered(t *testing.T) {
	s, err := data.Open(context.Background(), &config.Data{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Store{}, s)
	require.NoError(t, s.Close())
}

func TestClosed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	err := s.InsertMetrics(context.Background(), []metrics.Metric{metrics.MustNew("a.b", 1, metrics.Gauge)})
	assert.ErrorIs(t, err, data.ErrClosed)
	_, err = s.MetricsRecent(context.Background(), data.Query{})
	assert.ErrorIs(t, err, data.ErrClosed)
}

func TestRowsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.InsertMetrics(ctx, []metrics.Metric{
		metrics.MustNew("a.b", 1, metrics.Gauge, metrics.WithTag("k", "v")),
	}))

	rows, err := s.MetricsRecent(ctx, data.Query{})
	require.NoError(t, err)
	rows[0].Tags["k"] = "changed"

	rows, err = s.MetricsRecent(ctx, data.Query{})
	require.NoError(t, err)
	assert.Equal(t, "v", rows[0].Tags["k"])

	m, e := s.Len()
	assert.Equal(t, 1, m)
	assert.Equal(t, 0, e)
}
