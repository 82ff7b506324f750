package data

import (
	"testing"
	"time"

	"github.com/ncobase/telemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMapFallsBackForUnencodableValues(t *testing.T) {
	s := EncodeMap(map[string]any{
		"rows": 3,
		"ch":   make(chan int),
	})
	got := DecodeMap(s)
	assert.Equal(t, 3.0, got["rows"])
	assert.IsType(t, "", got["ch"])
}

func TestDecodeMalformed(t *testing.T) {
	assert.Empty(t, DecodeTags("not json"))
	assert.Empty(t, DecodeMap("[1,2]"))
	assert.Equal(t, "{}", EncodeTags(nil))
	assert.Equal(t, "{}", EncodeMap(nil))
}

func TestNewMetricRow(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	m, err := metrics.New("db.query.duration_ms", 3.5, metrics.Timer,
		metrics.WithTag("table", "users"),
		metrics.WithMetadata(map[string]any{"rows": 2}),
		metrics.WithTimestamp(ts))
	require.NoError(t, err)

	row := NewMetricRow(m)
	assert.Equal(t, ts, row.Timestamp)
	assert.Equal(t, "db.query.duration_ms", row.Name)
	assert.Equal(t, metrics.Timer, row.Kind)
	assert.Equal(t, 3.5, row.Value)
	assert.Equal(t, map[string]string{"table": "users"}, DecodeTags(EncodeTags(row.Tags)))
}

func TestNormalizeLimitAndCutoff(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, 5, NormalizeLimit(5))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))

	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.True(t, Cutoff(now, 0).IsZero())
	assert.Equal(t, now.AddDate(0, 0, -7), Cutoff(now, 7))
}
