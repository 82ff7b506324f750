package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/data/storetest"
	"github.com/ncobase/telemetry/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) data.Store {
		mr := miniredis.RunT(t)
		return New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	})
}

func TestOpenThroughRegistry(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := data.Open(context.Background(), &config.Data{Driver: "redis", Addr: mr.Addr(), KeyPrefix: "tm"})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.InsertMetrics(ctx, []metrics.Metric{
		metrics.MustNew("queue.depth", 3, metrics.Gauge),
	}))
	assert.True(t, mr.Exists("tm:metrics"))
	assert.True(t, mr.Exists("tm:metrics:name:queue.depth"))

	members, err := mr.SMembers("tm:metrics:names")
	require.NoError(t, err)
	assert.Equal(t, []string{"queue.depth"}, members)
}

func TestOpenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := data.Open(ctx, &config.Data{Driver: "redis", Addr: addr})
	assert.Error(t, err)
}

func TestIDsAreSequential(t *testing.T) {
	mr := miniredis.RunT(t)
	s := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	defer s.Close()
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertMetrics(ctx, []metrics.Metric{
			metrics.MustNew("a.b", float64(i), metrics.Gauge, metrics.WithTimestamp(now.Add(time.Duration(i)*time.Second))),
			metrics.MustNew("a.c", float64(i), metrics.Gauge, metrics.WithTimestamp(now.Add(time.Duration(i)*time.Second+time.Millisecond))),
		}))
	}
	rows, err := s.MetricsRecent(ctx, data.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, int64(6), rows[0].ID)
	assert.Equal(t, int64(1), rows[5].ID)
	assert.True(t, mr.Exists("telemetry:seq"))
}

func TestMembersSortByIDWithinScore(t *testing.T) {
	mr := miniredis.RunT(t)
	s := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	defer s.Close()
	ctx := context.Background()

	now := time.Now()
	batch := make([]metrics.Metric, 0, 12)
	for i := 1; i <= 12; i++ {
		batch = append(batch, metrics.MustNew("a.b", float64(i), metrics.Counter, metrics.WithTimestamp(now)))
	}
	require.NoError(t, s.InsertMetrics(ctx, batch))

	rows, err := s.MetricsRecent(ctx, data.Query{Limit: 3})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{12, 11, 10}, []int64{rows[0].ID, rows[1].ID, rows[2].ID})

	members, err := mr.ZMembers("telemetry:metrics")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(members[0], "00000000000000000001|{"), members[0])
}

func TestDecodeMemberRejectsMalformed(t *testing.T) {
	var rec metricRecord
	assert.Error(t, decodeMember(`{"id":1}`, &rec))
	require.NoError(t, decodeMember(`00000000000000000007|{"id":7,"name":"a.b"}`, &rec))
	assert.Equal(t, int64(7), rec.ID)
}
