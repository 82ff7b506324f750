package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ncobase/telemetry/alert"
	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/data/memory"
	"github.com/ncobase/telemetry/logging/logger"
	"github.com/ncobase/telemetry/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (c *mockChannel) Name() string { return "mock" }

func (c *mockChannel) Send(_ context.Context, a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *mockChannel) titles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.alerts))
	for i, a := range c.alerts {
		out[i] = a.Title
	}
	return out
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func quietLogger(t *testing.T) (*logger.Logger, *syncBuffer) {
	t.Helper()
	l, cleanup, err := logger.New(nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	buf := &syncBuffer{}
	l.SetOutput(buf)
	return l, buf
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Data.Driver = "memory"
	cfg.Collector.FlushInterval = 10 * time.Millisecond
	cfg.Collector.PersistInterval = 20 * time.Millisecond
	cfg.Alert.Channels.Log.Enabled = false
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config, opts ...Option) (*Engine, *syncBuffer) {
	t.Helper()
	log, buf := quietLogger(t)
	e, err := New(context.Background(), cfg, append([]Option{WithLogger(log)}, opts...)...)
	require.NoError(t, err)
	return e, buf
}

func TestEngineBusinessCounterScenario(t *testing.T) {
	store := memory.New()
	e, _ := newEngine(t, testConfig(), WithStore(store))
	e.Start()
	defer e.Stop(time.Second)

	for i := 0; i < 3; i++ {
		m, err := metrics.NewBusiness("forward", 1, metrics.WithTag("success", "true"))
		require.NoError(t, err)
		e.Collect(m)
	}
	require.NoError(t, e.Flush(context.Background()))

	snap := e.Snapshot(60 * time.Second)
	require.Len(t, snap, 1)
	assert.Equal(t, "business.forward.count", snap[0].Name)
	assert.Equal(t, 3, snap[0].Count)
	assert.Equal(t, 3.0, snap[0].Sum)
	assert.Equal(t, 1.0, snap[0].Avg)

	rows, err := e.MetricsRecent(context.Background(), data.Query{Limit: 3})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, "business.forward.count", r.Name)
		assert.Equal(t, metrics.Counter, r.Kind)
		assert.Equal(t, 1.0, r.Value)
	}
	assert.Len(t, e.Recent(10), 3)
}

func TestEngineTrackErrorScenario(t *testing.T) {
	store := memory.New()
	ch := &mockChannel{}
	e, _ := newEngine(t, testConfig(), WithStore(store), WithChannels(ch))
	e.Start()

	errLoad := errors.New("record not found")
	for i := 0; i < 5; i++ {
		g := e.TrackError(context.Background(), errLoad, map[string]any{"attempt": i})
		require.NotNil(t, g)
	}
	require.NoError(t, e.Flush(context.Background()))

	top := e.TopErrors(1, time.Minute)
	require.Len(t, top, 1)
	assert.Equal(t, int64(5), top[0].Count)
	assert.Equal(t, []string{"New error: *errors.errorString"}, ch.titles())

	var errCount int
	for _, s := range e.Snapshot(time.Minute) {
		if s.Name == "error.count" {
			errCount = s.Count
		}
	}
	assert.Equal(t, 5, errCount)

	trend := e.Trend(time.Minute, 10*time.Second)
	total := 0
	for _, p := range trend {
		total += p.Count
	}
	assert.Equal(t, 5, total)
	assert.Equal(t, 5, e.Analyzer().Summary(time.Minute).Occurrences)

	require.NoError(t, e.Stop(time.Second))
	rows, err := e.ErrorsRecent(context.Background(), data.ErrorQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, top[0].Fingerprint, rows[0].Fingerprint)
}

func TestEngineSendAlertDedup(t *testing.T) {
	ch := &mockChannel{}
	e, _ := newEngine(t, testConfig(), WithChannels(ch))

	ctx := context.Background()
	assert.Equal(t, alert.Delivered, e.SendAlert(ctx, alert.LevelWarning, "Slow query", "q took 200ms", map[string]any{}))
	assert.Equal(t, alert.Deduplicated, e.SendAlert(ctx, alert.LevelWarning, "Slow query", "q took 200ms", map[string]any{}))
	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, []string{"Slow query"}, ch.titles())
}

func TestEngineErrorPathDoesNotWaitForChannels(t *testing.T) {
	release := make(chan struct{})
	stuck := func(name string) alert.Channel {
		return alert.ChannelFunc{ChannelName: name, Fn: func(ctx context.Context, _ alert.Alert) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-release:
				return nil
			}
		}}
	}
	e, _ := newEngine(t, testConfig(), WithChannels(stuck("chat"), stuck("mail")))
	e.Start()

	ctx := context.Background()
	start := time.Now()
	require.NotNil(t, e.TrackError(ctx, errors.New("boom"), nil))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	start = time.Now()
	assert.Equal(t, alert.Delivered, e.SendAlert(ctx, alert.LevelCritical, "Disk full", "/var at 99%", nil))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.NoError(t, e.Stop(time.Second))
}

func TestEngineDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	e, _ := newEngine(t, cfg)
	e.Start()

	assert.False(t, e.Enabled())
	e.Collect(metrics.MustNew("a.b", 1, metrics.Gauge))
	e.CollectMany([]metrics.Metric{metrics.MustNew("a.b", 1, metrics.Gauge)})
	assert.Nil(t, e.TrackError(context.Background(), errors.New("x"), nil))
	assert.Equal(t, alert.NoChannels, e.SendAlert(context.Background(), alert.LevelError, "t", "m", nil))
	assert.Empty(t, e.Snapshot(time.Hour))
	assert.Empty(t, e.Recent(10))
	assert.Empty(t, e.TopErrors(10, time.Hour))
	assert.Empty(t, e.Trend(time.Hour, time.Minute))
	_, err := e.MetricsRecent(context.Background(), data.Query{})
	assert.ErrorIs(t, err, data.ErrDisabled)
	assert.NoError(t, e.Flush(context.Background()))
	assert.Equal(t, map[string]any{"enabled": false}, e.Stats())
	assert.Nil(t, e.Collector())
	assert.NoError(t, e.Stop(time.Second))
}

func TestEngineStoreUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Data.Driver = "nosuch"
	e, buf := newEngine(t, cfg)
	e.Start()
	defer e.Stop(time.Second)

	assert.Contains(t, buf.String(), "running in memory only")
	assert.Nil(t, e.Store())
	assert.False(t, e.Collector().Persisting())
	assert.Equal(t, "none", e.Stats()["store"])

	e.Collect(metrics.MustNew("a.b", 1, metrics.Gauge))
	require.NoError(t, e.Flush(context.Background()))
	assert.Len(t, e.Snapshot(time.Minute), 1)

	_, err := e.MetricsRecent(context.Background(), data.Query{})
	assert.ErrorIs(t, err, data.ErrDisabled)
}

func TestEngineOpensConfiguredDriver(t *testing.T) {
	e, _ := newEngine(t, testConfig())
	require.NotNil(t, e.Store())
	assert.Equal(t, "memory", e.Stats()["store"])
	e.Start()
	require.NoError(t, e.Stop(time.Second))

	// the engine owns the store it opened
	_, err := e.Store().MetricsRecent(context.Background(), data.Query{})
	assert.ErrorIs(t, err, data.ErrClosed)
}

func TestEngineInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Collector.QueueSize = 0
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestEngineHandBuiltConfig(t *testing.T) {
	log, _ := quietLogger(t)
	var err error
	require.NotPanics(t, func() {
		_, err = New(context.Background(), &config.Config{Enabled: true}, WithLogger(log))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collector required")
}

func TestEngineSelfMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, _ := newEngine(t, testConfig(), WithRegisterer(reg))
	e.Start()
	defer e.Stop(time.Second)

	e.Collect(metrics.MustNew("a.b", 1, metrics.Gauge))
	require.NoError(t, e.Flush(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[f.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[f.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["telemetry_collector_metrics_aggregated_total"])
	assert.Equal(t, 1.0, values["telemetry_aggregator_samples"])
	assert.Contains(t, values, "telemetry_collector_queue_length")
	assert.Contains(t, values, "telemetry_errors_groups")
}

func TestEngineReload(t *testing.T) {
	e, buf := newEngine(t, testConfig())
	assert.Equal(t, 10, e.Alerts().Policy().MaxAlertsPerWindow)

	next := testConfig()
	next.Alert.MaxAlertsPerWindow = 1
	next.Alert.DedupWindow = time.Second
	e.Reload(next)

	p := e.Alerts().Policy()
	assert.Equal(t, 1, p.MaxAlertsPerWindow)
	assert.Equal(t, time.Second, p.DedupWindow)
	assert.Contains(t, buf.String(), "alert policy reloaded")
}

func TestEngineCleanupLoop(t *testing.T) {
	store := memory.New()
	old := metrics.MustNew("old.metric", 1, metrics.Gauge, metrics.WithTimestamp(time.Now().Add(-72*time.Hour)))
	fresh := metrics.MustNew("fresh.metric", 1, metrics.Gauge)
	require.NoError(t, store.InsertMetrics(context.Background(), []metrics.Metric{old, fresh}))

	cfg := testConfig()
	cfg.Data.RetentionDays = 1
	cfg.Data.CleanupInterval = 10 * time.Millisecond
	e, _ := newEngine(t, cfg, WithStore(store))
	e.Start()
	defer e.Stop(time.Second)

	assert.Eventually(t, func() bool {
		n, _ := store.Len()
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineStopIsIdempotent(t *testing.T) {
	e, _ := newEngine(t, testConfig())
	e.Start()
	require.NoError(t, e.Stop(time.Second))
	require.NoError(t, e.Stop(time.Second))
	e.Start()
	assert.Equal(t, false, e.Stats()["running"])
}

func TestEngineStats(t *testing.T) {
	e, _ := newEngine(t, testConfig())
	stats := e.Stats()
	for _, key := range []string{"collector", "aggregator", "errors", "alerts"} {
		assert.Contains(t, stats, key)
	}
	assert.True(t, strings.HasPrefix(stats["aggregator"].(map[string]any)["retention"].(string), "1h"))
}
