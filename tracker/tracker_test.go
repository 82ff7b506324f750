package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/ncobase/telemetry/alert"
	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/data/memory"
	"github.com/ncobase/telemetry/logging/logger"
	"github.com/ncobase/telemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type valueError struct{ id int }

func (e *valueError) Error() string     { return fmt.Sprintf("bad value for id %d", e.id) }
func (e *valueError) ErrorType() string { return "ValueError" }

type stackError struct{ stack string }

func (e stackError) Error() string      { return "with stack" }
func (e stackError) StackTrace() string { return e.stack }

type fakeSink struct {
	mu      sync.Mutex
	metrics []metrics.Metric
	panics  bool
}

func (s *fakeSink) Collect(m metrics.Metric) {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
}

type sentAlert struct {
	level   alert.Level
	title   string
	message string
	details map[string]any
}

type fakeAlerts struct {
	mu   sync.Mutex
	sent []sentAlert
}

func (a *fakeAlerts) SendAlert(_ context.Context, level alert.Level, title, message string, details map[string]any) alert.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentAlert{level, title, message, details})
	return alert.Delivered
}

type failingStore struct {
	err error
}

func (s *failingStore) InsertErrors(context.Context, []data.ErrorRow) error {
	return s.err
}

func (s *failingStore) ErrorsRecent(context.Context, data.ErrorQuery) ([]data.ErrorRow, error) {
	return nil, s.err
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

func errorsConfig() *config.Errors {
	cfg := config.Default().Errors
	cfg.AggregationWindow = 300 * time.Second
	return cfg
}

func TestTrackErrorScenario(t *testing.T) {
	log, _ := quietLogger(t)
	sink := &fakeSink{}
	alerts := &fakeAlerts{}
	agg := NewAggregator(FromConfig(errorsConfig())...)
	tr := New(agg, errorsConfig(), WithLogger(log), WithMetricSink(sink), WithAlerts(alerts))

	var last *Group
	for i := 0; i < 5; i++ {
		last = tr.TrackError(context.Background(), &valueError{id: i}, map[string]any{"attempt": i})
	}
	require.NotNil(t, last)
	assert.Equal(t, "ValueError", last.ErrorType)
	assert.Equal(t, "bad value for id 4", last.LastMessage)
	assert.Equal(t, 4, last.LastContext["attempt"])

	top := agg.TopErrors(1, time.Hour)
	require.Len(t, top, 1)
	assert.Equal(t, int64(5), top[0].Count)

	require.Len(t, sink.metrics, 5)
	m := sink.metrics[0]
	assert.Equal(t, "error.count", m.Name())
	assert.Equal(t, metrics.Counter, m.Kind())
	errType, _ := m.Tag("error_type")
	assert.Equal(t, "ValueError", errType)

	require.Len(t, alerts.sent, 1)
	assert.Equal(t, alert.LevelError, alerts.sent[0].level)
	assert.Equal(t, "New error: ValueError", alerts.sent[0].title)
	assert.Equal(t, "bad value for id 0", alerts.sent[0].message)
	assert.Equal(t, last.Fingerprint, alerts.sent[0].details["fingerprint"])
	assert.Equal(t, int64(5), tr.Stats()["tracked"])
}

func TestTrackErrorNil(t *testing.T) {
	tr := New(NewAggregator(), nil)
	assert.Nil(t, tr.TrackError(context.Background(), nil, nil))
	assert.Zero(t, tr.Aggregator().Len())
}

func TestAlertOnNewDisabled(t *testing.T) {
	cfg := errorsConfig()
	cfg.AlertOnNew = false
	alerts := &fakeAlerts{}
	tr := New(NewAggregator(), cfg, WithAlerts(alerts))
	tr.TrackError(context.Background(), errors.New("x"), nil)
	assert.Empty(t, alerts.sent)
}

func TestResurfacedGroupAlertsAgain(t *testing.T) {
	clk := newFakeClock()
	alerts := &fakeAlerts{}
	agg := NewAggregator(WithClock(clk.Now), WithAggregationWindow(time.Minute))
	tr := New(agg, errorsConfig(), WithAlerts(alerts))

	r := Report{Type: "Timeout", Message: "upstream", Stack: stackS}
	tr.Track(context.Background(), r)
	tr.Track(context.Background(), r)
	clk.Advance(2 * time.Minute)
	tr.Track(context.Background(), r)
	assert.Len(t, alerts.sent, 2)
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "ValueError", ErrorType(&valueError{}))
	assert.Equal(t, "ValueError", ErrorType(fmt.Errorf("load: %w", &valueError{})))
	assert.Equal(t, "*errors.errorString", ErrorType(errors.New("plain")))
	assert.Equal(t, "*fs.PathError", ErrorType(fmt.Errorf("open: %w", &fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist})))
	assert.Equal(t, "tracker.stackError", ErrorType(stackError{}))
}

func TestStackFromError(t *testing.T) {
	tr := New(NewAggregator(), nil)
	g := tr.TrackError(context.Background(), stackError{stack: stackS}, nil)
	require.NotNil(t, g)
	assert.Equal(t, StackHash(stackS), g.StackHash)
}

func TestSameCallSiteGroupsTogether(t *testing.T) {
	tr := New(NewAggregator(), nil)
	var fps []string
	for i := 0; i < 3; i++ {
		g := tr.TrackError(context.Background(), fmt.Errorf("item %d missing", i), nil)
		require.NotNil(t, g)
		fps = append(fps, g.Fingerprint)
	}
	assert.Equal(t, fps[0], fps[1])
	assert.Equal(t, fps[0], fps[2])

	other := tr.TrackError(context.Background(), fmt.Errorf("item missing"), nil)
	assert.NotEqual(t, fps[0], other.Fingerprint)
}

func TestTrackRecoversPanic(t *testing.T) {
	log, buf := quietLogger(t)
	tr := New(NewAggregator(), nil, WithLogger(log), WithMetricSink(&fakeSink{panics: true}))

	var g *Group
	require.NotPanics(t, func() {
		g = tr.TrackError(context.Background(), errors.New("x"), nil)
	})
	assert.Nil(t, g)
	assert.Contains(t, buf.String(), "error tracking failed")
	assert.Contains(t, buf.String(), "sink exploded")
	assert.Equal(t, int64(1), tr.Stats()["failures"])
}

func TestTrackPersistsOccurrences(t *testing.T) {
	store := memory.New()
	log, _ := quietLogger(t)
	tr := New(NewAggregator(), errorsConfig(), WithLogger(log), WithErrorStore(store))
	tr.Start()

	for i := 0; i < 3; i++ {
		tr.Track(context.Background(), Report{
			Type:    "Timeout",
			Message: fmt.Sprintf("attempt %d", i),
			Stack:   stackS,
			Context: map[string]any{"attempt": i},
		})
	}
	require.NoError(t, tr.Stop(time.Second))

	rows, err := store.ErrorsRecent(context.Background(), data.ErrorQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "attempt 2", rows[0].Message)
	assert.Equal(t, "Timeout", rows[0].ErrorType)
	assert.Equal(t, Fingerprint("Timeout", StackHash(stackS)), rows[0].Fingerprint)
	assert.Equal(t, stackS, rows[0].Stack)
	assert.Equal(t, int64(3), tr.Stats()["persisted"])
}

func TestTrackStoreFailureIsLogged(t *testing.T) {
	store := &failingStore{err: errors.New("disk full")}
	log, buf := quietLogger(t)
	tr := New(NewAggregator(), errorsConfig(), WithLogger(log), WithErrorStore(store))
	tr.Start()

	g := tr.Track(context.Background(), Report{Type: "E", Stack: stackS})
	require.NotNil(t, g)
	require.NoError(t, tr.Stop(time.Second))

	assert.Equal(t, int64(1), tr.Stats()["persist_failed"])
	assert.Contains(t, buf.String(), "failed to persist error occurrences")
}

func TestTrackAfterStopDropsPersistence(t *testing.T) {
	store := memory.New()
	tr := New(NewAggregator(), errorsConfig(), WithErrorStore(store))
	tr.Start()
	require.NoError(t, tr.Stop(time.Second))

	g := tr.Track(context.Background(), Report{Type: "E", Stack: stackS})
	require.NotNil(t, g, "in-memory grouping still works")
	assert.Equal(t, int64(1), tr.Stats()["persist_dropped"])
}

func TestTrackConcurrent(t *testing.T) {
	sink := &fakeSink{}
	tr := New(NewAggregator(), errorsConfig(), WithMetricSink(sink))
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.Track(context.Background(), Report{Type: "E", Stack: stackS, Message: "m"})
			}
		}()
	}
	wg.Wait()

	top := tr.Aggregator().TopErrors(1, time.Hour)
	require.Len(t, top, 1)
	assert.Equal(t, int64(800), top[0].Count)
	assert.Len(t, sink.metrics, 800)
}

func TestTrackErrorDoesNotWaitForAlertChannels(t *testing.T) {
	log, _ := quietLogger(t)
	release := make(chan struct{})
	stuck := alert.ChannelFunc{ChannelName: "stuck", Fn: func(ctx context.Context, _ alert.Alert) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	}}
	mgr := alert.NewManager([]alert.Channel{stuck, stuck}, alert.DefaultPolicy(), alert.WithLogger(log))
	mgr.Start()

	agg := NewAggregator(FromConfig(errorsConfig())...)
	tr := New(agg, errorsConfig(), WithLogger(log), WithAlerts(mgr))

	start := time.Now()
	g := tr.TrackError(context.Background(), errors.New("boom"), nil)
	elapsed := time.Since(start)
	require.NotNil(t, g)
	assert.Less(t, elapsed, 100*time.Millisecond)
	assert.Equal(t, int64(1), mgr.Stats()["delivered"])

	close(release)
	require.NoError(t, mgr.Stop(time.Second))
}
