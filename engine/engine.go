// Package engine assembles the telemetry pipeline from configuration: the
// metric aggregator and collector, the error tracker, the alert manager,
// the durable store and the self-metrics. Hosts build one Engine at startup
// and pass it to whatever produces metrics or errors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ncobase/telemetry/alert"
	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/logging/logger"
	"github.com/ncobase/telemetry/metrics"
	"github.com/ncobase/telemetry/observes"
	"github.com/ncobase/telemetry/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	// store drivers selectable through telemetry.data.driver
	_ "github.com/ncobase/telemetry/data/memory"
	_ "github.com/ncobase/telemetry/data/postgres"
	_ "github.com/ncobase/telemetry/data/redis"
	_ "github.com/ncobase/telemetry/data/sqlite"
)

const cleanupTimeout = 30 * time.Second

type options struct {
	store    data.Store
	channels []alert.Channel
	reg      prometheus.Registerer
	log      *logger.Logger
	now      func() time.Time
}

// Option configures New.
type Option func(*options)

// WithStore uses s instead of opening the configured driver. The caller
// keeps ownership; Stop does not close it.
func WithStore(s data.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithChannels adds alert channels to the configured ones.
func WithChannels(chs ...alert.Channel) Option {
	return func(o *options) {
		o.channels = append(o.channels, chs...)
	}
}

// WithRegisterer registers the self-metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.reg = reg
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithClock replaces time.Now in the aggregators and the alert manager.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Engine owns every telemetry component. A disabled engine accepts every
// call and does nothing.
type Engine struct {
	cfg     *config.Config
	enabled bool
	log     *logger.Logger

	agg       *metrics.Aggregator
	collector *metrics.Collector
	errAgg    *tracker.Aggregator
	tracker   *tracker.Tracker
	analyzer  *tracker.Analyzer
	alerts    *alert.Manager
	observer  *observes.Metrics

	store       data.Store
	storeName   string
	ownsStore   bool
	cleanupStop chan struct{}
	cleanupDone chan struct{}

	closers []func()

	mu    sync.Mutex
	state state
}

// New builds an engine from cfg. A nil cfg means defaults. A store that
// cannot be opened is logged and the engine runs in memory only.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	e := &Engine{cfg: cfg, enabled: cfg.Enabled}
	if o.log != nil {
		e.log = o.log
	} else {
		l, cleanup, err := logger.New(cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		e.log = l
		e.closers = append(e.closers, cleanup)
	}
	if !e.enabled {
		e.log.Info(ctx, "telemetry disabled")
		return e, nil
	}

	obs, err := observes.NewMetrics(o.reg, cfg.Observes.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("register self-metrics: %w", err)
	}
	e.observer = obs

	e.openStore(ctx, o)

	e.agg = metrics.NewAggregator(
		metrics.WithRetention(cfg.Aggregator.Retention),
		metrics.WithMaxSamples(cfg.Aggregator.MaxSamples),
		metrics.WithClock(o.now),
	)
	var writer metrics.BatchWriter
	if e.store != nil {
		writer = e.store
	}
	e.collector = metrics.NewCollector(e.agg, writer, cfg.Collector,
		metrics.WithLogger(e.log),
		metrics.WithObserver(obs),
	)

	channels, closeChannels, err := buildChannels(cfg.Alert.Channels, e.log)
	if err != nil {
		e.log.EntryWithFields(ctx, logrus.Fields{"component": "engine"}).
			WithError(err).Warn("some alert channels could not be built")
	}
	e.closers = append(e.closers, closeChannels)
	channels = append(channels, o.channels...)
	e.alerts = alert.NewManager(channels, alert.PolicyFromConfig(cfg.Alert),
		alert.WithLogger(e.log),
		alert.WithObserver(obs),
		alert.WithClock(o.now),
		alert.WithQueueSize(cfg.Alert.QueueSize),
	)

	e.errAgg = tracker.NewAggregator(append(tracker.FromConfig(cfg.Errors), tracker.WithClock(o.now))...)
	trackerOpts := []tracker.TrackerOption{
		tracker.WithLogger(e.log),
		tracker.WithMetricSink(e.collector),
		tracker.WithAlerts(e.alerts),
	}
	if e.store != nil {
		trackerOpts = append(trackerOpts, tracker.WithErrorStore(e.store))
	}
	e.tracker = tracker.New(e.errAgg, cfg.Errors, trackerOpts...)
	e.analyzer = tracker.NewAnalyzer(e.errAgg)

	e.registerGauges(ctx)
	return e, nil
}

func (e *Engine) openStore(ctx context.Context, o *options) {
	if o.store != nil {
		e.store = o.store
		e.storeName = "custom"
		return
	}
	if !e.cfg.Data.Enabled() {
		e.storeName = "none"
		return
	}
	store, err := data.Open(ctx, e.cfg.Data)
	if err != nil {
		e.storeName = "none"
		e.log.EntryWithFields(ctx, logrus.Fields{
			"component": "engine",
			"driver":    e.cfg.Data.Driver,
		}).WithError(err).Warn("data store unavailable, running in memory only")
		return
	}
	e.store = store
	e.storeName = e.cfg.Data.Driver
	e.ownsStore = true
}

func (e *Engine) registerGauges(ctx context.Context) {
	gauges := []struct {
		subsystem, name, help string
		fn                    func() float64
	}{
		{"collector", "queue_length", "Metrics waiting in the ingest queue.", func() float64 {
			return float64(e.collector.Stats()["queue_len"].(int))
		}},
		{"aggregator", "samples", "Raw observations held by the metric aggregator.", func() float64 {
			return float64(e.agg.Len())
		}},
		{"errors", "groups", "Live error groups.", func() float64 {
			return float64(e.errAgg.Len())
		}},
	}
	for _, g := range gauges {
		if err := e.observer.RegisterGauge(g.subsystem, g.name, g.help, g.fn); err != nil {
			e.log.Warnf(ctx, "register %s_%s gauge: %v", g.subsystem, g.name, err)
		}
	}
}

// Start launches the background workers. Calling it twice, or after Stop, is
// a no-op.
func (e *Engine) Start() {
	if !e.enabled {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateIdle {
		return
	}
	e.state = stateRunning

	e.alerts.Start()
	e.collector.Start()
	e.tracker.Start()
	if e.store != nil && e.cfg.Data.RetentionDays > 0 && e.cfg.Data.CleanupInterval > 0 {
		e.cleanupStop = make(chan struct{})
		e.cleanupDone = make(chan struct{})
		go e.runCleanup(e.cfg.Data.CleanupInterval, e.cfg.Data.RetentionDays)
	}
}

// Stop drains the pipelines, stops the cleanup loop, closes channels and,
// when the engine opened it, the store.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	prev := e.state
	e.state = stateStopped
	e.mu.Unlock()

	defer func() {
		for _, c := range e.closers {
			c()
		}
		e.closers = nil
	}()
	if !e.enabled || prev == stateStopped {
		return nil
	}

	var errs []error
	if prev == stateRunning {
		if e.cleanupStop != nil {
			close(e.cleanupStop)
			<-e.cleanupDone
		}
		if err := e.collector.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
		if err := e.tracker.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
		if err := e.alerts.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if e.ownsStore {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Reload applies the parts of cfg that can change at runtime: the alert
// policy. Everything else needs a restart.
func (e *Engine) Reload(cfg *config.Config) {
	if !e.enabled || cfg == nil || cfg.Alert == nil {
		return
	}
	e.alerts.SetPolicy(alert.PolicyFromConfig(cfg.Alert))
	e.log.Infof(context.Background(), "alert policy reloaded")
}

// Watch reloads the engine whenever the config file it was loaded from
// changes.
func (e *Engine) Watch() {
	e.cfg.Watch(e.Reload, func(err error) {
		e.log.EntryWithFields(context.Background(), logrus.Fields{"component": "engine"}).
			WithError(err).Warn("ignoring invalid config reload")
	})
}

func (e *Engine) runCleanup(interval time.Duration, days int) {
	defer close(e.cleanupDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.cleanup(days)
		case <-e.cleanupStop:
			return
		}
	}
}

func (e *Engine) cleanup(days int) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	n, err := e.store.Cleanup(ctx, days)
	fields := logrus.Fields{"component": "engine", "retention_days": days}
	if err != nil {
		e.log.EntryWithFields(ctx, fields).WithError(err).Error("retention cleanup failed")
		return
	}
	if n > 0 {
		fields["removed"] = n
		e.log.EntryWithFields(ctx, fields).Info("retention cleanup done")
	}
}
