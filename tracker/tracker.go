package tracker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/ncobase/telemetry/alert"
	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/logging/logger"
	"github.com/ncobase/telemetry/metrics"
	"github.com/sirupsen/logrus"
)

// MetricSink receives the error counter emitted for every tracked error.
// *metrics.Collector satisfies it.
type MetricSink interface {
	Collect(m metrics.Metric)
}

// AlertSender is notified when a group opens. *alert.Manager satisfies it.
type AlertSender interface {
	SendAlert(ctx context.Context, level alert.Level, title, message string, details map[string]any) alert.Outcome
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the logger used for recovered failures.
func WithLogger(l *logger.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithMetricSink sets where error counters go.
func WithMetricSink(s MetricSink) TrackerOption {
	return func(t *Tracker) {
		t.sink = s
	}
}

// WithAlerts sets the alert sender for new groups.
func WithAlerts(a AlertSender) TrackerOption {
	return func(t *Tracker) {
		t.alerts = a
	}
}

// WithErrorStore enables asynchronous persistence of every occurrence.
func WithErrorStore(s data.ErrorStore) TrackerOption {
	return func(t *Tracker) {
		t.store = s
	}
}

// Tracker is the producer-facing entry point for errors. It never panics
// into its caller.
type Tracker struct {
	agg        *Aggregator
	log        *logger.Logger
	sink       MetricSink
	alerts     AlertSender
	store      data.ErrorStore
	alertOnNew bool
	rec        *recorder

	tracked  atomic.Int64
	failures atomic.Int64
}

// New creates a tracker over agg.
func New(agg *Aggregator, cfg *config.Errors, opts ...TrackerOption) *Tracker {
	if cfg == nil {
		cfg = config.Default().Errors
	}
	t := &Tracker{
		agg:        agg,
		log:        logger.StdLogger(),
		alertOnNew: cfg.AlertOnNew,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.store != nil {
		t.rec = newRecorder(t.store, cfg.PersistQueueSize, t.log)
	}
	return t
}

// Start launches the persistence worker, if any.
func (t *Tracker) Start() {
	if t.rec != nil {
		t.rec.start()
	}
}

// Stop drains queued occurrences to the store.
func (t *Tracker) Stop(timeout time.Duration) error {
	if t.rec == nil {
		return nil
	}
	return t.rec.shutdown(timeout)
}

// Aggregator returns the underlying aggregator.
func (t *Tracker) Aggregator() *Aggregator {
	return t.agg
}

// TrackError records err with the caller's context. A nil error is ignored.
func (t *Tracker) TrackError(ctx context.Context, err error, errCtx map[string]any) (g *Group) {
	if err == nil {
		return nil
	}
	defer t.recover(ctx, &g)
	return t.track(ctx, Report{
		Type:    ErrorType(err),
		Message: err.Error(),
		Stack:   stackOf(err),
		Context: errCtx,
	})
}

// Track records a prepared report.
func (t *Tracker) Track(ctx context.Context, r Report) (g *Group) {
	defer t.recover(ctx, &g)
	if r.Stack == "" {
		r.Stack = string(debug.Stack())
	}
	return t.track(ctx, r)
}

func (t *Tracker) track(ctx context.Context, r Report) *Group {
	if r.At.IsZero() {
		r.At = t.agg.now()
	}
	g, isNew := t.agg.Add(r)
	t.tracked.Add(1)

	if t.sink != nil {
		if m, err := metrics.NewErrorCount(g.ErrorType, metrics.WithTimestamp(r.At)); err == nil {
			t.sink.Collect(m)
		}
	}
	if isNew && t.alertOnNew && t.alerts != nil {
		t.alerts.SendAlert(ctx, alert.LevelError, "New error: "+g.ErrorType, g.LastMessage, map[string]any{
			"fingerprint": g.Fingerprint,
			"group_id":    g.ID.String(),
			"first_seen":  g.FirstSeen.UTC().Format(time.RFC3339Nano),
		})
	}
	if t.rec != nil {
		t.rec.enqueue(data.ErrorRow{
			Timestamp:   r.At,
			Fingerprint: g.Fingerprint,
			ErrorType:   g.ErrorType,
			Message:     g.LastMessage,
			Stack:       r.Stack,
			Context:     g.LastContext,
		})
	}
	return &g
}

func (t *Tracker) recover(ctx context.Context, g **Group) {
	r := recover()
	if r == nil {
		return
	}
	*g = nil
	t.failures.Add(1)
	t.log.EntryWithFields(ctx, logrus.Fields{
		"component": "error_tracker",
		"panic":     fmt.Sprint(r),
	}).Error("error tracking failed")
}

// Stats returns tracker counters.
func (t *Tracker) Stats() map[string]any {
	stats := map[string]any{
		"tracked":  t.tracked.Load(),
		"failures": t.failures.Load(),
		"groups":   t.agg.Len(),
	}
	if t.rec != nil {
		stats["persisted"] = t.rec.written.Load()
		stats["persist_failed"] = t.rec.failed.Load()
		stats["persist_dropped"] = t.rec.dropped.Load()
		stats["persist_queue_len"] = len(t.rec.queue)
	}
	return stats
}

// ErrorType names err for grouping. An ErrorType method anywhere in the
// chain wins; otherwise the innermost error's dynamic type is used.
func ErrorType(err error) string {
	var typed interface{ ErrorType() string }
	if errors.As(err, &typed) {
		if s := typed.ErrorType(); s != "" {
			return s
		}
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return reflect.TypeOf(err).String()
}

func stackOf(err error) string {
	var st interface{ StackTrace() string }
	if errors.As(err, &st) {
		if s := st.StackTrace(); s != "" {
			return s
		}
	}
	var s interface{ Stack() string }
	if errors.As(err, &s) {
		if v := s.Stack(); v != "" {
			return v
		}
	}
	return string(debug.Stack())
}
