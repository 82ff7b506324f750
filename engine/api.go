package engine

import (
	"context"
	"time"

	"github.com/ncobase/telemetry/alert"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/metrics"
	"github.com/ncobase/telemetry/tracker"
)

// Enabled reports whether the engine does anything.
func (e *Engine) Enabled() bool { return e.enabled }

// Collect enqueues m without blocking.
func (e *Engine) Collect(m metrics.Metric) {
	if !e.enabled {
		return
	}
	e.collector.Collect(m)
}

// CollectMany enqueues ms without blocking.
func (e *Engine) CollectMany(ms []metrics.Metric) {
	if !e.enabled {
		return
	}
	e.collector.CollectMany(ms)
}

// Flush pushes queued metrics through to the store and waits for queued
// alerts to reach their channels.
func (e *Engine) Flush(ctx context.Context) error {
	if !e.enabled {
		return nil
	}
	if err := e.collector.Flush(ctx); err != nil {
		return err
	}
	return e.alerts.Flush(ctx)
}

// TrackError groups err and returns a snapshot of its group, or nil when
// err is nil, the engine is disabled, or tracking failed.
func (e *Engine) TrackError(ctx context.Context, err error, errCtx map[string]any) *tracker.Group {
	if !e.enabled {
		return nil
	}
	return e.tracker.TrackError(ctx, err, errCtx)
}

// SendAlert sends an alert through the configured channels.
func (e *Engine) SendAlert(ctx context.Context, level alert.Level, title, message string, details map[string]any) alert.Outcome {
	if !e.enabled {
		return alert.NoChannels
	}
	return e.alerts.SendAlert(ctx, level, title, message, details)
}

// Snapshot returns per-series stats over the trailing window.
func (e *Engine) Snapshot(window time.Duration) []metrics.SeriesStats {
	if !e.enabled {
		return []metrics.SeriesStats{}
	}
	return e.agg.Snapshot(window)
}

// Recent returns up to limit of the newest raw metrics.
func (e *Engine) Recent(limit int) []metrics.Metric {
	if !e.enabled {
		return []metrics.Metric{}
	}
	return e.agg.Recent(limit)
}

// TopErrors returns the busiest error groups seen within window.
func (e *Engine) TopErrors(limit int, window time.Duration) []tracker.Group {
	if !e.enabled {
		return []tracker.Group{}
	}
	return e.errAgg.TopErrors(limit, window)
}

// Trend returns the error occurrence series over window.
func (e *Engine) Trend(window, bucket time.Duration) []tracker.TrendPoint {
	if !e.enabled {
		return []tracker.TrendPoint{}
	}
	return e.errAgg.Trend(window, bucket)
}

// MetricsRecent reads persisted metrics, newest first. Without a store it
// returns data.ErrDisabled.
func (e *Engine) MetricsRecent(ctx context.Context, q data.Query) ([]data.MetricRow, error) {
	if !e.enabled || e.store == nil {
		return []data.MetricRow{}, data.ErrDisabled
	}
	return e.store.MetricsRecent(ctx, q)
}

// ErrorsRecent reads persisted error occurrences, newest first. Without a
// store it returns data.ErrDisabled.
func (e *Engine) ErrorsRecent(ctx context.Context, q data.ErrorQuery) ([]data.ErrorRow, error) {
	if !e.enabled || e.store == nil {
		return []data.ErrorRow{}, data.ErrDisabled
	}
	return e.store.ErrorsRecent(ctx, q)
}

// Stats returns counters from every component.
func (e *Engine) Stats() map[string]any {
	if !e.enabled {
		return map[string]any{"enabled": false}
	}
	e.mu.Lock()
	running := e.state == stateRunning
	e.mu.Unlock()
	return map[string]any{
		"enabled":    true,
		"running":    running,
		"store":      e.storeName,
		"collector":  e.collector.Stats(),
		"aggregator": map[string]any{"samples": e.agg.Len(), "retention": e.agg.Retention().String()},
		"errors":     e.tracker.Stats(),
		"alerts":     e.alerts.Stats(),
	}
}

// Collector returns the metric collector, nil when disabled.
func (e *Engine) Collector() *metrics.Collector { return e.collector }

// Aggregator returns the metric aggregator, nil when disabled.
func (e *Engine) Aggregator() *metrics.Aggregator { return e.agg }

// Errors returns the error tracker, nil when disabled.
func (e *Engine) Errors() *tracker.Tracker { return e.tracker }

// Analyzer returns the error analyzer, nil when disabled.
func (e *Engine) Analyzer() *tracker.Analyzer { return e.analyzer }

// Alerts returns the alert manager, nil when disabled.
func (e *Engine) Alerts() *alert.Manager { return e.alerts }

// Store returns the durable store, nil when running in memory only.
func (e *Engine) Store() data.Store { return e.store }
