package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/logging/logger"
	"github.com/sirupsen/logrus"
)

// Policy holds the dedup and suppression settings.
type Policy struct {
	// DedupWindow silences an identical alert sent within it.
	DedupWindow time.Duration
	// SuppressionWindow and MaxAlertsPerWindow cap how many alerts go out
	// in any rolling window. Zero max disables the cap.
	SuppressionWindow  time.Duration
	MaxAlertsPerWindow int
	// ChannelTimeout bounds each channel send.
	ChannelTimeout time.Duration
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		DedupWindow:        10 * time.Minute,
		SuppressionWindow:  5 * time.Minute,
		MaxAlertsPerWindow: 10,
		ChannelTimeout:     5 * time.Second,
	}
}

// PolicyFromConfig reads the policy out of the alert section.
func PolicyFromConfig(cfg *config.Alert) Policy {
	if cfg == nil {
		return DefaultPolicy()
	}
	return Policy{
		DedupWindow:        cfg.DedupWindow,
		SuppressionWindow:  cfg.SuppressionWindow,
		MaxAlertsPerWindow: cfg.MaxAlertsPerWindow,
		ChannelTimeout:     cfg.ChannelTimeout,
	}
}

func (p Policy) horizon() time.Duration {
	return max(p.DedupWindow, p.SuppressionWindow)
}

// Observer is told about every SendAlert outcome and channel failure.
type Observer interface {
	AlertSent(level Level, outcome Outcome)
	ChannelFailed(channel string)
}

type nopObserver struct{}

func (nopObserver) AlertSent(Level, Outcome) {}
func (nopObserver) ChannelFailed(string)     {}

// DefaultQueueSize bounds the delivery queue when WithQueueSize is not used.
const DefaultQueueSize = 256

// ErrStopTimeout is returned by Stop when queued alerts were still being
// delivered at the deadline.
var ErrStopTimeout = errors.New("alert delivery stop timed out")

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithObserver sets the outcome observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithQueueSize bounds how many accepted alerts may wait for delivery.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// delivery is one accepted alert waiting for its channels.
type delivery struct {
	ctx      context.Context
	alert    Alert
	channels []Channel
	timeout  time.Duration
}

// Manager applies dedup and suppression on the caller's goroutine, then
// hands accepted alerts to a single delivery worker that fans them out to
// the channels. State lives only in memory; a restart starts from a clean
// slate.
type Manager struct {
	mu       sync.Mutex
	policy   Policy
	channels []Channel
	lastSent map[string]time.Time
	sent     []time.Time
	state    state

	queueSize int
	queue     chan delivery
	flushReq  chan chan struct{}
	stop      chan struct{}
	done      chan struct{}

	log      *logger.Logger
	observer Observer
	now      func() time.Time

	delivered    atomic.Int64
	deduplicated atomic.Int64
	suppressed   atomic.Int64
	dropped      atomic.Int64
	failures     atomic.Int64
}

// NewManager creates a manager sending to channels. Accepted alerts queue
// up until Start launches the delivery worker or Flush drains them.
func NewManager(channels []Channel, policy Policy, opts ...Option) *Manager {
	m := &Manager{
		policy:    policy,
		channels:  append([]Channel(nil), channels...),
		lastSent:  make(map[string]time.Time),
		queueSize: DefaultQueueSize,
		flushReq:  make(chan chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		log:       logger.StdLogger(),
		observer:  nopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.queue = make(chan delivery, m.queueSize)
	return m
}

// Start launches the delivery worker. Calling it again, or after Stop, is a
// no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateIdle {
		return
	}
	m.state = stateRunning
	go m.run()
}

// Stop refuses new alerts and lets the worker deliver what is queued. A
// worker still busy after timeout is abandoned and ErrStopTimeout returned.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	prev := m.state
	m.state = stateStopped
	m.mu.Unlock()

	if prev != stateRunning {
		return nil
	}
	close(m.stop)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.done:
		return nil
	case <-timer.C:
		m.log.Warnf(context.Background(), "alert delivery did not stop within %s", timeout)
		return ErrStopTimeout
	}
}

// Flush waits until every alert queued so far has been handed to its
// channels. Before Start it delivers on the caller's goroutine.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	st := m.state
	m.mu.Unlock()

	switch st {
	case stateIdle:
		m.drain()
		return nil
	case stateStopped:
		return nil
	}

	done := make(chan struct{})
	select {
	case m.flushReq <- done:
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case d := <-m.queue:
			m.dispatch(d)
		case done := <-m.flushReq:
			m.drain()
			close(done)
		case <-m.stop:
			m.drain()
			return
		}
	}
}

func (m *Manager) drain() {
	for {
		select {
		case d := <-m.queue:
			m.dispatch(d)
		default:
			return
		}
	}
}

func (m *Manager) dispatch(d delivery) {
	for _, c := range d.channels {
		m.deliver(d.ctx, c, d.alert, d.timeout)
	}
}

// SetPolicy swaps the policy. Existing state is kept and pruned against the
// new windows on the next send.
func (m *Manager) SetPolicy(p Policy) {
	m.mu.Lock()
	m.policy = p
	m.mu.Unlock()
}

// Policy returns the active policy.
func (m *Manager) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// AddChannel appends a channel.
func (m *Manager) AddChannel(c Channel) {
	m.mu.Lock()
	m.channels = append(m.channels, c)
	m.mu.Unlock()
}

// Channels returns the configured channel names.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.channels))
	for i, c := range m.channels {
		names[i] = c.Name()
	}
	return names
}

// SendAlert builds an alert and queues it for delivery unless it is a
// duplicate or the suppression cap is reached. It never blocks on a channel
// and never fails; channel errors are logged by the delivery worker.
func (m *Manager) SendAlert(ctx context.Context, level Level, title, message string, details map[string]any) Outcome {
	a := New(level, title, message, details, m.now())
	out := m.send(ctx, a)
	m.observer.AlertSent(level, out)
	return out
}

// Trigger evaluates rule against value and sends the alert only if it fires.
func (m *Manager) Trigger(ctx context.Context, rule Rule, value float64, level Level, title, message string, details map[string]any) Outcome {
	if !rule.Evaluate(value, m.now()) {
		return NotTriggered
	}
	return m.SendAlert(ctx, level, title, message, details)
}

func (m *Manager) send(ctx context.Context, a Alert) Outcome {
	fp := a.Fingerprint()
	now := a.Timestamp

	m.mu.Lock()
	p := m.policy
	m.prune(now, p.horizon())

	if last, ok := m.lastSent[fp]; ok && now.Sub(last) < p.DedupWindow {
		m.mu.Unlock()
		m.deduplicated.Add(1)
		return Deduplicated
	}
	if p.MaxAlertsPerWindow > 0 && m.countSince(now.Add(-p.SuppressionWindow)) >= p.MaxAlertsPerWindow {
		m.mu.Unlock()
		m.suppressed.Add(1)
		m.log.EntryWithFields(ctx, logrus.Fields{
			"component":   "alert",
			"alert_id":    a.ID,
			"alert_level": string(a.Level),
			"title":       a.Title,
		}).Warnf("alert suppressed, %d alerts already sent within %s", p.MaxAlertsPerWindow, p.SuppressionWindow)
		return Suppressed
	}
	if len(m.channels) == 0 {
		m.mu.Unlock()
		return NoChannels
	}

	d := delivery{
		ctx:      context.WithoutCancel(ctx),
		alert:    a,
		channels: m.channels,
		timeout:  p.ChannelTimeout,
	}
	queued := false
	if m.state != stateStopped {
		select {
		case m.queue <- d:
			queued = true
		default:
		}
	}
	if !queued {
		m.mu.Unlock()
		m.drop(ctx, a)
		return Dropped
	}
	m.lastSent[fp] = now
	m.sent = append(m.sent, now)
	m.mu.Unlock()

	m.delivered.Add(1)
	return Delivered
}

// drop logs an accepted alert that found the queue full or the manager
// stopped. It is not recorded, so a later identical alert is not
// deduplicated against it.
func (m *Manager) drop(ctx context.Context, a Alert) {
	total := m.dropped.Add(1)
	m.log.EntryWithFields(ctx, logrus.Fields{
		"component":     "alert",
		"alert_id":      a.ID,
		"alert_level":   string(a.Level),
		"title":         a.Title,
		"dropped_total": total,
	}).Warn("alert delivery queue full or closed, alert dropped")
}

// deliver is the recovery point for channel sends.
func (m *Manager) deliver(ctx context.Context, c Channel, a Alert, timeout time.Duration) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("channel panic: %v", r)
			}
		}()
		return c.Send(ctx, a)
	}()
	if err == nil {
		return
	}
	m.failures.Add(1)
	m.observer.ChannelFailed(c.Name())
	m.log.EntryWithFields(ctx, logrus.Fields{
		"component": "alert",
		"channel":   c.Name(),
		"alert_id":  a.ID,
	}).WithError(err).Error("alert channel failed")
}

// prune drops state older than horizon. Must be called with mu held.
func (m *Manager) prune(now time.Time, horizon time.Duration) {
	cutoff := now.Add(-horizon)
	for fp, at := range m.lastSent {
		if at.Before(cutoff) {
			delete(m.lastSent, fp)
		}
	}
	i := 0
	for i < len(m.sent) && m.sent[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.sent = append(m.sent[:0], m.sent[i:]...)
	}
}

func (m *Manager) countSince(cutoff time.Time) int {
	n := 0
	for _, at := range m.sent {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}

// Stats returns manager counters.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	tracked := len(m.lastSent)
	recent := len(m.sent)
	channels := len(m.channels)
	running := m.state == stateRunning
	m.mu.Unlock()
	return map[string]any{
		"running":          running,
		"delivered":        m.delivered.Load(),
		"deduplicated":     m.deduplicated.Load(),
		"suppressed":       m.suppressed.Load(),
		"dropped":          m.dropped.Load(),
		"channel_failures": m.failures.Load(),
		"fingerprints":     tracked,
		"recent_sends":     recent,
		"channels":         channels,
		"queue_len":        len(m.queue),
		"queue_cap":        cap(m.queue),
	}
}
