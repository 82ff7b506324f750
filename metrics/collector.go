package metrics

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

// ErrStopTimeout is returned by Stop when a worker overran the deadline.
var ErrStopTimeout = errors.New("collector stop timed out")

const (
	StageIngest  = "ingest"
	StagePersist = "persist"

	dropWarnEvery = 1000
)

// BatchWriter is the durable side of the pipeline.
type BatchWriter interface {
	InsertMetrics(ctx context.Context, batch []Metric) error
}

// Observer is notified of pipeline events. Implementations must be cheap and
// safe for concurrent use.
type Observer interface {
	MetricsDropped(stage string, n int)
	BatchAggregated(n int)
	BatchPersisted(n int, err error)
}

type nopObserver struct{}

func (nopObserver) MetricsDropped(string, int) {}
func (nopObserver) BatchAggregated(int)        {}
func (nopObserver) BatchPersisted(int, error)  {}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithLogger sets the collector logger.
func WithLogger(l *logger.Logger) CollectorOption {
	return func(c *Collector) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver sets the pipeline observer.
func WithObserver(o Observer) CollectorOption {
	return func(c *Collector) {
		if o != nil {
			c.observer = o
		}
	}
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Collector is a two-stage pipeline. Stage one drains the ingest queue into
// the aggregator in small, frequent batches and forwards each batch to the
// persist queue; stage two coalesces those into larger writes to the store.
// Both queues are bounded and drop on overflow.
type Collector struct {
	cfg      config.Collector
	agg      *Aggregator
	store    BatchWriter
	log      *logger.Logger
	observer Observer

	ingest       chan Metric
	persist      chan []Metric
	flushReq     chan chan struct{}
	persistFlush chan chan struct{}
	stop         chan struct{}
	stage1Done   chan struct{}
	stage2Done   chan struct{}

	mu     sync.Mutex
	state  state
	closed atomic.Bool

	accepted      atomic.Int64
	dropped       atomic.Int64
	aggregated    atomic.Int64
	persisted     atomic.Int64
	persistFailed atomic.Int64
}

// NewCollector creates a collector feeding agg and, when store is non-nil and
// persistence is enabled, store. Nothing runs until Start.
func NewCollector(agg *Aggregator, store BatchWriter, cfg *config.Collector, opts ...CollectorOption) *Collector {
	if cfg == nil {
		cfg = config.Default().Collector
	}
	c := &Collector{
		cfg:          *cfg,
		agg:          agg,
		log:          logger.StdLogger(),
		observer:     nopObserver{},
		ingest:       make(chan Metric, cfg.QueueSize),
		flushReq:     make(chan chan struct{}),
		persistFlush: make(chan chan struct{}),
		stop:         make(chan struct{}),
		stage1Done:   make(chan struct{}),
		stage2Done:   make(chan struct{}),
	}
	if store != nil && cfg.PersistEnabled {
		c.store = store
		c.persist = make(chan []Metric, cfg.PersistQueueSize)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Persisting reports whether stage two is configured.
func (c *Collector) Persisting() bool {
	return c.store != nil
}

// Start launches the workers. Calling it again, or after Stop, is a no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return
	}
	c.state = stateRunning

	go c.runAggregate()
	if c.store != nil {
		go c.runPersist()
	} else {
		close(c.stage2Done)
	}
}

// Stop makes each stage drain once and exit. Workers still running after
// timeout are abandoned and ErrStopTimeout is returned.
func (c *Collector) Stop(timeout time.Duration) error {
	c.mu.Lock()
	prev := c.state
	c.state = stateStopped
	c.closed.Store(true)
	c.mu.Unlock()

	if prev != stateRunning {
		return nil
	}
	close(c.stop)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, done := range []chan struct{}{c.stage1Done, c.stage2Done} {
		select {
		case <-done:
		case <-timer.C:
			c.log.Warnf(context.Background(), "metric collector did not stop within %s", timeout)
			return ErrStopTimeout
		}
	}
	return nil
}

// Collect enqueues m without blocking. A full queue drops m.
func (c *Collector) Collect(m Metric) {
	if c.closed.Load() {
		c.drop(StageIngest, 1)
		return
	}
	select {
	case c.ingest <- m:
		c.accepted.Add(1)
	default:
		c.drop(StageIngest, 1)
	}
}

// CollectMany enqueues each metric in order; the ones that do not fit are dropped.
func (c *Collector) CollectMany(ms []Metric) {
	for _, m := range ms {
		c.Collect(m)
	}
}

// Flush pushes everything queued so far through both stages and waits for
// the store write. Before Start it runs on the caller's goroutine.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	switch st {
	case stateIdle:
		return c.flushSync(ctx)
	case stateStopped:
		return nil
	}

	done := make(chan struct{})
	select {
	case c.flushReq <- done:
	case <-c.stage1Done:
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

func (c *Collector) flushSync(ctx context.Context) error {
	batch := c.drainIngest(nil)
	if len(batch) == 0 {
		return nil
	}
	c.agg.AddBatch(batch)
	c.aggregated.Add(int64(len(batch)))
	c.observer.BatchAggregated(len(batch))
	if c.store == nil {
		return nil
	}
	return c.write(ctx, batch)
}

func (c *Collector) runAggregate() {
	defer close(c.stage1Done)

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Metric, 0, c.cfg.BatchSize)
	for {
		select {
		case m := <-c.ingest:
			batch = append(batch, m)
			if len(batch) >= c.cfg.BatchSize {
				c.apply(batch)
				batch = make([]Metric, 0, c.cfg.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				c.apply(batch)
				batch = make([]Metric, 0, c.cfg.BatchSize)
			}
		case done := <-c.flushReq:
			c.apply(c.drainIngest(batch))
			batch = make([]Metric, 0, c.cfg.BatchSize)
			if c.store == nil {
				close(done)
				continue
			}
			select {
			case c.persistFlush <- done:
			case <-c.stage2Done:
				close(done)
			}
		case <-c.stop:
			c.apply(c.drainIngest(batch))
			return
		}
	}
}

// apply hands batch to the aggregator and, when persisting, to stage two.
// The batch must not be reused by the caller afterwards.
func (c *Collector) apply(batch []Metric) {
	if len(batch) == 0 {
		return
	}
	c.agg.AddBatch(batch)
	c.aggregated.Add(int64(len(batch)))
	c.observer.BatchAggregated(len(batch))

	if c.persist == nil {
		return
	}
	select {
	case c.persist <- batch:
	default:
		c.drop(StagePersist, len(batch))
	}
}

func (c *Collector) drainIngest(batch []Metric) []Metric {
	for {
		select {
		case m := <-c.ingest:
			batch = append(batch, m)
		default:
			return batch
		}
	}
}

func (c *Collector) runPersist() {
	defer close(c.stage2Done)

	ticker := time.NewTicker(c.cfg.PersistInterval)
	defer ticker.Stop()

	var buf []Metric
	for {
		select {
		case batch := <-c.persist:
			buf = append(buf, batch...)
			if len(buf) >= c.cfg.PersistBatchSize {
				c.persistBuffer(buf)
				buf = nil
			}
		case <-ticker.C:
			c.persistBuffer(buf)
			buf = nil
		case done := <-c.persistFlush:
			c.persistBuffer(c.drainPersist(buf))
			buf = nil
			close(done)
		case <-c.stage1Done:
			c.persistBuffer(c.drainPersist(buf))
			return
		}
	}
}

func (c *Collector) drainPersist(buf []Metric) []Metric {
	for {
		select {
		case batch := <-c.persist:
			buf = append(buf, batch...)
		default:
			return buf
		}
	}
}

// persistBuffer writes buf in chunks of at most PersistBatchSize.
func (c *Collector) persistBuffer(buf []Metric) {
	for len(buf) > 0 {
		n := min(len(buf), c.cfg.PersistBatchSize)
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
		_ = c.write(ctx, buf[:n])
		cancel()
		buf = buf[n:]
	}
}

// write is the single recovery point for store failures: errors and panics
// are logged and the batch is discarded.
func (c *Collector) write(ctx context.Context, batch []Metric) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store panic: %v", r)
		}
		if err != nil {
			c.persistFailed.Add(int64(len(batch)))
			c.log.EntryWithFields(ctx, logrus.Fields{
				"component": "metric_collector",
				"batch":     len(batch),
			}).WithError(err).Error("failed to persist metric batch, batch discarded")
		} else {
			c.persisted.Add(int64(len(batch)))
		}
		c.observer.BatchPersisted(len(batch), err)
	}()
	return c.store.InsertMetrics(ctx, batch)
}

// drop counts dropped metrics and warns on the first drop and then once per
// thousand, so a saturated queue does not flood the log.
func (c *Collector) drop(stage string, n int) {
	total := c.dropped.Add(int64(n))
	prev := total - int64(n)
	c.observer.MetricsDropped(stage, n)
	if prev == 0 || prev/dropWarnEvery != total/dropWarnEvery {
		c.log.EntryWithFields(context.Background(), logrus.Fields{
			"component":     "metric_collector",
			"stage":         stage,
			"dropped_total": total,
		}).Warnf("%s queue full, dropped %d metric(s)", stage, n)
	}
}

// Stats returns pipeline counters.
func (c *Collector) Stats() map[string]any {
	c.mu.Lock()
	running := c.state == stateRunning
	c.mu.Unlock()

	stats := map[string]any{
		"running":        running,
		"persisting":     c.store != nil,
		"accepted":       c.accepted.Load(),
		"dropped":        c.dropped.Load(),
		"aggregated":     c.aggregated.Load(),
		"persisted":      c.persisted.Load(),
		"persist_failed": c.persistFailed.Load(),
		"queue_len":      len(c.ingest),
		"queue_cap":      cap(c.ingest),
	}
	if c.persist != nil {
		stats["persist_queue_len"] = len(c.persist)
		stats["persist_queue_cap"] = cap(c.persist)
	}
	return stats
}
