package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/logging/logger"
	"github.com/sirupsen/logrus"
)

const (
	recordBatchSize    = 100
	recordInterval     = time.Second
	recordWriteTimeout = 5 * time.Second
)

// recorder writes error occurrences to the store from one worker. Its queue
// is bounded and drops on overflow.
type recorder struct {
	store data.ErrorStore
	log   *logger.Logger

	queue chan data.ErrorRow
	stop  chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	state  int
	closed atomic.Bool

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func newRecorder(store data.ErrorStore, size int, log *logger.Logger) *recorder {
	if size <= 0 {
		size = 1000
	}
	return &recorder{
		store: store,
		log:   log,
		queue: make(chan data.ErrorRow, size),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (r *recorder) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != 0 {
		return
	}
	r.state = 1
	go r.run()
}

func (r *recorder) shutdown(timeout time.Duration) error {
	r.mu.Lock()
	prev := r.state
	r.state = 2
	r.closed.Store(true)
	r.mu.Unlock()

	if prev != 1 {
		return nil
	}
	close(r.stop)
	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("error recorder did not stop within %s", timeout)
	}
}

func (r *recorder) enqueue(row data.ErrorRow) {
	if r.closed.Load() {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- row:
	default:
		if r.dropped.Add(1) == 1 {
			r.log.WithComponent(context.Background(), "error_recorder").Warn("error queue full, dropping occurrences")
		}
	}
}

func (r *recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(recordInterval)
	defer ticker.Stop()

	buf := make([]data.ErrorRow, 0, recordBatchSize)
	for {
		select {
		case row := <-r.queue:
			buf = append(buf, row)
			if len(buf) >= recordBatchSize {
				r.flush(buf)
				buf = buf[:0]
			}
		case <-ticker.C:
			r.flush(buf)
			buf = buf[:0]
		case <-r.stop:
			for {
				select {
				case row := <-r.queue:
					buf = append(buf, row)
				default:
					for len(buf) > 0 {
						n := min(len(buf), recordBatchSize)
						r.flush(buf[:n])
						buf = buf[n:]
					}
					return
				}
			}
		}
	}
}

func (r *recorder) flush(rows []data.ErrorRow) {
	if len(rows) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordWriteTimeout)
	defer cancel()
	_ = r.write(ctx, rows)
}

func (r *recorder) write(ctx context.Context, rows []data.ErrorRow) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("store panic: %v", p)
		}
		if err != nil {
			r.failed.Add(int64(len(rows)))
			r.log.EntryWithFields(ctx, logrus.Fields{
				"component": "error_recorder",
				"batch":     len(rows),
			}).WithError(err).Error("failed to persist error occurrences, batch discarded")
			return
		}
		r.written.Add(int64(len(rows)))
	}()
	return r.store.InsertErrors(ctx, rows)
}
