package alert

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ncobase/telemetry/logging/logger"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// mockChannel records every alert it receives.
type mockChannel struct {
	name string
	err  error

	mu     sync.Mutex
	alerts []Alert
}

func (c *mockChannel) Name() string { return c.name }

func (c *mockChannel) Send(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return c.err
}

func (c *mockChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
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
