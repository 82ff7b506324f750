package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/engine"
	"github.com/ncobase/telemetry/logging/logger"
	"github.com/ncobase/telemetry/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := "telemetry:\n  data:\n    driver: sqlite\n    source: " + filepath.Join(dir, "telemetry.db") + "\n"
	path := filepath.Join(dir, "telemetry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func withStore(t *testing.T, path string, fn func(data.Store)) {
	t.Helper()
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	store, err := data.Open(context.Background(), cfg.Data)
	require.NoError(t, err)
	defer store.Close()
	fn(store)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var rows []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var row map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &row))
		rows = append(rows, row)
	}
	return rows
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:")
	assert.Contains(t, out, "Go Version:")

	out, err = run(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info["goVersion"])
}

func TestRecentCommand(t *testing.T) {
	path := writeConfig(t)
	now := time.Now()
	withStore(t, path, func(s data.Store) {
		require.NoError(t, s.InsertMetrics(context.Background(), []metrics.Metric{
			metrics.MustNew("orders.created", 1, metrics.Counter, metrics.WithTimestamp(now.Add(-2*time.Minute))),
			metrics.MustNew("orders.created", 2, metrics.Counter, metrics.WithTimestamp(now.Add(-time.Minute))),
			metrics.MustNew("queue.depth", 7, metrics.Gauge, metrics.WithTimestamp(now)),
		}))
	})

	out, err := run(t, "recent", "-c", path)
	require.NoError(t, err)
	rows := decodeLines(t, out)
	require.Len(t, rows, 3)
	assert.Equal(t, "queue.depth", rows[0]["name"])

	out, err = run(t, "recent", "-c", path, "--name", "orders.created", "-n", "1")
	require.NoError(t, err)
	rows = decodeLines(t, out)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, rows[0]["value"])
}

func TestErrorsCommand(t *testing.T) {
	path := writeConfig(t)
	now := time.Now()
	withStore(t, path, func(s data.Store) {
		require.NoError(t, s.InsertErrors(context.Background(), []data.ErrorRow{
			{Timestamp: now.Add(-3 * time.Hour), Fingerprint: "aaaa", ErrorType: "ValueError", Message: "old"},
			{Timestamp: now, Fingerprint: "bbbb", ErrorType: "KeyError", Message: "new"},
		}))
	})

	out, err := run(t, "errors", "-c", path, "--since", "1h")
	require.NoError(t, err)
	rows := decodeLines(t, out)
	require.Len(t, rows, 1)
	assert.Equal(t, "bbbb", rows[0]["fingerprint"])

	out, err = run(t, "errors", "-c", path, "--fingerprint", "aaaa")
	require.NoError(t, err)
	rows = decodeLines(t, out)
	require.Len(t, rows, 1)
	assert.Equal(t, "old", rows[0]["message"])
}

func TestCleanupCommand(t *testing.T) {
	path := writeConfig(t)
	now := time.Now()
	withStore(t, path, func(s data.Store) {
		require.NoError(t, s.InsertMetrics(context.Background(), []metrics.Metric{
			metrics.MustNew("orders.created", 1, metrics.Counter, metrics.WithTimestamp(now.Add(-40*24*time.Hour))),
			metrics.MustNew("orders.created", 1, metrics.Counter, metrics.WithTimestamp(now)),
		}))
	})

	out, err := run(t, "cleanup", "-c", path)
	require.NoError(t, err)
	assert.Equal(t, "removed 1 rows older than 30 days\n", out)

	out, err = run(t, "recent", "-c", path)
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, out), 1)
}

func TestStoreCommandsRequireStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telemetry:\n  data:\n    driver: none\n"), 0o600))

	_, err := run(t, "recent", "-c", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, data.ErrDisabled)
}

func TestMux(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Driver = "memory"
	cfg.Alert.Channels.Log.Enabled = false

	l, cleanup, err := logger.New(nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	l.SetOutput(io.Discard)

	reg := prometheus.NewRegistry()
	e, err := engine.New(context.Background(), cfg, engine.WithLogger(l), engine.WithRegisterer(reg))
	require.NoError(t, err)
	e.Start()
	t.Cleanup(func() { _ = e.Stop(time.Second) })

	srv := httptest.NewServer(newMux(e, reg))
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "telemetry_collector_queue_length")

	code, body = get("/stats")
	assert.Equal(t, http.StatusOK, code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	assert.Equal(t, true, stats["enabled"])
	assert.Equal(t, "memory", stats["store"])
}
