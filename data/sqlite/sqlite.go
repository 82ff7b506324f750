// Package sqlite is the reference data.Store: a single file in write-ahead
// log mode, so dashboards can read while the collector writes. It registers
// itself as "sqlite" when imported:
//
//	import _ "github.com/ncobase/telemetry/data/sqlite"
//
// The driver uses mattn/go-sqlite3 and therefore needs CGO.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/data/sqlstore"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// defaultParams enables WAL and lets concurrent writers wait on the lock
// instead of failing with SQLITE_BUSY.
const defaultParams = "_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		value REAL NOT NULL,
		tags TEXT NOT NULL DEFAULT '{}',
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_ts ON metrics (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_name_ts ON metrics (name, ts)`,
	`CREATE TABLE IF NOT EXISTS errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL NOT NULL,
		fingerprint TEXT NOT NULL,
		error_type TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		stack TEXT NOT NULL DEFAULT '',
		context TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_errors_ts ON errors (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_errors_fingerprint_ts ON errors (fingerprint, ts)`,
}

// Dialect stores timestamps as fractional unix seconds.
var Dialect = sqlstore.Dialect{
	Name:        "sqlite",
	Schema:      schema,
	Placeholder: func(int) string { return "?" },
	TimeArg: func(t time.Time) any {
		return float64(t.UnixNano()) / 1e9
	},
	TimeDest: func() (any, func() time.Time) {
		var f float64
		return &f, func() time.Time {
			sec, frac := math.Modf(f)
			return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3)
		}
	},
	SerializeWrites: true,
}

// driver implements data.Driver for SQLite.
type driver struct{}

// Name returns the driver identifier used in configuration files.
func (d *driver) Name() string {
	return "sqlite"
}

// Open opens the database file named by cfg.Source, creating it when
// missing, and prepares the schema.
func (d *driver) Open(ctx context.Context, cfg *config.Data) (data.Store, error) {
	return Open(ctx, cfg)
}

func init() {
	data.RegisterDriver(&driver{})
}

// DSN appends the default pragmas to source unless it already carries
// parameters.
func DSN(source string) string {
	if strings.Contains(source, "?") {
		return source
	}
	return source + "?" + defaultParams
}

func isMemory(source string) bool {
	return strings.Contains(source, ":memory:") || strings.Contains(source, "mode=memory")
}

// Open opens a SQLite store directly, without the registry.
func Open(ctx context.Context, cfg *config.Data) (*sqlstore.Store, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("sqlite: connection source is empty")
	}

	db, err := sql.Open("sqlite3", DSN(cfg.Source))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConn
	if maxOpen <= 0 {
		maxOpen = 4
	}
	// every connection to :memory: is a separate database
	if isMemory(cfg.Source) {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	if cfg.MaxIdleConn > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConn)
	} else {
		db.SetMaxIdleConns(maxOpen)
	}
	if cfg.ConnMaxLifeTime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifeTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to ping database: %w", err)
	}

	store, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
