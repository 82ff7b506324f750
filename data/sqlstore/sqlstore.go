// Package sqlstore implements data.Store over database/sql. The sqlite and
// postgres drivers supply a Dialect and share everything else.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/metrics"
)

// Dialect captures what differs between SQL backends.
type Dialect struct {
	// Name is used in error messages.
	Name string
	// Schema statements run once on open; they must be idempotent.
	Schema []string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// TimeArg converts a timestamp into a bind argument.
	TimeArg func(time.Time) any
	// TimeDest returns a scan destination for a timestamp column and a
	// function reading the scanned value.
	TimeDest func() (dest any, value func() time.Time)
	// JSONColumn wraps a JSON column in the select list so it scans into a
	// string. Nil selects the column as is.
	JSONColumn func(col string) string
	// SerializeWrites holds a process-local lock around every write, for
	// engines with a single writer.
	SerializeWrites bool
}

// Store is a data.Store backed by *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	writeMu sync.Mutex
	now     func() time.Time
}

// New prepares the schema and returns a store owning db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: create schema: %w", dialect.Name, err)
		}
	}
	return &Store{db: db, dialect: dialect, now: time.Now}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) lockWrites() func() {
	if !s.dialect.SerializeWrites {
		return func() {}
	}
	s.writeMu.Lock()
	return s.writeMu.Unlock
}

func (s *Store) json(col string) string {
	if s.dialect.JSONColumn == nil {
		return col
	}
	return s.dialect.JSONColumn(col)
}

// placeholders renders "p1, p2, ..., pn" starting at from.
func (s *Store) placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.dialect.Placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

// InsertMetrics writes the batch in one transaction.
func (s *Store) InsertMetrics(ctx context.Context, batch []metrics.Metric) error {
	if len(batch) == 0 {
		return nil
	}
	query := "INSERT INTO metrics (ts, name, kind, value, tags, metadata) VALUES (" + s.placeholders(1, 6) + ")"

	return s.inTx(ctx, query, func(stmt *sql.Stmt) error {
		for _, m := range batch {
			if _, err := stmt.ExecContext(ctx,
				s.dialect.TimeArg(m.Timestamp()),
				m.Name(),
				string(m.Kind()),
				m.Value(),
				data.EncodeTags(m.Tags()),
				data.EncodeMap(m.Metadata()),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertErrors writes the rows in one transaction.
func (s *Store) InsertErrors(ctx context.Context, rows []data.ErrorRow) error {
	if len(rows) == 0 {
		return nil
	}
	query := "INSERT INTO errors (ts, fingerprint, error_type, message, stack, context) VALUES (" + s.placeholders(1, 6) + ")"

	return s.inTx(ctx, query, func(stmt *sql.Stmt) error {
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx,
				s.dialect.TimeArg(r.Timestamp),
				r.Fingerprint,
				r.ErrorType,
				r.Message,
				r.Stack,
				data.EncodeMap(r.Context),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	unlock := s.lockWrites()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect.Name, err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s: prepare: %w", s.dialect.Name, err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s: insert: %w", s.dialect.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect.Name, err)
	}
	return nil
}

// where builds a WHERE clause from optional equality and lower-bound filters.
func (s *Store) where(column, value string, since time.Time) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if value != "" {
		args = append(args, value)
		conds = append(conds, column+" = "+s.dialect.Placeholder(len(args)))
	}
	if !since.IsZero() {
		args = append(args, s.dialect.TimeArg(since))
		conds = append(conds, "ts >= "+s.dialect.Placeholder(len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// MetricsRecent returns rows newest first.
func (s *Store) MetricsRecent(ctx context.Context, q data.Query) ([]data.MetricRow, error) {
	where, args := s.where("name", q.Name, q.Since)
	args = append(args, data.NormalizeLimit(q.Limit))
	query := "SELECT id, ts, name, kind, value, " + s.json("tags") + ", " + s.json("metadata") + " FROM metrics" + where +
		" ORDER BY ts DESC, id DESC LIMIT " + s.dialect.Placeholder(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query metrics: %w", s.dialect.Name, err)
	}
	defer rows.Close()

	out := make([]data.MetricRow, 0)
	for rows.Next() {
		var (
			row            data.MetricRow
			kind           string
			tags, metadata string
		)
		ts, tsValue := s.dialect.TimeDest()
		if err := rows.Scan(&row.ID, ts, &row.Name, &kind, &row.Value, &tags, &metadata); err != nil {
			return nil, fmt.Errorf("%s: scan metric: %w", s.dialect.Name, err)
		}
		row.Timestamp = tsValue()
		row.Kind = metrics.Kind(kind)
		row.Tags = data.DecodeTags(tags)
		row.Metadata = data.DecodeMap(metadata)
		out = append(out, row)
	}
	return out, rows.Err()
}

// ErrorsRecent returns error rows newest first.
func (s *Store) ErrorsRecent(ctx context.Context, q data.ErrorQuery) ([]data.ErrorRow, error) {
	where, args := s.where("fingerprint", q.Fingerprint, q.Since)
	args = append(args, data.NormalizeLimit(q.Limit))
	query := "SELECT id, ts, fingerprint, error_type, message, stack, " + s.json("context") + " FROM errors" + where +
		" ORDER BY ts DESC, id DESC LIMIT " + s.dialect.Placeholder(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query errors: %w", s.dialect.Name, err)
	}
	defer rows.Close()

	out := make([]data.ErrorRow, 0)
	for rows.Next() {
		var (
			row     data.ErrorRow
			ctxJSON string
		)
		ts, tsValue := s.dialect.TimeDest()
		if err := rows.Scan(&row.ID, ts, &row.Fingerprint, &row.ErrorType, &row.Message, &row.Stack, &ctxJSON); err != nil {
			return nil, fmt.Errorf("%s: scan error: %w", s.dialect.Name, err)
		}
		row.Timestamp = tsValue()
		row.Context = data.DecodeMap(ctxJSON)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Cleanup deletes expired rows from both tables.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := data.Cutoff(s.now(), retentionDays)
	if cutoff.IsZero() {
		return 0, nil
	}

	unlock := s.lockWrites()
	defer unlock()

	var total int64
	for _, table := range []string{"metrics", "errors"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE ts < "+s.dialect.Placeholder(1), s.dialect.TimeArg(cutoff))
		if err != nil {
			return total, fmt.Errorf("%s: cleanup %s: %w", s.dialect.Name, table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("%s: cleanup %s: %w", s.dialect.Name, table, err)
		}
		total += n
	}
	return total, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
