package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"ledger/internal/core"

	"modernc.org/sqlite"
)

// SQLite primary result codes that signal lock contention.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Stores groups the two stores bound to the same connection or transaction.
type Stores struct {
	Ledger    *LedgerStore
	Envelopes *EnvelopeStore
}

func newStores(db DBTX) Stores {
	return Stores{
		Ledger:    &LedgerStore{db: db},
		Envelopes: &EnvelopeStore{db: db},
	}
}

// SQLiteRepository owns the database handles. Writes go through a single
// connection opened with BEGIN IMMEDIATE so a write transaction holds the
// database lock from its first statement; reads use a separate pool and see
// WAL snapshots.
type SQLiteRepository struct {
	writer *sql.DB
	reader *sql.DB
	path   string
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	version, err := RunMigrations(dsn(dbPath, false))
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	writer, err := sql.Open("sqlite", dsn(dbPath, true))
	if err != nil {
		return nil, fmt.Errorf("open sqlite writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn(dbPath, false))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}

	slog.Info("SQLite repository opened", "path", dbPath, "schema_version", version)

	return &SQLiteRepository{writer: writer, reader: reader, path: dbPath}, nil
}

func dsn(path string, immediate bool) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	if immediate {
		q.Set("_txlock", "immediate")
	}
	return "file:" + path + "?" + q.Encode()
}

func (r *SQLiteRepository) Close() error {
	return errors.Join(r.writer.Close(), r.reader.Close())
}

// Ping checks that both pools can reach the database.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.writer.PingContext(ctx); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if err := r.reader.PingContext(ctx); err != nil {
		return fmt.Errorf("ping reader: %w", err)
	}
	return nil
}

// Ledger returns a LedgerStore reading outside any transaction.
func (r *SQLiteRepository) Ledger() *LedgerStore {
	return &LedgerStore{db: r.reader}
}

// Envelopes returns an EnvelopeStore reading outside any transaction.
func (r *SQLiteRepository) Envelopes() *EnvelopeStore {
	return &EnvelopeStore{db: r.reader}
}

// WithTx runs fn inside one write transaction. Any error from fn rolls the
// whole unit back. SQLite lock contention is reported as
// core.ErrConcurrencyConflict so callers can retry.
func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(Stores) error) error {
	tx, err := r.writer.BeginTx(ctx, nil)
	if err != nil {
		return mapDBError(fmt.Errorf("begin write tx: %w", err))
	}

	if err := fn(newStores(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return mapDBError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapDBError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// ReadTx runs fn inside a deferred read transaction. Every query fn makes
// sees the same snapshot.
func (r *SQLiteRepository) ReadTx(ctx context.Context, fn func(Stores) error) error {
	tx, err := r.reader.BeginTx(ctx, nil)
	if err != nil {
		return mapDBError(fmt.Errorf("begin read tx: %w", err))
	}
	defer tx.Rollback()

	return mapDBError(fn(newStores(tx)))
}

// mapDBError marks SQLite busy/locked failures as concurrency conflicts.
func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return fmt.Errorf("%w: %w", core.ErrConcurrencyConflict, err)
		}
	}
	return err
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func notFound(what, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, core.ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", what, id, err)
}
