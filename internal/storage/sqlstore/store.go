// Package sqlstore implements storage.Store on database/sql.
//
// Two backends are supported: an embedded SQLite file (modernc.org/sqlite,
// the default) and a MySQL-protocol server such as MySQL or a Dolt
// sql-server (go-sql-driver/mysql). The (project_id, remote_id) unique key
// enforces import deduplication in both.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/steveyegge/bdimport/internal/storage"
)

// Config selects and configures the SQL backend.
type Config struct {
	Driver string // "sqlite" (default) or "mysql"
	Path   string // SQLite database file, or ":memory:"

	// MySQL server settings
	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      bool
}

// Store is a SQL-backed storage.Store.
type Store struct {
	db      *sql.DB
	dialect dialect
}

var _ storage.Store = (*Store)(nil)

const serverRetryMaxElapsed = 30 * time.Second

func newServerRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = serverRetryMaxElapsed
	return bo
}

// Open connects to the configured backend, then creates or migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch d.name {
	case "mysql":
		db, err = openServer(cfg)
	default:
		db, err = openSQLite(cfg.Path)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, dialect: d}
	if err := s.withRetry(ctx, func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", d.name, err)
	}
	if err := Initialize(ctx, s); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(ctx, s); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// openSQLite opens or creates the SQLite database at path with WAL mode,
// foreign key enforcement and a busy timeout.
func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite is single-writer, and :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}
	return db, nil
}

func openServer(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", ServerDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open server connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// ServerDSN builds the go-sql-driver/mysql DSN for a server backend.
func ServerDSN(cfg Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	if mc.User == "" {
		mc.User = "root"
	}
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	mc.Addr = fmt.Sprintf("%s:%d", host, port)
	mc.DBName = cfg.Database
	if mc.DBName == "" {
		mc.DBName = "bdimport"
	}
	mc.ParseTime = true
	if cfg.TLS {
		mc.TLSConfig = "true"
	}
	return mc.FormatDSN()
}

// Driver returns the backend name ("sqlite" or "mysql").
func (s *Store) Driver() string { return s.dialect.name }

// DB exposes the underlying handle for diagnostics and tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry executes op, retrying transient connection errors against
// server backends. The embedded backend runs op once.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	if !s.dialect.retry {
		return op()
	}
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(newServerRetryBackoff(), ctx))
}

func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := s.withRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

func (s *Store) queryRowContext(ctx context.Context, scan func(*sql.Row) error, query string, args ...any) error {
	return s.withRetry(ctx, func() error {
		return scan(s.db.QueryRowContext(ctx, query, args...))
	})
}

// inTx runs fn inside a transaction, retrying the whole transaction on
// transient server errors.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// scanner abstracts *sql.Row and *sql.Rows for scanning a single row.
type scanner interface {
	Scan(dest ...any) error
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
