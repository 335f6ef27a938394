// Package postgres is the reference adapter/4.4 implementation of
// internal/hrana/adapter.Adapter, backed by lib/pq. It stands in for the
// original SQLite-family engine the HRANA protocol was designed around,
// per SPEC_FULL.md §5.4 — the pipeline above it is oblivious to the swap.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/apprun/core/internal/hrana/adapter"
)

// Config mirrors the connection parameters of a standard Postgres DSN,
// validated the way internal/db.validateConfig does in the teacher's
// handler layer, to rule out connection-string injection.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

var (
	hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
	identRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

func validateConfig(cfg Config) error {
	if cfg.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(cfg.Host) == nil && !hostnameRegex.MatchString(cfg.Host) {
		return fmt.Errorf("invalid database host: %s", cfg.Host)
	}
	if cfg.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s", cfg.Port)
	}
	if cfg.User == "" || !identRegex.MatchString(cfg.User) {
		return fmt.Errorf("invalid database user: %s", cfg.User)
	}
	if cfg.DBName == "" || !identRegex.MatchString(cfg.DBName) {
		return fmt.Errorf("invalid database name: %s", cfg.DBName)
	}
	switch cfg.SSLMode {
	case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("invalid SSL mode: %s", cfg.SSLMode)
	}
	return nil
}

// Adapter implements adapter.Adapter over a pooled *sql.DB.
type Adapter struct {
	db *sql.DB
}

// New opens a connection pool to cfg, validating the DSN fields first and
// pinging once to fail fast on bad credentials.
func New(cfg Config) (*Adapter, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid adapter configuration: %w", err)
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Adapter{db: db}, nil
}

// NewForTesting wraps an already-open *sql.DB, for sqlmock-driven tests.
func NewForTesting(db *sql.DB) *Adapter {
	return &Adapter{db: db}
}

var readPrefixes = []string{"SELECT", "WITH", "EXPLAIN", "SHOW", "TABLE", "VALUES"}

func isReadStatement(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	for _, p := range readPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// Execute implements adapter.Adapter. Statements classified as reads run
// through QueryContext and materialize every row; everything else runs
// through ExecContext and reports the driver's affected-row count. Postgres
// has no native last-insert-rowid; callers that need the inserted key use
// a RETURNING clause, which surfaces as an ordinary result row.
func (a *Adapter) Execute(ctx context.Context, sqlText string, args []any) (*adapter.Result, error) {
	if isReadStatement(sqlText) {
		return a.query(ctx, sqlText, args)
	}
	return a.exec(ctx, sqlText, args)
}

func (a *Adapter) query(ctx context.Context, sqlText string, args []any) (*adapter.Result, error) {
	rows, err := a.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, mapPQError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, mapPQError(err)
	}

	out := make([][]any, 0)
	for rows.Next() {
		scanned := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range scanned {
			ptrs[i] = &scanned[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, mapPQError(err)
		}
		out = append(out, normalizeRow(scanned))
	}
	if err := rows.Err(); err != nil {
		return nil, mapPQError(err)
	}

	return &adapter.Result{Columns: cols, Rows: out, RowsAffected: int64(len(out))}, nil
}

func (a *Adapter) exec(ctx context.Context, sqlText string, args []any) (*adapter.Result, error) {
	res, err := a.db.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return nil, mapPQError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &adapter.Result{RowsAffected: affected}, nil
}

// normalizeRow widens driver-specific byte-slice values ([]byte from text
// columns) into plain strings so downstream hrana.ToHranaValue sees the Go
// types it documents accepting.
func normalizeRow(row []any) []any {
	for i, v := range row {
		if b, ok := v.([]byte); ok {
			row[i] = string(b)
		}
	}
	return row
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// pqCodeTable maps the Postgres SQLSTATE classes the reference adapter is
// likely to surface onto the SQLITE_* vocabulary MapError's rule 1 expects,
// so a Postgres-backed deployment still speaks the HRANA error taxonomy.
var pqCodeTable = map[string]string{
	"23505": "SQLITE_CONSTRAINT_UNIQUE",
	"23503": "SQLITE_CONSTRAINT_FOREIGNKEY",
	"23502": "SQLITE_CONSTRAINT_NOTNULL",
	"23514": "SQLITE_CONSTRAINT_CHECK",
	"23P01": "SQLITE_CONSTRAINT",
	"42601": "SQLITE_ERROR", // syntax_error
	"42P01": "SQLITE_ERROR", // undefined_table
	"42703": "SQLITE_ERROR", // undefined_column
	"55P03": "SQLITE_BUSY",  // lock_not_available
	"40001": "SQLITE_BUSY",  // serialization_failure
	"25006": "SQLITE_READONLY",
}

// pqError adapts a *pq.Error into hrana's CodedError contract.
type pqError struct{ err *pq.Error }

func (e pqError) Error() string { return e.err.Error() }
func (e pqError) Code() any {
	if code, ok := pqCodeTable[string(e.err.Code)]; ok {
		return code
	}
	return string(e.err.Code)
}

func mapPQError(err error) error {
	if pe, ok := err.(*pq.Error); ok {
		return pqError{err: pe}
	}
	return err
}
