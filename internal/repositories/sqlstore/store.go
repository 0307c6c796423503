// Package sqlstore implements the billing repositories on database/sql. PostgreSQL is reached
// through lib/pq and SQLite through the pure Go modernc driver; SQLite databases are migrated
// when opened.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ledgerlink/billing/internal/repositories"
)

// Dialect selects placeholder syntax and value encoding for a database engine.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("sqlstore: unsupported dialect %q", raw)
	}
}

func (d Dialect) driverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "postgres"
}

// Option customises the connection pool created by Open.
type Option func(*options)

type options struct {
	maxOpenConns    int
	connMaxLifetime time.Duration
	pingTimeout     time.Duration
}

// WithMaxOpenConns caps the pool size. SQLite always uses a single connection.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}

// WithConnMaxLifetime recycles pooled connections after d.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connMaxLifetime = d
		}
	}
}

// WithPingTimeout bounds the connectivity check performed by Open.
func WithPingTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pingTimeout = d
		}
	}
}

// Store serves the billing repositories from a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ repositories.Registry                  = (*Store)(nil)
	_ repositories.CustomerRepository        = (*Store)(nil)
	_ repositories.OrderRepository           = (*Store)(nil)
	_ repositories.CustomerServiceRepository = (*Store)(nil)
	_ repositories.RuleGroupRepository       = (*Store)(nil)
	_ repositories.ProductRepository         = (*Store)(nil)
)

// Open connects to dsn and verifies the connection. SQLite schemas are created when missing.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}
	cfg := options{maxOpenConns: 10, pingTimeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// In-memory databases live and die with their connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}
	if cfg.connMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.connMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, wrapError("sqlstore.open", err)
	}

	store := New(db, dialect)
	if dialect == DialectSQLite {
		if err := store.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

// New wraps an existing handle. The caller owns schema management.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrapError("sqlstore.ping", err)
	}
	return nil
}

func (s *Store) Customers() repositories.CustomerRepository               { return s }
func (s *Store) Orders() repositories.OrderRepository                     { return s }
func (s *Store) CustomerServices() repositories.CustomerServiceRepository { return s }
func (s *Store) RuleGroups() repositories.RuleGroupRepository             { return s }
func (s *Store) Products() repositories.ProductRepository                 { return s }

// rebind rewrites ? placeholders into the dialect's positional form.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeArg encodes t for comparison against stored close dates. SQLite keeps timestamps as
// fixed-width UTC text so lexical and chronological order agree.
func (s *Store) timeArg(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewStoreError(op, repositories.StoreErrorNotFound, "record not found", err)
	}

	code := repositories.StoreErrorUnknown
	var pqErr *pq.Error
	var netErr net.Error
	switch {
	case errors.As(err, &pqErr):
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			code = repositories.StoreErrorUnavailable
		case "23":
			code = repositories.StoreErrorConflict
		}
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.As(err, &netErr):
		code = repositories.StoreErrorUnavailable
	}
	return repositories.NewStoreError(op, code, "", err)
}

func corrupt(op, message string, err error) error {
	return repositories.NewStoreError(op, repositories.StoreErrorCorrupt, message, err)
}
