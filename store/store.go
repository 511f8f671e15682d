// Package store persists auction records, ingestion runs and source leases
// in PostgreSQL.
package store

import (
	"context"
	_ "embed"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-auction-ingest/config"
)

//go:embed schema.sql
var schema string

const defaultCourtCacheSize = 256

var (
	// ErrMissingIdentity is returned for records without a case number.
	ErrMissingIdentity = eris.New("store: record has no case number")
	// ErrDuplicateIdentity is returned when a concurrent writer inserted the
	// same identity key first.
	ErrDuplicateIdentity = eris.New("store: duplicate identity key")
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = eris.New("store: not found")
	// ErrRunClosed is returned when a run is finished twice.
	ErrRunClosed = eris.New("store: run already closed")
	// ErrLeaseHeld is returned when another owner holds an unexpired lease.
	ErrLeaseHeld = eris.New("store: lease held by another owner")
)

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements record, run and lease persistence on a pgx pool.
type PostgresStore struct {
	pool   Pool
	courts *lru.Cache[string, int64]
	now    func() time.Time
}

// Option configures a PostgresStore.
type Option func(*PostgresStore)

// WithClock overrides the time source used for created_at/updated_at and
// lease expiry.
func WithClock(now func() time.Time) Option {
	return func(s *PostgresStore) { s.now = now }
}

// New wraps an existing pool. courtCacheSize <= 0 uses the default.
func New(pool Pool, courtCacheSize int, opts ...Option) (*PostgresStore, error) {
	if courtCacheSize <= 0 {
		courtCacheSize = defaultCourtCacheSize
	}
	courts, err := lru.New[string, int64](courtCacheSize)
	if err != nil {
		return nil, eris.Wrap(err, "store: court cache")
	}
	s := &PostgresStore{pool: pool, courts: courts, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewPostgres opens a connection pool and pings it.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		minConns = cfg.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return New(pool, cfg.CourtCacheSize)
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return eris.Wrap(err, "store: migrate")
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
