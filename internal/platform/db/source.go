package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ehr/reports/internal/analytics/aggregate"
)

// Drivers accepted by Open.
const (
	DriverPool = "pgxpool"
	DriverSQL  = "database/sql"
)

// Source is a report data source that can also be health-checked.
type Source interface {
	aggregate.Source
	Ping(ctx context.Context) error
	Stats() *PoolStats
	Close()
}

// PoolSource serves report queries from a pgx pool.
type PoolSource struct {
	pool *pgxpool.Pool
}

// NewPoolSource wraps a pool.
func NewPoolSource(pool *pgxpool.Pool) *PoolSource {
	return &PoolSource{pool: pool}
}

// Query runs a parameterized query. pgx rows already satisfy aggregate.Rows.
func (s *PoolSource) Query(ctx context.Context, query string, args ...any) (aggregate.Rows, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PoolSource) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PoolSource) Stats() *PoolStats { return GetPoolStats(s.pool) }

func (s *PoolSource) Close() { s.pool.Close() }

// SQLSource serves report queries from a database/sql handle.
type SQLSource struct {
	db *sql.DB
}

// NewSQLSource wraps a database handle.
func NewSQLSource(db *sql.DB) *SQLSource {
	return &SQLSource{db: db}
}

// OpenSQL opens a database/sql handle backed by the pgx driver.
func OpenSQL(ctx context.Context, databaseURL string, maxConns, minConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Query runs a parameterized query.
func (s *SQLSource) Query(ctx context.Context, query string, args ...any) (aggregate.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

func (s *SQLSource) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Stats reports database/sql pool counters in the pgx shape.
func (s *SQLSource) Stats() *PoolStats {
	st := s.db.Stats()
	return &PoolStats{
		TotalConns:      int32(st.OpenConnections),
		IdleConns:       int32(st.Idle),
		AcquiredConns:   int32(st.InUse),
		MaxConns:        int32(st.MaxOpenConnections),
		AcquireCount:    st.WaitCount,
		AcquireDuration: st.WaitDuration.String(),
		Healthy:         st.OpenConnections > 0,
	}
}

func (s *SQLSource) Close() { s.db.Close() }

type sqlRows struct{ *sql.Rows }

func (r sqlRows) Close() { r.Rows.Close() }

// Open connects to the database with the named driver.
func Open(ctx context.Context, driver, databaseURL string, maxConns, minConns int32) (Source, error) {
	switch driver {
	case "", DriverPool:
		pool, err := NewPool(ctx, databaseURL, maxConns, minConns)
		if err != nil {
			return nil, err
		}
		return NewPoolSource(pool), nil
	case DriverSQL:
		db, err := OpenSQL(ctx, databaseURL, int(maxConns), int(minConns))
		if err != nil {
			return nil, err
		}
		return NewSQLSource(db), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", driver)
}
