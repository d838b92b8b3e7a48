package aggregate

import "context"

// Rows is the cursor returned by a Source. It matches the shape of pgx.Rows
// so the pgx pool can be adapted without buffering.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Source executes read-only, parameterized queries ($n placeholders).
type Source interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}
