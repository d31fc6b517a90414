package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Advisory lock keys for cross-instance job serialization. Each scheduled
// job gets its own fixed key; a second instance acquiring the same key while
// a run is in flight gets nothing back and must skip the run.
const (
	LockKeyRetention    int64 = 824001
	LockKeyPayoutBatch  int64 = 824002
	LockKeyCompetitions int64 = 824003
)

// Lock is an acquired advisory lock pinned to a single pooled connection.
// Session-level advisory locks only make sense on one connection, so the
// lock checks out a dedicated *sql.Conn for its lifetime.
type Lock struct {
	conn     *sql.Conn
	key      int64
	released bool
}

// AcquireLock attempts a non-blocking session-level advisory lock on a
// dedicated connection. Returns (nil, nil) when another session holds the
// lock. The caller must Release() the returned lock on every exit path,
// typically via defer.
func (db *DB) AcquireLock(ctx context.Context, key int64) (*Lock, error) {
	conn, err := db.Conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check out connection for lock %d: %w", key, err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire advisory lock %d: %w", key, err)
	}

	if !acquired {
		conn.Close()
		return nil, nil
	}

	return &Lock{conn: conn, key: key}, nil
}

// Release unlocks and returns the connection to the pool. Safe to call more
// than once; the connection is returned even if the unlock query fails.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.released {
		return nil
	}
	l.released = true

	var released bool
	err := l.conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&released)
	closeErr := l.conn.Close()
	if err != nil {
		return fmt.Errorf("failed to release advisory lock %d: %w", l.key, err)
	}
	if !released {
		return fmt.Errorf("advisory lock %d was not held by this session", l.key)
	}
	return closeErr
}
