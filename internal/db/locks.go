package db

import (
	"context"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocker provides cross-replica mutual exclusion using Postgres
// session advisory locks. Each lock is held on a dedicated pooled connection
// so releasing the connection releases the lock even if the caller dies.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker creates a locker backed by the given pool
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// TryLock attempts to take the advisory lock for the given key without
// blocking. On success it returns an unlock function that must be called
// exactly once. Returns acquired=false when another session holds the lock.
func (l *AdvisoryLocker) TryLock(ctx context.Context, key uuid.UUID) (unlock func(), acquired bool, err error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	lockID := lockKey(key)

	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, err
	}

	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock = func() {
		// Unlock on the same session; ignore the result since releasing the
		// connection would drop a session lock anyway.
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockID)
		conn.Release()
	}
	return unlock, true, nil
}

// lockKey folds a UUID into the 64-bit advisory lock keyspace
func lockKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write(id[:])
	return int64(h.Sum64())
}
