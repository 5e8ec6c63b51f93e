package leaderlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"torale/internal/logging"
)

const (
	defaultLockName        = "torale_workflow_runtime"
	defaultAcquireInterval = 15 * time.Second
)

// rowScanner is the part of *sql.Row that PostgresLock needs, narrowed to
// an interface so tests can fake a query result without a real database.
type rowScanner interface {
	Scan(dest ...any) error
}

// advisoryConn is the slice of *sql.Conn that PostgresLock needs, narrowed
// to an interface so tests can fake it without a real database.
type advisoryConn interface {
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	Close() error
}

type acquireConnFn func(ctx context.Context) (advisoryConn, error)

type sqlConnAdapter struct {
	conn *sql.Conn
}

func (a *sqlConnAdapter) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return a.conn.QueryRowContext(ctx, query, args...)
}

func (a *sqlConnAdapter) Close() error { return a.conn.Close() }

// PostgresLock is a session-level pg_advisory_lock held on a single
// dedicated connection for as long as the process wants to be leader.
// Acquire blocks, retrying on an interval, until the lock is granted or ctx
// is canceled; Release unlocks and returns the connection to the pool.
type PostgresLock struct {
	lockName        string
	lockKey         int64
	acquireInterval time.Duration
	logger          logging.Logger
	acquireConn     acquireConnFn

	mu   sync.Mutex
	conn advisoryConn
}

// NewPostgresLock builds a PostgresLock over db, an already-open connection
// pool (shared with the task store rather than opening a second one).
func NewPostgresLock(db *sql.DB, lockName string, acquireInterval time.Duration, logger logging.Logger) *PostgresLock {
	acquire := func(ctx context.Context) (advisoryConn, error) {
		if db == nil {
			return nil, fmt.Errorf("leaderlock: postgres pool is nil")
		}
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return &sqlConnAdapter{conn: conn}, nil
	}
	return newPostgresLockWithAcquire(acquire, lockName, acquireInterval, logger)
}

func newPostgresLockWithAcquire(acquire acquireConnFn, lockName string, acquireInterval time.Duration, logger logging.Logger) *PostgresLock {
	name := strings.TrimSpace(lockName)
	if name == "" {
		name = defaultLockName
	}
	if acquireInterval <= 0 {
		acquireInterval = defaultAcquireInterval
	}
	return &PostgresLock{
		lockName:        name,
		lockKey:         lockKey(name),
		acquireInterval: acquireInterval,
		logger:          logging.OrNop(logger),
		acquireConn:     acquire,
	}
}

func (l *PostgresLock) Name() string { return l.lockName }

func (l *PostgresLock) Acquire(ctx context.Context) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	if l.conn != nil {
		l.mu.Unlock()
		return true, nil
	}
	l.mu.Unlock()

	for {
		conn, err := l.acquireConn(ctx)
		if err != nil {
			return false, fmt.Errorf("leaderlock: acquire connection: %w", err)
		}
		locked, err := l.tryLock(ctx, conn)
		if err != nil {
			conn.Close()
			return false, err
		}
		if locked {
			l.mu.Lock()
			if l.conn != nil {
				l.mu.Unlock()
				_ = unlock(context.Background(), conn, l.lockKey)
				conn.Close()
				return true, nil
			}
			l.conn = conn
			l.mu.Unlock()
			l.logger.Info("leaderlock: acquired lock=%s", l.lockName)
			return true, nil
		}
		conn.Close()

		timer := time.NewTimer(l.acquireInterval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *PostgresLock) Release(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	defer conn.Close()

	if err := unlock(ctx, conn, l.lockKey); err != nil {
		return err
	}
	l.logger.Info("leaderlock: released lock=%s", l.lockName)
	return nil
}

func (l *PostgresLock) tryLock(ctx context.Context, conn advisoryConn) (bool, error) {
	var locked bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.lockKey).Scan(&locked); err != nil {
		return false, fmt.Errorf("leaderlock: pg_try_advisory_lock: %w", err)
	}
	return locked, nil
}

func unlock(ctx context.Context, conn advisoryConn, key int64) error {
	var unlocked bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&unlocked); err != nil {
		return fmt.Errorf("leaderlock: pg_advisory_unlock: %w", err)
	}
	return nil
}

// lockKey hashes a human-readable lock name down to the int64 key
// pg_advisory_lock requires.
func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

var _ LeaderLock = (*PostgresLock)(nil)
