package leaderlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"torale/internal/logging"
)

// FileLock is an advisory lock backed by a sentinel file, using the same
// local-first posture as the file task store: single-host or dev
// deployments that don't want a Postgres dependency just for leader
// election get one less moving part. It is not safe across machines or
// filesystems that don't support atomic O_EXCL creates (e.g. some network
// mounts).
type FileLock struct {
	path            string
	acquireInterval time.Duration
	logger          logging.Logger

	mu   sync.Mutex
	held bool
}

// NewFileLock builds a FileLock whose sentinel file lives at path.
func NewFileLock(path string, acquireInterval time.Duration, logger logging.Logger) *FileLock {
	if acquireInterval <= 0 {
		acquireInterval = defaultAcquireInterval
	}
	return &FileLock{
		path:            path,
		acquireInterval: acquireInterval,
		logger:          logging.OrNop(logger),
	}
}

func (l *FileLock) Name() string { return l.path }

func (l *FileLock) Acquire(ctx context.Context) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	if l.held {
		l.mu.Unlock()
		return true, nil
	}
	l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("leaderlock: create sentinel directory: %w", err)
	}

	for {
		ok, err := l.tryCreate()
		if err != nil {
			return false, err
		}
		if ok {
			l.mu.Lock()
			l.held = true
			l.mu.Unlock()
			l.logger.Info("leaderlock: acquired file lock=%s", l.path)
			return true, nil
		}

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

// tryCreate attempts an atomic, exclusive sentinel-file creation. A
// pre-existing sentinel left behind by a process that died without calling
// Release is treated as stale and removed if its recorded pid is no longer
// running; this call still reports false, and the caller's next attempt can
// then create the sentinel.
func (l *FileLock) tryCreate() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		_, writeErr := f.WriteString(strconv.Itoa(os.Getpid()))
		closeErr := f.Close()
		if writeErr != nil {
			return false, fmt.Errorf("leaderlock: write sentinel: %w", writeErr)
		}
		if closeErr != nil {
			return false, fmt.Errorf("leaderlock: close sentinel: %w", closeErr)
		}
		return true, nil
	}
	if !os.IsExist(err) {
		return false, fmt.Errorf("leaderlock: create sentinel: %w", err)
	}
	if l.removeIfStale() {
		return false, nil // caller retries on the next tick
	}
	return false, nil
}

// removeIfStale deletes the sentinel file if the pid it records is no
// longer alive. Returns true if it removed the file.
func (l *FileLock) removeIfStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if proc.Signal(syscall.Signal(0)) == nil {
		return false // still alive
	}
	return os.Remove(l.path) == nil
}

func (l *FileLock) Release(ctx context.Context) error {
	l.mu.Lock()
	held := l.held
	l.held = false
	l.mu.Unlock()
	if !held {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("leaderlock: remove sentinel: %w", err)
	}
	l.logger.Info("leaderlock: released file lock=%s", l.path)
	return nil
}

var _ LeaderLock = (*FileLock)(nil)
