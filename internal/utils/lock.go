package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileSuffix = ".lock"

// FileLock serialises writers of one output file across rua processes. The
// lock lives in a sibling "<file>.lock".
type FileLock struct {
	lock *flock.Flock
	path string
}

func NewFileLock(target string) (*FileLock, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}
	path := abs + lockFileSuffix
	return &FileLock{lock: flock.New(path), path: path}, nil
}

// Lock blocks until the lock is held. When another run owns it, a note goes
// to stderr first so the wait is not silent.
func (l *FileLock) Lock() error {
	if err := EnsureParentDir(l.path); err != nil {
		return fmt.Errorf("create directory for %s: %w", l.path, err)
	}

	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	if ok {
		return nil
	}

	fmt.Fprintf(os.Stderr, "Another rua process is writing %s, waiting for it to finish...\n", l.path)
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	return nil
}

func (l *FileLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return nil
}
