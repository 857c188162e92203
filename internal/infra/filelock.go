package infra

import (
	"fmt"
	"os"
)

// withFileLock runs fn while holding an exclusive lock on lockPath. The lock
// is advisory and shared between processes, so the daemon and one-shot CLI
// commands never interleave writes.
func withFileLock(lockPath string, fn func() error) error {
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lock.Close()

	if err := lockFile(lock); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = unlockFile(lock) }()

	return fn()
}
