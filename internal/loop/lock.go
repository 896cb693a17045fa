package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// SessionLock is an exclusive flock guarding one project's upgrade session.
type SessionLock struct {
	file *os.File
}

// AcquireSessionLock takes the lock under the state dir without blocking.
// A held lock means another upgrade session is running on this project.
func AcquireSessionLock(stateDir string) (*SessionLock, error) {
	locksDir := filepath.Join(stateDir, "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(locksDir, "upgrade.lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("another upgrade session is already running on this project")
	}
	return &SessionLock{file: file}, nil
}

// Release releases the lock.
func (l *SessionLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
