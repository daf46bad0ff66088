package state

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/logging"
)

// LockFileName is the name of the lock file within the state directory.
const LockFileName = "loop.lock"

// Lock represents an acquired loop lock. One live process may drive the
// loop for a given plan at a time; the holder's PID is probed with signal
// 0, so a crashed holder never wedges the plan.
type Lock struct {
	PlanPath   string    `json:"plan_path"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`

	// Internal fields (not serialized)
	lockPath string
	logger   *logging.Logger
}

// AcquireLock takes the exclusive loop lock for a plan. It returns
// ErrLockHeld when a live process already owns it and silently replaces a
// lock whose owning process is gone. The logger is optional and may be nil.
func AcquireLock(layout *Layout, logger *logging.Logger) (*Lock, error) {
	lockPath := layout.LockPath()

	if existing, err := ReadLockFile(lockPath); err == nil {
		if isProcessAlive(existing.PID) {
			if logger != nil {
				logger.Error("failed to acquire loop lock",
					"plan", layout.PlanPath,
					"holder_pid", existing.PID,
					"holder_host", existing.Hostname,
				)
			}
			return nil, fmt.Errorf("%w: held by PID %d on %s", errors.ErrLockHeld, existing.PID, existing.Hostname)
		}
		oldPID := existing.PID
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		if logger != nil {
			logger.Warn("stale loop lock cleaned",
				"plan", layout.PlanPath,
				"old_pid", oldPID,
			)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &Lock{
		PlanPath:   layout.PlanPath,
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
		lockPath:   lockPath,
		logger:     logger,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL closes the race where another process recreates the file
	// between the staleness check and now.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := ReadLockFile(lockPath); readErr == nil {
				return nil, fmt.Errorf("%w: held by PID %d on %s", errors.ErrLockHeld, existing.PID, existing.Hostname)
			}
			return nil, errors.ErrLockHeld
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	if logger != nil {
		logger.Info("loop lock acquired",
			"plan", layout.PlanPath,
			"pid", lock.PID,
		)
	}

	return lock, nil
}

// Release removes the lock file if this process still owns it. Safe to
// call multiple times.
func (l *Lock) Release() error {
	if l == nil || l.lockPath == "" {
		return nil
	}

	existing, err := ReadLockFile(l.lockPath)
	if err != nil {
		return nil
	}
	if existing.PID != l.PID {
		return nil
	}

	if err := os.Remove(l.lockPath); err != nil {
		return err
	}

	if l.logger != nil {
		l.logger.Info("loop lock released", "plan", l.PlanPath)
	}

	return nil
}

// ReadLockFile reads and parses a lock file.
func ReadLockFile(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.lockPath = path

	return &lock, nil
}

// IsLocked reports whether a live process currently holds the loop lock,
// returning the holder's info when one does.
func IsLocked(layout *Layout) (*Lock, bool) {
	lock, err := ReadLockFile(layout.LockPath())
	if err != nil {
		return nil, false
	}
	if !isProcessAlive(lock.PID) {
		return lock, false
	}
	return lock, true
}

// isProcessAlive checks if a process with the given PID is still running.
// On Unix, sending signal 0 checks existence without affecting the target.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
