package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/planloop/internal/errors"
)

// deadPID is far above any real pid_max, so signal 0 always reports it gone.
const deadPID = 1 << 30

func newLockLayout(t *testing.T) *Layout {
	t.Helper()

	layout := NewLayout(filepath.Join(t.TempDir(), "plan.md"))
	if err := layout.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	return layout
}

func writeLockFile(t *testing.T, layout *Layout, pid int) {
	t.Helper()

	data, err := json.Marshal(Lock{
		PlanPath:   layout.PlanPath,
		PID:        pid,
		Hostname:   "elsewhere",
		AcquiredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshaling lock: %v", err)
	}
	if err := os.WriteFile(layout.LockPath(), data, 0644); err != nil {
		t.Fatalf("writing lock file: %v", err)
	}
}

func TestAcquireLock_AndRelease(t *testing.T) {
	layout := newLockLayout(t)

	lock, err := AcquireLock(layout, nil)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	if lock.PID != os.Getpid() {
		t.Errorf("lock PID = %d, want %d", lock.PID, os.Getpid())
	}
	if lock.PlanPath != layout.PlanPath {
		t.Errorf("lock PlanPath = %q, want %q", lock.PlanPath, layout.PlanPath)
	}

	onDisk, err := ReadLockFile(layout.LockPath())
	if err != nil {
		t.Fatalf("ReadLockFile() error = %v", err)
	}
	if onDisk.PID != os.Getpid() {
		t.Errorf("on-disk PID = %d, want %d", onDisk.PID, os.Getpid())
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(layout.LockPath()); !os.IsNotExist(err) {
		t.Error("lock file still exists after Release")
	}

	// Releasing again is a no-op.
	if err := lock.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestAcquireLock_HeldByLiveProcess(t *testing.T) {
	layout := newLockLayout(t)

	first, err := AcquireLock(layout, nil)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer first.Release()

	_, err = AcquireLock(layout, nil)
	if !errors.Is(err, errors.ErrLockHeld) {
		t.Fatalf("second AcquireLock() error = %v, want ErrLockHeld", err)
	}
	if !strings.Contains(err.Error(), "PID") {
		t.Errorf("error does not name the holder: %v", err)
	}
}

func TestAcquireLock_ReplacesStaleLock(t *testing.T) {
	layout := newLockLayout(t)
	writeLockFile(t, layout, deadPID)

	lock, err := AcquireLock(layout, nil)
	if err != nil {
		t.Fatalf("AcquireLock() over stale lock error = %v", err)
	}
	defer lock.Release()

	onDisk, err := ReadLockFile(layout.LockPath())
	if err != nil {
		t.Fatalf("ReadLockFile() error = %v", err)
	}
	if onDisk.PID != os.Getpid() {
		t.Errorf("on-disk PID = %d, want %d after stale replacement", onDisk.PID, os.Getpid())
	}
}

func TestLock_ReleaseDoesNotRemoveForeignLock(t *testing.T) {
	layout := newLockLayout(t)

	lock, err := AcquireLock(layout, nil)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	// Another process replaced the lock out from under us.
	writeLockFile(t, layout, deadPID)

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(layout.LockPath()); err != nil {
		t.Error("Release removed a lock owned by another process")
	}
}

func TestIsLocked(t *testing.T) {
	layout := newLockLayout(t)

	if _, locked := IsLocked(layout); locked {
		t.Error("IsLocked() = true with no lock file")
	}

	writeLockFile(t, layout, deadPID)
	if holder, locked := IsLocked(layout); locked {
		t.Errorf("IsLocked() = true for dead holder %+v", holder)
	}

	lock, err := AcquireLock(layout, nil)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer lock.Release()

	holder, locked := IsLocked(layout)
	if !locked {
		t.Fatal("IsLocked() = false while we hold the lock")
	}
	if holder.PID != os.Getpid() {
		t.Errorf("holder PID = %d, want %d", holder.PID, os.Getpid())
	}
}

func TestReadLockFile_Invalid(t *testing.T) {
	layout := newLockLayout(t)

	if _, err := ReadLockFile(layout.LockPath()); err == nil {
		t.Error("ReadLockFile() on missing file succeeded")
	}

	if err := os.WriteFile(layout.LockPath(), []byte("{broken"), 0644); err != nil {
		t.Fatalf("writing lock file: %v", err)
	}
	_, err := ReadLockFile(layout.LockPath())
	if err == nil || !strings.Contains(err.Error(), "parse") {
		t.Errorf("ReadLockFile() error = %v, want parse failure", err)
	}
}

func TestIsProcessAlive(t *testing.T) {
	tests := []struct {
		name string
		pid  int
		want bool
	}{
		{"own process", os.Getpid(), true},
		{"nonexistent pid", deadPID, false},
		{"zero pid", 0, false},
		{"negative pid", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isProcessAlive(tt.pid); got != tt.want {
				t.Errorf("isProcessAlive(%d) = %v, want %v", tt.pid, got, tt.want)
			}
		})
	}
}
