// Package lockfile keeps two PizzaPipe processes from sharing one state
// directory. The lock is an flock on a file in that directory, so the kernel
// drops it when the owning process dies.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the state directory.
const LockFileName = "pizzapipe.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Started time.Time
}

func (o Owner) String() string {
	if o.PID == 0 {
		return "unknown process"
	}
	state := "running"
	if !processAlive(o.PID) {
		state = "not running, stale lock"
	}
	if o.Started.IsZero() {
		return fmt.Sprintf("PID %d (%s)", o.PID, state)
	}
	return fmt.Sprintf("PID %d started %s (%s)", o.PID, o.Started.Format(time.RFC3339), state)
}

// AcquireLock takes the lock for stateDir, creating the directory if needed.
// A *LockError is returned when another process holds it.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	// Not truncated before flock so a refused caller can still read the owner.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		owner := ReadOwner(path)
		slog.Error("lockfile.AcquireLock: state directory in use", "lock_path", path, "owner", owner.String())
		return nil, &LockError{LockPath: path, Owner: owner, Cause: err}
	}

	if err := writeOwner(f, Owner{PID: os.Getpid(), Started: time.Now().UTC()}); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("failed to record owner in %s: %w", path, err)
	}

	slog.Info("lockfile.AcquireLock: state directory locked", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path}, nil
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	line := fmt.Sprintf("pid=%d started=%s\n", o.PID, o.Started.Format(time.RFC3339))
	if _, err := f.WriteAt([]byte(line), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeOwner: sync failed", "error", err)
	}
	return nil
}

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	// Remove while still holding the flock so a new owner never loses its file.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: remove failed", "lock_path", l.path, "error", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: unlock failed", "lock_path", l.path, "error", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close lock file %s: %w", l.path, err)
	}
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// LockError reports a state directory already locked by another process.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another PizzaPipe instance is using this state directory (lock file %s, held by %s)", e.LockPath, e.Owner)
	fmt.Fprintf(&b, "; if that process is gone, remove the file with: rm %s", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error { return e.Cause }

// ReadOwner parses the owner line of a lock file. Unreadable or foreign
// content yields the zero Owner.
func ReadOwner(path string) Owner {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}
	}
	var o Owner
	for _, field := range strings.Fields(string(data)) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				o.PID = pid
			}
		case "started":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				o.Started = ts
			}
		}
	}
	return o
}

// processAlive sends signal 0, which only checks that pid exists.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
