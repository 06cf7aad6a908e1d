package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestAcquireLockRecordsOwner(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	owner := ReadOwner(filepath.Join(dir, LockFileName))
	if owner.PID != os.Getpid() {
		t.Errorf("expected owner pid %d, got %d", os.Getpid(), owner.PID)
	}
	if time.Since(owner.Started) > time.Minute {
		t.Errorf("unexpected start time %v", owner.Started)
	}
}

func TestAcquireLockConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir)
	if err == nil {
		second.Release()
		t.Fatal("second AcquireLock must fail while the first is held")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Owner.PID != os.Getpid() {
		t.Errorf("expected the refused caller to see pid %d, got %d", os.Getpid(), lockErr.Owner.PID)
	}
	if !errors.Is(err, syscall.EWOULDBLOCK) {
		t.Errorf("expected EWOULDBLOCK cause, got %v", lockErr.Cause)
	}
	msg := err.Error()
	for _, want := range []string{"another PizzaPipe instance", lockErr.LockPath, "(running)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should mention %q", msg, want)
		}
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("expected lock file to be removed, stat error %v", err)
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	again.Release()
}

func TestStaleLockFileIsTakenOver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)
	if err := os.WriteFile(path, []byte("pid=999999999 started=2020-01-01T00:00:00Z\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("a file without a live flock must not block: %v", err)
	}
	defer lock.Release()
	if got := ReadOwner(path).PID; got != os.Getpid() {
		t.Errorf("expected owner to be rewritten, got pid %d", got)
	}
}

func TestReadOwner(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    Owner
	}{
		{"full", "pid=42 started=2026-10-19T12:00:00Z\n", Owner{PID: 42, Started: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}},
		{"pid only", "pid=42\n", Owner{PID: 42}},
		{"garbage", "hello world", Owner{}},
		{"bad pid", "pid=abc", Owner{}},
		{"empty", "", Owner{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_"))
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			got := ReadOwner(path)
			if got.PID != tt.want.PID || !got.Started.Equal(tt.want.Started) {
				t.Errorf("ReadOwner() = %+v, want %+v", got, tt.want)
			}
		})
	}
	if got := ReadOwner(filepath.Join(dir, "missing")); got.PID != 0 {
		t.Errorf("missing file should give zero owner, got %+v", got)
	}
}

func TestOwnerString(t *testing.T) {
	if s := (Owner{}).String(); s != "unknown process" {
		t.Errorf("unexpected %q", s)
	}
	if s := (Owner{PID: os.Getpid()}).String(); !strings.Contains(s, "(running)") {
		t.Errorf("current process should be running, got %q", s)
	}
	if s := (Owner{PID: 999999999}).String(); !strings.Contains(s, "stale lock") {
		t.Errorf("expected stale marker, got %q", s)
	}
}
