package pidutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTripSelf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "self.pid")
	pid := os.Getpid()
	if err := Write(path, pid); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, start, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != pid {
		t.Fatalf("pid mismatch: got %d want %d", got, pid)
	}
	if !Owned(got, start) {
		t.Fatalf("own process should be owned (start=%d)", start)
	}
}

func TestReadPIDOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.pid")
	if err := os.WriteFile(path, []byte("12345\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	pid, start, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if pid != 12345 || start != 0 {
		t.Fatalf("unexpected result pid=%d start=%d", pid, start)
	}
}

func TestReadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Read(path); err == nil {
		t.Fatal("expected error for invalid pid")
	}
	if _, _, err := Read(filepath.Join(t.TempDir(), "missing.pid")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestWriteIgnoresEmptyInputs(t *testing.T) {
	if err := Write("", 42); err != nil {
		t.Fatalf("empty path: %v", err)
	}
	path := filepath.Join(t.TempDir(), "zero.pid")
	if err := Write(path, 0); err != nil {
		t.Fatalf("zero pid: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("no file expected for pid 0")
	}
}

func TestOwnedRejectsStartMismatch(t *testing.T) {
	pid := os.Getpid()
	if StartUnix(pid) == 0 {
		t.Skip("start time not available on this platform")
	}
	if Owned(pid, 1) {
		t.Fatal("mismatched start time must not be owned")
	}
	if Alive(0) || Alive(-1) {
		t.Fatal("non-positive pids are never alive")
	}
}
