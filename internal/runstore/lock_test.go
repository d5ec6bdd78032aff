package runstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireDataDir_SecondServerIsRefused(t *testing.T) {
	dataDir := t.TempDir()

	lock, err := AcquireDataDir(dataDir, ":8080")
	if err != nil {
		t.Fatalf("acquire data dir: %v", err)
	}
	defer func() {
		_ = lock.Release()
	}()

	_, err = AcquireDataDir(dataDir, ":9090")
	if !errors.Is(err, ErrDataDirInUse) {
		t.Fatalf("expected ErrDataDirInUse, got %v", err)
	}
	var inUse *DataDirInUseError
	if !errors.As(err, &inUse) || inUse.Owner == nil {
		t.Fatalf("expected owner details, got %v", err)
	}
	if inUse.Owner.PID != os.Getpid() || inUse.Owner.Addr != ":8080" {
		t.Fatalf("unexpected owner %+v", inUse.Owner)
	}
	if !strings.Contains(err.Error(), dataDir) || !strings.Contains(err.Error(), "addr=:8080") {
		t.Fatalf("expected directory and owner address in %q", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release data dir: %v", err)
	}

	lock2, err := AcquireDataDir(dataDir, ":9090")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := lock2.Release(); err != nil {
		t.Fatalf("release second claim: %v", err)
	}
}

func TestAcquireDataDir_UnreadableOwnerSuggestsCleanup(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dataDir, dataDirLockName), 0o755); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	_, err := AcquireDataDir(dataDir, "")
	if !errors.Is(err, ErrDataDirInUse) {
		t.Fatalf("expected ErrDataDirInUse, got %v", err)
	}
	if !strings.Contains(err.Error(), "remove "+filepath.Join(dataDir, dataDirLockName)) {
		t.Fatalf("expected cleanup hint in %q", err)
	}
}

func TestAcquireDataDir_CreatesMissingDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", "data")
	lock, err := AcquireDataDir(dataDir, "")
	if err != nil {
		t.Fatalf("acquire missing data dir: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := (DataDirLock{}).Release(); err != nil {
		t.Fatalf("release zero lock: %v", err)
	}
}

func TestAcquireDataDir_RequiresDir(t *testing.T) {
	if _, err := AcquireDataDir("  ", ""); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}
