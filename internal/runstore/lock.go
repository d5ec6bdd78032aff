package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dataDirLockName = ".plugin-jobs.lock"
	lockOwnerFile   = "owner.json"
)

// ErrDataDirInUse is matched by the error AcquireDataDir returns while
// another server owns the directory.
var ErrDataDirInUse = errors.New("data directory is in use by another plugin-jobs server")

// DataDirOwner is recorded inside the lock so a second server can say who
// holds the directory and where it listens.
type DataDirOwner struct {
	PID       int    `json:"pid"`
	Hostname  string `json:"hostname,omitempty"`
	Addr      string `json:"addr,omitempty"`
	StartedAt string `json:"started_at"`
}

// DataDirInUseError names the directory and, when readable, its owner.
type DataDirInUseError struct {
	Dir   string
	Owner *DataDirOwner
}

func (e *DataDirInUseError) Error() string {
	if e.Owner == nil {
		return fmt.Sprintf("%s: %s (remove %s if no server is running)", ErrDataDirInUse, e.Dir, filepath.Join(e.Dir, dataDirLockName))
	}
	return fmt.Sprintf("%s: %s (pid=%d host=%s addr=%s started_at=%s)",
		ErrDataDirInUse, e.Dir, e.Owner.PID, e.Owner.Hostname, e.Owner.Addr, e.Owner.StartedAt)
}

func (e *DataDirInUseError) Is(target error) bool { return target == ErrDataDirInUse }

// DataDirLock is held by the serve command for its lifetime. Everything the
// server writes under the directory assumes a single writer.
type DataDirLock struct {
	lockDir string
}

// AcquireDataDir creates dir when missing and claims it for the server
// listening on addr. The claim is an atomic mkdir of a lock directory.
func AcquireDataDir(dir, addr string) (DataDirLock, error) {
	target := strings.TrimSpace(dir)
	if target == "" {
		return DataDirLock{}, fmt.Errorf("data directory is required")
	}
	if err := Mkdir(target); err != nil {
		return DataDirLock{}, err
	}

	lockDir := filepath.Join(target, dataDirLockName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			inUse := &DataDirInUseError{Dir: target}
			var owner DataDirOwner
			if ReadJSON(filepath.Join(lockDir, lockOwnerFile), &owner) == nil && owner.PID > 0 {
				inUse.Owner = &owner
			}
			return DataDirLock{}, inUse
		}
		return DataDirLock{}, fmt.Errorf("claim data directory %s: %w", target, err)
	}

	owner := DataDirOwner{
		PID:       os.Getpid(),
		Hostname:  hostnameOrUnknown(),
		Addr:      strings.TrimSpace(addr),
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := WriteJSON(filepath.Join(lockDir, lockOwnerFile), owner); err != nil {
		_ = os.Remove(lockDir)
		return DataDirLock{}, fmt.Errorf("record data directory owner for %s: %w", target, err)
	}
	return DataDirLock{lockDir: lockDir}, nil
}

// Release gives the directory up. Releasing a zero lock is a no-op.
func (l DataDirLock) Release() error {
	if l.lockDir == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, lockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release data directory %s: %w", filepath.Dir(l.lockDir), err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}
