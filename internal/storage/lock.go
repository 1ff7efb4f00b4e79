package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
)

// ExclusiveLock is the lock file a writer process holds while it resolves or
// rebuilds the corpus. A second writer refuses to start while a live holder exists.
type ExclusiveLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// ErrLocked is returned when another live process holds the lock
var ErrLocked = errors.New("database is locked by another writer")

// LockPath returns the lock file used for the given database
func LockPath(dbPath string) string {
	return dbPath + ".lock"
}

// AcquireExclusiveLock creates the lock file next to the database.
// A lock left behind by a dead process on this host is taken over.
// Returns the lock file path for cleanup on shutdown.
func AcquireExclusiveLock(dbPath, holder, version string) (lockPath string, err error) {
	if dbPath == "" {
		return "", fmt.Errorf("invalid database path: empty")
	}
	lockPath = LockPath(dbPath)

	if data, err := os.ReadFile(lockPath); err == nil {
		var existing ExclusiveLock
		if json.Unmarshal(data, &existing) == nil {
			if isProcessAlive(existing.PID, existing.Hostname) {
				return "", fmt.Errorf("%w: %s (PID %d on %s, started %s)",
					ErrLocked, existing.Holder, existing.PID, existing.Hostname,
					existing.StartedAt.Format(time.RFC3339))
			}
			// Stale lock - will overwrite
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	lock := ExclusiveLock{
		Holder:    holder,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		Version:   version,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}

	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create exclusive lock: %w", err)
	}

	return lockPath, nil
}

// ReleaseExclusiveLock removes the lock file. Safe to call with an empty path.
func ReleaseExclusiveLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}

	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove exclusive lock: %w", err)
	}

	return nil
}

// isProcessAlive checks if a process with the given PID exists on the given hostname.
// Remote hosts and unverifiable processes are assumed alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}

	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 probes for existence without delivering anything
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	if errors.Is(err, syscall.EPERM) {
		return true
	}

	return false
}
