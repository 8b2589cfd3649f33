package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"
)

// DefaultLockStaleAfter is the age at which another instance's lock is ignored.
const DefaultLockStaleAfter = 30 * time.Minute

// ErrLocked is returned when another live instance holds the inbox lock.
var ErrLocked = errors.New("inbox is locked by another instance")

// LockInfo is the JSON body of the lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a single-instance guard backed by a file.
type Lock struct {
	path       string
	info       LockInfo
	staleAfter time.Duration
	now        func() time.Time
	alive      func(pid int) bool
	held       bool
}

func newLock(path string, staleAfter time.Duration, now func() time.Time) *Lock {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Lock{
		path:       path,
		info:       LockInfo{PID: os.Getpid(), Hostname: host},
		staleAfter: staleAfter,
		now:        now,
		alive:      processAlive,
	}
}

// Acquire takes the lock. A stale lock, or one left by a dead process on this
// host, is replaced; any other existing lock yields ErrLocked.
func (l *Lock) Acquire() (replaced *LockInfo, err error) {
	existing, err := readLock(l.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if existing != nil {
		switch {
		case l.now().Sub(existing.StartedAt) > l.staleAfter:
		case existing.Hostname == l.info.Hostname && !l.alive(existing.PID):
		default:
			return nil, fmt.Errorf("%w: pid %d on %s since %s", ErrLocked, existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	l.info.StartedAt = l.now()
	body, err := json.MarshalIndent(l.info, "", "  ")
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: lock created concurrently", ErrLocked)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		_ = os.Remove(l.path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	l.held = true
	return existing, nil
}

// Release removes the lock file if this process still owns it.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	current, err := readLock(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if current.PID != l.info.PID || current.Hostname != l.info.Hostname {
		return nil
	}
	return os.Remove(l.path)
}

// readLock returns fs.ErrNotExist when there is no lock. An unreadable lock
// body is treated as stale.
func readLock(path string) (*LockInfo, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return &LockInfo{}, nil
	}
	return &info, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
