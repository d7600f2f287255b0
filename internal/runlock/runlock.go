// Package runlock serialises engine invocations for one service instance.
// Two concurrent runs over the same mapping database could interleave plan
// and apply phases, so the CLI takes this lock before any mutating command.
//
// The lock is a PID file created with O_EXCL. A crashed process leaves the
// file behind; the holder PID in the error message tells the operator what
// to check before removing it.
package runlock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Lock is a held run lock. Release it with [Lock.Release].
type Lock struct {
	path string
}

// Acquire takes the lock file at path, failing if another process holds it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another sync is running (holder pid %s); remove %s if it crashed",
				holderPID(path), path)
		}
		return nil, fmt.Errorf("creating lock file %q: %w", path, err)
	}

	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("writing lock file %q: %w", path, firstErr(werr, cerr))
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file %q: %w", l.path, err)
	}
	return nil
}

// DefaultPath returns the default lock file location:
// ~/.local/share/syncbridge/sync.lock
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "syncbridge", "sync.lock"), nil
}

// holderPID reads the PID recorded in an existing lock file, best effort.
func holderPID(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	pid := strings.TrimSpace(string(raw))
	if _, err := strconv.Atoi(pid); err != nil {
		return "unknown"
	}
	return pid
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
