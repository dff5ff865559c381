// Package instancelock acquires the single-instance advisory file lock
// every storage root (or storage-root+date) requires before it can open
// (spec §4.I). Grounded on the cross-process flock / in-process mutex
// split documented in the pack's mddb collaborator, using the pack's own
// gofrs/flock dependency rather than hand-rolling a lock file protocol.
package instancelock

import (
	"os"

	"github.com/gofrs/flock"

	"github.com/ionbus/ionbus-fast-persist/persisterrors"
)

// Lock is an acquired exclusive advisory lock on one path.
type Lock struct {
	path string
	fl   *flock.Flock
}

// Acquire tries to take an exclusive lock on path, failing fast rather
// than blocking — two instances pointed at the same storage root is a
// configuration error, not a queue (spec §4.I).
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, persisterrors.NewInstanceLockedError(path)
	}
	if !ok {
		return nil, persisterrors.NewInstanceLockedError(path)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Release unlocks and removes the lock file. Only called on clean
// shutdown; a lock left behind by an abnormal termination is left for an
// operator to remove by hand (spec §4.I, §7).
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return err
	}
	_ = os.Remove(l.path) // best-effort; a leftover empty file is harmless
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}
