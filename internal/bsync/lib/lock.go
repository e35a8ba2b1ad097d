package lib

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrStateLocked is returned when another agent already holds the state file.
var ErrStateLocked = errors.New("state file is locked by another agent")

// StateLock is an exclusive, process-level lock next to a state file. Two agents
// writing the same snapshot would each resend the other's work and race on the
// final rename.
type StateLock struct {
	lock *flock.Flock
}

// AcquireStateLock takes the lock for statePath without blocking.
func AcquireStateLock(statePath string) (*StateLock, error) {
	if err := os.MkdirAll(filepath.Dir(statePath), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	lock := flock.New(statePath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrStateLocked, lock.Path())
	}
	return &StateLock{lock: lock}, nil
}

// Release drops the lock.
func (l *StateLock) Release() error {
	return l.lock.Unlock()
}
