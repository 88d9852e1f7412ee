package generation

import (
	"errors"
	"sync/atomic"
)

// ErrBusy is returned when the proposal already has work in progress.
var ErrBusy = errors.New("generation already in progress")

// Lock is a non-blocking mutual exclusion flag. A second caller is turned
// away instead of queued.
type Lock struct {
	held atomic.Bool
}

// TryAcquire takes the lock and reports whether it was free.
func (l *Lock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release frees the lock.
func (l *Lock) Release() {
	l.held.Store(false)
}

// Held reports whether the lock is taken.
func (l *Lock) Held() bool {
	return l.held.Load()
}
