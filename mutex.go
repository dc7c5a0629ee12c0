package coro

import "time"

// Mutex is a binary lock: a [Semaphore] of capacity 1. Like Semaphore and
// Channel it is a reference-counted handle, safe to copy and to pass
// between routines on different workers.
type Mutex struct {
	sema *Semaphore
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{sema: NewSemaphore(1)}
}

// Lock acquires the mutex, suspending the calling routine if it is already
// held. Returns [ErrClosed] if the mutex was disabled.
func (m *Mutex) Lock(r *Routine) error {
	if m.sema.Wait(r) == StatusClosed {
		return ErrClosed
	}
	return nil
}

// LockTimeout is [Mutex.Lock] bounded by timeout, via [EventLock] bundled
// with a timer branch.
func (m *Mutex) LockTimeout(r *Routine, timeout time.Duration) error {
	result := SelectAny(r,
		EventLock(m.sema, func(status Status) any { return status }),
		EventTimer(timeout, func(status Status) any { return StatusTimeout }),
	)
	switch result.(Status) {
	case StatusOK:
		return nil
	case StatusClosed:
		return ErrClosed
	default:
		return ErrTimeout
	}
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() {
	m.sema.Post()
}
