// Package coro: I/O readiness notification.
//
// Each worker owns exactly one poller, registered with platform-native
// readiness notification (epoll on Linux, kqueue on Darwin). FDs are
// registered once per worker, report edge-triggered read/write readiness
// and error/hangup, and are interruptible from any goroutine via wake.
package coro

import "errors"

// maxFDs bounds the direct-indexed fd table used by both platform
// pollers; large enough for any realistic single-process FD budget
// without resorting to a map lookup per event.
const maxFDs = 65536

var (
	errFDOutOfRange        = errors.New("coro: fd out of range")
	errFDAlreadyRegistered = errors.New("coro: fd already registered")
	errFDNotRegistered     = errors.New("coro: fd not registered")
	errPollerClosed        = errors.New("coro: poller closed")
)

// fdInfo is one entry in a poller's direct-indexed fd table.
type fdInfo struct {
	callback ioCallback
	active   bool
}

// ioEvents is a bitmask of I/O readiness conditions.
type ioEvents uint32

const (
	ioEventRead ioEvents = 1 << iota
	ioEventWrite
	ioEventError
	ioEventHangup
)

// ioCallback is invoked by the poller with the readiness bits observed for
// the FD it was registered against. FD panics do not go through this
// callback: Worker.handleFDPanic claims the FD's waiters directly with
// StatusPanic.
type ioCallback func(events ioEvents)

// ioPoller is the contract every platform-specific poller implements.
// Registration failures on FDs that are not pollable (regular files) are
// benign; callers treat such FDs as synchronous instead of registering
// them.
type ioPoller interface {
	init() error
	closePoller() error
	registerFD(fd int, cb ioCallback) error
	unregisterFD(fd int) error
	// poll blocks for at most timeoutMs (a negative value blocks
	// indefinitely) and dispatches any callback for an FD that became
	// ready. Returns the number of FDs dispatched.
	poll(timeoutMs int) (int, error)
}
