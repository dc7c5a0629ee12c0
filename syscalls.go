package coro

import (
	"time"

	"golang.org/x/sys/unix"
)

// CodePanic is the sentinel return value for a syscall wrapper whose FD
// was torn down via [Engine.FDPanic] while the routine was suspended
// waiting on it.
const CodePanic = -2

// nonBlockingFD marks fd O_NONBLOCK, as every fd a routine may suspend on
// must be to safely interleave with the poller.
func nonBlockingFD(fd int) error {
	return unix.SetNonblock(fd, true)
}

// resultOf translates a (status, err) pair from an FD event into the
// syscall wrapper's (n, error) convention.
func resultOf(n int, status Status, err error) (int, error) {
	switch status {
	case StatusOK:
		return n, nil
	case StatusTimeout:
		return -1, ErrTimeout
	case StatusPanic:
		return CodePanic, ErrPanic
	case StatusClosed:
		return -1, ErrClosed
	default:
		return -1, &SyscallError{Op: "syscall", Err: err}
	}
}

// Read performs a non-blocking read of len(buf) bytes from fd, suspending
// the calling routine until data is available, fd is closed, or an
// FDPanic tears it down.
func Read(r *Routine, fd int, buf []byte) (int, error) {
	return ReadTimeout(r, fd, buf, -1)
}

// ReadTimeout is [Read] bounded by timeout; timeout < 0 means no bound.
func ReadTimeout(r *Routine, fd int, buf []byte, timeout time.Duration) (int, error) {
	res := selectWithTimeout(r, timeout, EventRead(fd, buf, func(n int, status Status, err error) any {
		return ioResult{n, status, err}
	}))
	return resultOf(res.n, res.status, res.err)
}

// Write performs a non-blocking write of buf to fd.
func Write(r *Routine, fd int, buf []byte) (int, error) {
	return WriteTimeout(r, fd, buf, -1)
}

// WriteTimeout is [Write] bounded by timeout.
func WriteTimeout(r *Routine, fd int, buf []byte, timeout time.Duration) (int, error) {
	res := selectWithTimeout(r, timeout, EventWrite(fd, buf, func(n int, status Status, err error) any {
		return ioResult{n, status, err}
	}))
	return resultOf(res.n, res.status, res.err)
}

// Recv performs a non-blocking socket recv.
func Recv(r *Routine, fd int, buf []byte, flags int) (int, error) {
	return RecvTimeout(r, fd, buf, flags, -1)
}

// RecvTimeout is [Recv] bounded by timeout.
func RecvTimeout(r *Routine, fd int, buf []byte, flags int, timeout time.Duration) (int, error) {
	res := selectWithTimeout(r, timeout, EventRecv(fd, buf, flags, func(n int, status Status, err error) any {
		return ioResult{n, status, err}
	}))
	return resultOf(res.n, res.status, res.err)
}

// Send performs a non-blocking socket send.
func Send(r *Routine, fd int, buf []byte, flags int) (int, error) {
	return SendTimeout(r, fd, buf, flags, -1)
}

// SendTimeout is [Send] bounded by timeout.
func SendTimeout(r *Routine, fd int, buf []byte, flags int, timeout time.Duration) (int, error) {
	res := selectWithTimeout(r, timeout, EventSend(fd, buf, flags, func(n int, status Status, err error) any {
		return ioResult{n, status, err}
	}))
	return resultOf(res.n, res.status, res.err)
}

// Accept accepts a connection on listening socket ls, suspending until
// one arrives.
func Accept(r *Routine, ls int) (int, error) {
	return AcceptTimeout(r, ls, -1)
}

// AcceptTimeout is [Accept] bounded by timeout.
func AcceptTimeout(r *Routine, ls int, timeout time.Duration) (int, error) {
	res := selectWithTimeout(r, timeout, EventAccept(ls, func(connFD int, status Status, err error) any {
		return ioResult{connFD, status, err}
	}))
	return resultOf(res.n, res.status, res.err)
}

// Connect connects fd to addr, suspending until the connection completes
// or fails.
func Connect(r *Routine, fd int, addr unix.Sockaddr) error {
	return ConnectTimeout(r, fd, addr, -1)
}

// ConnectTimeout is [Connect] bounded by timeout.
func ConnectTimeout(r *Routine, fd int, addr unix.Sockaddr, timeout time.Duration) error {
	res := selectWithTimeout(r, timeout, EventConnect(fd, addr, func(status Status, err error) any {
		return ioResult{0, status, err}
	}))
	_, err := resultOf(res.n, res.status, res.err)
	return err
}

// Close unregisters fd from the owning worker's poller (waking any
// suspended waiter with StatusClosed) and closes the underlying fd.
func Close(r *Routine, fd int) error {
	r.worker.unregisterFD(fd)
	return unix.Close(fd)
}

// Open opens path with the given flags/perm as a non-blocking fd. Regular
// files are not pollable; the open itself is always synchronous.
func Open(path string, flags int, perm uint32) (int, error) {
	fd, err := unix.Open(path, flags|unix.O_NONBLOCK, perm)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// Creat creates path with the given permissions.
func Creat(path string, perm uint32) (int, error) {
	return Open(path, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, perm)
}

// Pipe creates a connected pair of non-blocking fds, [read, write].
func Pipe() ([2]int, error) {
	return Pipe2(0)
}

// Pipe2 is [Pipe] with explicit flags (as accepted by the pipe2(2)
// syscall); O_NONBLOCK is always added.
func Pipe2(flags int) ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], flags|unix.O_NONBLOCK); err != nil {
		return [2]int{-1, -1}, err
	}
	return fds, nil
}

// Socket creates a non-blocking socket.
func Socket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK, proto)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// ioResult is the uniform payload every FD-backed Event's callback
// returns, letting the syscall wrappers share one result-unpacking path
// regardless of which underlying operation ran.
type ioResult struct {
	n      int
	status Status
	err    error
}

// selectWithTimeout runs ev alone if timeout < 0, or bundled with a timer
// branch otherwise, translating a timer win into an [ioResult] carrying
// StatusTimeout so callers have one uniform unpacking path.
func selectWithTimeout(r *Routine, timeout time.Duration, ev *Event) ioResult {
	if timeout < 0 {
		return SelectAny(r, ev).(ioResult)
	}
	timedOut := EventTimer(timeout, func(status Status) any {
		return ioResult{-1, StatusTimeout, ErrTimeout}
	})
	return SelectAny(r, ev, timedOut).(ioResult)
}
