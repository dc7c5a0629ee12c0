package coro

import (
	"time"

	"golang.org/x/sys/unix"
)

// Event is one candidate branch of a [SelectAny] call: something that may
// already be true right now (subscribe resolves synchronously) or that
// must be waited for as part of the routine's event round.
type Event struct {
	kind eventKind

	// subscribe attempts the event's non-blocking precondition. If it
	// resolves immediately it returns ok=true with the resulting status;
	// otherwise it registers itself into r's in-progress round (via
	// r.addTimer/addRead/addWrite/addSemaWait) and returns ok=false.
	subscribe func(r *Routine) (ok bool, status Status)

	// execute runs once this branch has won (synchronously or via the
	// round) and produces the overall SelectAny result.
	execute func(r *Routine, status Status) any
}

// EventTimer fires after d elapses. Its subscribe always defers to the
// round: a timer branch never resolves synchronously.
func EventTimer(d time.Duration, cb func(status Status) any) *Event {
	return &Event{
		kind: eventTimer,
		subscribe: func(r *Routine) (bool, Status) {
			r.addTimer(time.Now().Add(d))
			return false, StatusOK
		},
		execute: func(_ *Routine, status Status) any { return cb(status) },
	}
}

// EventLock subscribes to acquiring sema (a mutex is a Semaphore of
// capacity 1): subscribe tries a synchronous decrement; on failure it
// registers a sema_wait event.
func EventLock(sema *Semaphore, cb func(status Status) any) *Event {
	var waited bool
	return &Event{
		kind: eventSemaWait,
		subscribe: func(r *Routine) (bool, Status) {
			if sema.disabled.Load() {
				return true, StatusClosed
			}
			if sema.counter.Add(-1) >= 0 {
				return true, StatusOK
			}
			waited = true
			r.addSemaWait(sema)
			return false, StatusOK
		},
		execute: func(_ *Routine, status Status) any {
			if waited && status == StatusOK {
				// installSemaWait gave the probe decrement back; take the
				// ticket the waking Post banked.
				sema.counter.Add(-1)
			}
			return cb(status)
		},
	}
}

// tryFDOp performs a non-blocking FD operation once; returning
// StatusWouldBlock for EAGAIN/EWOULDBLOCK so the caller can decide whether
// to fold the routine into the event round.
func tryFDOp(op func() (int, error)) (int, Status, error) {
	n, err := op()
	if err == nil {
		return n, StatusOK, nil
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, StatusWouldBlock, nil
	}
	return 0, StatusSyscall, err
}

func fdEvent(kind eventKind, fd int, op func() (int, error), cb func(n int, status Status, err error) any) *Event {
	var (
		resolved bool
		n        int
		status   Status
		opErr    error
	)
	run := func() {
		n, status, opErr = tryFDOp(op)
	}
	return &Event{
		kind: kind,
		subscribe: func(r *Routine) (bool, Status) {
			run()
			if status == StatusWouldBlock {
				if kind == eventIOWrite {
					r.addWrite(fd)
				} else {
					r.addRead(fd)
				}
				return false, StatusOK
			}
			resolved = true
			return true, status
		},
		execute: func(_ *Routine, winStatus Status) any {
			if !resolved {
				// Woken by the poller: the FD is now ready (or torn down
				// via FDPanic/close), so perform the actual operation.
				if winStatus == StatusOK {
					run()
				} else {
					status = winStatus
				}
			}
			return cb(n, status, opErr)
		},
	}
}

// EventRead subscribes to a non-blocking read of len(buf) bytes from fd.
func EventRead(fd int, buf []byte, cb func(n int, status Status, err error) any) *Event {
	return fdEvent(eventIORead, fd, func() (int, error) { return unix.Read(fd, buf) }, cb)
}

// EventWrite subscribes to a non-blocking write of buf to fd.
func EventWrite(fd int, buf []byte, cb func(n int, status Status, err error) any) *Event {
	return fdEvent(eventIOWrite, fd, func() (int, error) { return unix.Write(fd, buf) }, cb)
}

// EventRecv subscribes to a non-blocking socket recv.
func EventRecv(fd int, buf []byte, flags int, cb func(n int, status Status, err error) any) *Event {
	return fdEvent(eventIORead, fd, func() (int, error) {
		n, _, err := unix.Recvfrom(fd, buf, flags)
		return n, err
	}, cb)
}

// EventSend subscribes to a non-blocking socket send.
func EventSend(fd int, buf []byte, flags int, cb func(n int, status Status, err error) any) *Event {
	return fdEvent(eventIOWrite, fd, func() (int, error) { return 0, unix.Sendto(fd, buf, flags, nil) }, cb)
}

// EventAccept subscribes to a non-blocking accept on listening socket ls.
func EventAccept(ls int, cb func(connFD int, status Status, err error) any) *Event {
	var (
		resolved bool
		connFD   int
		status   Status
		opErr    error
	)
	attempt := func() {
		fd, _, err := unix.Accept4(ls, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		connFD = fd
		if err == nil {
			status = StatusOK
			return
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			status = StatusWouldBlock
			return
		}
		status, opErr = StatusSyscall, err
	}
	return &Event{
		kind: eventIORead,
		subscribe: func(r *Routine) (bool, Status) {
			attempt()
			if status == StatusWouldBlock {
				r.addRead(ls)
				return false, StatusOK
			}
			resolved = true
			return true, status
		},
		execute: func(_ *Routine, winStatus Status) any {
			if !resolved {
				if winStatus == StatusOK {
					attempt()
				} else {
					status = winStatus
				}
			}
			return cb(connFD, status, opErr)
		},
	}
}

// EventConnect subscribes to a non-blocking connect of fd to addr. On
// EINPROGRESS it waits for write-readiness, then resolves the outcome via
// SO_ERROR.
func EventConnect(fd int, addr unix.Sockaddr, cb func(status Status, err error) any) *Event {
	var (
		resolved bool
		pending  bool
		status   Status
		opErr    error
	)
	return &Event{
		kind: eventIOWrite,
		subscribe: func(r *Routine) (bool, Status) {
			err := unix.Connect(fd, addr)
			if err == nil {
				resolved, status = true, StatusOK
				return true, StatusOK
			}
			if err == unix.EINPROGRESS {
				pending = true
				r.addWrite(fd)
				return false, StatusOK
			}
			resolved, status, opErr = true, StatusSyscall, err
			return true, status
		},
		execute: func(_ *Routine, winStatus Status) any {
			if !resolved {
				if winStatus == StatusOK && pending {
					errno, serr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
					if serr != nil {
						status, opErr = StatusSyscall, serr
					} else if errno != 0 {
						status, opErr = StatusSyscall, unix.Errno(errno)
					} else {
						status = StatusOK
					}
				} else {
					status = winStatus
				}
			}
			return cb(status, opErr)
		},
	}
}

// EventChannelSend subscribes to sending v on ch: it tries the writers
// semaphore; on success it pushes the value and posts the readers
// semaphore from within execute, exactly as [Channel.Send] does, just
// split across the subscribe/execute boundary so it can be one branch of
// a larger round.
func EventChannelSend[T any](ch *Channel[T], v T, cb func(status Status) any) *Event {
	var waited bool
	return &Event{
		kind: eventSemaWait,
		subscribe: func(r *Routine) (bool, Status) {
			if ch.writers.disabled.Load() {
				return true, StatusClosed
			}
			if ch.writers.counter.Add(-1) >= 0 {
				return true, StatusOK
			}
			waited = true
			r.addSemaWait(ch.writers)
			return false, StatusOK
		},
		execute: func(_ *Routine, status Status) any {
			if status != StatusOK {
				return cb(StatusClosed)
			}
			if waited {
				ch.writers.counter.Add(-1) // take the ticket the waking Post banked
			}
			ch.mu.Lock()
			closed := ch.closed
			if !closed {
				ch.ring[ch.tail] = v
				ch.tail = (ch.tail + 1) % len(ch.ring)
				ch.count++
			}
			ch.mu.Unlock()
			if closed {
				return cb(StatusClosed)
			}
			ch.readers.Post()
			return cb(StatusOK)
		},
	}
}

// EventChannelRecv subscribes to receiving from ch into *out. For a
// rendezvous channel (capacity 0) this grants the paired Send its scratch
// slot up front, exactly as [Channel.Recv] does.
func EventChannelRecv[T any](ch *Channel[T], out *T, cb func(status Status) any) *Event {
	var waited bool
	return &Event{
		kind: eventSemaWait,
		subscribe: func(r *Routine) (bool, Status) {
			if ch.cap == 0 {
				ch.writers.Post()
			}
			if ch.readers.disabled.Load() {
				return true, StatusClosed
			}
			if ch.readers.counter.Add(-1) >= 0 {
				return true, StatusOK
			}
			waited = true
			r.addSemaWait(ch.readers)
			return false, StatusOK
		},
		execute: func(_ *Routine, status Status) any {
			if status != StatusOK {
				return cb(StatusClosed)
			}
			if waited {
				ch.readers.counter.Add(-1) // take the ticket the waking Post banked
			}
			ch.mu.Lock()
			if ch.closed && ch.count == 0 {
				ch.mu.Unlock()
				return cb(StatusClosed)
			}
			var zero T
			*out = ch.ring[ch.head]
			ch.ring[ch.head] = zero
			ch.head = (ch.head + 1) % len(ch.ring)
			ch.count--
			ch.mu.Unlock()
			if ch.cap != 0 {
				ch.writers.Post()
			}
			return cb(StatusOK)
		},
	}
}

// SelectAny atomically subscribes r to every candidate event, commits to
// exactly one, and returns that event's execute result. If more than one
// event resolves synchronously during subscription, the earliest one
// subscribed wins.
func SelectAny(r *Routine, events ...*Event) any {
	r.startRound()
	for _, ev := range events {
		ok, status := ev.subscribe(r)
		if ok {
			r.cancelRound()
			return ev.execute(r, status)
		}
	}
	r.commitRound()
	winner := r.round.winner
	status := r.round.winnerStatus
	if winner < 0 || winner >= len(events) {
		panic(badState("select: invalid winner index %d", winner))
	}
	return events[winner].execute(r, status)
}
