//go:build darwin

package coro

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// kqueuePoller mirrors epollPoller's structure and same-FD bookkeeping,
// adapted to kqueue's two-filter (read/write) registration model instead
// of epoll's single combined event mask.
type kqueuePoller struct {
	kq       int
	eventBuf [256]unix.Kevent_t
	fds      [maxFDs]fdInfo
	fdMu     sync.RWMutex
	version  atomic.Uint64
	closed   atomic.Bool
}

func newPoller() ioPoller {
	return &kqueuePoller{}
}

func (p *kqueuePoller) init() error {
	if p.closed.Load() {
		return errPollerClosed
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	p.kq = kq
	return nil
}

func (p *kqueuePoller) closePoller() error {
	p.closed.Store(true)
	if p.kq > 0 {
		return unix.Close(p.kq)
	}
	return nil
}

func (p *kqueuePoller) registerFD(fd int, cb ioCallback) error {
	if p.closed.Load() {
		return errPollerClosed
	}
	if fd < 0 || fd >= maxFDs {
		return errFDOutOfRange
	}

	p.fdMu.Lock()
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return errFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, active: true}
	p.version.Add(1)
	p.fdMu.Unlock()

	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_CLEAR},
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdInfo{}
		p.fdMu.Unlock()
		return err
	}
	return nil
}

func (p *kqueuePoller) unregisterFD(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return errFDOutOfRange
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return errFDNotRegistered
	}
	p.fds[fd] = fdInfo{}
	p.version.Add(1)
	p.fdMu.Unlock()
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) poll(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, errPollerClosed
	}
	v := p.version.Load()

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * int64(1e6))
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}

	if p.version.Load() != v {
		return 0, nil
	}
	p.dispatch(n)
	return n, nil
}

func (p *kqueuePoller) dispatch(n int) {
	for i := 0; i < n; i++ {
		ev := &p.eventBuf[i]
		fd := int(ev.Ident)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		p.fdMu.RLock()
		info := p.fds[fd]
		p.fdMu.RUnlock()
		if !info.active || info.callback == nil {
			continue
		}
		info.callback(kqueueToEvents(ev))
	}
}

func kqueueToEvents(ev *unix.Kevent_t) ioEvents {
	var out ioEvents
	switch ev.Filter {
	case unix.EVFILT_READ:
		out |= ioEventRead
	case unix.EVFILT_WRITE:
		out |= ioEventWrite
	}
	if ev.Flags&unix.EV_EOF != 0 {
		out |= ioEventHangup
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		out |= ioEventError
	}
	return out
}
