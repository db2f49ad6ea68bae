//go:build linux

package reactor

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// maxDirectFDs bounds the direct-indexed fd table, matching the
// teacher's maxFDs constant in poller_linux.go. RegisterFD, ModifyFD
// and UnregisterFD reject fds at or above it with ErrFDNotRegistered.
const maxDirectFDs = 65536

type fdState struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// platformSelector is the epoll-backed Selector for Linux, grounded on
// poller_linux.go's FastPoller: direct array indexing for O(1) lookup,
// an RWMutex guarding the table, and a version counter so a concurrent
// modification during EpollWait can't be dispatched against stale
// state.
type platformSelector struct {
	epfd     int32
	version  atomic.Uint64
	eventBuf [256]unix.EpollEvent
	fds      [maxDirectFDs]fdState
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

func (p *platformSelector) Init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.fdMu.Lock()
	p.fds = [maxDirectFDs]fdState{}
	p.fdMu.Unlock()
	p.epfd = int32(epfd)
	p.closed.Store(false)
	return nil
}

func (p *platformSelector) Close() error {
	p.closed.Store(true)
	if p.epfd > 0 {
		return unix.Close(int(p.epfd))
	}
	return nil
}

func (p *platformSelector) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrSelectorClosed
	}
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDNotRegistered
	}

	p.fdMu.Lock()
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdState{callback: cb, events: events, active: true}
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdState{}
		p.fdMu.Unlock()
		return err
	}
	return nil
}

func (p *platformSelector) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDNotRegistered
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd] = fdState{}
	p.version.Add(1)
	p.fdMu.Unlock()
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *platformSelector) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDNotRegistered
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd].events = events
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *platformSelector) Poll(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrSelectorClosed
	}
	v := p.version.Load()
	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
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

func (p *platformSelector) dispatch(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= maxDirectFDs {
			continue
		}
		p.fdMu.RLock()
		info := p.fds[fd]
		p.fdMu.RUnlock()
		if info.active && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
		}
	}
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
