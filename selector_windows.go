//go:build windows

package reactor

import (
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/windows"
)

type fdState struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// platformSelector is the IOCP-backed Selector for Windows, grounded on
// poller_windows.go's FastPoller. IOCP does not offer the same
// per-event-readiness granularity as epoll/kqueue for arbitrary
// sockets without overlapped I/O requests in flight, so on a wakeup
// this dispatches readiness for every registered fd and lets each
// Connection/Acceptor's own non-blocking syscalls determine whether
// there was actually work to do — consistent with spec.md's tick loop,
// which treats every connecting/readable/writable socket as something
// to attempt I/O against regardless of exact selector precision.
type platformSelector struct {
	iocp   windows.Handle
	fds    []fdState
	fdMu   sync.RWMutex
	closed atomic.Bool
}

func (p *platformSelector) Init() error {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return err
	}
	p.fdMu.Lock()
	p.fds = make([]fdState, 1024)
	p.fdMu.Unlock()
	p.iocp = iocp
	p.closed.Store(false)
	return nil
}

func (p *platformSelector) Close() error {
	p.closed.Store(true)
	if p.iocp != 0 {
		_ = windows.CloseHandle(p.iocp)
	}
	return nil
}

func (p *platformSelector) ensureCapacity(fd int) {
	if fd < len(p.fds) {
		return
	}
	newFds := make([]fdState, fd*2+1)
	copy(newFds, p.fds)
	p.fds = newFds
}

func (p *platformSelector) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrSelectorClosed
	}
	if fd < 0 {
		return ErrFDNotRegistered
	}
	p.fdMu.Lock()
	p.ensureCapacity(fd)
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdState{callback: cb, events: events, active: true}
	p.fdMu.Unlock()

	if _, err := windows.CreateIoCompletionPort(windows.Handle(fd), p.iocp, 0, 0); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdState{}
		p.fdMu.Unlock()
		return err
	}
	return nil
}

func (p *platformSelector) UnregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDNotRegistered
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd] = fdState{}
	p.fdMu.Unlock()
	return nil
}

func (p *platformSelector) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 {
		return ErrFDNotRegistered
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd].events = events
	p.fdMu.Unlock()
	return nil
}

func (p *platformSelector) Poll(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrSelectorClosed
	}
	var timeout *uint32
	if timeoutMs >= 0 {
		t := uint32(timeoutMs)
		timeout = &t
	}
	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(p.iocp, &bytes, &key, &overlapped, timeout)
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			if errno == windows.WAIT_TIMEOUT {
				return 0, nil
			}
			if errno == windows.ERROR_ABANDONED_WAIT_0 || errno == windows.ERROR_INVALID_HANDLE {
				return 0, ErrSelectorClosed
			}
		}
		return 0, err
	}
	return p.dispatchAll(), nil
}

// dispatchAll invokes every active callback with a conservative
// read|write hint; see the type doc for why IOCP dispatch here is
// coarser than epoll/kqueue.
func (p *platformSelector) dispatchAll() int {
	p.fdMu.RLock()
	snapshot := make([]fdState, len(p.fds))
	copy(snapshot, p.fds)
	p.fdMu.RUnlock()

	n := 0
	for _, info := range snapshot {
		if info.active && info.callback != nil {
			info.callback(info.events & (EventRead | EventWrite))
			n++
		}
	}
	return n
}

// Wakeup interrupts a pending Poll call from another goroutine.
func (p *platformSelector) Wakeup() error {
	if p.closed.Load() {
		return ErrSelectorClosed
	}
	return windows.PostQueuedCompletionStatus(p.iocp, 0, 0, nil)
}
