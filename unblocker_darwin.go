//go:build darwin

package reactor

import (
	"sync/atomic"
	"syscall"
)

// unblocker is the self-pipe used to interrupt a pending Selector.Poll
// call from another goroutine (spec.md §4.5). Darwin has no eventfd, so
// this is the classic self-pipe: a connected pair of fds created with
// pipe(2), both ends non-blocking, grounded on wakeup_darwin.go.
type unblocker struct {
	readFDv  int
	writeFDv int
	closed   atomic.Bool
}

func newUnblocker() (*unblocker, error) {
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return nil, err
	}
	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])
	if err := syscall.SetNonblock(fds[0], true); err != nil {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
		return nil, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
		return nil, err
	}
	return &unblocker{readFDv: fds[0], writeFDv: fds[1]}, nil
}

// ReadFD returns the descriptor to register with the Selector for
// EventRead.
func (u *unblocker) ReadFD() int { return u.readFDv }

// Unblock wakes a pending Poll call. It is idempotent and safe from any
// goroutine; it is a no-op once the unblocker has been closed.
func (u *unblocker) Unblock() error {
	if u.closed.Load() {
		return nil
	}
	_, err := writeFD(u.writeFDv, []byte{1})
	if err != nil && err == syscall.EAGAIN {
		// Pipe buffer already has a pending byte; the Poll will still wake.
		return nil
	}
	return err
}

// Drain discards whatever bytes are currently pending in the pipe.
func (u *unblocker) Drain() error {
	var buf [64]byte
	for {
		_, err := readFD(u.readFDv, buf[:])
		if err != nil {
			if err == syscall.EAGAIN {
				return nil
			}
			return err
		}
	}
}

// Close releases both pipe ends. Subsequent Unblock calls are no-ops.
func (u *unblocker) Close() error {
	u.closed.Store(true)
	_ = closeFD(u.readFDv)
	return closeFD(u.writeFDv)
}
