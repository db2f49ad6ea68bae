//go:build linux

package reactor

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// unblocker is the self-pipe used to interrupt a pending Selector.Poll
// call from another goroutine (spec.md §4.5). On Linux it is backed by
// a single eventfd, grounded on wakeup_linux.go's createWakeFd.
type unblocker struct {
	fd     int
	closed atomic.Bool
}

func newUnblocker() (*unblocker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &unblocker{fd: fd}, nil
}

// ReadFD returns the descriptor to register with the Selector for
// EventRead; the unblocker is always "connected" and never "writable"
// from the loop's perspective.
func (u *unblocker) ReadFD() int { return u.fd }

// Unblock wakes a pending Poll call. It is idempotent and safe from any
// goroutine; it is a no-op once the unblocker has been closed.
func (u *unblocker) Unblock() error {
	if u.closed.Load() {
		return nil
	}
	var val [8]byte
	val[0] = 1
	_, err := writeFD(u.fd, val[:])
	if err != nil && err == unix.EAGAIN {
		// Counter already non-zero; the pending Poll will still wake.
		return nil
	}
	return err
}

// Drain discards whatever bytes are currently pending, so the eventfd
// counter (or self-pipe buffer, on other platforms) does not grow
// unbounded.
func (u *unblocker) Drain() error {
	var buf [8]byte
	for {
		_, err := readFD(u.fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return err
		}
	}
}

// Close releases the eventfd. Subsequent Unblock calls are no-ops.
func (u *unblocker) Close() error {
	u.closed.Store(true)
	return closeFD(u.fd)
}
