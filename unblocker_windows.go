//go:build windows

package reactor

import (
	"net"
	"sync/atomic"
	"time"
)

// unblocker is the self-pipe used to interrupt a pending Selector.Poll
// call from another goroutine (spec.md §4.5). Windows has neither
// eventfd nor pipe(2) non-blocking semantics usable with IOCP, so this
// emulates the self-pipe with a connected loopback TCP pair, grounded
// on poller_windows.go's wake-socket (both rely on a throwaway TCP
// socket purely as a wakeup signal, never for payload data).
type unblocker struct {
	listener *net.TCPListener
	reader   *net.TCPConn
	writer   *net.TCPConn
	readFDv  int
	closed   atomic.Bool
}

func newUnblocker() (*unblocker, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	writer, err := net.DialTCP("tcp", nil, ln.Addr().(*net.TCPAddr))
	if err != nil {
		ln.Close()
		return nil, err
	}
	reader, err := ln.AcceptTCP()
	if err != nil {
		ln.Close()
		writer.Close()
		return nil, err
	}
	_ = ln.Close() // only needed to complete the handshake above

	raw, err := reader.SyscallConn()
	if err != nil {
		reader.Close()
		writer.Close()
		return nil, err
	}
	var readFD int
	_ = raw.Control(func(fd uintptr) { readFD = int(fd) })

	return &unblocker{reader: reader, writer: writer, readFDv: readFD}, nil
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
	_, err := u.writer.Write([]byte{1})
	return err
}

// Drain discards whatever bytes are currently pending.
func (u *unblocker) Drain() error {
	buf := make([]byte, 64)
	_ = u.reader.SetReadDeadline(time.Now().Add(-time.Second))
	for {
		_, err := u.reader.Read(buf)
		if err != nil {
			return nil
		}
	}
}

// Close releases both sides of the loopback pair.
func (u *unblocker) Close() error {
	u.closed.Store(true)
	_ = u.writer.Close()
	return u.reader.Close()
}
