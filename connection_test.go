//go:build linux || darwin

package reactor

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// swapConnSeams replaces the package-level OS indirections for the
// duration of a test and restores them on cleanup, so the CONNECTING
// state machine and the read/flush paths can be driven deterministically
// without depending on real network or socket-buffer timing.
func swapConnSeams(t *testing.T,
	resolve func(string, int) ([]*net.TCPAddr, error),
	dial func(*net.TCPAddr) (int, error),
	connectErr func(int) error,
	write func(int, []byte) (int, error),
	read func(int, []byte) (int, error),
) {
	t.Helper()
	origResolve, origDial, origConnectErr, origWrite, origRead :=
		resolveTCPAddrsFn, dialNonblockFn, socketConnectErrFn, writeFDFn, readFDFn
	if resolve != nil {
		resolveTCPAddrsFn = resolve
	}
	if dial != nil {
		dialNonblockFn = dial
	}
	if connectErr != nil {
		socketConnectErrFn = connectErr
	}
	if write != nil {
		writeFDFn = write
	}
	if read != nil {
		readFDFn = read
	}
	t.Cleanup(func() {
		resolveTCPAddrsFn, dialNonblockFn, socketConnectErrFn, writeFDFn, readFDFn =
			origResolve, origDial, origConnectErr, origWrite, origRead
	})
}

func oneAddr(host string, port int) ([]*net.TCPAddr, error) {
	return []*net.TCPAddr{{IP: net.ParseIP("127.0.0.1"), Port: port}}, nil
}

func TestConnection_ConnectSucceedsImmediately(t *testing.T) {
	swapConnSeams(t, oneAddr,
		func(*net.TCPAddr) (int, error) { return 42, nil },
		nil, nil, nil)

	c := newOutboundConnection("example.com", 80, time.Second, SystemClock, func() {}, nil, nil)
	c.closer = func() error { return nil }
	c.connect()

	require.Equal(t, StateConnected, c.State())
	require.Equal(t, 42, c.FD())
	require.True(t, c.connectFuture.Resolved())
	v, err := c.connectFuture.Value(context.Background())
	require.NoError(t, err)
	require.Same(t, c, v)
}

func TestConnection_RetryAcrossAddressesThenConnects(t *testing.T) {
	var dialed []int
	swapConnSeams(t,
		func(string, int) ([]*net.TCPAddr, error) {
			return []*net.TCPAddr{
				{IP: net.ParseIP("10.0.0.1"), Port: 80},
				{IP: net.ParseIP("10.0.0.2"), Port: 80},
			}, nil
		},
		func(addr *net.TCPAddr) (int, error) {
			dialed = append(dialed, len(dialed))
			if len(dialed) == 1 {
				return -1, unix.ECONNREFUSED
			}
			return 77, nil
		},
		nil, nil, nil)

	c := newOutboundConnection("example.com", 80, time.Second, SystemClock, func() {}, nil, nil)
	c.closer = func() error { return nil }
	c.connect()

	require.Equal(t, StateConnected, c.State())
	require.Equal(t, 77, c.FD())
	require.Equal(t, 1, c.addrIdx)
	require.Len(t, dialed, 2)
}

func TestConnection_AddressListExhaustedClosesWithConnectionError(t *testing.T) {
	swapConnSeams(t,
		func(string, int) ([]*net.TCPAddr, error) {
			return []*net.TCPAddr{{Port: 80}, {Port: 81}}, nil
		},
		func(*net.TCPAddr) (int, error) { return -1, unix.ECONNREFUSED },
		nil, nil, nil)

	c := newOutboundConnection("example.com", 80, time.Second, SystemClock, func() {}, nil, nil)
	c.connect()

	require.Equal(t, StateClosed, c.State())
	_, err := c.closedFuture.Value(context.Background())
	require.Error(t, err)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
}

func TestConnection_DNSResolutionFailureClosesWithConnectionError(t *testing.T) {
	wantCause := errors.New("no such host")
	swapConnSeams(t,
		func(string, int) ([]*net.TCPAddr, error) { return nil, wantCause },
		nil, nil, nil, nil)

	c := newOutboundConnection("nowhere.invalid", 80, time.Second, SystemClock, func() {}, nil, nil)
	c.connect()

	require.Equal(t, StateClosed, c.State())
	_, err := c.closedFuture.Value(context.Background())
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	require.ErrorIs(t, err, wantCause)
}

func TestConnection_ConnectTimeout(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	swapConnSeams(t, oneAddr,
		func(*net.TCPAddr) (int, error) { return 55, unix.EINPROGRESS },
		func(int) error { return unix.EINPROGRESS },
		nil, nil)

	c := newOutboundConnection("example.com", 80, time.Second, clock, func() {}, nil, nil)
	c.closer = func() error { return nil }

	c.connect() // dials, lands in EINPROGRESS
	require.Equal(t, StateConnecting, c.State())
	require.Equal(t, 55, c.FD())

	c.connect() // still in progress, timeout not elapsed
	require.Equal(t, StateConnecting, c.State())

	clock.Advance(2 * time.Second)
	c.connect() // now past the configured timeout
	require.Equal(t, StateClosed, c.State())

	_, err := c.closedFuture.Value(context.Background())
	var te *ConnectionTimeoutError
	require.ErrorAs(t, err, &te)
	require.Equal(t, time.Second, te.Timeout)

	_, err = c.connectFuture.Value(context.Background())
	require.Error(t, err)
}

// TestReactor_ConnectTimeoutWithInjectedClock drives the connect-timeout
// check through the live tick loop: a peer that never answers produces
// no readiness event, so only the per-tick re-check of
// (now - start) > timeout can fail the returned future.
func TestReactor_ConnectTimeoutWithInjectedClock(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	dialed := make(chan struct{})
	var once sync.Once
	swapConnSeams(t, oneAddr,
		func(*net.TCPAddr) (int, error) {
			once.Do(func() { close(dialed) })
			// An fd number no real descriptor can occupy, so the
			// close-time closeFD is a harmless EBADF.
			return 1 << 20, unix.EINPROGRESS
		},
		func(int) error { return unix.EINPROGRESS },
		nil, nil)

	r := New(WithClock(clock), WithTickResolution(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.Start().Value(ctx)
	require.NoError(t, err)
	defer r.Stop()

	connected := r.Connect("10.255.255.1", 80, WithTimeout(5*time.Second))
	<-dialed
	clock.Advance(6 * time.Second)

	_, err = connected.Value(ctx)
	var te *ConnectionTimeoutError
	require.ErrorAs(t, err, &te)
}

// TestConnection_DrainPartialFlushThenCloses reproduces the literal
// "11 bytes buffered, first flush accepts 6, connection stays open,
// second flush accepts the remaining 5 and closes" scenario, driving
// flush() through the writeFDFn seam so the partial write is exact
// rather than dependent on real socket buffering.
func TestConnection_DrainPartialFlushThenCloses(t *testing.T) {
	var calls int
	swapConnSeams(t, nil, nil, nil,
		func(fd int, p []byte) (int, error) {
			calls++
			if calls == 1 {
				return 6, nil
			}
			return len(p), nil
		}, nil)

	c := newServerConnection(123, "peer", 9999, func() {}, nil, nil)
	c.closer = func() error { return nil }
	c.Write([]byte("hello world")) // 11 bytes

	closed := c.Drain()
	require.Equal(t, StateDraining, c.State())
	require.False(t, closed.Completed())

	c.flush() // accepts 6 of 11
	require.Equal(t, StateDraining, c.State())
	require.False(t, closed.Completed())

	c.flush() // accepts the remaining 5
	require.Equal(t, StateClosed, c.State())
	require.True(t, closed.Completed())

	v, err := closed.Value(context.Background())
	require.NoError(t, err)
	require.Same(t, c, v)
	require.Equal(t, 2, calls)
}

func TestConnection_DrainWithEmptyBufferClosesImmediately(t *testing.T) {
	c := newServerConnection(123, "peer", 9999, func() {}, nil, nil)
	c.closer = func() error { return nil }

	closed := c.Drain()
	require.Equal(t, StateClosed, c.State())
	require.True(t, closed.Completed())
}

func TestConnection_FlushWouldBlockIsNoop(t *testing.T) {
	swapConnSeams(t, nil, nil, nil,
		func(int, []byte) (int, error) { return 0, unix.EAGAIN }, nil)

	c := newServerConnection(123, "peer", 9999, func() {}, nil, nil)
	c.closer = func() error { return nil }
	c.Write([]byte("abc"))

	c.flush()
	require.Equal(t, StateConnected, c.State())
	require.True(t, c.Writable())
}

func TestConnection_ReadPublishesToDataStreamAndLegacyCallback(t *testing.T) {
	swapConnSeams(t, nil, nil, nil, nil,
		func(fd int, p []byte) (int, error) { return copy(p, "payload"), nil })

	c := newServerConnection(123, "peer", 9999, func() {}, nil, nil)
	c.closer = func() error { return nil }

	var fromStream, fromCB []byte
	c.Data().Subscribe(func(v any) { fromStream = v.([]byte) })
	c.OnData(func(p []byte) { fromCB = p })

	c.read()
	require.Equal(t, []byte("payload"), fromStream)
	require.Equal(t, []byte("payload"), fromCB)
}

func TestConnection_ReadEOFClosesWithConnectionClosedError(t *testing.T) {
	swapConnSeams(t, nil, nil, nil, nil,
		func(int, []byte) (int, error) { return 0, nil })

	c := newServerConnection(123, "peer", 9999, func() {}, nil, nil)
	c.closer = func() error { return nil }

	c.read()
	require.Equal(t, StateClosed, c.State())
	_, err := c.closedFuture.Value(context.Background())
	var cce *ConnectionClosedError
	require.ErrorAs(t, err, &cce)
}

func TestConnection_ReadWouldBlockIsNoop(t *testing.T) {
	swapConnSeams(t, nil, nil, nil, nil,
		func(int, []byte) (int, error) { return 0, unix.EAGAIN })

	c := newServerConnection(123, "peer", 9999, func() {}, nil, nil)
	c.closer = func() error { return nil }

	c.read()
	require.Equal(t, StateConnected, c.State())
	require.False(t, c.closedFuture.Completed())
}

func TestConnection_WriteIsNoopOnceDrainingOrClosed(t *testing.T) {
	c := newServerConnection(123, "peer", 9999, func() {}, nil, nil)
	c.closer = func() error { return nil }
	_ = c.Close(nil)

	c.Write([]byte("too late"))
	require.True(t, c.writeBuf.Empty())
}
