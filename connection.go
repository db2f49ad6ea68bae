package reactor

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ConnState is one of the four states a Connection occupies, per
// spec.md §3's Connection data model.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDraining
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const readChunkSize = 64 * 1024

// The following indirections exist purely so tests can exercise the
// CONNECTING state machine's retry/timeout branches deterministically,
// without depending on real network timing or OS-specific connect
// failure modes.
var (
	resolveTCPAddrsFn  = resolveTCPAddrs
	dialNonblockFn     = dialNonblock
	socketConnectErrFn = socketConnectError
	writeFDFn          = writeFD
	readFDFn           = readFD
)

// Connection is a non-blocking socket state machine owned by a Reactor,
// grounded on the teacher's FastState (state.go) CAS discipline: state
// transitions are lock-free, while the write buffer gets its own mutex
// (spec.md §5's per-connection write-buffer lock).
type Connection struct {
	host string
	port int

	fd    atomic.Int64
	state atomic.Int32

	mu       sync.Mutex
	writeBuf *ByteBuffer

	closedPromise *Promise
	closedFuture  *Future
	closeOnce     sync.Once

	// connectPromise/connectFuture resolve on the first CONNECTED
	// transition (or fail on a connect-phase close), fulfilled directly
	// by the reactor tick's connect() call rather than polled, keeping
	// Reactor.Connect free of a busy-wait.
	connectPromise *Promise
	connectFuture  *Future
	// closer overrides the default "closeFD(fd)" release path; set by
	// TLS wrapping, which owns a net.Conn instead of a bare fd.
	closer func() error

	dataStream *Stream
	onDataCB   atomic.Value // func([]byte)

	clock        Clock
	timeout      time.Duration
	connectStart time.Time
	addrs        []*net.TCPAddr
	addrIdx      int

	unblock func()
	logger  eventLogger

	readBuf []byte

	// ownGoroutine is set once a TLS wrapper takes over this
	// connection's I/O on a dedicated goroutine (crypto/tls has no
	// non-blocking handshake mode); the reactor tick then skips its
	// normal read/flush dispatch for this connection entirely, and the
	// selector never sees its fd.
	ownGoroutine atomic.Bool

	// selector is the reactor's readiness multiplexer. Every fd this
	// connection owns is registered with it as soon as the fd is known
	// (spec.md §4.9): the tick loop never probes read()/flush() blind,
	// only in response to a callback the selector invokes for an fd it
	// reported ready. The one direct connect() call is the bootstrap dial
	// of a connection that has no fd yet.
	selector Selector
	regFD    atomic.Int64 // fd currently registered with selector, or -1

	// writeReady wakes a TLS connection's dedicated write-pump goroutine
	// the instant new bytes land in writeBuf, so it isn't reduced to
	// polling on a fixed interval. Buffered 1: a pending signal coalesces
	// with any further writes until the pump drains it. Plain connections
	// never send on it (modifyIO/the selector does the equivalent job).
	writeReady chan struct{}
}

func newConnectionShell(host string, port int, clock Clock, unblock func(), logger eventLogger, selector Selector) *Connection {
	c := &Connection{
		host:       host,
		port:       port,
		writeBuf:   NewByteBuffer(),
		dataStream: NewStream(),
		clock:      clock,
		unblock:    unblock,
		logger:     logger,
		readBuf:    make([]byte, readChunkSize),
		selector:   selector,
		writeReady: make(chan struct{}, 1),
	}
	c.fd.Store(-1)
	c.regFD.Store(-1)
	p, f := NewFuture()
	c.closedPromise, c.closedFuture = p, f
	return c
}

// newOutboundConnection builds a client-side Connection in the
// CONNECTING state; connect() must be called (by the reactor tick) to
// drive DNS resolution and the first connect attempt.
func newOutboundConnection(host string, port int, timeout time.Duration, clock Clock, unblock func(), logger eventLogger, selector Selector) *Connection {
	c := newConnectionShell(host, port, clock, unblock, logger, selector)
	c.timeout = timeout
	c.state.Store(int32(StateConnecting))
	cp, cf := NewFuture()
	c.connectPromise, c.connectFuture = cp, cf
	return c
}

// newServerConnection wraps an already-accepted fd, initial state
// CONNECTED per spec.md §3. The caller (Acceptor) is responsible for
// registering the fd with the selector once any TLS wrapping decision
// has been made.
func newServerConnection(fd int, host string, port int, unblock func(), logger eventLogger, selector Selector) *Connection {
	c := newConnectionShell(host, port, SystemClock, unblock, logger, selector)
	c.fd.Store(int64(fd))
	c.state.Store(int32(StateConnected))
	return c
}

func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }
func (c *Connection) FD() int          { return int(c.fd.Load()) }
func (c *Connection) Host() string     { return c.host }
func (c *Connection) Port() int        { return c.port }
func (c *Connection) Closed() *Future  { return c.closedFuture }
func (c *Connection) Data() *Stream    { return c.dataStream }

// OnData registers the legacy single-listener callback alongside the
// data stream, per spec.md §6.
func (c *Connection) OnData(fn func([]byte)) { c.onDataCB.Store(fn) }

// OnClosed registers a listener invoked with the normalized close cause
// (nil for a clean close).
func (c *Connection) OnClosed(fn func(cause error)) {
	c.closedFuture.OnComplete(func(_ any, err error, _ *Future) { fn(err) })
}

// Writable reports whether the loop should include this connection in
// its writable-interest set this tick (spec.md §4.7).
func (c *Connection) Writable() bool {
	if c.State() == StateClosed {
		return false
	}
	c.mu.Lock()
	nonEmpty := !c.writeBuf.Empty()
	c.mu.Unlock()
	return nonEmpty
}

func (c *Connection) Connecting() bool { return c.State() == StateConnecting }
func (c *Connection) Readable() bool   { return c.State() == StateConnected || c.State() == StateDraining }

// desiredEvents is the IOEvents mask this connection currently wants
// from the selector, given its state and write-buffer occupancy.
func (c *Connection) desiredEvents() IOEvents {
	switch c.State() {
	case StateConnecting:
		return EventWrite
	case StateConnected, StateDraining:
		var ev IOEvents
		if c.Readable() {
			ev |= EventRead
		}
		if c.Writable() {
			ev |= EventWrite
		}
		return ev
	default:
		return 0
	}
}

// registerIO registers fd with the selector for events, remembering fd
// as the currently-registered descriptor. A no-op for TLS connections
// (which drive their own goroutine) or when no selector was injected
// (unit tests constructing a Connection directly).
func (c *Connection) registerIO(fd int, events IOEvents) {
	if c.selector == nil || c.ownGoroutine.Load() || fd < 0 {
		return
	}
	if err := c.selector.RegisterFD(fd, events, c.onIOEvent); err != nil {
		return
	}
	c.regFD.Store(int64(fd))
}

// modifyIO updates the event mask for the already-registered fd.
func (c *Connection) modifyIO(events IOEvents) {
	if c.selector == nil || c.ownGoroutine.Load() {
		return
	}
	if fd := c.regFD.Load(); fd >= 0 {
		_ = c.selector.ModifyFD(int(fd), events)
	}
}

// unregisterIO stops selector monitoring of the currently-registered
// fd. Must be called before that fd is closed, to avoid stale event
// delivery to a recycled fd number (the classic epoll/kqueue hazard).
func (c *Connection) unregisterIO() {
	if c.selector == nil || c.ownGoroutine.Load() {
		return
	}
	if fd := c.regFD.Swap(-1); fd >= 0 {
		_ = c.selector.UnregisterFD(int(fd))
	}
}

// onIOEvent is the selector callback for this connection's registered
// fd, invoked synchronously on the reactor's own goroutine from inside
// Selector.Poll. It is the sole dispatch point for reads, flushes, and
// completion of an in-progress connect; the tick loop itself calls
// connect() directly only to make the first dial.
func (c *Connection) onIOEvent(ev IOEvents) {
	if c.Connecting() {
		c.connect()
		return
	}
	if ev&EventRead != 0 && c.Readable() {
		c.read()
	}
	if ev&EventWrite != 0 && c.Writable() {
		c.flush()
	}
}

// Write appends bytes to the write buffer and wakes the reactor. A
// no-op once the connection is draining or closed.
func (c *Connection) Write(p []byte) {
	c.WriteFunc(func(buf *ByteBuffer) { buf.Append(p) })
}

// WriteFunc gives fn direct access to the write buffer under its lock,
// matching spec.md §6's "builder callback" write variant.
func (c *Connection) WriteFunc(fn func(buf *ByteBuffer)) {
	switch c.State() {
	case StateDraining, StateClosed:
		return
	}
	c.mu.Lock()
	fn(c.writeBuf)
	c.mu.Unlock()
	c.modifyIO(c.desiredEvents())
	select {
	case c.writeReady <- struct{}{}:
	default:
	}
	if c.unblock != nil {
		c.unblock()
	}
}

// connect drives the CONNECTING state machine. It is idempotent: called
// once directly to bootstrap the first dial (before any fd exists to
// register with the selector), then once more per writable-readiness
// callback until the socket connects or exhausts its address list.
func (c *Connection) connect() {
	if c.State() != StateConnecting {
		return
	}
	if c.connectStart.IsZero() {
		c.connectStart = c.clock.Now()
	}

	if c.addrs == nil {
		addrs, err := resolveTCPAddrsFn(c.host, c.port)
		if err != nil {
			_ = c.close(&ConnectionError{Message: "dns resolution failed", Cause: err})
			return
		}
		if len(addrs) == 0 {
			_ = c.close(&ConnectionError{Message: "no addresses resolved for " + c.host})
			return
		}
		c.addrs = addrs
	}

	if c.FD() < 0 {
		c.dialNext()
		return
	}

	err := socketConnectErrFn(c.FD())
	switch {
	case err == nil:
		c.state.Store(int32(StateConnected))
		c.modifyIO(c.desiredEvents())
		if c.connectPromise != nil {
			_ = c.connectPromise.Fulfill(c)
		}
	case isInProgress(err):
		if c.clock.Now().Sub(c.connectStart) > c.timeout {
			_ = c.close(&ConnectionTimeoutError{Host: c.host, Port: c.port, Timeout: c.timeout})
		}
	case isRetryableConnectErr(err):
		c.unregisterIO()
		closeFD(c.FD())
		c.fd.Store(-1)
		c.addrIdx++
		if c.addrIdx >= len(c.addrs) {
			_ = c.close(&ConnectionError{Message: "address list exhausted", Cause: err})
			return
		}
		c.dialNext()
	default:
		_ = c.close(&ConnectionError{Message: "connect failed", Cause: err})
	}
}

func (c *Connection) dialNext() {
	addr := c.addrs[c.addrIdx]
	fd, err := dialNonblockFn(addr)
	if err != nil && !isInProgress(err) {
		if fd >= 0 {
			closeFD(fd)
		}
		c.addrIdx++
		if c.addrIdx >= len(c.addrs) {
			_ = c.close(&ConnectionError{Message: "connect failed", Cause: err})
			return
		}
		c.dialNext()
		return
	}
	c.fd.Store(int64(fd))
	if err == nil {
		c.state.Store(int32(StateConnected))
		c.registerIO(fd, c.desiredEvents())
		if c.connectPromise != nil {
			_ = c.connectPromise.Fulfill(c)
		}
		return
	}
	c.registerIO(fd, EventWrite)
}

// flush is called by the reactor tick when the socket is writable: it
// peeks a contiguous prefix, issues one non-blocking write, and
// discards what was actually written.
func (c *Connection) flush() {
	c.mu.Lock()
	chunk := c.writeBuf.CheapPeek(true)
	c.mu.Unlock()

	if len(chunk) == 0 {
		if c.State() == StateDraining {
			_ = c.close(nil)
		}
		return
	}

	n, err := writeFDFn(c.FD(), chunk)
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		_ = c.close(&IoError{Cause: err})
		return
	}
	if n <= 0 {
		return
	}

	c.mu.Lock()
	c.writeBuf.Discard(n)
	empty := c.writeBuf.Empty()
	c.mu.Unlock()

	if empty && c.State() == StateDraining {
		_ = c.close(nil)
		return
	}
	c.modifyIO(c.desiredEvents())
}

// read is called by the reactor tick when the socket is readable: one
// non-blocking read of a fixed chunk, published to the data stream and
// the legacy on_data callback.
func (c *Connection) read() {
	n, err := readFDFn(c.FD(), c.readBuf)
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		_ = c.close(&ConnectionClosedError{Cause: err})
		return
	}
	if n == 0 {
		_ = c.close(&ConnectionClosedError{})
		return
	}
	chunk := make([]byte, n)
	copy(chunk, c.readBuf[:n])
	if cb, ok := c.onDataCB.Load().(func([]byte)); ok && cb != nil {
		cb(chunk)
	}
	c.dataStream.Publish(chunk)
}

// checkConnectTimeout closes a still-connecting connection whose
// configured timeout has elapsed. The reactor tick calls this once per
// iteration: a peer that never answers produces no selector event, so
// there is no readiness callback to re-enter connect() through.
func (c *Connection) checkConnectTimeout(now time.Time) {
	if c.State() != StateConnecting || c.timeout <= 0 || c.connectStart.IsZero() {
		return
	}
	if now.Sub(c.connectStart) > c.timeout {
		_ = c.close(&ConnectionTimeoutError{Host: c.host, Port: c.port, Timeout: c.timeout})
	}
}

// Drain transitions CONNECTING/CONNECTED to DRAINING; if the write
// buffer is already empty it closes immediately. Returns the closed
// future, fulfilled exactly once.
func (c *Connection) Drain() *Future {
	for {
		st := c.State()
		if st == StateClosed || st == StateDraining {
			return c.closedFuture
		}
		if c.state.CompareAndSwap(int32(st), int32(StateDraining)) {
			break
		}
	}
	if fd := c.FD(); fd >= 0 {
		_ = shutdownRead(fd)
	}
	if !c.Writable() {
		_ = c.close(nil)
	} else {
		c.modifyIO(c.desiredEvents())
	}
	return c.closedFuture
}

// Close transitions to CLOSED, releases the OS socket, and fulfills or
// fails the closed promise exactly once. A second call returns
// ErrAlreadyClosed without side effects.
func (c *Connection) Close(cause error) error { return c.close(cause) }

func (c *Connection) close(cause error) error {
	already := true
	c.closeOnce.Do(func() {
		already = false
		c.state.Store(int32(StateClosed))
		c.unregisterIO()
		if c.closer != nil {
			_ = c.closer()
		} else if fd := c.FD(); fd >= 0 {
			_ = closeFD(fd)
		}
		if cause != nil {
			_ = c.closedPromise.Fail(cause)
			if c.connectPromise != nil {
				_ = c.connectPromise.Fail(cause)
			}
		} else {
			_ = c.closedPromise.Fulfill(c)
			if c.connectPromise != nil {
				_ = c.connectPromise.Fail(&ConnectionClosedError{})
			}
		}
		if c.logger != nil {
			c.logger.connectionClosed(c.host, c.port, cause)
		}
	})
	if already {
		return ErrAlreadyClosed
	}
	return nil
}

// usesOwnGoroutine reports whether this connection drives its own I/O
// off the reactor's tick (true for TLS connections, whose handshake has
// no non-blocking mode in crypto/tls).
func (c *Connection) usesOwnGoroutine() bool { return c.ownGoroutine.Load() }
