package reactor

import (
	"net"
	"sync"
	"sync/atomic"
)

// AcceptListener is notified with every newly accepted connection,
// per spec.md §6's `on_accept(connection)`.
type AcceptListener func(conn *Connection)

// Acceptor is a non-blocking listening socket producing Connections,
// grounded on the teacher's poller RegisterFD/dispatch pattern
// (poller_linux.go, poller_darwin.go) generalized from "any fd" to
// "a listening socket specifically".
type Acceptor struct {
	host    string
	port    int
	backlog int
	ssl     TLSOption

	fd     atomic.Int64
	closed atomic.Bool

	mu        sync.Mutex
	listeners []AcceptListener

	boundPromise *Promise
	boundFuture  *Future

	unblock  func()
	logger   eventLogger
	selector Selector

	// onNewConnection is invoked by the reactor for every accepted
	// connection (before dispatchAccept), so it can be tracked and have
	// its fd registered with the selector. Set once by Reactor.Bind.
	onNewConnection func(conn *Connection)

	newServerConn func(fd int, host string, port int) *Connection
}

func newAcceptor(host string, port int, backlog int, ssl TLSOption, unblock func(), logger eventLogger, selector Selector) *Acceptor {
	a := &Acceptor{
		host:     host,
		port:     port,
		backlog:  backlog,
		ssl:      ssl,
		unblock:  unblock,
		logger:   logger,
		selector: selector,
	}
	a.fd.Store(-1)
	p, f := NewFuture()
	a.boundPromise, a.boundFuture = p, f
	return a
}

func (a *Acceptor) FD() int  { return int(a.fd.Load()) }
func (a *Acceptor) Host() string { return a.host }
func (a *Acceptor) Port() int    { return a.port }

// Bound resolves to the acceptor itself once bind() succeeds.
func (a *Acceptor) Bound() *Future { return a.boundFuture }

// OnAccept registers a listener invoked for every accepted connection.
// Listener panics are swallowed so one misbehaving listener cannot
// prevent delivery to the others.
func (a *Acceptor) OnAccept(fn AcceptListener) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// bind resolves addresses, then binds+listens on the first that
// succeeds, retrying on "address not available" per spec.md §4.8.
func (a *Acceptor) bind() {
	addrs, err := resolveTCPAddrs(a.host, a.port)
	if err != nil {
		_ = a.boundPromise.Fail(&ConnectionError{Message: "dns resolution failed", Cause: err})
		return
	}
	if len(addrs) == 0 {
		addrs = []*net.TCPAddr{{IP: net.ParseIP(a.host), Port: a.port}}
	}

	var lastErr error
	for _, addr := range addrs {
		fd, err := listenTCP(addr, a.backlog)
		if err == nil {
			a.fd.Store(int64(fd))
			a.registerIO()
			_ = a.boundPromise.Fulfill(a)
			return
		}
		lastErr = err
		if !isRetryableConnectErr(err) {
			break
		}
	}
	_ = a.boundPromise.Fail(&ConnectionError{Message: "bind failed", Cause: lastErr})
}

// registerIO registers the listening fd with the selector for EventRead,
// so new clients are dispatched the instant the OS reports them rather
// than on the next blind tick. A no-op when no selector was injected
// (unit tests constructing an Acceptor directly).
func (a *Acceptor) registerIO() {
	if a.selector == nil {
		return
	}
	_ = a.selector.RegisterFD(a.FD(), EventRead, a.onIOEvent)
}

// onIOEvent is the selector callback for the listening fd, invoked
// synchronously from inside Selector.Poll whenever a new client is
// pending.
func (a *Acceptor) onIOEvent(IOEvents) {
	a.read()
}

// read accepts every pending client connection, wraps it, and notifies
// every registered listener. Called by the selector callback above; the
// listening socket is level-triggered, so any client that connected in
// the gap between bind() and registerIO is still reported ready on the
// next Poll.
func (a *Acceptor) read() []*Connection {
	var accepted []*Connection
	for {
		cfd, err := acceptNonblock(a.FD())
		if err != nil {
			if !isWouldBlock(err) {
				if a.logger != nil {
					a.logger.connectFailed(a.host, a.port, err)
				}
			}
			break
		}
		conn := a.wrapAccepted(cfd)
		accepted = append(accepted, conn)
		if a.onNewConnection != nil {
			a.onNewConnection(conn)
		}
		if !a.ssl.enabledFlag() {
			a.dispatchAccept(conn)
		}
	}
	return accepted
}

func (a *Acceptor) wrapAccepted(fd int) *Connection {
	if !a.ssl.enabledFlag() {
		c := newServerConnection(fd, a.host, a.port, a.unblock, a.logger, a.selector)
		c.registerIO(fd, c.desiredEvents())
		return c
	}
	// Plain accept-listener notification is deferred until the TLS
	// handshake completes (spec.md §4.8); the caller-visible Connection
	// is returned immediately so the reactor can still track/close it.
	// TLS connections drive their own goroutine so the fd is never
	// registered with the selector in the first place.
	s := newServerTLSConnection(fd, a.host, a.port, a.ssl, a.unblock, a.logger, a.dispatchAccept, a.selector)
	return s.Connection
}

func (a *Acceptor) dispatchAccept(conn *Connection) {
	a.mu.Lock()
	listeners := make([]AcceptListener, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()
	for _, l := range listeners {
		invokeAcceptListener(l, conn)
	}
}

func invokeAcceptListener(l AcceptListener, conn *Connection) {
	defer func() { _ = recover() }()
	l(conn)
}

// close closes the listening socket. Idempotent.
func (a *Acceptor) close() error {
	if a.closed.Swap(true) {
		return ErrAlreadyClosed
	}
	if fd := a.FD(); fd >= 0 {
		if a.selector != nil {
			_ = a.selector.UnregisterFD(fd)
		}
		return closeFD(fd)
	}
	return nil
}
