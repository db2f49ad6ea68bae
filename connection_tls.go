package reactor

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"sync"
	"time"
)

// TLSOption selects whether, and how, a Connect/Bind call applies a TLS
// layer, matching spec.md §6's three-way ssl option: the zero value is
// "false", NewTLSOption(nil) is "true-meaning-create-default", and
// NewTLSOption(cfg) is the TLS-context-handle form.
type TLSOption struct {
	config  *tls.Config
	enabled bool
}

// NewTLSOption requests a TLS layer using cfg. A nil cfg requests a
// default configuration.
func NewTLSOption(cfg *tls.Config) TLSOption { return TLSOption{config: cfg, enabled: true} }

func (o TLSOption) enabledFlag() bool { return o.enabled }

func (o TLSOption) tlsConfig() *tls.Config {
	if o.config != nil {
		return o.config.Clone()
	}
	return &tls.Config{}
}

// tlsConnection wraps a plain Connection's file descriptor in a TLS
// session, grounded on spec.md §4.7's TLS layering: "a separate
// connection wrapping the same underlying file descriptor". crypto/tls
// has no non-blocking handshake mode (unlike OpenSSL's SSL_want_read
// loop this component's design is modeled on), so instead of the
// fiber-style "single read then wait for readable" state machine, the
// handshake and subsequent record I/O run on a dedicated goroutine per
// TLS connection; outcomes still surface exclusively through the same
// Future/Stream contracts the rest of the package uses, so callers
// cannot observe the difference.
type tlsConnection struct {
	*Connection
	conn *tls.Conn
	raw  net.Conn

	handshakePromise *Promise
	handshakeFuture  *Future
}

// fdToNetConn adapts a raw, already non-blocking socket fd into a
// net.Conn so crypto/tls can drive it. os.NewFile/net.FileConn dup the
// descriptor and take ownership of the original, so the base
// Connection's fd field is invalidated by the caller after this
// succeeds.
func fdToNetConn(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "reactor-tls-conn")
	conn, err := net.FileConn(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return conn, nil
}

func wrapClientTLS(base *Connection, opt TLSOption) (*tlsConnection, error) {
	raw, err := fdToNetConn(base.FD())
	if err != nil {
		return nil, err
	}
	base.unregisterIO()
	base.fd.Store(-1)
	tc := tls.Client(raw, opt.tlsConfig())
	return newTLSConnection(base, raw, tc), nil
}

func wrapServerTLS(base *Connection, opt TLSOption) (*tlsConnection, error) {
	raw, err := fdToNetConn(base.FD())
	if err != nil {
		return nil, err
	}
	base.unregisterIO()
	base.fd.Store(-1)
	tc := tls.Server(raw, opt.tlsConfig())
	return newTLSConnection(base, raw, tc), nil
}

func newTLSConnection(base *Connection, raw net.Conn, tc *tls.Conn) *tlsConnection {
	p, f := NewFuture()
	w := &tlsConnection{Connection: base, conn: tc, raw: raw, handshakePromise: p, handshakeFuture: f}
	base.closer = func() error {
		_ = tc.Close()
		return raw.Close()
	}
	base.ownGoroutine.Store(true)
	go w.pump()
	return w
}

// pump drives the handshake, then the read loop (publishing to the
// data stream) and a parallel write loop (draining the shared write
// buffer), all off the reactor's I/O thread.
func (w *tlsConnection) pump() {
	if err := w.conn.HandshakeContext(context.Background()); err != nil {
		_ = w.handshakePromise.Fail(&ConnectionError{Message: "tls handshake failed", Cause: err})
		_ = w.Connection.close(&ConnectionError{Message: "tls handshake failed", Cause: err})
		return
	}
	w.Connection.state.Store(int32(StateConnected))
	_ = w.handshakePromise.Fulfill(w.Connection)

	go w.pumpWrites()

	buf := make([]byte, readChunkSize)
	for {
		n, err := w.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if cb, ok := w.Connection.onDataCB.Load().(func([]byte)); ok && cb != nil {
				cb(chunk)
			}
			w.Connection.dataStream.Publish(chunk)
		}
		if err != nil {
			_ = w.Connection.close(&ConnectionClosedError{Cause: err})
			return
		}
		if w.Connection.State() == StateClosed {
			return
		}
	}
}

func (w *tlsConnection) pumpWrites() {
	for {
		if w.Connection.State() == StateClosed {
			return
		}
		w.Connection.mu.Lock()
		chunk := w.Connection.writeBuf.CheapPeek(true)
		w.Connection.mu.Unlock()

		if len(chunk) == 0 {
			if w.Connection.State() == StateDraining {
				_ = w.Connection.close(nil)
				return
			}
			// Woken immediately by Write/WriteFunc; the timeout is only a
			// fallback for state changes (Drain, Close) that don't go
			// through the write path at all.
			select {
			case <-w.Connection.writeReady:
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		n, err := w.conn.Write(chunk)
		if err != nil {
			_ = w.Connection.close(&IoError{Cause: err})
			return
		}
		w.Connection.mu.Lock()
		w.Connection.writeBuf.Discard(n)
		w.Connection.mu.Unlock()
	}
}

// serverTLSConnection is the server side of a TLS connection. The
// acceptor builds it from a just-accepted fd: a plain server Connection
// is created first and immediately wrapped by wrapServerTLS, whose pump
// goroutine starts the handshake at once. The handshake is not deferred
// to a first read, and no separate accept step is retried. onHandshake
// is invoked once, after the handshake succeeds.
type serverTLSConnection struct {
	*tlsConnection
	onHandshake func(*Connection)
	once        sync.Once
}

func newServerTLSConnection(fd int, host string, port int, opt TLSOption, unblock func(), logger eventLogger, onHandshake func(*Connection), selector Selector) *serverTLSConnection {
	base := newServerConnection(fd, host, port, unblock, logger, selector)
	w, err := wrapServerTLS(base, opt)
	if err != nil {
		_ = base.close(&ConnectionError{Message: "tls wrap failed", Cause: err})
		return &serverTLSConnection{tlsConnection: &tlsConnection{Connection: base}, onHandshake: onHandshake}
	}
	s := &serverTLSConnection{tlsConnection: w, onHandshake: onHandshake}
	s.handshakeFuture.OnValue(func(any, *Future) {
		s.once.Do(func() {
			if s.onHandshake != nil {
				s.onHandshake(s.Connection)
			}
		})
	})
	return s
}
