package reactor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Reactor owns a single background I/O thread that multiplexes
// non-blocking sockets and timers, grounded on the teacher's Loop
// (loop.go): Start/Stop/the run loop shape survive, generalized from
// driving a JS microtask queue to driving Connections/Acceptors/the
// Scheduler (spec.md §4.9).
type Reactor struct {
	cfg *reactorConfig

	state     FastState
	scheduler *scheduler
	unblocker atomic.Pointer[unblocker]

	mu          sync.Mutex
	connections map[*Connection]struct{}
	acceptors   map[*Acceptor]struct{}

	startedPromise *Promise
	startedFuture  *Future
	stoppedPromise *Promise
	stoppedFuture  *Future
}

// New constructs a Reactor. It does not start the I/O thread; call
// Start for that.
func New(opts ...ReactorOption) *Reactor {
	cfg := resolveReactorOptions(opts)
	r := &Reactor{
		cfg:         cfg,
		scheduler:   newScheduler(cfg.clock),
		connections: make(map[*Connection]struct{}),
		acceptors:   make(map[*Acceptor]struct{}),
	}
	r.state.Store(StateAwake)
	r.resetPromises()
	return r
}

// resetPromises allocates fresh started/stopped promises, under the
// same mutex Stop/OnError read them through: shutdown calls this on the
// reactor goroutine while arbitrary goroutines may be registering
// listeners on the previous generation.
func (r *Reactor) resetPromises() {
	r.mu.Lock()
	sp, sf := NewFuture()
	r.startedPromise, r.startedFuture = sp, sf
	tp, tf := NewFuture()
	r.stoppedPromise, r.stoppedFuture = tp, tf
	r.mu.Unlock()
}

func (r *Reactor) started() (*Promise, *Future) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedPromise, r.startedFuture
}

func (r *Reactor) stopped() (*Promise, *Future) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stoppedPromise, r.stoppedFuture
}

// Start is idempotent: if a stop is still in progress it fails with
// ReactorError; if already running it returns the existing started
// future; otherwise (including after a completed stop) it spawns the
// I/O thread.
func (r *Reactor) Start() *Future {
	if !r.state.TryTransition(StateAwake, StateRunning) {
		if r.state.IsRunning() {
			_, sf := r.started()
			return sf
		}
		return FailedFuture(&ReactorError{Message: "reactor is stopping or already stopped"})
	}

	ub, err := newUnblocker()
	if err != nil {
		r.state.Store(StateAwake)
		return FailedFuture(&ReactorError{Message: "failed to create unblocker: " + err.Error()})
	}
	r.unblocker.Store(ub)
	if err := r.cfg.selector.Init(); err != nil {
		_ = ub.Close()
		r.state.Store(StateAwake)
		return FailedFuture(&ReactorError{Message: "failed to init selector: " + err.Error()})
	}
	_ = r.cfg.selector.RegisterFD(ub.ReadFD(), EventRead, func(IOEvents) { _ = ub.Drain() })

	_, sf := r.started()
	go r.run()
	return sf
}

// Stop requests shutdown and returns the stopped future; the reactor
// thread observes stopped-flag on its next wake and exits after
// closing all sockets and cancelling all timers.
func (r *Reactor) Stop() *Future {
	r.state.TransitionAny([]LoopState{StateRunning, StateSleeping}, StateTerminating)
	if ub := r.unblocker.Load(); ub != nil {
		_ = ub.Unblock()
	}
	_, tf := r.stopped()
	return tf
}

// OnError attaches l as a failure listener on the stopped future.
func (r *Reactor) OnError(l func(err error)) {
	_, tf := r.stopped()
	tf.OnFailure(func(err error, _ *Future) { l(err) })
}

func (r *Reactor) wake() {
	if ub := r.unblocker.Load(); ub != nil {
		_ = ub.Unblock()
	}
}

// Connect begins an outbound connection. If opts request TLS, the
// returned future resolves only once the TLS handshake over the
// underlying plain connection completes, per spec.md §4.9.
func (r *Reactor) Connect(host string, port int, opts ...ConnectOption) *Future {
	cfg := resolveConnectOptions(opts)
	conn := newOutboundConnection(host, port, cfg.timeout, r.cfg.clock, r.wake, r.cfg.logger, r.cfg.selector)

	r.mu.Lock()
	r.connections[conn] = struct{}{}
	r.mu.Unlock()
	r.wake()

	return r.connectOutcome(conn, cfg)
}

// connectOutcome derives the future Connect returns, chaining off the
// connection's own connectFuture (fulfilled directly by connect() on
// the reactor's I/O thread, never polled). For TLS, it chains onward
// onto the handshake outcome, per spec.md §4.9's "on the first
// connection's successful connect" sequencing.
func (r *Reactor) connectOutcome(conn *Connection, cfg *connectConfig) *Future {
	if !cfg.ssl.enabledFlag() {
		return conn.connectFuture
	}

	return conn.connectFuture.FlatMap(func(any) *Future {
		r.mu.Lock()
		delete(r.connections, conn)
		r.mu.Unlock()

		tlsConn, err := wrapClientTLS(conn, cfg.ssl)
		if err != nil {
			wrapErr := &ConnectionError{Message: "tls wrap failed", Cause: err}
			_ = conn.close(wrapErr)
			return FailedFuture(wrapErr)
		}
		r.mu.Lock()
		r.connections[tlsConn.Connection] = struct{}{}
		r.mu.Unlock()
		r.wake()

		return tlsConn.handshakeFuture.Map(func(any) (any, error) {
			return tlsConn.Connection, nil
		})
	})
}

// Bind builds a listening acceptor, binds it, registers it with the
// reactor, and returns a future resolving to the Acceptor once bound.
func (r *Reactor) Bind(host string, port int, opts ...BindOption) *Future {
	cfg := resolveBindOptions(opts)
	a := newAcceptor(host, port, cfg.backlog, cfg.ssl, r.wake, r.cfg.logger, r.cfg.selector)
	a.onNewConnection = func(conn *Connection) {
		r.mu.Lock()
		r.connections[conn] = struct{}{}
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.acceptors[a] = struct{}{}
	r.mu.Unlock()

	a.bind()
	r.wake()

	return a.Bound()
}

// ScheduleTimer delegates to the scheduler.
func (r *Reactor) ScheduleTimer(d time.Duration) *Future {
	f := r.scheduler.scheduleTimer(d)
	r.wake()
	return f
}

// CancelTimer delegates to the scheduler.
func (r *Reactor) CancelTimer(f *Future) {
	r.scheduler.cancelTimer(f)
	if r.cfg.logger != nil {
		r.cfg.logger.timerCancelled("cancelled by caller")
	}
}

func (r *Reactor) run() {
	sp, _ := r.started()
	_ = sp.Fulfill(r)

	var runErr error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				runErr = panicToError(rec)
				if r.cfg.logger != nil {
					r.cfg.logger.tickPanic(rec)
				}
			}
		}()
		for r.state.Load() != StateTerminating {
			r.tick()
		}
	}()

	r.shutdown(runErr)
}

// tick blocks in Selector.Poll until either the OS reports a registered
// fd ready or the next timer deadline arrives; all actual read/flush/
// connect dispatch happens from inside Poll, via each connection's or
// acceptor's registered callback (spec.md §4.9 steps 1-5). The only
// per-connection work done directly here is bootstrap-dialing a
// connection that has no fd yet for the selector to watch, re-checking
// each still-connecting connection's timeout, and the overload check,
// since none of these is driven by an fd becoming ready.
func (r *Reactor) tick() {
	conns := r.snapshotConnections()
	accs := r.snapshotAcceptors()

	now := r.cfg.clock.Now()
	for _, c := range conns {
		if c.Connecting() && c.FD() < 0 {
			c.connect()
		}
		c.checkConnectTimeout(now)
	}

	if r.cfg.onOverload != nil && r.cfg.overloadThreshold > 0 {
		if pending := len(conns) + len(accs); pending > r.cfg.overloadThreshold {
			r.cfg.onOverload(pending)
		}
	}

	timeoutMs := int(r.cfg.tickResolution / time.Millisecond)
	if d, ok := r.scheduler.nextDeadline(); ok {
		until := d.Sub(r.cfg.clock.Now())
		if until < 0 {
			until = 0
		}
		if ms := int(until / time.Millisecond); ms < timeoutMs {
			timeoutMs = ms
		}
	}

	r.state.TryTransition(StateRunning, StateSleeping)
	_, _ = r.cfg.selector.Poll(timeoutMs)
	r.state.TryTransition(StateSleeping, StateRunning)

	r.pruneClosed()
	r.scheduler.tick(r.cfg.clock.Now())
}

func (r *Reactor) snapshotConnections() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.connections))
	for c := range r.connections {
		out = append(out, c)
	}
	return out
}

func (r *Reactor) snapshotAcceptors() []*Acceptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Acceptor, 0, len(r.acceptors))
	for a := range r.acceptors {
		out = append(out, a)
	}
	return out
}

func (r *Reactor) pruneClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.connections {
		if c.State() == StateClosed {
			delete(r.connections, c)
		}
	}
	for a := range r.acceptors {
		if a.closed.Load() {
			delete(r.acceptors, a)
		}
	}
}

func (r *Reactor) shutdown(cause error) {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.connections))
	for c := range r.connections {
		conns = append(conns, c)
	}
	accs := make([]*Acceptor, 0, len(r.acceptors))
	for a := range r.acceptors {
		accs = append(accs, a)
	}
	r.connections = make(map[*Connection]struct{})
	r.acceptors = make(map[*Acceptor]struct{})
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.close(&CancelledError{Message: "reactor stopped"})
	}
	for _, a := range accs {
		_ = a.close()
	}
	r.scheduler.cancelAll(&CancelledError{Message: "reactor stopped"})

	if ub := r.unblocker.Load(); ub != nil {
		_ = r.cfg.selector.UnregisterFD(ub.ReadFD())
		_ = ub.Close()
	}
	_ = r.cfg.selector.Close()

	tp, _ := r.stopped()

	// A clean (or panic) shutdown always leaves the reactor restartable:
	// fresh promises are allocated and the state re-armed before the old
	// stopped promise completes, so a caller woken by Stop().Value() can
	// Start() again without racing the re-arm.
	r.resetPromises()
	r.state.Store(StateAwake)

	if cause != nil {
		_ = tp.Fail(cause)
	} else {
		_ = tp.Fulfill(r)
	}
	if r.cfg.logger != nil {
		r.cfg.logger.reactorStopped(cause)
	}
}
