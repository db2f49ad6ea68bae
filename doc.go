// Package reactor implements a reactive I/O framework: a thread-safe
// future/promise layer, a single-threaded reactor that multiplexes
// non-blocking sockets and timers, and protocol-agnostic connection
// objects whose byte streams are handed to user-supplied handlers.
//
// # Components
//
// The core is nine tightly coupled pieces:
//
//   - [ByteBuffer] — double-buffered append/discard/read byte container.
//   - the heap in heap.go — generic min-heap with O(log n) delete.
//   - [Future] / [Promise] — thread-safe asynchronous value with combinators.
//   - [Stream] — multi-subscriber publish stream with transformations.
//   - the unblocker (unblocker_*.go) — self-pipe used to interrupt selection.
//   - the scheduler in scheduler.go — time-ordered timer queue.
//   - [Connection] — non-blocking socket state machine, plain and TLS.
//   - [Acceptor] — non-blocking listening socket, plain and TLS.
//   - [Reactor] — owns the I/O thread, drives the rest each tick.
//
// # Concurrency
//
// Exactly one background goroutine, the reactor's I/O thread, drives all
// socket I/O and timer expiry. Any number of other goroutines may call
// future/promise operations, reactor operations, and connection
// Write/Close/Drain. The only blocking call available to a user
// goroutine is [Future.Value]; every other operation returns promptly.
//
// # Example
//
//	r := reactor.New()
//	if _, err := r.Start().Value(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//	defer r.Stop()
//
//	connected := r.Connect("example.com", 80, reactor.WithTimeout(5*time.Second))
//	conn, err := connected.Value(context.Background())
package reactor
