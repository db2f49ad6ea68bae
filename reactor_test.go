package reactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReactor_StartStopLifecycle(t *testing.T) {
	r := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := r.Start().Value(ctx)
	require.NoError(t, err)

	// Start is idempotent while running: it returns the same future.
	require.Same(t, r.startedFuture, r.Start())

	_, err = r.Stop().Value(ctx)
	require.NoError(t, err)
}

// TestReactor_RestartAfterCleanStop verifies a cleanly stopped reactor
// can be started again with fresh promises.
func TestReactor_RestartAfterCleanStop(t *testing.T) {
	r := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.Start().Value(ctx)
	require.NoError(t, err)
	_, err = r.Stop().Value(ctx)
	require.NoError(t, err)

	_, err = r.Start().Value(ctx)
	require.NoError(t, err)
	_, err = r.Stop().Value(ctx)
	require.NoError(t, err)
}

// TestReactor_EchoOverLoopback is the literal "bind, accept-handler
// echoes on_data back via write, connect, write HELLO, client observes
// HELLO" scenario, driven over a real loopback TCP socket.
func TestReactor_EchoOverLoopback(t *testing.T) {
	r := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.Start().Value(ctx)
	require.NoError(t, err)
	defer r.Stop()

	const port = 19201
	boundAny, err := r.Bind("127.0.0.1", port).Value(ctx)
	require.NoError(t, err)
	acceptor := boundAny.(*Acceptor)
	acceptor.OnAccept(func(conn *Connection) {
		conn.OnData(func(p []byte) { conn.Write(p) })
	})

	connAny, err := r.Connect("127.0.0.1", port).Value(ctx)
	require.NoError(t, err)
	conn := connAny.(*Connection)

	got := make(chan []byte, 1)
	conn.OnData(func(p []byte) {
		cp := make([]byte, len(p))
		copy(cp, p)
		got <- cp
	})
	conn.Write([]byte("HELLO"))

	select {
	case echoed := <-got:
		require.Equal(t, []byte("HELLO"), echoed)
	case <-ctx.Done():
		t.Fatal("timed out waiting for echo")
	}
}

// TestReactor_ConnectRefused covers the no-listener case: connecting to
// a closed loopback port fails the returned future with a
// ConnectionError once the address list is exhausted.
func TestReactor_ConnectRefused(t *testing.T) {
	r := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.Start().Value(ctx)
	require.NoError(t, err)
	defer r.Stop()

	const port = 19202
	_, err = r.Connect("127.0.0.1", port, WithTimeout(2*time.Second)).Value(ctx)
	require.Error(t, err)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
}

// TestReactor_DrainClosesConnectionWithEmptyBuffer exercises Drain end
// to end: a connection with nothing outstanding to write closes
// immediately once drained.
func TestReactor_DrainClosesConnectionWithEmptyBuffer(t *testing.T) {
	r := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.Start().Value(ctx)
	require.NoError(t, err)
	defer r.Stop()

	const port = 19203
	_, err = r.Bind("127.0.0.1", port).Value(ctx)
	require.NoError(t, err)

	connAny, err := r.Connect("127.0.0.1", port).Value(ctx)
	require.NoError(t, err)
	conn := connAny.(*Connection)

	closed := conn.Drain()
	_, err = closed.Value(ctx)
	require.NoError(t, err)
	require.Equal(t, StateClosed, conn.State())
}

// TestReactor_TimerOrdering is scenario 3 run against the live reactor
// loop rather than the scheduler directly: timers fulfil in deadline
// order regardless of scheduling order.
func TestReactor_TimerOrdering(t *testing.T) {
	r := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.Start().Value(ctx)
	require.NoError(t, err)
	defer r.Stop()

	var rec timerOrder
	late := r.ScheduleTimer(120 * time.Millisecond)
	early := r.ScheduleTimer(20 * time.Millisecond)
	early.OnComplete(func(any, error, *Future) { rec.record("early") })
	late.OnComplete(func(any, error, *Future) { rec.record("late") })

	_, err = late.Value(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"early", "late"}, rec.order())
}

// timerOrder is a tiny mutex-guarded recorder; timer completions fire
// from the reactor's own goroutine, concurrently with the test
// goroutine's Value() wait.
type timerOrder struct {
	vals []string
	mu   sync.Mutex
}

func (o *timerOrder) record(v string) {
	o.mu.Lock()
	o.vals = append(o.vals, v)
	o.mu.Unlock()
}

func (o *timerOrder) order() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.vals))
	copy(out, o.vals)
	return out
}
