package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_TickFulfillsDueTimersInDeadlineOrder(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := newScheduler(clock)

	// Scenario 3 from spec.md §8: schedule out of deadline order, then
	// advance the clock and verify resolution order follows deadlines,
	// not scheduling order.
	fLate := s.scheduleTimer(300 * time.Millisecond)
	fEarly := s.scheduleTimer(100 * time.Millisecond)

	clock.Advance(100 * time.Millisecond)
	s.tick(clock.Now())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(t, fEarly.Completed())
	require.False(t, fLate.Completed())
	_, err := fEarly.Value(ctx)
	require.NoError(t, err)

	clock.Advance(200 * time.Millisecond)
	s.tick(clock.Now())
	require.True(t, fLate.Completed())
}

func TestScheduler_EqualDeadlinesTiebreakByInsertionOrder(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := newScheduler(clock)

	first := s.scheduleTimer(10 * time.Millisecond)
	second := s.scheduleTimer(10 * time.Millisecond)

	clock.Advance(10 * time.Millisecond)

	var order []*Future
	first.OnComplete(func(any, error, *Future) { order = append(order, first) })
	second.OnComplete(func(any, error, *Future) { order = append(order, second) })
	s.tick(clock.Now())

	require.Equal(t, []*Future{first, second}, order)
}

func TestScheduler_CancelTimer(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := newScheduler(clock)

	f := s.scheduleTimer(time.Second)
	s.cancelTimer(f)

	_, err := f.Value(context.Background())
	require.Error(t, err)
	var ce *CancelledError
	require.ErrorAs(t, err, &ce)

	clock.Advance(2 * time.Second)
	s.tick(clock.Now()) // must not panic re-fulfilling an already-failed timer
}

func TestScheduler_CancelAlreadyExpiredTimerIsNoop(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := newScheduler(clock)

	f := s.scheduleTimer(10 * time.Millisecond)
	clock.Advance(20 * time.Millisecond)
	s.tick(clock.Now())
	require.True(t, f.Resolved())

	s.cancelTimer(f) // no-op: already fired and removed
	require.True(t, f.Resolved(), "cancelling an already-fired timer must not flip it to failed")
}

func TestScheduler_CancelAllDrainsWithError(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := newScheduler(clock)

	a := s.scheduleTimer(time.Second)
	b := s.scheduleTimer(2 * time.Second)

	wantErr := &CancelledError{Message: "reactor stopped"}
	s.cancelAll(wantErr)

	for _, f := range []*Future{a, b} {
		_, err := f.Value(context.Background())
		require.Equal(t, wantErr, err)
	}
	require.Equal(t, 0, s.heap.length())
}

func TestScheduler_NextDeadline(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := newScheduler(clock)

	_, ok := s.nextDeadline()
	require.False(t, ok)

	s.scheduleTimer(50 * time.Millisecond)
	d, ok := s.nextDeadline()
	require.True(t, ok)
	require.Equal(t, clock.Now().Add(50*time.Millisecond), d)
}
