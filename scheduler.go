package reactor

import (
	"sync"
	"time"
)

// timerRecord pairs a deadline with the promise that fulfills when it
// expires. Timers are ordered by deadline, then by a monotonic sequence
// number as a stable tiebreak (spec.md: "ordered by deadline then by
// identity").
type timerRecord struct {
	deadline time.Time
	seq      uint64
	promise  *Promise
	future   *Future
}

func (t *timerRecord) heapLess(other heapItem) bool {
	o := other.(*timerRecord)
	if t.deadline.Equal(o.deadline) {
		return t.seq < o.seq
	}
	return t.deadline.Before(o.deadline)
}

// scheduler maintains a min-heap of timers keyed by deadline, mirroring
// the teacher's loop.go timerHeap/runTimers shape, but returning a
// Future per timer and supporting O(log n) cancellation via the
// identity-indexed minHeap (heap.go) rather than the teacher's
// pop-only container/heap usage.
type scheduler struct {
	mu       sync.Mutex
	clock    Clock
	heap     *minHeap
	byFuture map[*Future]*timerRecord
	seq      uint64
}

func newScheduler(clock Clock) *scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &scheduler{
		clock:    clock,
		heap:     newMinHeap(),
		byFuture: make(map[*Future]*timerRecord),
	}
}

// scheduleTimer computes deadline = clock.Now()+d, inserts a new timer,
// and returns its future.
func (s *scheduler) scheduleTimer(d time.Duration) *Future {
	p, f := NewFuture()
	s.mu.Lock()
	s.seq++
	rec := &timerRecord{
		deadline: s.clock.Now().Add(d),
		seq:      s.seq,
		promise:  p,
		future:   f,
	}
	s.heap.pushItem(rec)
	s.byFuture[f] = rec
	s.mu.Unlock()
	return f
}

// cancelTimer removes the timer associated with f and fails its
// promise with a CancelledError. Already-expired (or unknown) timers
// are silently ignored.
func (s *scheduler) cancelTimer(f *Future) {
	s.mu.Lock()
	rec, ok := s.byFuture[f]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byFuture, f)
	s.heap.deleteItem(rec)
	s.mu.Unlock()

	_ = rec.promise.Fail(&CancelledError{Message: "timer cancelled"})
}

// tick pops and fulfills every timer whose deadline is at or before
// now, in deadline order.
func (s *scheduler) tick(now time.Time) {
	var due []*timerRecord
	s.mu.Lock()
	for {
		top := s.heap.peek()
		if top == nil {
			break
		}
		rec := top.(*timerRecord)
		if rec.deadline.After(now) {
			break
		}
		s.heap.popItem()
		delete(s.byFuture, rec.future)
		due = append(due, rec)
	}
	s.mu.Unlock()

	for _, rec := range due {
		_ = rec.promise.Fulfill(rec.deadline)
	}
}

// cancelAll drains every remaining timer, failing each with err. Used
// at reactor shutdown.
func (s *scheduler) cancelAll(err error) {
	var due []*timerRecord
	s.mu.Lock()
	for {
		item := s.heap.popItem()
		if item == nil {
			break
		}
		due = append(due, item.(*timerRecord))
	}
	s.byFuture = make(map[*Future]*timerRecord)
	s.mu.Unlock()

	for _, rec := range due {
		_ = rec.promise.Fail(err)
	}
}

// nextDeadline returns the earliest pending timer deadline, and false
// if no timers are scheduled. Used by the reactor to bound its selector
// timeout.
func (s *scheduler) nextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := s.heap.peek()
	if top == nil {
		return time.Time{}, false
	}
	return top.(*timerRecord).deadline, true
}
