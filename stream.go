package reactor

import "sync"

// Subscriber receives elements published on a Stream.
type Subscriber func(value any)

// SubscriberHandle identifies a registered Subscriber for the purpose
// of Unsubscribe. Subscribers are identified by handle rather than by
// comparing function values, since Go function values are not
// comparable.
type SubscriberHandle struct{}

type subscriberEntry struct {
	handle *SubscriberHandle
	fn     Subscriber
}

// Stream is a multi-subscriber publish channel. A Source stream is
// published to directly by user code; Processor streams (Map/Select/
// Aggregate/Take/Drop) are Source-like streams that subscribe
// themselves to an upstream and republish derived elements downstream.
//
// Publish delivers synchronously to every subscriber current at
// publish time; a panicking subscriber is isolated so publish
// continues to the remaining subscribers (spec.md §4.2).
type Stream struct {
	mu          sync.Mutex
	subscribers []subscriberEntry
}

// NewStream returns a new, unpublished-to Source stream.
func NewStream() *Stream {
	return &Stream{}
}

// Subscribe registers fn to receive every subsequent published element
// and returns a handle that identifies this registration for
// Unsubscribe.
func (s *Stream) Subscribe(fn Subscriber) *SubscriberHandle {
	h := &SubscriberHandle{}
	s.mu.Lock()
	s.subscribers = append(s.subscribers, subscriberEntry{handle: h, fn: fn})
	s.mu.Unlock()
	return h
}

// Unsubscribe removes the subscriber identified by h, if present.
func (s *Stream) Unsubscribe(h *SubscriberHandle) {
	s.mu.Lock()
	for i, e := range s.subscribers {
		if e.handle == h {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// Publish delivers value to every current subscriber. Subscriber
// panics are recovered and discarded; publish continues to the
// remaining subscribers.
func (s *Stream) Publish(value any) {
	s.mu.Lock()
	snapshot := make([]subscriberEntry, len(s.subscribers))
	copy(snapshot, s.subscribers)
	s.mu.Unlock()

	for _, e := range snapshot {
		dispatchToSubscriber(e.fn, value)
	}
}

func dispatchToSubscriber(fn Subscriber, value any) {
	defer func() { _ = recover() }()
	fn(value)
}

// Map returns a derived stream publishing fn(v) for each v published
// upstream.
func (s *Stream) Map(fn func(value any) any) *Stream {
	out := NewStream()
	s.Subscribe(func(value any) {
		out.Publish(fn(value))
	})
	return out
}

// Select returns a derived stream publishing only the upstream elements
// for which keep reports true.
func (s *Stream) Select(keep func(value any) bool) *Stream {
	out := NewStream()
	s.Subscribe(func(value any) {
		if keep(value) {
			out.Publish(value)
		}
	})
	return out
}

// Aggregate threads state across upstream elements. fn is called with
// the current state, the new element, and an emit callback it may
// invoke zero or more times to publish downstream; fn's return value
// becomes the new state.
func (s *Stream) Aggregate(init any, fn func(state any, value any, emit func(any)) any) *Stream {
	out := NewStream()
	var mu sync.Mutex
	state := init
	s.Subscribe(func(value any) {
		mu.Lock()
		defer mu.Unlock()
		state = fn(state, value, out.Publish)
	})
	return out
}

// Take returns a derived stream that republishes only the first n
// upstream elements, then unsubscribes itself from the upstream.
func (s *Stream) Take(n int) *Stream {
	out := NewStream()
	if n <= 0 {
		return out
	}
	var mu sync.Mutex
	var handle *SubscriberHandle
	count := 0
	handle = s.Subscribe(func(value any) {
		mu.Lock()
		if count >= n {
			mu.Unlock()
			return
		}
		count++
		done := count >= n
		mu.Unlock()
		out.Publish(value)
		if done {
			s.Unsubscribe(handle)
		}
	})
	return out
}

// Drop returns a derived stream that discards the first n upstream
// elements and republishes every element after that.
func (s *Stream) Drop(n int) *Stream {
	out := NewStream()
	var mu sync.Mutex
	dropped := 0
	s.Subscribe(func(value any) {
		mu.Lock()
		if dropped < n {
			dropped++
			mu.Unlock()
			return
		}
		mu.Unlock()
		out.Publish(value)
	})
	return out
}
