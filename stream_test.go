package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStream_PublishDeliversToAllSubscribers(t *testing.T) {
	s := NewStream()
	var gotA, gotB []any
	s.Subscribe(func(v any) { gotA = append(gotA, v) })
	s.Subscribe(func(v any) { gotB = append(gotB, v) })

	s.Publish(1)
	s.Publish(2)

	require.Equal(t, []any{1, 2}, gotA)
	require.Equal(t, []any{1, 2}, gotB)
}

func TestStream_UnsubscribeByHandle(t *testing.T) {
	s := NewStream()
	var got []any
	h := s.Subscribe(func(v any) { got = append(got, v) })
	s.Publish(1)
	s.Unsubscribe(h)
	s.Publish(2)
	require.Equal(t, []any{1}, got)
}

func TestStream_PanicIsolatedFromOtherSubscribers(t *testing.T) {
	s := NewStream()
	var secondGot []any
	s.Subscribe(func(v any) { panic("boom") })
	s.Subscribe(func(v any) { secondGot = append(secondGot, v) })
	s.Publish("x")
	require.Equal(t, []any{"x"}, secondGot)
}

func TestStream_Map(t *testing.T) {
	s := NewStream()
	out := s.Map(func(v any) any { return v.(int) * 2 })
	var got []any
	out.Subscribe(func(v any) { got = append(got, v) })
	s.Publish(1)
	s.Publish(2)
	require.Equal(t, []any{2, 4}, got)
}

func TestStream_Select(t *testing.T) {
	s := NewStream()
	out := s.Select(func(v any) bool { return v.(int)%2 == 0 })
	var got []any
	out.Subscribe(func(v any) { got = append(got, v) })
	for i := 1; i <= 5; i++ {
		s.Publish(i)
	}
	require.Equal(t, []any{2, 4}, got)
}

func TestStream_Aggregate(t *testing.T) {
	s := NewStream()
	out := s.Aggregate(0, func(state any, value any, emit func(any)) any {
		sum := state.(int) + value.(int)
		emit(sum)
		return sum
	})
	var got []any
	out.Subscribe(func(v any) { got = append(got, v) })
	s.Publish(1)
	s.Publish(2)
	s.Publish(3)
	require.Equal(t, []any{1, 3, 6}, got)
}

func TestStream_AggregateCanEmitZeroOrManyPerInput(t *testing.T) {
	s := NewStream()
	// emits the value twice for even inputs, never for odd ones.
	out := s.Aggregate(nil, func(state any, value any, emit func(any)) any {
		if value.(int)%2 == 0 {
			emit(value)
			emit(value)
		}
		return state
	})
	var got []any
	out.Subscribe(func(v any) { got = append(got, v) })
	s.Publish(1)
	s.Publish(2)
	require.Equal(t, []any{2, 2}, got)
}

func TestStream_TakeUnsubscribesAfterN(t *testing.T) {
	s := NewStream()
	out := s.Take(2)
	var got []any
	out.Subscribe(func(v any) { got = append(got, v) })
	for i := 1; i <= 5; i++ {
		s.Publish(i)
	}
	require.Equal(t, []any{1, 2}, got)
	require.Empty(t, s.subscribers, "Take must unsubscribe itself from upstream once its quota is reached")
}

func TestStream_Drop(t *testing.T) {
	s := NewStream()
	out := s.Drop(2)
	var got []any
	out.Subscribe(func(v any) { got = append(got, v) })
	for i := 1; i <= 5; i++ {
		s.Publish(i)
	}
	require.Equal(t, []any{3, 4, 5}, got)
}
