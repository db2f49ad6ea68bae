package reactor

import (
	"context"
	"fmt"
	"sync"
)

type futureState int32

const (
	statePending futureState = iota
	stateResolved
	stateFailed
)

// listenerFunc is the single narrow listener contract every higher
// level registration (OnValue/OnFailure) adapts onto: it is invoked
// exactly once with (value, error, self) when the future completes.
type listenerFunc func(value any, err error, self *Future)

// Future is a thread-safe asynchronous value with exactly one terminal
// outcome. It transitions monotonically from PENDING to either
// RESOLVED(value) or FAILED(err). Futures may be completed from, and
// observed from, any goroutine.
//
// Internally a single mutex guards (state, listeners); on completion
// the listener list is drained under the lock into a local slice and
// every listener is invoked outside the lock, so a listener that
// triggers reentrant completion of another future — even one with
// listeners back on this future — cannot deadlock.
type Future struct {
	mu        sync.Mutex
	state     futureState
	value     any
	err       error
	listeners []listenerFunc
	done      chan struct{}
}

// Promise is the write capability for exactly one Future.
type Promise struct {
	f *Future
}

// NewFuture returns a fresh Promise and its associated pending Future.
func NewFuture() (*Promise, *Future) {
	f := &Future{done: make(chan struct{})}
	return &Promise{f: f}, f
}

// Future returns the promise's associated future handle. It may be
// shared freely; every clone observes the same terminal outcome.
func (p *Promise) Future() *Future { return p.f }

// Fulfill completes the promise's future with value. Completing an
// already-completed future returns a *FutureError and has no effect.
func (p *Promise) Fulfill(value any) error {
	return p.f.complete(value, nil)
}

// Fail completes the promise's future with err. Completing an
// already-completed future returns a *FutureError and has no effect.
func (p *Promise) Fail(err error) error {
	if err == nil {
		err = fmt.Errorf("reactor: Fail called with nil error")
	}
	return p.f.complete(nil, err)
}

func (f *Future) complete(value any, err error) error {
	f.mu.Lock()
	if f.state != statePending {
		f.mu.Unlock()
		return &FutureError{Message: "promise completed twice"}
	}
	if err != nil {
		f.state = stateFailed
		f.err = err
	} else {
		f.state = stateResolved
		f.value = value
	}
	listeners := f.listeners
	f.listeners = nil
	close(f.done)
	f.mu.Unlock()

	for _, l := range listeners {
		invokeListener(l, value, err, f)
	}
	return nil
}

// invokeListener calls l, swallowing any panic so one faulty listener
// cannot prevent delivery to the rest (spec.md §7: "errors raised by
// user callbacks ... are swallowed").
func invokeListener(l listenerFunc, value any, err error, f *Future) {
	defer func() { _ = recover() }()
	l(value, err, f)
}

// OnComplete registers listener to be invoked exactly once with
// (value, error, self) when the future completes. If the future has
// already completed, listener is invoked synchronously on the calling
// goroutine before OnComplete returns.
func (f *Future) OnComplete(listener func(value any, err error, self *Future)) {
	f.mu.Lock()
	if f.state == statePending {
		f.listeners = append(f.listeners, listener)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()
	invokeListener(listener, value, err, f)
}

// OnValue registers a listener invoked only on successful completion.
func (f *Future) OnValue(listener func(value any, self *Future)) {
	f.OnComplete(func(value any, err error, self *Future) {
		if err == nil {
			listener(value, self)
		}
	})
}

// OnFailure registers a listener invoked only on failed completion.
func (f *Future) OnFailure(listener func(err error, self *Future)) {
	f.OnComplete(func(value any, err error, self *Future) {
		if err != nil {
			listener(err, self)
		}
	})
}

// Value blocks the calling goroutine until the future completes or ctx
// is done, whichever happens first. On completion it returns the value
// or re-raises the error.
func (f *Future) Value(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		v, err := f.value, f.err
		f.mu.Unlock()
		return v, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Completed reports whether the future has left PENDING.
func (f *Future) Completed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Resolved reports whether the future completed successfully.
func (f *Future) Resolved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateResolved
}

// Failed reports whether the future completed with an error.
func (f *Future) Failed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateFailed
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("reactor: panic: %v", r)
}

func safeApply(fn func(any) (any, error)) func(any) (result any, err error) {
	return func(v any) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicToError(r)
			}
		}()
		return fn(v)
	}
}

// Map resolves to fn(v) when the receiver resolves; a panic or error
// from fn fails the returned future. Failure propagates unchanged.
func (f *Future) Map(fn func(value any) (any, error)) *Future {
	p, nf := NewFuture()
	wrapped := safeApply(fn)
	f.OnComplete(func(value any, err error, _ *Future) {
		if err != nil {
			_ = p.Fail(err)
			return
		}
		rv, rerr := wrapped(value)
		if rerr != nil {
			_ = p.Fail(rerr)
			return
		}
		_ = p.Fulfill(rv)
	})
	return nf
}

// FlatMap resolves fn(v) to a future whose outcome the returned future
// mirrors. Panics or errors from fn fail the returned future.
func (f *Future) FlatMap(fn func(value any) *Future) *Future {
	p, nf := NewFuture()
	f.OnComplete(func(value any, err error, _ *Future) {
		if err != nil {
			_ = p.Fail(err)
			return
		}
		inner, ferr := safeCallFuture(fn, value)
		if ferr != nil {
			_ = p.Fail(ferr)
			return
		}
		inner.OnComplete(func(iv any, ierr error, _ *Future) {
			if ierr != nil {
				_ = p.Fail(ierr)
			} else {
				_ = p.Fulfill(iv)
			}
		})
	})
	return nf
}

func safeCallFuture(fn func(any) *Future, v any) (result *Future, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicToError(r)
		}
	}()
	return fn(v), nil
}

// Then behaves like FlatMap when fn returns a *Future, and like Map
// otherwise — future-likeness is detected by a runtime type assertion
// on fn's result.
func (f *Future) Then(fn func(value any) (any, error)) *Future {
	p, nf := NewFuture()
	wrapped := safeApply(fn)
	f.OnComplete(func(value any, err error, _ *Future) {
		if err != nil {
			_ = p.Fail(err)
			return
		}
		rv, rerr := wrapped(value)
		if rerr != nil {
			_ = p.Fail(rerr)
			return
		}
		if inner, ok := rv.(*Future); ok {
			inner.OnComplete(func(iv any, ierr error, _ *Future) {
				if ierr != nil {
					_ = p.Fail(ierr)
				} else {
					_ = p.Fulfill(iv)
				}
			})
			return
		}
		_ = p.Fulfill(rv)
	})
	return nf
}

// Recover resolves to fn(err) on failure; on success it mirrors the
// value unchanged.
func (f *Future) Recover(fn func(err error) (any, error)) *Future {
	p, nf := NewFuture()
	f.OnComplete(func(value any, err error, _ *Future) {
		if err == nil {
			_ = p.Fulfill(value)
			return
		}
		rv, rerr := func() (rv any, rerr error) {
			defer func() {
				if r := recover(); r != nil {
					rerr = panicToError(r)
				}
			}()
			return fn(err)
		}()
		if rerr != nil {
			_ = p.Fail(rerr)
			return
		}
		_ = p.Fulfill(rv)
	})
	return nf
}

// Fallback mirrors the outcome of fn(err) on failure; on success it
// mirrors the value unchanged.
func (f *Future) Fallback(fn func(err error) *Future) *Future {
	p, nf := NewFuture()
	f.OnComplete(func(value any, err error, _ *Future) {
		if err == nil {
			_ = p.Fulfill(value)
			return
		}
		inner, ferr := func() (inner *Future, ferr error) {
			defer func() {
				if r := recover(); r != nil {
					ferr = panicToError(r)
				}
			}()
			return fn(err), nil
		}()
		if ferr != nil {
			_ = p.Fail(ferr)
			return
		}
		inner.OnComplete(func(iv any, ierr error, _ *Future) {
			if ierr != nil {
				_ = p.Fail(ierr)
			} else {
				_ = p.Fulfill(iv)
			}
		})
	})
	return nf
}

// ResolvedFuture returns an already-completed future holding v.
func ResolvedFuture(v any) *Future {
	p, f := NewFuture()
	_ = p.Fulfill(v)
	return f
}

// FailedFuture returns an already-completed future holding err.
func FailedFuture(err error) *Future {
	p, f := NewFuture()
	_ = p.Fail(err)
	return f
}

// All resolves to the values of fs in input order once every future in
// fs has resolved; it fails fast with the first observed failure. An
// empty input resolves to an empty slice.
func All(fs []*Future) *Future {
	p, nf := NewFuture()
	if len(fs) == 0 {
		_ = p.Fulfill([]any{})
		return nf
	}
	results := make([]any, len(fs))
	var mu sync.Mutex
	remaining := len(fs)
	failed := false
	for i, fut := range fs {
		i := i
		fut.OnComplete(func(v any, err error, _ *Future) {
			mu.Lock()
			if failed {
				mu.Unlock()
				return
			}
			if err != nil {
				failed = true
				mu.Unlock()
				_ = p.Fail(err)
				return
			}
			results[i] = v
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done {
				_ = p.Fulfill(results)
			}
		})
	}
	return nf
}

// First resolves to the first value observed among fs; it fails only
// once every future in fs has failed, with the last observed failure.
// An empty input resolves to nil.
func First(fs []*Future) *Future {
	p, nf := NewFuture()
	if len(fs) == 0 {
		_ = p.Fulfill(nil)
		return nf
	}
	var mu sync.Mutex
	remaining := len(fs)
	resolved := false
	var lastErr error
	for _, fut := range fs {
		fut.OnComplete(func(v any, err error, _ *Future) {
			mu.Lock()
			if resolved {
				mu.Unlock()
				return
			}
			if err == nil {
				resolved = true
				mu.Unlock()
				_ = p.Fulfill(v)
				return
			}
			lastErr = err
			remaining--
			allDone := remaining == 0
			mu.Unlock()
			if allDone {
				_ = p.Fail(lastErr)
			}
		})
	}
	return nf
}

// Traverse is equivalent to All(map(fn, xs)); panics raised by fn are
// captured into a failed future for that element rather than
// propagating to the caller.
func Traverse(xs []any, fn func(any) *Future) *Future {
	fs := make([]*Future, len(xs))
	for i, x := range xs {
		inner, err := safeCallFuture(fn, x)
		if err != nil {
			fs[i] = FailedFuture(err)
		} else {
			fs[i] = inner
		}
	}
	return All(fs)
}

// Reduce folds the values of fs with op, seeded by init. When ordered
// is true, op is applied strictly in input order; otherwise it is
// applied in completion order, in which case op must be associative and
// commutative. op is guaranteed to never be called concurrently with
// itself. If init is nil, the first value observed (input-order first
// when ordered, completion-order first otherwise) is used as the seed
// and op is not called for it; every subsequent value is folded in via
// op. An empty input resolves to init.
func Reduce(fs []*Future, init any, ordered bool, op func(acc, v any) any) *Future {
	p, nf := NewFuture()
	if len(fs) == 0 {
		_ = p.Fulfill(init)
		return nf
	}

	if ordered {
		var chain *Future
		startIdx := 0
		if init == nil {
			chain = fs[0].Map(func(v any) (any, error) { return v, nil })
			startIdx = 1
		} else {
			chain = ResolvedFuture(init)
		}
		for _, fut := range fs[startIdx:] {
			fut := fut
			chain = chain.FlatMap(func(accV any) *Future {
				return fut.Map(func(v any) (any, error) {
					return op(accV, v), nil
				})
			})
		}
		chain.OnComplete(func(v any, err error, _ *Future) {
			if err != nil {
				_ = p.Fail(err)
			} else {
				_ = p.Fulfill(v)
			}
		})
		return nf
	}

	var mu sync.Mutex
	acc := init
	seeded := init != nil
	remaining := len(fs)
	failed := false
	for _, fut := range fs {
		fut.OnComplete(func(v any, err error, _ *Future) {
			mu.Lock()
			if failed {
				mu.Unlock()
				return
			}
			if err != nil {
				failed = true
				mu.Unlock()
				_ = p.Fail(err)
				return
			}
			if !seeded {
				acc = v
				seeded = true
			} else {
				acc = op(acc, v)
			}
			remaining--
			done := remaining == 0
			result := acc
			mu.Unlock()
			if done {
				_ = p.Fulfill(result)
			}
		})
	}
	return nf
}
