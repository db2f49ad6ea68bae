package reactor

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// eventLogger is the narrow logging surface the reactor's internals
// use, adapted from the teacher's logging.go LogEntry categories
// (reactor/connection/timer lifecycle) onto logiface's generic
// Logger[E] builder API instead of the teacher's bespoke LogEntry
// struct + global singleton.
type eventLogger interface {
	tickPanic(recovered any)
	reactorStopped(err error)
	connectionClosed(host string, port int, cause error)
	connectFailed(host string, port int, err error)
	timerCancelled(reason string)
}

// disabledLogger is the zero-cost default used when no logger option is
// supplied.
type disabledLogger struct{}

func (disabledLogger) tickPanic(any)                             {}
func (disabledLogger) reactorStopped(error)                      {}
func (disabledLogger) connectionClosed(string, int, error)       {}
func (disabledLogger) connectFailed(string, int, error)          {}
func (disabledLogger) timerCancelled(string)                     {}

// stumpyLogger adapts a *logiface.Logger[*stumpy.Event] (the JSON,
// zerolog-style backend from github.com/joeycumines/stumpy) to
// eventLogger, following the usage shape in logiface-stumpy's
// example_test.go (logger.Info().Str(...).Log(msg)).
type stumpyLogger struct {
	l *logiface.Logger[*stumpy.Event]
}

// NewStumpyLogger builds an eventLogger backed by stumpy's JSON
// encoder, writing to w.
func NewStumpyLogger(w logiface.WriterFunc[*stumpy.Event]) eventLogger {
	l := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithTimeField("ts")),
		stumpy.L.WithWriter(w),
	)
	return &stumpyLogger{l: l}
}

func (s *stumpyLogger) tickPanic(recovered any) {
	s.l.Err().Any("panic", recovered).Log("reactor tick panic recovered")
}

func (s *stumpyLogger) reactorStopped(err error) {
	if err == nil {
		s.l.Info().Log("reactor stopped")
		return
	}
	s.l.Err().Err(err).Log("reactor stopped with error")
}

func (s *stumpyLogger) connectionClosed(host string, port int, cause error) {
	if cause != nil {
		s.l.Warning().Str("host", host).Int64("port", int64(port)).Err(cause).Log("connection closed")
		return
	}
	s.l.Info().Str("host", host).Int64("port", int64(port)).Log("connection closed")
}

func (s *stumpyLogger) connectFailed(host string, port int, err error) {
	s.l.Warning().Str("host", host).Int64("port", int64(port)).Err(err).Log("connect failed")
}

func (s *stumpyLogger) timerCancelled(reason string) {
	s.l.Debug().Str("reason", reason).Log("timer cancelled")
}

// WithLogger attaches an eventLogger built via NewStumpyLogger (or a
// custom one) to a Reactor.
func WithLogger(l eventLogger) ReactorOption {
	return reactorOptionFunc(func(cfg *reactorConfig) {
		if l != nil {
			cfg.logger = l
		}
	})
}
