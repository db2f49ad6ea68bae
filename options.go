package reactor

import "time"

// reactorConfig holds resolved Reactor construction options.
type reactorConfig struct {
	clock             Clock
	selector          Selector
	tickResolution    time.Duration
	logger            eventLogger
	onOverload        func(pending int)
	overloadThreshold int
}

// ReactorOption configures a Reactor at construction time, following
// the teacher's options.go LoopOption shape (an interface with an
// unexported apply method, implemented by a closure-holding struct).
type ReactorOption interface {
	applyReactor(*reactorConfig)
}

type reactorOptionFunc func(*reactorConfig)

func (f reactorOptionFunc) applyReactor(c *reactorConfig) { f(c) }

// WithClock injects a Clock, letting tests drive timers deterministically.
func WithClock(c Clock) ReactorOption {
	return reactorOptionFunc(func(cfg *reactorConfig) { cfg.clock = c })
}

// WithSelector injects a Selector, letting tests observe/control socket
// readiness without real sockets.
func WithSelector(s Selector) ReactorOption {
	return reactorOptionFunc(func(cfg *reactorConfig) { cfg.selector = s })
}

// WithTickResolution bounds the selector timeout used each tick; the
// reactor's scheduler latency is bounded by this value even with no
// socket activity. Default is 1 second.
func WithTickResolution(d time.Duration) ReactorOption {
	return reactorOptionFunc(func(cfg *reactorConfig) { cfg.tickResolution = d })
}

// WithOnOverload registers a callback fired on every tick in which the
// combined number of tracked connections and acceptors exceeds the
// overload threshold (see WithOverloadThreshold); it receives that
// count. Adapted from the teacher's Loop.OnOverload hook.
func WithOnOverload(fn func(pending int)) ReactorOption {
	return reactorOptionFunc(func(cfg *reactorConfig) { cfg.onOverload = fn })
}

// WithOverloadThreshold sets the combined connection+acceptor count
// above which the onOverload callback fires each tick. Default is 1024,
// so WithOnOverload alone is already active; a threshold of zero or
// less disables the callback.
func WithOverloadThreshold(n int) ReactorOption {
	return reactorOptionFunc(func(cfg *reactorConfig) { cfg.overloadThreshold = n })
}

func resolveReactorOptions(opts []ReactorOption) *reactorConfig {
	cfg := &reactorConfig{
		clock:             SystemClock,
		tickResolution:    time.Second,
		logger:            disabledLogger{},
		overloadThreshold: 1024,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyReactor(cfg)
	}
	if cfg.selector == nil {
		cfg.selector = newPlatformSelector()
	}
	return cfg
}

// connectConfig holds resolved Connect options.
type connectConfig struct {
	timeout time.Duration
	ssl     TLSOption
}

// ConnectOption configures a single Connect call.
type ConnectOption interface {
	applyConnect(*connectConfig)
}

type connectOptionFunc func(*connectConfig)

func (f connectOptionFunc) applyConnect(c *connectConfig) { f(c) }

// WithTimeout sets the connect timeout; default is 5 seconds.
func WithTimeout(d time.Duration) ConnectOption {
	return connectOptionFunc(func(cfg *connectConfig) { cfg.timeout = d })
}

// WithTLS requests a TLS upgrade using the given client option. An
// option built with NewTLSOption(nil) requests a default client
// configuration; the zero TLSOption leaves TLS off.
func WithTLS(opt TLSOption) ConnectOption {
	return connectOptionFunc(func(cfg *connectConfig) { cfg.ssl = opt })
}

func resolveConnectOptions(opts []ConnectOption) *connectConfig {
	cfg := &connectConfig{timeout: 5 * time.Second}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyConnect(cfg)
	}
	return cfg
}

// bindConfig holds resolved Bind options.
type bindConfig struct {
	backlog int
	ssl     TLSOption
}

// BindOption configures a single Bind call.
type BindOption interface {
	applyBind(*bindConfig)
}

type bindOptionFunc func(*bindConfig)

func (f bindOptionFunc) applyBind(c *bindConfig) { f(c) }

// WithBacklog sets the listen backlog; default is 5.
func WithBacklog(n int) BindOption {
	return bindOptionFunc(func(cfg *bindConfig) { cfg.backlog = n })
}

// WithTLSAcceptor requests that accepted connections be TLS-wrapped
// using the given server config.
func WithTLSAcceptor(opt TLSOption) BindOption {
	return bindOptionFunc(func(cfg *bindConfig) { cfg.ssl = opt })
}

func resolveBindOptions(opts []BindOption) *bindConfig {
	cfg := &bindConfig{backlog: 5}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyBind(cfg)
	}
	return cfg
}
