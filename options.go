package explorer

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// MaxTracks is the upper bound on the number of tracks, as a node's
	// track set is a 64-bit mask.
	MaxTracks = 64

	// DefaultCapacity is the default bus capacity.
	DefaultCapacity = 1024

	// DefaultWatchInterval is the default watcher poll interval.
	DefaultWatchInterval = 10 * time.Millisecond

	// DefaultStallThreshold is the default duration after which a running
	// task is reported as stalled.
	DefaultStallThreshold = 5 * time.Second
)

// DefaultStallLogRates returns the default per-track stall warning rates, see
// WithStallLogRates.
func DefaultStallLogRates() map[time.Duration]int {
	return map[time.Duration]int{
		10 * time.Second: 1,
		time.Minute:      3,
	}
}

// options holds configuration options for Executor creation.
type options struct {
	logger         *logiface.Logger[logiface.Event]
	handler        RejectionHandler
	threadFactory  ThreadFactory
	fenceHash      FenceHashFunc
	onStall        func(StallInfo)
	stallLogRates  map[time.Duration]int
	hooks          *testHooks
	name           string
	tracks         int
	capacity       int
	watchInterval  time.Duration
	stallThreshold time.Duration
	metrics        bool
}

// Option configures an Executor instance, see New.
type Option interface {
	apply(*options) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*options) error
}

func (o *optionImpl) apply(opts *options) error {
	return o.applyFunc(opts)
}

// WithTracks sets the number of tracks (walker threads), which must be in the
// range [1, MaxTracks]. Defaults to GOMAXPROCS, capped at MaxTracks.
func WithTracks(tracks int) Option {
	return &optionImpl{func(opts *options) error {
		if tracks < 1 || tracks > MaxTracks {
			return fmt.Errorf(`explorer: tracks must be in [1, %d], got %d`, MaxTracks, tracks)
		}
		opts.tracks = tracks
		return nil
	}}
}

// WithCapacity sets the bus capacity, which is rounded up to a power of two,
// with a minimum of 2. Defaults to DefaultCapacity.
func WithCapacity(capacity int) Option {
	return &optionImpl{func(opts *options) error {
		if capacity < 1 || capacity > 1<<30 {
			return fmt.Errorf(`explorer: capacity must be in [1, %d], got %d`, 1<<30, capacity)
		}
		opts.capacity = capacity
		return nil
	}}
}

// WithRejectionHandler sets the handler invoked when a task cannot be
// published. A nil handler restores the default, AbortPolicy.
func WithRejectionHandler(handler RejectionHandler) Option {
	return &optionImpl{func(opts *options) error {
		opts.handler = handler
		return nil
	}}
}

// WithThreadFactory sets the factory used to start walker and watcher threads.
// A nil factory restores the default, DefaultThreadFactory.
func WithThreadFactory(factory ThreadFactory) Option {
	return &optionImpl{func(opts *options) error {
		opts.threadFactory = factory
		return nil
	}}
}

// WithLogger configures structured logging. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// WithWatchInterval sets how often the watcher polls for termination and
// stalled tasks. Defaults to DefaultWatchInterval.
func WithWatchInterval(interval time.Duration) Option {
	return &optionImpl{func(opts *options) error {
		if interval <= 0 {
			return errors.New(`explorer: watch interval must be positive`)
		}
		opts.watchInterval = interval
		return nil
	}}
}

// WithStallThreshold sets how long a task may run before the watcher reports
// it as stalled. Defaults to DefaultStallThreshold.
func WithStallThreshold(threshold time.Duration) Option {
	return &optionImpl{func(opts *options) error {
		if threshold <= 0 {
			return errors.New(`explorer: stall threshold must be positive`)
		}
		opts.stallThreshold = threshold
		return nil
	}}
}

// WithStallLogRates sets the per-track sliding window rates, applied to stall
// warnings, in the format accepted by catrate.NewLimiter. An empty map disables
// rate limiting. Defaults to DefaultStallLogRates.
func WithStallLogRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *options) error {
		if rates == nil {
			rates = map[time.Duration]int{}
		}
		opts.stallLogRates = rates
		return nil
	}}
}

// OnStall registers a hook, called by the watcher (once per task) for each
// task that exceeds the stall threshold. It must not block.
func OnStall(fn func(info StallInfo)) Option {
	return &optionImpl{func(opts *options) error {
		opts.onStall = fn
		return nil
	}}
}

// WithFenceHash overrides the hash used to map fences onto tracks. Fences
// implementing FenceHasher still use their own hash.
func WithFenceHash(fn FenceHashFunc) Option {
	return &optionImpl{func(opts *options) error {
		opts.fenceHash = fn
		return nil
	}}
}

// WithMetrics enables recording of per-track task latency quantiles, which
// are reported by Executor.Stats. Counters are always recorded.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *options) error {
		opts.metrics = enabled
		return nil
	}}
}

// WithName sets a human-readable name, included in thread names, log
// fields, and Executor.String.
func WithName(name string) Option {
	return &optionImpl{func(opts *options) error {
		opts.name = name
		return nil
	}}
}

// withTestHooks is used by tests to inject scheduling delays.
func withTestHooks(hooks *testHooks) Option {
	return &optionImpl{func(opts *options) error {
		opts.hooks = hooks
		return nil
	}}
}

// resolveOptions applies Option instances to options.
func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		capacity:       DefaultCapacity,
		watchInterval:  DefaultWatchInterval,
		stallThreshold: DefaultStallThreshold,
		stallLogRates:  DefaultStallLogRates(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.tracks == 0 {
		cfg.tracks = min(runtime.GOMAXPROCS(0), MaxTracks)
	}
	cfg.capacity = roundCapacity(cfg.capacity)
	if cfg.handler == nil {
		cfg.handler = AbortPolicy{}
	}
	if cfg.threadFactory == nil {
		cfg.threadFactory = DefaultThreadFactory{}
	}
	return cfg, nil
}

// roundCapacity rounds up to a power of two, with a minimum of 2.
func roundCapacity(capacity int) int {
	c := 2
	for c < capacity {
		c <<= 1
	}
	return c
}
