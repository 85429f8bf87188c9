package explorer

import (
	"context"
	"fmt"
	"hash/maphash"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/joeycumines/logiface"
)

// Executor runs tasks on a fixed set of tracks, such that tasks sharing a
// fence run one at a time, in the order they were published, and tasks
// spanning several tracks run exactly once, on one of them.
//
// Each track is served by a walker, a goroutine locked to its own OS thread,
// which reads every node from a shared bus, skipping those that don't touch
// its track. A multi-track node is run by the last of its tracks to reach it;
// the others hold it as a barrier, holding back any later node that shares a
// fence with it, until it is released.
//
// An Executor must be created using New, and stopped using Shutdown or Close.
type Executor struct {
	state   fastState
	bus     *bus
	walkers []*walker
	watcher *watcher
	opts    *options
	logger  *logiface.Logger[logiface.Event]
	done    chan struct{}
	id      uuid.UUID
	seed    maphash.Seed

	wg sync.WaitGroup // walkers

	callbacksMu sync.Mutex
	callbacks   []func()
	terminated  bool // callbacks have run

	rejected atomic.Uint64
}

var _ Strategy = (*Executor)(nil)

// New creates and starts an Executor, see Option.
func New(opts ...Option) (*Executor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	x := &Executor{
		bus:  newBus(cfg.capacity),
		opts: cfg,
		done: make(chan struct{}),
		id:   uuid.New(),
		seed: maphash.MakeSeed(),
	}
	x.logger = cfg.logger.Clone().
		Str(`executor`, x.id.String()).
		Call(func(c *logiface.Context[logiface.Event]) {
			if cfg.name != `` {
				c.Str(`name`, cfg.name)
			}
		}).
		Logger()

	x.walkers = make([]*walker, cfg.tracks)
	for t := range x.walkers {
		x.walkers[t] = newWalker(x, t)
	}

	if x.watcher, err = newWatcher(x); err != nil {
		return nil, err
	}

	x.wg.Add(len(x.walkers))
	for t, w := range x.walkers {
		cfg.threadFactory.Start(Thread{
			Run:   w.run,
			Name:  fmt.Sprintf(`%s-walker-%d`, x.threadPrefix(), t),
			Role:  RoleWalker,
			Index: t,
		})
	}
	cfg.threadFactory.Start(Thread{
		Run:  x.watcher.run,
		Name: x.threadPrefix() + `-watcher`,
		Role: RoleWatcher,
	})

	x.logger.Info().
		Int(`tracks`, cfg.tracks).
		Int(`capacity`, cfg.capacity).
		Log(`explorer: started`)

	return x, nil
}

func (x *Executor) threadPrefix() string {
	if x.opts.name != `` {
		return `explorer-` + x.opts.name
	}
	return `explorer-` + x.id.String()
}

// ID returns the executor's unique identifier.
func (x *Executor) ID() uuid.UUID { return x.id }

// Name returns the name set by WithName, if any.
func (x *Executor) Name() string { return x.opts.name }

// Tracks returns the number of tracks.
func (x *Executor) Tracks() int { return len(x.walkers) }

// String identifies the executor, e.g. in errors and logs.
func (x *Executor) String() string {
	if x.opts.name != `` {
		return fmt.Sprintf(`explorer(%s %s)`, x.opts.name, x.id)
	}
	return fmt.Sprintf(`explorer(%s)`, x.id)
}

// State returns the current lifecycle state.
func (x *Executor) State() State {
	return x.state.Load()
}

// TrackOf returns the track the given fence maps onto.
func (x *Executor) TrackOf(fence Fence) (int, error) {
	if fence == nil {
		return 0, ErrNilFence
	}
	if !comparableFence(fence) {
		return 0, ErrInvalidFence
	}
	return x.trackOf(fence)
}

func (x *Executor) trackOf(fence Fence) (int, error) {
	var h uint64
	if v, ok := fence.(FenceHasher); ok {
		h = v.FenceHash()
	} else if x.opts.fenceHash != nil {
		h = x.opts.fenceHash(fence)
	} else {
		var err error
		if h, err = hashFence(x.seed, fence); err != nil {
			return 0, err
		}
	}
	return int(h % uint64(len(x.walkers))), nil
}

// Execute publishes a task, to be run once, serialized against every other
// task sharing any of the given fences. At least one fence is required, and
// every fence must be non-nil and comparable.
//
// If the task cannot be published (the bus is full, or the executor is no
// longer running), the configured RejectionHandler decides the outcome. The
// default, AbortPolicy, returns a *RejectionError.
//
// Panics from the task are recovered, and logged.
func (x *Executor) Execute(task func(), fences ...Fence) error {
	n, err := x.newNode(task, fences)
	if err != nil {
		return err
	}
	return x.publish(n)
}

// ExecuteNow behaves like Execute, except that, if called from a task running
// on the single track the fences map onto, the task is run immediately,
// ahead of any queued work, provided that it doesn't overlap a multi-track
// task which may be running on another track. Otherwise, it is published, as
// Execute would.
func (x *Executor) ExecuteNow(task func(), fences ...Fence) error {
	n, err := x.newNode(task, fences)
	if err != nil {
		return err
	}
	if x.state.CanAcceptWork() {
		if w := x.currentWalker(); w != nil && n.bits == w.bit && w.inlineEligible(n) {
			w.runInline(n)
			return nil
		}
	}
	return x.publish(n)
}

func (x *Executor) publish(n *node) error {
	err := x.tryPublish(n)
	if err == nil {
		return nil
	}
	x.rejected.Add(1)
	return x.opts.handler.Rejected(&Rejection{
		Executor: x,
		Task:     n.task,
		Fences:   n.fences,
		Cause:    err,
		node:     n,
	})
}

func (x *Executor) tryPublish(n *node) error {
	if !x.state.CanAcceptWork() {
		return ErrClosed
	}
	if err := x.bus.publish(n); err != nil {
		return err
	}
	x.wake(n.bits)
	return nil
}

// wake signals every walker in the track set.
func (x *Executor) wake(tracks uint64) {
	for tracks != 0 {
		t := bits.TrailingZeros64(tracks)
		tracks &= tracks - 1
		x.walkers[t].sync.acquireWrite()
	}
}

func (x *Executor) wakeAll() {
	for _, w := range x.walkers {
		w.sync.acquireWrite()
	}
}

// currentWalker returns the walker for the calling goroutine, if any.
func (x *Executor) currentWalker() *walker {
	gid := getGoroutineID()
	for _, w := range x.walkers {
		if w.gid.Load() == gid {
			return w
		}
	}
	return nil
}

// OnWalker reports whether the caller is running on one of the executor's
// walker goroutines, i.e. within a task.
func (x *Executor) OnWalker() bool {
	return x.currentWalker() != nil
}

// Shutdown gracefully stops the executor. No new tasks are accepted, and
// everything already published, including tasks held back behind barriers,
// is run, before the executor terminates.
//
// Shutdown waits for termination, or until the context is done, in which
// case it returns the context's error, and the drain continues. If called
// from within a task, it does not wait.
//
// Shutdown may only be called on a running executor. Otherwise, including
// after Close, it returns an *IllegalStateError.
func (x *Executor) Shutdown(ctx context.Context) error {
	if !x.state.TryTransition(StateRunning, StateGracefulClose) {
		return &IllegalStateError{Op: `shutdown`, State: x.state.Load()}
	}

	// a walker can't wait for a full bus to drain, as it may be the reader,
	// so if the bus is full the watcher claims the limit instead
	onWalker := x.OnWalker()

	b := x.logger.Info()
	if onWalker {
		if limit, ok := x.bus.tryShutdown(); ok {
			b = b.Uint64(`limit`, limit)
		} else {
			b = b.Bool(`deferred`, true)
		}
	} else {
		b = b.Uint64(`limit`, x.bus.shutdown())
	}
	b.Log(`explorer: shutting down`)

	x.wakeAll()
	x.watcher.poke()

	if onWalker {
		return nil
	}
	return x.AwaitTermination(ctx)
}

// Close immediately stops the executor. No new tasks are accepted, and
// walkers exit as soon as they finish their current task, abandoning any
// queued work. Close blocks until the executor has terminated, unless called
// from within a task.
//
// Close may only be called on a running executor. Otherwise, including
// during a graceful Shutdown, it returns an *IllegalStateError.
func (x *Executor) Close() error {
	if !x.state.TryTransition(StateRunning, StateHardStop) {
		return &IllegalStateError{Op: `close`, State: x.state.Load()}
	}

	limit := x.bus.forceShutdown()

	x.logger.Info().
		Uint64(`limit`, limit).
		Log(`explorer: closing`)

	x.wakeAll()
	x.watcher.poke()

	if !x.OnWalker() {
		<-x.done
	}
	return nil
}

// AwaitTermination blocks until the executor has terminated, or the context
// is done.
func (x *Executor) AwaitTermination(ctx context.Context) error {
	select {
	case <-x.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed once the executor has terminated,
// and every OnTerminated callback has run.
func (x *Executor) Done() <-chan struct{} {
	return x.done
}

// OnTerminated registers a callback, to be run (in registration order) after
// every walker has exited. Callbacks registered after that point are run
// immediately, by the caller.
func (x *Executor) OnTerminated(fn func()) {
	if fn == nil {
		return
	}
	x.callbacksMu.Lock()
	if !x.terminated {
		x.callbacks = append(x.callbacks, fn)
		x.callbacksMu.Unlock()
		return
	}
	x.callbacksMu.Unlock()
	x.safeCall(`termination callback`, fn)
}

func (x *Executor) runTerminated() {
	x.callbacksMu.Lock()
	x.terminated = true
	callbacks := x.callbacks
	x.callbacks = nil
	x.callbacksMu.Unlock()
	for _, fn := range callbacks {
		x.safeCall(`termination callback`, fn)
	}
}
