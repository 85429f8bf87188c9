package explorer

import (
	"fmt"
	"runtime"
	"time"

	"github.com/joeycumines/go-catrate"
)

// StallInfo describes a task that has been running for longer than the stall
// threshold, see OnStall.
type StallInfo struct {
	// Started is when the task started.
	Started time.Time
	// Track is the track running the task.
	Track int
	// Sequence is the bus index of the task's node.
	Sequence uint64
	// Elapsed is how long the task had been running, when detected.
	Elapsed time.Duration
}

// watcher is the single monitor thread, which moves the executor to
// StateTerminated, and reports stalled tasks.
type watcher struct {
	x       *Executor
	kick    chan struct{}
	limiter *catrate.Limiter // nil if stall logs aren't rate limited
	// reported holds, per track, the start time of the last task reported as
	// stalled, so each task is reported at most once.
	reported []int64
}

func newWatcher(x *Executor) (*watcher, error) {
	wt := &watcher{
		x:        x,
		kick:     make(chan struct{}, 1),
		reported: make([]int64, x.opts.tracks),
	}
	if len(x.opts.stallLogRates) != 0 {
		limiter, err := newStallLimiter(x.opts.stallLogRates)
		if err != nil {
			return nil, err
		}
		wt.limiter = limiter
	}
	return wt, nil
}

func newStallLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			limiter, err = nil, fmt.Errorf(`explorer: invalid stall log rates: %v`, r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// poke wakes the watcher early, e.g. on a state change.
func (wt *watcher) poke() {
	select {
	case wt.kick <- struct{}{}:
	default:
	}
}

func (wt *watcher) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	x := wt.x

	ticker := time.NewTicker(x.opts.watchInterval)
	defer ticker.Stop()

	for !wt.terminating() {
		select {
		case <-ticker.C:
		case <-wt.kick:
		}
		wt.checkStalls(time.Now())
	}

	x.state.Store(StateTerminated)
	x.logger.Info().Log(`explorer: terminating`)

	// walkers re-check the state on every iteration
	for _, w := range x.walkers {
		w.sync.acquireWrite()
	}
	x.wg.Wait()

	x.runTerminated()

	x.logger.Info().Log(`explorer: terminated`)

	close(x.done)
}

// terminating reports whether the executor has finished draining (graceful
// close), or must stop immediately (hard stop).
func (wt *watcher) terminating() bool {
	x := wt.x
	switch x.state.Load() {
	case StateGracefulClose:
		limit := x.bus.limit.Load()
		if limit == noLimit {
			// shut down from a walker, while the bus was full
			var ok bool
			if limit, ok = x.bus.tryShutdown(); !ok {
				return false
			}
			x.logger.Debug().
				Uint64(`limit`, limit).
				Log(`explorer: bus limit claimed`)
			x.wakeAll()
		}
		var completed uint64
		for _, w := range x.walkers {
			completed += w.completed.Load()
		}
		return completed >= limit
	case StateHardStop:
		return true
	default:
		return false
	}
}

func (wt *watcher) checkStalls(now time.Time) {
	x := wt.x
	for t, w := range x.walkers {
		started := w.started.Load()
		if started == 0 || started == wt.reported[t] {
			continue
		}
		elapsed := time.Duration(now.UnixNano() - started)
		if elapsed < x.opts.stallThreshold {
			continue
		}
		wt.reported[t] = started
		w.stalls.Add(1)

		info := StallInfo{
			Started:  time.Unix(0, started),
			Track:    t,
			Sequence: w.runningSeq.Load(),
			Elapsed:  elapsed,
		}

		if wt.limiter == nil {
			x.logStall(info)
		} else if _, ok := wt.limiter.Allow(t); ok {
			x.logStall(info)
		}

		if x.opts.onStall != nil {
			x.safeCall(`stall hook`, func() { x.opts.onStall(info) })
		}
	}
}
