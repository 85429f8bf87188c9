package explorer

import (
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"

	"github.com/joeycumines/logiface"
)

// ThreadRole identifies what a Thread is for.
type ThreadRole int

const (
	// RoleWalker is the role of the per-track worker threads.
	RoleWalker ThreadRole = iota
	// RoleWatcher is the role of the single lifecycle and stall monitor.
	RoleWatcher
)

// String returns a human-readable representation of the role.
func (r ThreadRole) String() string {
	switch r {
	case RoleWalker:
		return "walker"
	case RoleWatcher:
		return "watcher"
	default:
		return "unknown"
	}
}

// Thread describes one of the long-lived goroutines an [Executor] starts.
type Thread struct {
	// Run is the thread body. It locks itself to its OS thread, and returns
	// once the executor terminates.
	Run func()
	// Name is a human-readable name, e.g. "explorer-1f2e...-walker-3".
	Name string
	// Role is the thread's role.
	Role ThreadRole
	// Index is the track, for RoleWalker, and 0 otherwise.
	Index int
}

// ThreadFactory starts the executor's threads, see [WithThreadFactory].
// Implementations must call Thread.Run exactly once, on a new goroutine.
type ThreadFactory interface {
	Start(t Thread)
}

// ThreadFactoryFunc implements [ThreadFactory].
type ThreadFactoryFunc func(t Thread)

func (f ThreadFactoryFunc) Start(t Thread) { f(t) }

// DefaultThreadFactory starts each thread on a new goroutine, locked to its
// OS thread, labeled (see [runtime/pprof.Do]) with its name, role and index.
// Watcher threads additionally have their OS scheduling priority lowered,
// where supported.
type DefaultThreadFactory struct{}

func (DefaultThreadFactory) Start(t Thread) {
	go runThread(t, nil)
}

// AffinityThreadFactory behaves like DefaultThreadFactory, but additionally
// pins each walker thread to a CPU, CPUs[track % len(CPUs)]. CPU affinity is
// only supported on Linux, and is silently skipped elsewhere, or if CPUs is
// empty. Negative CPUs are logged, and skipped.
type AffinityThreadFactory struct {
	// Logger receives affinity failures, and may be nil.
	Logger *logiface.Logger[logiface.Event]
	CPUs   []int
}

func (x AffinityThreadFactory) Start(t Thread) {
	go runThread(t, func() {
		if t.Role != RoleWalker || len(x.CPUs) == 0 {
			return
		}
		cpu := x.CPUs[t.Index%len(x.CPUs)]
		if cpu < 0 {
			x.Logger.Warning().
				Str(`thread`, t.Name).
				Int(`cpu`, cpu).
				Log(`explorer: invalid cpu`)
			return
		}
		if err := setAffinity(cpu); err != nil {
			x.Logger.Warning().
				Str(`thread`, t.Name).
				Int(`cpu`, cpu).
				Err(err).
				Log(`explorer: failed to set cpu affinity`)
		}
	})
}

// runThread never unlocks, so the OS thread, with any priority or affinity
// changes, exits along with the goroutine.
func runThread(t Thread, setup func()) {
	runtime.LockOSThread()
	labels := pprof.Labels(
		`explorer_thread`, t.Name,
		`explorer_role`, t.Role.String(),
		`explorer_index`, strconv.Itoa(t.Index),
	)
	pprof.Do(context.Background(), labels, func(context.Context) {
		if t.Role == RoleWatcher {
			lowerPriority()
		}
		if setup != nil {
			setup()
		}
		t.Run()
	})
}
