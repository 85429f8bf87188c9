package explorer

import (
	"context"
	"sync/atomic"
)

// MaxStrategies is the number of Registry indexes, [0, MaxStrategies).
const MaxStrategies = 128

type (
	// Strategy is an execution strategy, which may be registered with a
	// Registry. *Executor implements Strategy.
	Strategy interface {
		Execute(task func(), fences ...Fence) error
	}

	// StrategyFunc implements Strategy.
	StrategyFunc func(task func(), fences ...Fence) error

	// DirectStrategy runs each task immediately, on the caller's goroutine,
	// ignoring fences. Panics are not recovered.
	DirectStrategy struct{}

	// Registry maps small integer indexes to strategies, allowing callers to
	// select a strategy by index, e.g. from configuration. It is safe for
	// concurrent use, and its zero value is ready to use.
	Registry struct {
		entries [MaxStrategies]atomic.Pointer[registryEntry]
	}

	registryEntry struct {
		strategy Strategy
	}

	registryContextKey struct{}
)

var (
	_ Strategy = StrategyFunc(nil)
	_ Strategy = DirectStrategy{}
)

func (f StrategyFunc) Execute(task func(), fences ...Fence) error { return f(task, fences...) }

func (DirectStrategy) Execute(task func(), fences ...Fence) error {
	if task == nil {
		return ErrNilTask
	}
	task()
	return nil
}

// Register sets the strategy at the given index, failing with
// ErrIndexOccupied if the index is already set.
func (x *Registry) Register(index int, strategy Strategy) error {
	if strategy == nil {
		panic(`explorer: registry: nil strategy`)
	}
	if err := checkIndex(index); err != nil {
		return err
	}
	if !x.entries[index].CompareAndSwap(nil, &registryEntry{strategy}) {
		return ErrIndexOccupied
	}
	return nil
}

// Lookup returns the strategy at the given index, or nil, if there is none.
func (x *Registry) Lookup(index int) (Strategy, error) {
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	if e := x.entries[index].Load(); e != nil {
		return e.strategy, nil
	}
	return nil, nil
}

// Unregister clears the given index, returning the previous strategy, if any.
func (x *Registry) Unregister(index int) (Strategy, error) {
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	if e := x.entries[index].Swap(nil); e != nil {
		return e.strategy, nil
	}
	return nil, nil
}

// Execute runs the task using the strategy at the given index, failing with
// ErrIndexOutOfRange, or ErrIndexEmpty.
func (x *Registry) Execute(index int, task func(), fences ...Fence) error {
	strategy, err := x.Lookup(index)
	if err != nil {
		return err
	}
	if strategy == nil {
		return ErrIndexEmpty
	}
	return strategy.Execute(task, fences...)
}

// Range calls fn for each registered strategy, in index order, until fn
// returns false.
func (x *Registry) Range(fn func(index int, strategy Strategy) bool) {
	for i := range x.entries {
		if e := x.entries[i].Load(); e != nil && !fn(i, e.strategy) {
			return
		}
	}
}

func checkIndex(index int) error {
	if index < 0 || index >= MaxStrategies {
		return ErrIndexOutOfRange
	}
	return nil
}

// ContextWithRegistry returns a child context carrying the registry.
func ContextWithRegistry(ctx context.Context, registry *Registry) context.Context {
	return context.WithValue(ctx, registryContextKey{}, registry)
}

// RegistryFromContext returns the registry set by ContextWithRegistry, or nil.
func RegistryFromContext(ctx context.Context) *Registry {
	registry, _ := ctx.Value(registryContextKey{}).(*Registry)
	return registry
}
