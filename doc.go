// Package explorer provides a fence-serialized task executor, for servers
// running many independent units of work, where work touching the same
// entity (e.g. a player, or a map cell) must not run concurrently.
//
// # Architecture
//
// An [Executor] runs a fixed number of tracks. Each task is submitted with one
// or more fences, opaque comparable values identifying the entities it
// touches, each of which maps onto a track. Tasks are published to a single
// lock-free multi-producer ring buffer (the bus), which every track's walker
// reads independently, skipping tasks for other tracks.
//
// Tasks touching a single track simply run on it, in bus order. A task
// touching several tracks is intercepted by each: every track but the last to
// arrive holds it as a barrier, deferring later tasks that share a fence with
// it, and the last runs it, then releases the others. Tasks that don't share
// a fence with any barrier continue to run, even if published later.
//
// # Guarantees
//
//   - Tasks sharing a fence run one at a time, in publish order
//   - Every published task runs exactly once (unless the executor is closed)
//   - Tasks with disjoint fences have no relative ordering
//
// # Thread Safety
//
//   - [Executor.Execute], [Submit], and friends are safe to call from any
//     goroutine, including from within tasks
//   - Walkers never block on locks: coordination uses atomics only, and an
//     idle walker parks using an optimistic stamp protocol that cannot miss
//     wakeups
//   - The [Registry] is lock-free
//
// # Backpressure
//
// The bus has a fixed capacity. When a publish fails, the configured
// [RejectionHandler] decides the outcome: [AbortPolicy] (the default) returns
// a [*RejectionError], [BlockPolicy] retries with backoff, and [LocalPolicy]
// runs the task on the caller, bypassing serialization.
//
// # Usage
//
//	x, err := explorer.New(explorer.WithTracks(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer x.Shutdown(context.Background())
//
//	// serialized against other tasks for either player
//	err = x.Execute(func() { trade(alice, bob) }, alice.ID, bob.ID)
//
//	f, err := explorer.Submit(x, func() (int, error) { return alice.Gold, nil }, alice.ID)
//	gold, err := f.Get(ctx)
package explorer
