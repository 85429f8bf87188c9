package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-explorer"
	"golang.org/x/sync/errgroup"
)

// workload publishes tasks from concurrent producers, each task recording
// what it observed, for verify.
type workload struct {
	x *explorer.Executor
	f *flags
	// busy is per fence, set while a task holding the fence runs
	busy []atomic.Int32
	// last is per (fence, producer), the last producer sequence run
	last []atomic.Int64
	// want and runs are per task id
	want []atomic.Bool
	runs []atomic.Int32

	accepted   atomic.Uint64
	refused    atomic.Uint64
	overlaps   atomic.Uint64
	outOfOrder atomic.Uint64
}

type report struct {
	accepted   uint64
	refused    uint64
	ran        uint64
	duplicates uint64
	missing    uint64
	overlaps   uint64
	outOfOrder uint64
	local      bool
}

func newWorkload(x *explorer.Executor, f *flags) *workload {
	w := &workload{
		x:    x,
		f:    f,
		busy: make([]atomic.Int32, f.fences),
		last: make([]atomic.Int64, f.fences*f.producers),
		want: make([]atomic.Bool, f.producers*f.tasks),
		runs: make([]atomic.Int32, f.producers*f.tasks),
	}
	for i := range w.last {
		w.last[i].Store(-1)
	}
	return w
}

func (w *workload) run(ctx context.Context) error {
	if w.f.fences < 1 || w.f.maxFences < 1 || w.f.producers < 1 {
		return errors.New(`fences, max-fences, and producers must be positive`)
	}
	g, ctx := errgroup.WithContext(ctx)
	seed := uint64(time.Now().UnixNano())
	for p := range w.f.producers {
		g.Go(func() error {
			return w.produce(ctx, p, rand.New(rand.NewPCG(seed, uint64(p))))
		})
	}
	return g.Wait()
}

func (w *workload) produce(ctx context.Context, producer int, rng *rand.Rand) error {
	for seq := range w.f.tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		fences := make([]int, 1+rng.IntN(w.f.maxFences))
		for i := range fences {
			fences[i] = rng.IntN(w.f.fences)
		}
		args := make([]explorer.Fence, len(fences))
		for i, v := range fences {
			args[i] = v
		}
		id := producer*w.f.tasks + seq
		w.want[id].Store(true)
		err := w.x.Execute(w.task(id, producer, int64(seq), unique(fences)), args...)
		if err != nil {
			w.want[id].Store(false)
			var rejected *explorer.RejectionError
			if errors.As(err, &rejected) {
				w.refused.Add(1)
				continue
			}
			return err
		}
		w.accepted.Add(1)
	}
	return nil
}

func (w *workload) task(id, producer int, seq int64, fences []int) func() {
	return func() {
		for _, f := range fences {
			if !w.busy[f].CompareAndSwap(0, 1) {
				w.overlaps.Add(1)
			}
		}
		for _, f := range fences {
			if w.last[f*w.f.producers+producer].Swap(seq) >= seq {
				w.outOfOrder.Add(1)
			}
		}
		w.runs[id].Add(1)
		if w.f.work > 0 {
			time.Sleep(w.f.work)
		}
		for _, f := range fences {
			w.busy[f].Store(0)
		}
	}
}

func (w *workload) verify() report {
	r := report{
		accepted:   w.accepted.Load(),
		refused:    w.refused.Load(),
		overlaps:   w.overlaps.Load(),
		outOfOrder: w.outOfOrder.Load(),
		local:      w.f.policy == `local`,
	}
	for i := range w.runs {
		n := w.runs[i].Load()
		r.ran += uint64(n)
		switch {
		case n > 1:
			r.duplicates++
		case n == 0 && w.want[i].Load():
			r.missing++
		}
	}
	return r
}

func (r report) err() error {
	var errs []error
	if r.duplicates != 0 {
		errs = append(errs, fmt.Errorf(`%d tasks ran more than once`, r.duplicates))
	}
	if r.missing != 0 {
		errs = append(errs, fmt.Errorf(`%d accepted tasks never ran`, r.missing))
	}
	// LocalPolicy bypasses serialization
	if !r.local {
		if r.overlaps != 0 {
			errs = append(errs, fmt.Errorf(`%d fence overlaps`, r.overlaps))
		}
		if r.outOfOrder != 0 {
			errs = append(errs, fmt.Errorf(`%d tasks ran out of order`, r.outOfOrder))
		}
	}
	return errors.Join(errs...)
}

func unique(fences []int) []int {
	out := make([]int, 0, len(fences))
outer:
	for _, f := range fences {
		for _, v := range out {
			if v == f {
				continue outer
			}
		}
		out = append(out, f)
	}
	return out
}
