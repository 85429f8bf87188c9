package explorer

import (
	"time"
)

// Stats is a point-in-time snapshot of an executor's counters. Fields are
// read independently, so they may be mutually inconsistent.
type Stats struct {
	ID       string
	Name     string
	State    State
	Capacity int
	// Published is the number of tasks published to the bus.
	Published uint64
	// Rejected is the number of failed publishes, each of which was passed
	// to the rejection handler.
	Rejected uint64
	Tracks   []TrackStats
}

// TrackStats describes a single track.
type TrackStats struct {
	Track int
	// Completed is the number of published tasks run by the track.
	Completed uint64
	// Inline is the number of tasks run immediately, via ExecuteNow.
	Inline uint64
	Parks  uint64
	Panics uint64
	Stalls uint64
	// Cursor is the bus position, as of the last time the walker went idle.
	Cursor uint64
	// Barriers and Cached are the list sizes, as of the last time the walker
	// went idle.
	Barriers int
	Cached   int
	// Running is how long the current task has been running, or 0 if idle.
	Running time.Duration
	// Latency is only populated if WithMetrics is enabled.
	Latency LatencyStats
}

// LatencyStats are task duration statistics, with streaming estimates of
// quantiles.
type LatencyStats struct {
	Count int64
	Mean  time.Duration
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// Stats returns a snapshot of the executor's counters.
func (x *Executor) Stats() Stats {
	s := Stats{
		ID:        x.id.String(),
		Name:      x.opts.name,
		State:     x.state.Load(),
		Capacity:  x.bus.capacity(),
		Published: x.bus.position(),
		Rejected:  x.rejected.Load(),
		Tracks:    make([]TrackStats, len(x.walkers)),
	}
	if limit := x.bus.limit.Load(); limit != noLimit {
		s.Published = min(s.Published, limit)
	}
	for i, w := range x.walkers {
		s.Tracks[i] = w.stats()
	}
	return s
}

// Completed sums TrackStats.Completed.
func (s Stats) Completed() (n uint64) {
	for _, t := range s.Tracks {
		n += t.Completed
	}
	return
}
