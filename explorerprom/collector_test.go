package explorerprom

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/go-explorer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource explorer.Stats

func (x staticSource) Stats() explorer.Stats { return explorer.Stats(x) }

func TestCollector_Static(t *testing.T) {
	c := NewCollector(staticSource{
		ID:        `b2a1`,
		Name:      `world`,
		State:     explorer.StateGracefulClose,
		Capacity:  1024,
		Published: 10,
		Rejected:  2,
		Tracks: []explorer.TrackStats{
			{Track: 0, Completed: 6, Parks: 3},
			{Track: 1, Completed: 3, Panics: 1, Barriers: 2, Running: 1500 * time.Millisecond},
		},
	})

	const expected = `
# HELP explorer_tasks_published_total Tasks published to the bus.
# TYPE explorer_tasks_published_total counter
explorer_tasks_published_total{executor="world"} 10
# HELP explorer_tasks_rejected_total Failed publishes, passed to the rejection handler.
# TYPE explorer_tasks_rejected_total counter
explorer_tasks_rejected_total{executor="world"} 2
# HELP explorer_state Lifecycle state, 0 running, 1 graceful close, 2 hard stop, 3 terminated.
# TYPE explorer_state gauge
explorer_state{executor="world"} 1
# HELP explorer_track_tasks_completed_total Published tasks run by the track.
# TYPE explorer_track_tasks_completed_total counter
explorer_track_tasks_completed_total{executor="world",track="0"} 6
explorer_track_tasks_completed_total{executor="world",track="1"} 3
# HELP explorer_track_barriers Barriers held by the track, as of it last going idle.
# TYPE explorer_track_barriers gauge
explorer_track_barriers{executor="world",track="0"} 0
explorer_track_barriers{executor="world",track="1"} 2
# HELP explorer_track_running_seconds Duration of the track's current task.
# TYPE explorer_track_running_seconds gauge
explorer_track_running_seconds{executor="world",track="0"} 0
explorer_track_running_seconds{executor="world",track="1"} 1.5
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		`explorer_tasks_published_total`,
		`explorer_tasks_rejected_total`,
		`explorer_state`,
		`explorer_track_tasks_completed_total`,
		`explorer_track_barriers`,
		`explorer_track_running_seconds`,
	))

	// 4 executor metrics, plus 9 per track
	assert.Equal(t, 4+9*2, testutil.CollectAndCount(c))
}

func TestCollector_UnnamedUsesID(t *testing.T) {
	c := NewCollector(staticSource{ID: `b2a1`, Capacity: 2})
	const expected = `
# HELP explorer_bus_capacity Bus capacity, in tasks.
# TYPE explorer_bus_capacity gauge
explorer_bus_capacity{executor="b2a1"} 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), `explorer_bus_capacity`))
}

func TestCollector_Executor(t *testing.T) {
	x, err := explorer.New(explorer.WithTracks(2), explorer.WithName(`zone`), explorer.WithMetrics(true))
	require.NoError(t, err)
	for i := range 10 {
		require.NoError(t, x.Execute(func() {}, i))
	}
	require.NoError(t, x.Shutdown(context.Background()))

	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(NewCollector(x)))

	const expected = `
# HELP explorer_tasks_published_total Tasks published to the bus.
# TYPE explorer_tasks_published_total counter
explorer_tasks_published_total{executor="zone"} 10
# HELP explorer_track_tasks_completed_total Published tasks run by the track.
# TYPE explorer_track_tasks_completed_total counter
explorer_track_tasks_completed_total{executor="zone",track="0"} 5
explorer_track_tasks_completed_total{executor="zone",track="1"} 5
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		`explorer_tasks_published_total`,
		`explorer_track_tasks_completed_total`,
	))

	n, err := testutil.GatherAndCount(registry, `explorer_track_task_duration_seconds`)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
