// Package explorerprom exports executor statistics as Prometheus metrics.
package explorerprom

import (
	"strconv"

	"github.com/joeycumines/go-explorer"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = `explorer`

// Source provides stats snapshots, and is implemented by *explorer.Executor.
type Source interface {
	Stats() explorer.Stats
}

// Collector implements prometheus.Collector, reading a snapshot from each of
// its sources, per scrape. Every metric is labeled with the executor's name
// (or, if unnamed, its id).
type Collector struct {
	sources []Source

	published   *prometheus.Desc
	rejected    *prometheus.Desc
	capacity    *prometheus.Desc
	state       *prometheus.Desc
	completed   *prometheus.Desc
	inline      *prometheus.Desc
	parks       *prometheus.Desc
	panics      *prometheus.Desc
	stalls      *prometheus.Desc
	barriers    *prometheus.Desc
	cached      *prometheus.Desc
	running     *prometheus.Desc
	taskSeconds *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for the given sources.
func NewCollector(sources ...Source) *Collector {
	executor := []string{`executor`}
	track := []string{`executor`, `track`}
	return &Collector{
		sources:     sources,
		published:   prometheus.NewDesc(namespace+`_tasks_published_total`, `Tasks published to the bus.`, executor, nil),
		rejected:    prometheus.NewDesc(namespace+`_tasks_rejected_total`, `Failed publishes, passed to the rejection handler.`, executor, nil),
		capacity:    prometheus.NewDesc(namespace+`_bus_capacity`, `Bus capacity, in tasks.`, executor, nil),
		state:       prometheus.NewDesc(namespace+`_state`, `Lifecycle state, 0 running, 1 graceful close, 2 hard stop, 3 terminated.`, executor, nil),
		completed:   prometheus.NewDesc(namespace+`_track_tasks_completed_total`, `Published tasks run by the track.`, track, nil),
		inline:      prometheus.NewDesc(namespace+`_track_tasks_inline_total`, `Tasks run immediately, on the track, via ExecuteNow.`, track, nil),
		parks:       prometheus.NewDesc(namespace+`_track_parks_total`, `Times the track's walker went idle.`, track, nil),
		panics:      prometheus.NewDesc(namespace+`_track_panics_total`, `Tasks that panicked on the track.`, track, nil),
		stalls:      prometheus.NewDesc(namespace+`_track_stalls_total`, `Tasks that exceeded the stall threshold.`, track, nil),
		barriers:    prometheus.NewDesc(namespace+`_track_barriers`, `Barriers held by the track, as of it last going idle.`, track, nil),
		cached:      prometheus.NewDesc(namespace+`_track_cached`, `Tasks held back by the track, as of it last going idle.`, track, nil),
		running:     prometheus.NewDesc(namespace+`_track_running_seconds`, `Duration of the track's current task.`, track, nil),
		taskSeconds: prometheus.NewDesc(namespace+`_track_task_duration_seconds`, `Task durations, only populated with metrics enabled.`, track, nil),
	}
}

func (x *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range [...]*prometheus.Desc{
		x.published,
		x.rejected,
		x.capacity,
		x.state,
		x.completed,
		x.inline,
		x.parks,
		x.panics,
		x.stalls,
		x.barriers,
		x.cached,
		x.running,
		x.taskSeconds,
	} {
		ch <- d
	}
}

func (x *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, source := range x.sources {
		x.collect(ch, source.Stats())
	}
}

func (x *Collector) collect(ch chan<- prometheus.Metric, s explorer.Stats) {
	name := s.Name
	if name == `` {
		name = s.ID
	}

	ch <- prometheus.MustNewConstMetric(x.published, prometheus.CounterValue, float64(s.Published), name)
	ch <- prometheus.MustNewConstMetric(x.rejected, prometheus.CounterValue, float64(s.Rejected), name)
	ch <- prometheus.MustNewConstMetric(x.capacity, prometheus.GaugeValue, float64(s.Capacity), name)
	ch <- prometheus.MustNewConstMetric(x.state, prometheus.GaugeValue, float64(s.State), name)

	for _, t := range s.Tracks {
		track := strconv.Itoa(t.Track)
		ch <- prometheus.MustNewConstMetric(x.completed, prometheus.CounterValue, float64(t.Completed), name, track)
		ch <- prometheus.MustNewConstMetric(x.inline, prometheus.CounterValue, float64(t.Inline), name, track)
		ch <- prometheus.MustNewConstMetric(x.parks, prometheus.CounterValue, float64(t.Parks), name, track)
		ch <- prometheus.MustNewConstMetric(x.panics, prometheus.CounterValue, float64(t.Panics), name, track)
		ch <- prometheus.MustNewConstMetric(x.stalls, prometheus.CounterValue, float64(t.Stalls), name, track)
		ch <- prometheus.MustNewConstMetric(x.barriers, prometheus.GaugeValue, float64(t.Barriers), name, track)
		ch <- prometheus.MustNewConstMetric(x.cached, prometheus.GaugeValue, float64(t.Cached), name, track)
		ch <- prometheus.MustNewConstMetric(x.running, prometheus.GaugeValue, t.Running.Seconds(), name, track)

		l := t.Latency
		ch <- prometheus.MustNewConstSummary(
			x.taskSeconds,
			uint64(l.Count),
			l.Mean.Seconds()*float64(l.Count),
			map[float64]float64{
				0.5:  l.P50.Seconds(),
				0.9:  l.P90.Seconds(),
				0.99: l.P99.Seconds(),
			},
			name, track,
		)
	}
}
