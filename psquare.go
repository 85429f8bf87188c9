package explorer

import (
	"slices"
	"time"
)

// quantileEstimator is a streaming estimator for a single quantile, using the
// P-Square algorithm (Jain and Chlamtac, 1985). Each observation is O(1), and
// no observations are retained, beyond the first five.
//
// Not safe for concurrent use.
type quantileEstimator struct {
	p       float64
	heights [5]float64 // marker heights
	pos     [5]int     // actual marker positions
	want    [5]float64 // desired marker positions
	incr    [5]float64 // desired position increments
	count   int
}

func newQuantileEstimator(p float64) quantileEstimator {
	p = min(max(p, 0), 1)
	return quantileEstimator{
		p:    p,
		incr: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

func (q *quantileEstimator) observe(x float64) {
	q.count++

	if q.count <= 5 {
		q.heights[q.count-1] = x
		if q.count == 5 {
			slices.Sort(q.heights[:])
			q.pos = [5]int{0, 1, 2, 3, 4}
			q.want = [5]float64{0, 2 * q.p, 4 * q.p, 2 + 2*q.p, 4}
		}
		return
	}

	var k int
	switch {
	case x < q.heights[0]:
		q.heights[0] = x
	case x >= q.heights[4]:
		q.heights[4] = x
		k = 3
	default:
		for k = 0; k < 3; k++ {
			if x < q.heights[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		q.pos[i]++
	}
	for i := range q.want {
		q.want[i] += q.incr[i]
	}

	for i := 1; i < 4; i++ {
		d := q.want[i] - float64(q.pos[i])
		if (d >= 1 && q.pos[i+1]-q.pos[i] > 1) || (d <= -1 && q.pos[i-1]-q.pos[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			if h := q.parabolic(i, sign); q.heights[i-1] < h && h < q.heights[i+1] {
				q.heights[i] = h
			} else {
				q.heights[i] = q.linear(i, sign)
			}
			q.pos[i] += sign
		}
	}
}

func (q *quantileEstimator) parabolic(i, sign int) float64 {
	d := float64(sign)
	n, prev, next := float64(q.pos[i]), float64(q.pos[i-1]), float64(q.pos[i+1])
	return q.heights[i] + d/(next-prev)*
		((n-prev+d)*(q.heights[i+1]-q.heights[i])/(next-n)+
			(next-n-d)*(q.heights[i]-q.heights[i-1])/(n-prev))
}

func (q *quantileEstimator) linear(i, sign int) float64 {
	j := i + sign
	return q.heights[i] + float64(sign)*(q.heights[j]-q.heights[i])/float64(q.pos[j]-q.pos[i])
}

// value returns the current estimate, or 0 if there are no observations.
func (q *quantileEstimator) value() float64 {
	switch {
	case q.count == 0:
		return 0
	case q.count < 5:
		buf := q.heights
		s := buf[:q.count]
		slices.Sort(s)
		return s[min(int(float64(q.count-1)*q.p), q.count-1)]
	default:
		return q.heights[2]
	}
}

// latencyQuantiles is the set of quantiles reported by LatencyStats.
var latencyQuantiles = [...]float64{0.5, 0.9, 0.99}

// latencyRecorder tracks a task duration distribution.
//
// Not safe for concurrent use.
type latencyRecorder struct {
	estimators [len(latencyQuantiles)]quantileEstimator
	sum        time.Duration
	max        time.Duration
	count      int64
}

func newLatencyRecorder() *latencyRecorder {
	var r latencyRecorder
	for i, p := range latencyQuantiles {
		r.estimators[i] = newQuantileEstimator(p)
	}
	return &r
}

func (r *latencyRecorder) record(d time.Duration) {
	r.count++
	r.sum += d
	r.max = max(r.max, d)
	for i := range r.estimators {
		r.estimators[i].observe(float64(d))
	}
}

func (r *latencyRecorder) snapshot() LatencyStats {
	if r.count == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Count: r.count,
		Mean:  r.sum / time.Duration(r.count),
		P50:   time.Duration(r.estimators[0].value()),
		P90:   time.Duration(r.estimators[1].value()),
		P99:   time.Duration(r.estimators[2].value()),
		Max:   r.max,
	}
}
