package explorer

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuantileEstimator_Uniform(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	values := rng.Perm(10000)
	for _, p := range []float64{0.5, 0.9, 0.99} {
		q := newQuantileEstimator(p)
		for _, v := range values {
			q.observe(float64(v))
		}
		want := p * 10000
		assert.InDelta(t, want, q.value(), 10000*0.02, `p=%v`, p)
	}
}

func TestQuantileEstimator_Few(t *testing.T) {
	q := newQuantileEstimator(0.5)
	assert.Zero(t, q.value())
	q.observe(3)
	assert.Equal(t, 3.0, q.value())
	q.observe(1)
	q.observe(2)
	assert.Equal(t, 2.0, q.value())
	// value doesn't reorder the retained observations
	q.observe(10)
	q.observe(0)
	assert.Equal(t, 2.0, q.value())
}

func TestQuantileEstimator_Constant(t *testing.T) {
	q := newQuantileEstimator(0.9)
	for range 1000 {
		q.observe(7)
	}
	assert.Equal(t, 7.0, q.value())
	assert.False(t, math.IsNaN(q.value()))
}

func TestLatencyRecorder(t *testing.T) {
	r := newLatencyRecorder()
	assert.Equal(t, LatencyStats{}, r.snapshot())
	for i := 1; i <= 100; i++ {
		r.record(time.Duration(i) * time.Millisecond)
	}
	s := r.snapshot()
	assert.Equal(t, int64(100), s.Count)
	assert.Equal(t, 50500*time.Microsecond, s.Mean)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.InDelta(t, float64(50*time.Millisecond), float64(s.P50), float64(5*time.Millisecond))
	assert.InDelta(t, float64(90*time.Millisecond), float64(s.P90), float64(5*time.Millisecond))
	assert.LessOrEqual(t, s.P99, s.Max)
}
