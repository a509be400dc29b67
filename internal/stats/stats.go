// Package stats provides pure, stateless functions over collector
// snapshots: message rate, descriptive statistics, percentiles and
// least-squares trend fitting, plus the threshold classification used
// by the performance-test phases.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/sensorlab/sensorbench/internal/models"
)

// rateWindow is the number of most recent arrivals used for the
// instantaneous message-rate estimate.
const rateWindow = 10

// MessageRate estimates the arrival rate in messages/second over a
// window of the most recent arrivals. With fewer than two samples the
// rate is 0. For w windowed samples there are w-1 inter-arrival
// intervals, so the rate is (w-1) / elapsed.
func MessageRate(timestamps []time.Time) float64 {
	w := len(timestamps)
	if w > rateWindow {
		w = rateWindow
	}
	if w < 2 {
		return 0
	}

	newest := timestamps[len(timestamps)-1]
	oldest := timestamps[len(timestamps)-w]
	elapsed := newest.Sub(oldest).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(w-1) / elapsed
}

// Ema folds one sample into an exponential moving average with the
// given smoothing factor alpha.
func Ema(current, sample, alpha float64) float64 {
	return current*(1-alpha) + sample*alpha
}

// Mean returns the arithmetic mean, or 0 for an empty window.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Min returns the smallest value, or 0 for an empty window.
func Min(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

// Max returns the largest value, or 0 for an empty window.
func Max(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// StdDev returns the sample standard deviation (n-1 denominator), or 0
// when fewer than two samples exist.
func StdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	mean := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// Percentile computes the p-th percentile (0 < p <= 100) of xs using
// rank-based linear interpolation: the rank is h = p/100 * n over the
// sorted window; the result interpolates between the values at
// positions floor(h) and floor(h)+1 by the fractional part of h, and
// clamps to the extremes when h falls outside [1, n]. Under this
// method the 95th percentile of 1..100 is exactly 95.
func Percentile(xs []float64, p float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)

	h := p / 100 * float64(n)
	if h <= 1 {
		return sorted[0]
	}
	if h >= float64(n) {
		return sorted[n-1]
	}

	k := int(math.Floor(h))
	frac := h - float64(k)
	return sorted[k-1] + frac*(sorted[k]-sorted[k-1])
}

// LinearTrend fits an ordinary least-squares line value = a + b*index
// over the window and returns the slope b in units per sample. Fewer
// than two samples yield a slope of 0.
func LinearTrend(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range xs {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// Thresholds holds the named classification constants from the test
// design. All values are overridable through configuration.
type Thresholds struct {
	LatencyExcellentMs  float64 // average latency below this is excellent
	LatencyAcceptableMs float64 // average latency below this is acceptable
	MemTrendExcellent   float64 // |bytes/sample| slope below this is excellent
	MemTrendAcceptable  float64 // |bytes/sample| slope below this is acceptable
	ErrRateExcellent    float64 // errors/minute below this is excellent
	ErrRateAcceptable   float64 // errors/minute below this is acceptable
	ExpectedMsgRate     float64 // nominal device publish rate, msg/s
	ThroughputFactor    float64 // fraction of the nominal rate that still passes
}

// DefaultThresholds returns the design defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencyExcellentMs:  50,
		LatencyAcceptableMs: 75,
		MemTrendExcellent:   100,
		MemTrendAcceptable:  500,
		ErrRateExcellent:    1,
		ErrRateAcceptable:   5,
		ExpectedMsgRate:     10,
		ThroughputFactor:    0.9,
	}
}

// LatencyVerdict classifies an average latency in milliseconds.
func (t Thresholds) LatencyVerdict(avgMs float64) models.Verdict {
	switch {
	case avgMs < t.LatencyExcellentMs:
		return models.VerdictExcellent
	case avgMs < t.LatencyAcceptableMs:
		return models.VerdictAcceptable
	default:
		return models.VerdictDegraded
	}
}

// MemoryTrendVerdict classifies a free-heap slope in bytes/sample.
func (t Thresholds) MemoryTrendVerdict(slope float64) models.Verdict {
	switch {
	case math.Abs(slope) < t.MemTrendExcellent:
		return models.VerdictExcellent
	case math.Abs(slope) < t.MemTrendAcceptable:
		return models.VerdictAcceptable
	default:
		return models.VerdictDegraded
	}
}

// StabilityVerdict combines the error rate (errors/minute) with the
// memory trend. Both must be excellent for an excellent verdict; both
// must be at least acceptable for an acceptable one.
func (t Thresholds) StabilityVerdict(errPerMinute, slope float64) models.Verdict {
	switch {
	case errPerMinute < t.ErrRateExcellent && math.Abs(slope) < t.MemTrendExcellent:
		return models.VerdictExcellent
	case errPerMinute < t.ErrRateAcceptable && math.Abs(slope) < t.MemTrendAcceptable:
		return models.VerdictAcceptable
	default:
		return models.VerdictDegraded
	}
}

// ThroughputVerdict classifies a measured arrival rate against the
// expected device publish rate.
func (t Thresholds) ThroughputVerdict(rate float64) models.Verdict {
	switch {
	case rate >= t.ExpectedMsgRate*t.ThroughputFactor:
		return models.VerdictExcellent
	case rate >= t.ExpectedMsgRate*t.ThroughputFactor/2:
		return models.VerdictAcceptable
	default:
		return models.VerdictDegraded
	}
}
