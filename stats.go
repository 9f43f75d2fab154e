package streamrecord

import (
	"math"
	"time"
)

// rateTracker accumulates frame arrival statistics online, so an unbounded
// capture keeps constant memory. Not safe for concurrent use; the session
// only touches it under its delivery lock.
type rateTracker struct {
	frames uint64
	first  time.Time
	last   time.Time

	// Welford accumulators over instantaneous FPS
	intervals uint64
	fpsMean   float64
	fpsM2     float64
	fpsMin    float64
	fpsMax    float64

	// running mean of inter-frame intervals, for jitter
	intervalMean float64
	jitterSum    float64
	jitterMax    float64
}

func (r *rateTracker) observe(at time.Time) {
	r.frames++
	if r.frames == 1 {
		r.first, r.last = at, at
		return
	}

	interval := at.Sub(r.last).Seconds()
	r.last = at
	if interval <= 0 {
		return
	}

	r.intervals++
	n := float64(r.intervals)

	fps := 1.0 / interval
	delta := fps - r.fpsMean
	r.fpsMean += delta / n
	r.fpsM2 += delta * (fps - r.fpsMean)
	if r.intervals == 1 || fps < r.fpsMin {
		r.fpsMin = fps
	}
	if fps > r.fpsMax {
		r.fpsMax = fps
	}

	if r.intervals > 1 {
		jitter := math.Abs(interval - r.intervalMean)
		r.jitterSum += jitter
		if jitter > r.jitterMax {
			r.jitterMax = jitter
		}
	}
	r.intervalMean += (interval - r.intervalMean) / n
}

// summary returns the rate statistics gathered so far. FPSMean is the
// overall rate (frames over the observed span), not the mean of the
// instantaneous values.
func (r *rateTracker) summary() RateSummary {
	if r.intervals == 0 {
		return RateSummary{}
	}

	var s RateSummary
	if span := r.last.Sub(r.first).Seconds(); span > 0 {
		s.FPSMean = float64(r.frames-1) / span
	}
	s.FPSStdDev = math.Sqrt(r.fpsM2 / float64(r.intervals))
	s.FPSMin = r.fpsMin
	s.FPSMax = r.fpsMax
	if r.intervals > 1 {
		s.JitterMean = r.jitterSum / float64(r.intervals-1)
	}
	s.JitterMax = r.jitterMax
	return s
}
