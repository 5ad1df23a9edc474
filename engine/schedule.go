package engine

import (
	"math"
	"time"

	"github.com/ftahirops/streamvis/model"
)

// Scheduler tuning, seconds.
const (
	fineStepMin  = 15.0
	fineStepMax  = 30.0
	headstartSec = 30.0

	// Fine-regime admission: the latency estimate must be tight and the
	// cadence at most hourly, otherwise short steps are wasted politeness.
	fineScaleMaxSec    = 60.0
	fineIntervalMaxSec = 3600.0

	// HardFloorSec is the absolute minimum gap between polls.
	HardFloorSec = 15.0
)

// NextPollDelay picks the sleep until the next poll: the smallest proposal
// across all gauges, floored at HardFloorSec. Gauges without a prediction
// propose minRetry.
func NextPollDelay(st *model.State, now time.Time, minRetry int) time.Duration {
	best := math.Inf(1)
	for _, g := range st.Gauges {
		if g == nil {
			continue
		}
		step := proposeStep(g, now, minRetry)
		if step < best {
			best = step
		}
	}
	if math.IsInf(best, 1) {
		best = float64(minRetry)
	}
	if best < HardFloorSec {
		best = HardFloorSec
	}
	return secDur(best)
}

// proposeStep runs the two-regime policy for one gauge.
//
// Inside the fine window around the predicted visibility instant the step
// shrinks from 30s at the window edge to 15s at its center. Outside it, the
// coarse step aims a headstart short of the target, never exceeding half the
// gauge's interval and never under minRetry.
func proposeStep(g *model.GaugeState, now time.Time, minRetry int) float64 {
	pred, ok := Predict(g, now)
	if !ok {
		return float64(minRetry)
	}
	interval := g.MeanIntervalSec
	if interval <= 0 {
		interval = model.CadenceBaseSec
	}
	d := pred.NextAPI.Sub(now).Seconds()

	if g.LatencyScaleSec > 0 && g.LatencyScaleSec <= fineScaleMaxSec &&
		interval <= fineIntervalMaxSec && math.Abs(d) <= pred.HalfWidth {
		frac := math.Abs(d) / pred.HalfWidth
		return fineStepMin + (fineStepMax-fineStepMin)*frac
	}

	step := math.Min(d-headstartSec, interval/2)
	if step < float64(minRetry) {
		step = float64(minRetry)
	}
	return step
}

// Backoff doubles the previous error sleep within [minRetry, maxRetry].
// A zero previous value starts the ladder at minRetry.
func Backoff(prev time.Duration, minRetry, maxRetry int) time.Duration {
	floor := time.Duration(minRetry) * time.Second
	ceil := time.Duration(maxRetry) * time.Second
	if prev <= 0 {
		return floor
	}
	next := prev * 2
	if next > ceil {
		next = ceil
	}
	if next < floor {
		next = floor
	}
	return next
}
