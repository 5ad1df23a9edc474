package engine

import (
	"math"
	"time"

	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/util"
)

// Fine-window bounds, seconds.
const (
	fineWindowMin = 45.0
	fineWindowMax = 300.0
)

// Prediction is the per-gauge estimate of when the next observation will
// become visible through the API.
type Prediction struct {
	NextObs   time.Time // predicted station observation instant
	NextAPI   time.Time // NextObs plus learned latency
	HalfWidth float64   // fine-window half width, seconds
}

// Predict computes the next expected API-visible instant for a gauge. It
// returns false when the gauge has never produced a timestamp.
//
// With a confident grid multiple the candidate walks the phase-aligned grid,
// skipping slots whose visibility moment is already more than half a period
// stale. Without one it steps the EWMA interval forward from the last
// observation until it lands in the future.
func Predict(g *model.GaugeState, now time.Time) (Prediction, bool) {
	if g.LastTimestamp == nil {
		return Prediction{}, false
	}
	t0 := *g.LastTimestamp
	latency := g.LatencyLocSec
	if latency <= 0 {
		latency = model.LatencyPriorLocSec
	}
	scale := g.LatencyScaleSec
	if scale <= 0 {
		scale = model.LatencyPriorScaleSec
	}

	var nextObs time.Time
	if g.CadenceMult > 0 && g.PhaseOffsetSec != nil {
		period := time.Duration(g.CadenceMult*model.CadenceBaseSec) * time.Second
		nextObs = gridAfter(t0, period, *g.PhaseOffsetSec)
		staleCutoff := now.Add(-period / 2)
		for !nextObs.Add(secDur(latency)).After(staleCutoff) {
			nextObs = nextObs.Add(period)
		}
	} else {
		interval := secDur(util.Clamp(g.MeanIntervalSec, model.MinIntervalSec, model.MaxIntervalSec))
		nextObs = t0.Add(interval)
		for !nextObs.After(now) {
			nextObs = nextObs.Add(interval)
		}
	}

	return Prediction{
		NextObs:   nextObs,
		NextAPI:   nextObs.Add(secDur(latency)),
		HalfWidth: util.Clamp(2*scale, fineWindowMin, fineWindowMax),
	}, true
}

// gridAfter returns the first phase-aligned grid instant strictly after t0.
func gridAfter(t0 time.Time, period time.Duration, phaseSec float64) time.Time {
	p := period.Seconds()
	t0Phase := math.Mod(float64(t0.Unix()), p)
	shift := math.Mod(phaseSec-t0Phase, p)
	if shift < 0 {
		shift += p
	}
	c := t0.Add(secDur(shift))
	if !c.After(t0) {
		c = c.Add(period)
	}
	return c
}

func secDur(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DisplayETA clamps a persisted next_eta for presentation: an ETA in the
// past reads as "due now".
func DisplayETA(eta *time.Time, now time.Time) time.Time {
	if eta == nil {
		return time.Time{}
	}
	if eta.Before(now) {
		return now
	}
	return *eta
}
