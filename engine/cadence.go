// Package engine holds the adaptive polling brain: cadence and latency
// learning, the next-update predictor, the two-regime scheduler, and the
// poll loop that drives them against the upstream adapters.
package engine

import (
	"math"
	"time"

	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/util"
)

// cadenceEWMAAlpha weights new inter-update deltas into mean_interval_sec.
const cadenceEWMAAlpha = 0.25

// snapUpRatio triggers a catch-up when the recent empirical mean runs this
// far above the EWMA.
const snapUpRatio = 1.25

// cadenceWindow caps the delta list the grid fit runs over.
const cadenceWindow = 24


// ObserveDelta feeds one inter-update gap (tNew − tPrev) into the gauge's
// cadence state. Sub-minute gaps are duplicate noise and are dropped; the
// return value reports whether the sample was accepted.
func ObserveDelta(g *model.GaugeState, tPrev, tNew time.Time) bool {
	delta := tNew.Sub(tPrev).Seconds()
	if delta < model.MinUpdateGapSec {
		return false
	}
	clamped := util.Clamp(delta, model.MinIntervalSec, model.MaxIntervalSec)

	// A delta near a grid multiple contributes the exact multiple, so jitter
	// does not leak into the mean.
	sample := clamped
	if k, ok := snapToGrid(clamped); ok {
		sample = float64(k * model.CadenceBaseSec)
	}
	g.MeanIntervalSec = util.EWMA(g.MeanIntervalSec, sample, cadenceEWMAAlpha)

	g.Deltas = append(g.Deltas, clamped)
	if len(g.Deltas) > cadenceWindow {
		g.Deltas = g.Deltas[len(g.Deltas)-cadenceWindow:]
	}

	refitCadence(g)
	snapUp(g)
	return true
}

// snapToGrid reports the grid multiple delta sits on, if any.
func snapToGrid(delta float64) (int, bool) {
	k := int(math.Round(delta / model.CadenceBaseSec))
	if k < 1 || k > model.CadenceMaxMult {
		return 0, false
	}
	if math.Abs(delta-float64(k*model.CadenceBaseSec)) > model.CadenceSnapTol {
		return 0, false
	}
	return k, true
}

// refitCadence re-derives the grid multiple from the recent deltas. The
// winner is the multiple matching the most deltas (larger multiple on ties),
// held only while at least 60% of the window agrees with it.
func refitCadence(g *model.GaugeState) {
	n := len(g.Deltas)
	if n == 0 {
		g.CadenceMult = 0
		g.CadenceFit = 0
		g.PhaseOffsetSec = nil
		return
	}
	fitFor := func(k int) float64 {
		count := 0
		for _, d := range g.Deltas {
			if math.Abs(d-float64(k*model.CadenceBaseSec)) <= model.CadenceSnapTol {
				count++
			}
		}
		return float64(count) / float64(n)
	}
	bestK, bestFit := 0, 0.0
	for k := 1; k <= model.CadenceMaxMult; k++ {
		if fit := fitFor(k); fit > bestFit || (fit == bestFit && fit > 0 && k > bestK) {
			bestK, bestFit = k, fit
		}
	}
	if bestK == 0 || bestFit < model.CadenceFitMin {
		// Hysteresis: a held multiple hangs on until its own fit collapses.
		if g.CadenceMult > 0 {
			if held := fitFor(g.CadenceMult); held >= model.CadenceClearMin {
				g.CadenceFit = held
				return
			}
		}
		g.CadenceMult = 0
		g.CadenceFit = 0
		g.PhaseOffsetSec = nil
		return
	}
	g.CadenceMult = bestK
	g.CadenceFit = bestFit
	// A confident multiple overrides the EWMA; the grid is the truth.
	g.MeanIntervalSec = util.Clamp(float64(bestK*model.CadenceBaseSec),
		model.MinIntervalSec, model.MaxIntervalSec)
}

// snapUp jumps the EWMA forward when the station has visibly slowed down, so
// a stale fast estimate does not burn polls for hours.
func snapUp(g *model.GaugeState) {
	if len(g.Deltas) < 3 {
		return
	}
	var sum float64
	for _, d := range g.Deltas {
		sum += d
	}
	mean := sum / float64(len(g.Deltas))
	if mean > snapUpRatio*g.MeanIntervalSec {
		g.MeanIntervalSec = util.Clamp(mean, model.MinIntervalSec, model.MaxIntervalSec)
	}
}

// RefreshPhase re-estimates the phase offset within the cadence period from
// the observation timestamps in history. Needs a confident multiple and at
// least 3 points; otherwise the offset is cleared.
func RefreshPhase(g *model.GaugeState) {
	if g.CadenceMult <= 0 || len(g.History) < 3 {
		g.PhaseOffsetSec = nil
		return
	}
	period := float64(g.CadenceMult * model.CadenceBaseSec)
	phases := make([]float64, 0, len(g.History))
	for _, p := range g.History {
		phases = append(phases, math.Mod(float64(p.TS.Unix()), period))
	}
	if off, ok := util.BiweightPhase(phases, period); ok {
		g.PhaseOffsetSec = model.Float(off)
	} else {
		g.PhaseOffsetSec = nil
	}
}

// RederiveCadence rebuilds the delta list and cadence fit from scratch after
// a history backfill.
func RederiveCadence(g *model.GaugeState) {
	g.Deltas = g.Deltas[:0]
	g.MeanIntervalSec = 0
	for i := 1; i < len(g.History); i++ {
		prev, cur := g.History[i-1].TS, g.History[i].TS
		delta := cur.Sub(prev).Seconds()
		if delta < model.MinUpdateGapSec {
			continue
		}
		clamped := util.Clamp(delta, model.MinIntervalSec, model.MaxIntervalSec)
		sample := clamped
		if k, ok := snapToGrid(clamped); ok {
			sample = float64(k * model.CadenceBaseSec)
		}
		g.MeanIntervalSec = util.EWMA(g.MeanIntervalSec, sample, cadenceEWMAAlpha)
		g.Deltas = append(g.Deltas, clamped)
		if len(g.Deltas) > cadenceWindow {
			g.Deltas = g.Deltas[1:]
		}
	}
	if g.MeanIntervalSec <= 0 {
		g.MeanIntervalSec = model.CadenceBaseSec
	}
	refitCadence(g)
	RefreshPhase(g)
}
