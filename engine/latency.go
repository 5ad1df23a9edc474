package engine

import (
	"math"
	"time"

	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/util"
)

// ObserveLatency feeds one observation→visibility bracket into the gauge's
// latency estimate. obsAt is the new observation timestamp, prevPoll the
// last poll that did NOT show it, pollAt the poll that did.
//
// The true latency lies in [max(0, prevPoll−obsAt), pollAt−obsAt]; the
// window midpoint is taken as the sample and the robust location/scale are
// refit over the rolling sample set with the (600, 100) prior.
func ObserveLatency(g *model.GaugeState, obsAt time.Time, prevPoll *time.Time, pollAt time.Time) {
	upper := pollAt.Sub(obsAt).Seconds()
	if upper < 0 {
		// Station clock ahead of ours; not a usable bracket.
		return
	}
	lower := 0.0
	if prevPoll != nil {
		lower = math.Max(0, prevPoll.Sub(obsAt).Seconds())
	}
	if lower > upper {
		lower = upper
	}
	sample := (lower + upper) / 2

	g.LatencyWindow = &model.LatencyWindow{LowerSec: lower, UpperSec: upper}
	g.LatencySamples = append(g.LatencySamples, sample)
	if len(g.LatencySamples) > model.HistoryLimit {
		g.LatencySamples = g.LatencySamples[len(g.LatencySamples)-model.HistoryLimit:]
	}

	loc, scale := util.BiweightLocScale(g.LatencySamples,
		model.LatencyPriorLocSec, model.LatencyPriorScaleSec)
	if loc <= 0 {
		loc = model.LatencyPriorLocSec
	}
	// A degenerate spread (identical samples) still has to stay positive.
	if scale <= 0 {
		scale = 1.0
	}
	g.LatencyLocSec = loc
	g.LatencyScaleSec = scale
}
