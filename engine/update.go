package engine

import (
	"time"

	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/util"
)

// ApplyReadings folds one poll's readings into the per-gauge state. pollAt
// is the wall-clock instant of the poll; forced refreshes in-place values
// even when nothing changed. The returned set holds the ids of gauges that
// gained a genuinely new observation.
func ApplyReadings(st *model.State, readings map[string]model.Reading, pollAt time.Time, forced bool) map[string]bool {
	updated := make(map[string]bool)
	for id, r := range readings {
		g := st.Gauge(id)
		prevPoll := g.LastPollTS

		switch {
		case r.ObservedAt == nil:
			// Upstream answered but offered no timestamp for this gauge.
			g.NoUpdatePolls++

		case g.LastTimestamp == nil || r.ObservedAt.After(*g.LastTimestamp):
			applyNewObservation(g, r, prevPoll, pollAt)
			updated[id] = true

		case r.ObservedAt.Equal(*g.LastTimestamp):
			if refreshInPlace(g, r, forced) {
				// Values for the same instant were revised; cadence and
				// latency stay untouched.
			}
			g.NoUpdatePolls++

		default:
			// Older than what we already hold.
			g.NoUpdatePolls++
		}

		g.LastPollTS = model.Time(pollAt)
	}
	return updated
}

// applyNewObservation ingests a strictly newer timestamp: history append,
// cadence delta, latency bracket, and the polls-per-update estimate.
func applyNewObservation(g *model.GaugeState, r model.Reading, prevPoll *time.Time, pollAt time.Time) {
	obsAt := r.ObservedAt.UTC()
	prevTS := g.LastTimestamp

	point := model.HistoryPoint{TS: obsAt, Stage: r.Stage, Flow: r.Flow}
	g.History = append(g.History, point)
	if len(g.History) > model.HistoryLimit {
		g.History = g.History[len(g.History)-model.HistoryLimit:]
	}

	g.LastTimestamp = model.Time(obsAt)
	if r.Stage != nil {
		g.LastStage = r.Stage
	}
	if r.Flow != nil {
		g.LastFlow = r.Flow
	}

	if prevTS != nil {
		ObserveDelta(g, *prevTS, obsAt)
		RefreshPhase(g)
	}
	ObserveLatency(g, obsAt, prevPoll, pollAt)

	g.PollsPerUpdateEWMA = util.EWMA(g.PollsPerUpdateEWMA,
		float64(g.NoUpdatePolls+1), cadenceEWMAAlpha)
	g.NoUpdatePolls = 0
}

// refreshInPlace revises the newest history entry when the upstream has
// corrected values for an already-seen timestamp. Non-nil incoming metrics
// win; with forced set even identical values are rewritten.
func refreshInPlace(g *model.GaugeState, r model.Reading, forced bool) bool {
	changed := forced
	if r.Stage != nil && (g.LastStage == nil || *g.LastStage != *r.Stage) {
		changed = true
	}
	if r.Flow != nil && (g.LastFlow == nil || *g.LastFlow != *r.Flow) {
		changed = true
	}
	if !changed {
		return false
	}
	if r.Stage != nil {
		g.LastStage = r.Stage
	}
	if r.Flow != nil {
		g.LastFlow = r.Flow
	}
	if n := len(g.History); n > 0 && g.LastTimestamp != nil &&
		g.History[n-1].TS.Equal(*g.LastTimestamp) {
		if r.Stage != nil {
			g.History[n-1].Stage = r.Stage
		}
		if r.Flow != nil {
			g.History[n-1].Flow = r.Flow
		}
	}
	return true
}

// RefreshETAs recomputes the persisted next_eta for every gauge.
func RefreshETAs(st *model.State, now time.Time) {
	for _, g := range st.Gauges {
		if g == nil {
			continue
		}
		if pred, ok := Predict(g, now); ok {
			g.NextETA = model.Time(pred.NextAPI)
		} else {
			g.NextETA = nil
		}
	}
}
