package engine

import (
	"testing"
	"time"

	"github.com/ftahirops/streamvis/model"
)

func TestApplyReadingsNewObservation(t *testing.T) {
	st := model.NewState()
	obs := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	poll := obs.Add(9 * time.Minute)

	updated := ApplyReadings(st, map[string]model.Reading{
		"CRNW1": {ObservedAt: model.Time(obs), Stage: model.Float(51.2), Flow: model.Float(12000)},
	}, poll, false)

	if !updated["CRNW1"] {
		t.Fatal("new observation not reported as update")
	}
	g := st.Gauges["CRNW1"]
	if len(g.History) != 1 || !g.History[0].TS.Equal(obs) {
		t.Fatalf("history = %+v", g.History)
	}
	if g.LastStage == nil || *g.LastStage != 51.2 {
		t.Error("last_stage not set")
	}
	if g.NoUpdatePolls != 0 {
		t.Errorf("no_update_polls = %d, want reset", g.NoUpdatePolls)
	}
	if g.PollsPerUpdateEWMA != 1 {
		t.Errorf("polls_per_update = %v, want 1 on first hit", g.PollsPerUpdateEWMA)
	}
	if g.LastPollTS == nil || !g.LastPollTS.Equal(poll) {
		t.Error("last_poll_ts not set")
	}
	if len(g.LatencySamples) != 1 {
		t.Error("latency sample not recorded")
	}
}

func TestApplyReadingsStaleAndMissing(t *testing.T) {
	st := model.NewState()
	obs := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	g := st.Gauge("CRNW1")
	g.LastTimestamp = model.Time(obs)
	g.History = []model.HistoryPoint{{TS: obs, Stage: model.Float(51.2)}}
	g.LastStage = model.Float(51.2)

	poll := obs.Add(10 * time.Minute)
	tests := []struct {
		name    string
		reading model.Reading
	}{
		{"no timestamp", model.Reading{Stage: model.Float(51.2)}},
		{"older timestamp", model.Reading{ObservedAt: model.Time(obs.Add(-15 * time.Minute)), Stage: model.Float(50.0)}},
		{"same timestamp same values", model.Reading{ObservedAt: model.Time(obs), Stage: model.Float(51.2)}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated := ApplyReadings(st, map[string]model.Reading{"CRNW1": tt.reading}, poll, false)
			if len(updated) != 0 {
				t.Error("stale reading must not count as update")
			}
			if g.NoUpdatePolls != i+1 {
				t.Errorf("no_update_polls = %d, want %d", g.NoUpdatePolls, i+1)
			}
			if len(g.History) != 1 {
				t.Error("history must not grow")
			}
			if *g.LastStage != 51.2 {
				t.Error("values must not change")
			}
		})
	}
}

// Scenario: the upstream repeats a timestamp but fills in a metric that was
// missing before. The value refreshes in place; cadence and latency learning
// stay untouched.
func TestApplyReadingsPartialReadRefresh(t *testing.T) {
	st := model.NewState()
	obs := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	g := st.Gauge("CRNW1")
	g.LastTimestamp = model.Time(obs)
	g.History = []model.HistoryPoint{{TS: obs, Stage: model.Float(51.2)}}
	g.LastStage = model.Float(51.2)
	g.MeanIntervalSec = 900
	g.LatencyLocSec = 540
	savedSamples := len(g.LatencySamples)

	poll := obs.Add(10 * time.Minute)
	updated := ApplyReadings(st, map[string]model.Reading{
		"CRNW1": {ObservedAt: model.Time(obs), Stage: model.Float(51.2), Flow: model.Float(11800)},
	}, poll, false)

	if len(updated) != 0 {
		t.Error("in-place refresh is not a new update")
	}
	if g.LastFlow == nil || *g.LastFlow != 11800 {
		t.Error("missing metric not filled in")
	}
	if g.History[0].Flow == nil || *g.History[0].Flow != 11800 {
		t.Error("history entry not refreshed in place")
	}
	if len(g.History) != 1 {
		t.Error("no duplicate entry allowed")
	}
	if len(g.LatencySamples) != savedSamples {
		t.Error("latency learning must not run on an in-place refresh")
	}
	if g.MeanIntervalSec != 900 {
		t.Error("cadence must not move on an in-place refresh")
	}
}

func TestApplyReadingsForcedRewrite(t *testing.T) {
	st := model.NewState()
	obs := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	g := st.Gauge("CRNW1")
	g.LastTimestamp = model.Time(obs)
	g.History = []model.HistoryPoint{{TS: obs, Stage: model.Float(51.2)}}
	g.LastStage = model.Float(51.2)

	poll := obs.Add(10 * time.Minute)
	// Upstream revised the same-timestamp value downward.
	ApplyReadings(st, map[string]model.Reading{
		"CRNW1": {ObservedAt: model.Time(obs), Stage: model.Float(51.0)},
	}, poll, true)

	if *g.LastStage != 51.0 {
		t.Errorf("last_stage = %v, want forced rewrite to 51.0", *g.LastStage)
	}
	if *g.History[0].Stage != 51.0 {
		t.Error("history entry not rewritten")
	}
}

func TestApplyReadingsCadenceFeed(t *testing.T) {
	st := model.NewState()
	obs1 := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	obs2 := obs1.Add(15 * time.Minute)

	ApplyReadings(st, map[string]model.Reading{
		"CRNW1": {ObservedAt: model.Time(obs1), Stage: model.Float(51.0)},
	}, obs1.Add(9*time.Minute), false)
	ApplyReadings(st, map[string]model.Reading{
		"CRNW1": {ObservedAt: model.Time(obs2), Stage: model.Float(51.1)},
	}, obs2.Add(9*time.Minute), false)

	g := st.Gauges["CRNW1"]
	if len(g.Deltas) != 1 || g.Deltas[0] != 900 {
		t.Errorf("deltas = %v, want [900]", g.Deltas)
	}
	if g.MeanIntervalSec != 900 {
		t.Errorf("mean = %v, want 900", g.MeanIntervalSec)
	}
}

func TestRefreshETAs(t *testing.T) {
	st := model.NewState()
	now := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	g := st.Gauge("CRNW1")
	g.LastTimestamp = model.Time(now.Add(-5 * time.Minute))
	g.MeanIntervalSec = 900
	g.LatencyLocSec = 540
	g.LatencyScaleSec = 45
	st.Gauge("EMPTY")

	RefreshETAs(st, now)
	if g.NextETA == nil {
		t.Fatal("eta not set for predictable gauge")
	}
	if st.Gauges["EMPTY"].NextETA != nil {
		t.Error("eta set for gauge with no observations")
	}
}
