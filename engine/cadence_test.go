package engine

import (
	"math"
	"testing"
	"time"

	"github.com/ftahirops/streamvis/model"
)

func ts(base time.Time, offsetSec float64) time.Time {
	return base.Add(time.Duration(offsetSec * float64(time.Second)))
}

func TestObserveDeltaGridSnap(t *testing.T) {
	base := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		deltaSec   float64
		accepted   bool
		wantSample float64 // EWMA sample contributed on a cold start
	}{
		{"exact grid", 900, true, 900},
		{"jitter inside tolerance", 1020, true, 900},
		{"jitter outside tolerance", 1200, true, 1200},
		{"four slot gap", 3600, true, 3600},
		{"sub-minute duplicate", 30, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &model.GaugeState{}
			ok := ObserveDelta(g, base, ts(base, tt.deltaSec))
			if ok != tt.accepted {
				t.Fatalf("accepted = %v, want %v", ok, tt.accepted)
			}
			if !tt.accepted {
				if g.MeanIntervalSec != 0 || len(g.Deltas) != 0 {
					t.Error("rejected delta must not touch state")
				}
				return
			}
			if math.Abs(g.MeanIntervalSec-tt.wantSample) > 1e-9 {
				t.Errorf("mean = %v, want %v", g.MeanIntervalSec, tt.wantSample)
			}
		})
	}
}

// A 15-minute station with realistic jitter settles on multiple 1.
func TestCadenceFifteenMinuteStation(t *testing.T) {
	base := time.Date(2025, 12, 8, 0, 0, 0, 0, time.UTC)
	g := &model.GaugeState{}
	prev := base
	for _, jitter := range []float64{0, 20, -15, 40, 5, -30, 10, 0} {
		next := prev.Add(900 * time.Second).Add(time.Duration(jitter * float64(time.Second)))
		ObserveDelta(g, prev, next)
		prev = next
	}
	if g.CadenceMult != 1 {
		t.Fatalf("cadence_mult = %d, want 1", g.CadenceMult)
	}
	if g.CadenceFit < model.CadenceFitMin {
		t.Errorf("fit = %v, want ≥ %v", g.CadenceFit, model.CadenceFitMin)
	}
	if g.MeanIntervalSec != 900 {
		t.Errorf("mean = %v, want 900 once the multiple is confident", g.MeanIntervalSec)
	}
}

// An hourly station discovered from a 15-minute assumption converges within
// three observed gaps: the multiple locks to 4 and the mean catches up.
func TestCadenceHourlyStationConverges(t *testing.T) {
	base := time.Date(2025, 12, 8, 0, 0, 0, 0, time.UTC)
	g := &model.GaugeState{MeanIntervalSec: 900}
	prev := base
	for i := 0; i < 3; i++ {
		next := prev.Add(time.Hour)
		ObserveDelta(g, prev, next)
		prev = next
	}
	if g.CadenceMult != 4 {
		t.Fatalf("cadence_mult = %d, want 4", g.CadenceMult)
	}
	if g.MeanIntervalSec < 3000 {
		t.Errorf("mean = %v, want ≥ 3000 after three hourly gaps", g.MeanIntervalSec)
	}
}

func TestCadenceClampsExtremes(t *testing.T) {
	base := time.Date(2025, 12, 8, 0, 0, 0, 0, time.UTC)
	g := &model.GaugeState{}
	ObserveDelta(g, base, base.Add(48*time.Hour))
	if g.MeanIntervalSec != model.MaxIntervalSec {
		t.Errorf("mean = %v, want clamp to %v", g.MeanIntervalSec, model.MaxIntervalSec)
	}
	for _, d := range g.Deltas {
		if d > model.MaxIntervalSec {
			t.Errorf("stored delta %v above clamp", d)
		}
	}
}

// A held multiple survives a noisy stretch (fit between clear and adopt
// thresholds) but is dropped once agreement collapses.
func TestCadenceHysteresis(t *testing.T) {
	g := &model.GaugeState{
		CadenceMult: 1,
		CadenceFit:  0.9,
		// Half on-grid, half off: fit for k=1 is 0.5 — below adoption,
		// above the clear floor.
		Deltas:          []float64{900, 900, 1300, 1300},
		MeanIntervalSec: 900,
	}
	refitCadence(g)
	if g.CadenceMult != 1 {
		t.Fatalf("multiple dropped at fit 0.5; want held")
	}
	if g.CadenceFit != 0.5 {
		t.Errorf("fit = %v, want 0.5", g.CadenceFit)
	}

	// Agreement collapses below the clear floor.
	g.Deltas = []float64{1300, 1250, 1300, 1350, 900}
	refitCadence(g)
	if g.CadenceMult != 0 {
		t.Errorf("multiple = %d, want cleared at fit %v", g.CadenceMult, g.CadenceFit)
	}
}

func TestSnapUpOnSlowdown(t *testing.T) {
	g := &model.GaugeState{
		MeanIntervalSec: 1000,
		Deltas:          []float64{3600, 3600, 3600},
	}
	snapUp(g)
	if g.MeanIntervalSec != 3600 {
		t.Errorf("mean = %v, want snapped to 3600", g.MeanIntervalSec)
	}
}

func TestRefreshPhase(t *testing.T) {
	base := time.Date(2025, 12, 8, 0, 7, 30, 0, time.UTC) // 450s into the grid
	g := &model.GaugeState{CadenceMult: 1}
	for i := 0; i < 6; i++ {
		g.History = append(g.History, model.HistoryPoint{TS: base.Add(time.Duration(i) * 900 * time.Second)})
	}
	RefreshPhase(g)
	if g.PhaseOffsetSec == nil {
		t.Fatal("phase not estimated")
	}
	if math.Abs(*g.PhaseOffsetSec-450) > 1 {
		t.Errorf("phase = %v, want 450", *g.PhaseOffsetSec)
	}

	g2 := &model.GaugeState{CadenceMult: 0, PhaseOffsetSec: model.Float(100)}
	RefreshPhase(g2)
	if g2.PhaseOffsetSec != nil {
		t.Error("phase must clear without a confident multiple")
	}
}

func TestRederiveCadence(t *testing.T) {
	base := time.Date(2025, 12, 8, 0, 0, 0, 0, time.UTC)
	g := &model.GaugeState{MeanIntervalSec: 900, Deltas: []float64{900}}
	for i := 0; i < 8; i++ {
		g.History = append(g.History, model.HistoryPoint{TS: base.Add(time.Duration(i) * time.Hour)})
	}
	RederiveCadence(g)
	if g.CadenceMult != 4 {
		t.Errorf("cadence_mult = %d, want 4 from backfilled history", g.CadenceMult)
	}
	if g.MeanIntervalSec != 3600 {
		t.Errorf("mean = %v, want 3600", g.MeanIntervalSec)
	}
	if g.PhaseOffsetSec == nil {
		t.Error("phase should be estimable from 8 points")
	}
}
