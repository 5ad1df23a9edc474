package engine

import (
	"testing"
	"time"

	"github.com/ftahirops/streamvis/model"
)

func fineGauge(t0 time.Time) *model.GaugeState {
	return &model.GaugeState{
		LastTimestamp:   model.Time(t0),
		MeanIntervalSec: 900,
		CadenceMult:     1,
		CadenceFit:      0.9,
		PhaseOffsetSec:  model.Float(0),
		LatencyLocSec:   540,
		LatencyScaleSec: 45, // half width 90
	}
}

// Inside the fine window the step shrinks toward 15s at the predicted
// instant and grows toward 30s at the window edge; polls near the target
// stay at least 15s apart.
func TestFineRegimeSteps(t *testing.T) {
	t0 := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	g := fineGauge(t0)
	target := t0.Add(900 * time.Second).Add(540 * time.Second)

	tests := []struct {
		name    string
		now     time.Time
		wantMin float64
		wantMax float64
	}{
		{"window edge", target.Add(-90 * time.Second), 29, 30},
		{"halfway in", target.Add(-45 * time.Second), 22, 23},
		{"dead center", target, 15, 15},
		{"just past", target.Add(30 * time.Second), 19, 21},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := proposeStep(g, tt.now, 60)
			if step < tt.wantMin || step > tt.wantMax {
				t.Errorf("step = %v, want in [%v, %v]", step, tt.wantMin, tt.wantMax)
			}
			if step < fineStepMin {
				t.Errorf("step %v under the fine floor", step)
			}
		})
	}
}

// Far from the target the coarse regime aims a headstart short of it, capped
// at half the interval, floored at minRetry.
func TestCoarseRegimeSteps(t *testing.T) {
	t0 := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	g := fineGauge(t0)
	target := t0.Add(1440 * time.Second)

	// 10 minutes out: d=600, d−30=570 exceeds interval/2=450.
	step := proposeStep(g, target.Add(-600*time.Second), 60)
	if step != 450 {
		t.Errorf("far out: step = %v, want interval/2 = 450", step)
	}

	// 200s out: outside the 90s window, d−30=170 under the cap.
	step = proposeStep(g, target.Add(-200*time.Second), 60)
	if step != 170 {
		t.Errorf("approach: step = %v, want d−30 = 170", step)
	}

	// 70s out: d−30=40 would undercut minRetry, but this is inside the fine
	// window, so the fine regime applies instead.
	step = proposeStep(g, target.Add(-70*time.Second), 60)
	if step < fineStepMin || step > fineStepMax {
		t.Errorf("inside window: step = %v, want fine range", step)
	}
}

// Loose latency or a slow cadence keeps a gauge out of the fine regime.
func TestFineRegimeAdmission(t *testing.T) {
	t0 := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	target := t0.Add(1440 * time.Second)

	loose := fineGauge(t0)
	loose.LatencyScaleSec = 120
	step := proposeStep(loose, target, 60)
	if step < 60 {
		t.Errorf("loose latency: step = %v, want coarse ≥ minRetry", step)
	}

	slow := fineGauge(t0)
	slow.MeanIntervalSec = 7200
	slow.CadenceMult = 8
	step = proposeStep(slow, target, 60)
	if step < 60 {
		t.Errorf("slow cadence: step = %v, want coarse ≥ minRetry", step)
	}
}

func TestNextPollDelayPicksEarliest(t *testing.T) {
	t0 := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	st := model.NewState()
	st.Gauges["FAST"] = fineGauge(t0)
	slow := fineGauge(t0)
	slow.MeanIntervalSec = 3600
	slow.CadenceMult = 4
	st.Gauges["SLOW"] = slow

	// At the fast gauge's predicted instant, its 15s fine step must win over
	// the slow gauge's coarse proposal.
	now := t0.Add(1440 * time.Second)
	delay := NextPollDelay(st, now, 60)
	if delay != 15*time.Second {
		t.Errorf("delay = %v, want 15s", delay)
	}
}

func TestNextPollDelayFloor(t *testing.T) {
	st := model.NewState()
	st.Gauges["X"] = &model.GaugeState{} // no prediction
	if got := NextPollDelay(st, time.Now(), 60); got != 60*time.Second {
		t.Errorf("unpredicted gauge: delay = %v, want minRetry", got)
	}
	if got := NextPollDelay(model.NewState(), time.Now(), 60); got != 60*time.Second {
		t.Errorf("empty state: delay = %v, want minRetry", got)
	}
}

func TestBackoffLadder(t *testing.T) {
	var b time.Duration
	want := []time.Duration{60, 120, 240, 300, 300}
	for i, w := range want {
		b = Backoff(b, 60, 300)
		if b != w*time.Second {
			t.Errorf("step %d: backoff = %v, want %v", i, b, w*time.Second)
		}
	}
}
