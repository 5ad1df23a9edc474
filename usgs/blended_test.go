package usgs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftahirops/streamvis/model"
)

type fakeAdapter struct {
	name     model.Backend
	readings map[string]model.Reading
	elapsed  time.Duration
	err      error
	calls    int
}

func (f *fakeAdapter) FetchLatest(_ context.Context, _ map[string]string, _ time.Duration) (map[string]model.Reading, time.Duration, error) {
	f.calls++
	if f.err != nil {
		return map[string]model.Reading{}, f.elapsed, f.err
	}
	return f.readings, f.elapsed, nil
}

func (f *fakeAdapter) Name() model.Backend { return f.name }

func reading(stage float64) map[string]model.Reading {
	return map[string]model.Reading{"CRNW1": {Stage: model.Float(stage)}}
}

func newTestBlended(legacy, modern *fakeAdapter) (*Blended, *model.Meta) {
	b := NewBlended(legacy, modern, zerolog.Nop())
	fixed := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	b.Now = func() time.Time { return fixed }
	return b, &model.Meta{}
}

func seedStats(meta *model.Meta, legacyMs, modernMs float64, count int) {
	l := meta.BackendStat(model.BackendLegacy)
	l.LatencyEWMAMs = legacyMs
	l.SuccessCount = count
	m := meta.BackendStat(model.BackendModern)
	m.LatencyEWMAMs = modernMs
	m.SuccessCount = count
}

func TestBlendedRacesWhileLearning(t *testing.T) {
	legacy := &fakeAdapter{name: model.BackendLegacy, readings: reading(51.2), elapsed: 80 * time.Millisecond}
	modern := &fakeAdapter{name: model.BackendModern, readings: reading(51.3), elapsed: 120 * time.Millisecond}
	b, meta := newTestBlended(legacy, modern)

	readings, err := b.Fetch(context.Background(), map[string]string{"CRNW1": "12149000"}, meta, model.BackendBlended, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("readings = %v", readings)
	}
	if legacy.calls != 1 || modern.calls != 1 {
		t.Errorf("both adapters must be dispatched in probe mode (legacy=%d modern=%d)", legacy.calls, modern.calls)
	}
	if meta.BackendStat(model.BackendLegacy).SuccessCount+meta.BackendStat(model.BackendModern).SuccessCount < 1 {
		t.Error("no stats recorded")
	}
	if meta.LastBackendUsed == "" {
		t.Error("last_backend_used not set")
	}
}

func TestBlendedBothFail(t *testing.T) {
	failure := errors.New("upstream down")
	legacy := &fakeAdapter{name: model.BackendLegacy, err: failure}
	modern := &fakeAdapter{name: model.BackendModern, err: failure}
	b, meta := newTestBlended(legacy, modern)

	readings, err := b.Fetch(context.Background(), nil, meta, model.BackendBlended, 0)
	if err == nil {
		t.Fatal("expected error when both backends fail")
	}
	if len(readings) != 0 {
		t.Error("failure must yield an empty map")
	}
	if meta.BackendStat(model.BackendLegacy).FailCount != 1 {
		t.Error("legacy failure not recorded")
	}
}

func TestBlendedConfiguredSingleBackend(t *testing.T) {
	legacy := &fakeAdapter{name: model.BackendLegacy, readings: reading(51.2)}
	modern := &fakeAdapter{name: model.BackendModern, readings: reading(51.3)}
	b, meta := newTestBlended(legacy, modern)

	_, err := b.Fetch(context.Background(), nil, meta, model.BackendLegacy, 0)
	if err != nil {
		t.Fatal(err)
	}
	if legacy.calls != 1 || modern.calls != 0 {
		t.Errorf("configured legacy must not touch modern (legacy=%d modern=%d)", legacy.calls, modern.calls)
	}
	if meta.LastBackendUsed != model.BackendLegacy {
		t.Errorf("last_backend_used = %s", meta.LastBackendUsed)
	}
}

// Switch hysteresis: a challenger needs a ≥10% mean advantage.
func TestUpdatePreferredHysteresis(t *testing.T) {
	tests := []struct {
		name     string
		legacyMs float64
		modernMs float64
		count    int
		prior    model.Backend
		want     model.Backend
	}{
		{"insufficient confidence", 100, 50, 5, "", ""},
		{"within hysteresis band", 100, 95, 20, "", ""},
		{"modern clearly faster", 100, 85, 20, "", model.BackendModern},
		{"legacy clearly faster", 80, 100, 20, "", model.BackendLegacy},
		{"holder keeps band advantage", 100, 95, 20, model.BackendLegacy, model.BackendLegacy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, meta := newTestBlended(&fakeAdapter{name: model.BackendLegacy}, &fakeAdapter{name: model.BackendModern})
			seedStats(meta, tt.legacyMs, tt.modernMs, tt.count)
			meta.PreferredBackend = tt.prior
			b.updatePreferred(meta)
			if meta.PreferredBackend != tt.want {
				t.Errorf("preferred = %q, want %q", meta.PreferredBackend, tt.want)
			}
		})
	}
}

// Steady state: with a confident preferred backend and a fresh probe stamp,
// only the preferred side is dispatched.
func TestBlendedSteadyStateSingleDispatch(t *testing.T) {
	legacy := &fakeAdapter{name: model.BackendLegacy, readings: reading(51.2)}
	modern := &fakeAdapter{name: model.BackendModern, readings: reading(51.3)}
	b, meta := newTestBlended(legacy, modern)
	seedStats(meta, 80, 120, 20)
	meta.PreferredBackend = model.BackendLegacy
	meta.LastBackendProbeAt = model.Time(b.Now().Add(-time.Minute))

	_, err := b.Fetch(context.Background(), nil, meta, model.BackendBlended, 0)
	if err != nil {
		t.Fatal(err)
	}
	if legacy.calls != 1 || modern.calls != 0 {
		t.Errorf("steady state must dispatch preferred only (legacy=%d modern=%d)", legacy.calls, modern.calls)
	}
}

// A due probe refreshes the unpreferred side's stats without surfacing its
// readings.
func TestBlendedProbeRefreshesOtherSide(t *testing.T) {
	legacy := &fakeAdapter{name: model.BackendLegacy, readings: reading(51.2)}
	modern := &fakeAdapter{name: model.BackendModern, readings: reading(99.9)}
	b, meta := newTestBlended(legacy, modern)
	seedStats(meta, 80, 120, 20)
	meta.PreferredBackend = model.BackendLegacy
	meta.LastBackendProbeAt = model.Time(b.Now().Add(-time.Hour))

	readings, err := b.Fetch(context.Background(), map[string]string{"CRNW1": "12149000"}, meta, model.BackendBlended, 0)
	if err != nil {
		t.Fatal(err)
	}
	if modern.calls != 1 {
		t.Error("due probe must dispatch the other backend")
	}
	if got := readings["CRNW1"]; got.Stage == nil || *got.Stage != 51.2 {
		t.Errorf("probe readings leaked: %v", got)
	}
	if meta.BackendStat(model.BackendModern).SuccessCount != 21 {
		t.Errorf("probe success not recorded: %d", meta.BackendStat(model.BackendModern).SuccessCount)
	}
	if meta.LastBackendProbeAt == nil || !meta.LastBackendProbeAt.Equal(b.Now()) {
		t.Error("probe stamp not refreshed")
	}
}

// Failures are charged as a max-cost latency sample so a flapping backend
// loses the comparison.
func TestRecordResultChargesFailures(t *testing.T) {
	b, meta := newTestBlended(&fakeAdapter{name: model.BackendLegacy}, &fakeAdapter{name: model.BackendModern})
	st := meta.BackendStat(model.BackendLegacy)
	st.LatencyEWMAMs = 100

	b.recordResult(meta, model.BackendLegacy, 0, errors.New("timeout"))
	if st.FailCount != 1 {
		t.Errorf("fail_count = %d", st.FailCount)
	}
	if st.LatencyEWMAMs <= 100 {
		t.Errorf("ewma = %v, failure must push latency up", st.LatencyEWMAMs)
	}
	if st.LastFailReason == "" {
		t.Error("failure reason not recorded")
	}
}
