package usgs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/util"
)

// Blended-mode tuning.
const (
	backendEWMAAlpha  = 0.2
	switchHysteresis  = 0.10
	confidenceSamples = 10
	probeInterval     = 15 * time.Minute
	probeGrace        = 2 * time.Second
)

// Adapter is the capability set the blended layer dispatches over.
type Adapter interface {
	FetchLatest(ctx context.Context, siteMap map[string]string, modifiedSince time.Duration) (map[string]model.Reading, time.Duration, error)
	Name() model.Backend
}

// Blended races the legacy and modern adapters while learning, then settles
// on the statistically faster one with periodic probes of the other. It owns
// no per-gauge state; backend statistics live in meta.
type Blended struct {
	Legacy Adapter
	Modern Adapter
	Log    zerolog.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewBlended wires the two adapters under the blended policy.
func NewBlended(legacy, modern Adapter, log zerolog.Logger) *Blended {
	return &Blended{Legacy: legacy, Modern: modern, Log: log, Now: time.Now}
}

type dispatchResult struct {
	backend  model.Backend
	readings map[string]model.Reading
	elapsed  time.Duration
	err      error
}

// Fetch resolves the configured policy into one readings map. The decision
// taken (which backend's response was used) lands in meta.last_backend_used;
// per-backend latency statistics are updated for every completed dispatch.
func (b *Blended) Fetch(ctx context.Context, siteMap map[string]string, meta *model.Meta, configured model.Backend, modifiedSince time.Duration) (map[string]model.Reading, error) {
	switch configured {
	case model.BackendLegacy:
		return b.fetchSingle(ctx, b.Legacy, siteMap, meta, modifiedSince)
	case model.BackendModern:
		return b.fetchSingle(ctx, b.Modern, siteMap, meta, modifiedSince)
	}

	preferred := b.preferredAdapter(meta)
	if preferred == nil || b.inProbeMode(meta) {
		return b.fetchRaced(ctx, siteMap, meta, modifiedSince)
	}

	other := b.Modern
	if preferred.Name() == model.BackendModern {
		other = b.Legacy
	}
	if b.shouldProbe(meta) {
		meta.LastBackendProbeAt = model.Time(b.Now())
		return b.fetchWithProbe(ctx, preferred, other, siteMap, meta, modifiedSince)
	}
	return b.fetchSingle(ctx, preferred, siteMap, meta, modifiedSince)
}

// inProbeMode reports whether either side still lacks enough successful
// samples for a confident comparison.
func (b *Blended) inProbeMode(meta *model.Meta) bool {
	return meta.BackendStat(model.BackendLegacy).SuccessCount < confidenceSamples ||
		meta.BackendStat(model.BackendModern).SuccessCount < confidenceSamples
}

func (b *Blended) shouldProbe(meta *model.Meta) bool {
	if meta.LastBackendProbeAt == nil {
		return true
	}
	return b.Now().Sub(*meta.LastBackendProbeAt) >= probeInterval
}

// fetchSingle dispatches one adapter and records its timing.
func (b *Blended) fetchSingle(ctx context.Context, a Adapter, siteMap map[string]string, meta *model.Meta, modifiedSince time.Duration) (map[string]model.Reading, error) {
	readings, elapsed, err := a.FetchLatest(ctx, siteMap, modifiedSince)
	b.recordResult(meta, a.Name(), elapsed, err)
	b.updatePreferred(meta)
	meta.LastBackendUsed = a.Name()
	if err != nil {
		return map[string]model.Reading{}, err
	}
	return readings, nil
}

// fetchRaced dispatches both adapters concurrently and returns the first
// successful response. The straggler's timing is folded into its EWMA when
// it lands within a short grace period; afterwards it is abandoned.
func (b *Blended) fetchRaced(ctx context.Context, siteMap map[string]string, meta *model.Meta, modifiedSince time.Duration) (map[string]model.Reading, error) {
	results := make(chan dispatchResult, 2)
	for _, a := range []Adapter{b.Legacy, b.Modern} {
		go func(a Adapter) {
			readings, elapsed, err := a.FetchLatest(ctx, siteMap, modifiedSince)
			results <- dispatchResult{backend: a.Name(), readings: readings, elapsed: elapsed, err: err}
		}(a)
	}

	var winner *dispatchResult
	var firstErr error
	received := 0
	deadline := (<-chan time.Time)(nil)
	for received < 2 {
		select {
		case res := <-results:
			received++
			b.recordResult(meta, res.backend, res.elapsed, res.err)
			if res.err == nil && winner == nil {
				r := res
				winner = &r
				grace := time.NewTimer(probeGrace)
				defer grace.Stop()
				deadline = grace.C
			} else if res.err != nil && firstErr == nil {
				firstErr = res.err
			}
		case <-deadline:
			received = 2
		case <-ctx.Done():
			received = 2
		}
	}

	b.updatePreferred(meta)
	if winner == nil {
		if firstErr == nil {
			firstErr = ctx.Err()
		}
		return map[string]model.Reading{}, firstErr
	}
	meta.LastBackendUsed = winner.backend
	return winner.readings, nil
}

// fetchWithProbe serves the response from the preferred backend while a
// parallel probe refreshes the other side's stats. The probe's readings are
// discarded; if it has not finished within the grace period after the
// preferred response, it is abandoned and its timing lost. Joining here
// keeps meta single-writer.
func (b *Blended) fetchWithProbe(ctx context.Context, preferred, other Adapter, siteMap map[string]string, meta *model.Meta, modifiedSince time.Duration) (map[string]model.Reading, error) {
	probeCh := make(chan dispatchResult, 1)
	go func() {
		_, elapsed, err := other.FetchLatest(ctx, siteMap, modifiedSince)
		probeCh <- dispatchResult{backend: other.Name(), elapsed: elapsed, err: err}
	}()

	readings, err := b.fetchSingle(ctx, preferred, siteMap, meta, modifiedSince)

	grace := time.NewTimer(probeGrace)
	defer grace.Stop()
	select {
	case res := <-probeCh:
		b.recordResult(meta, res.backend, res.elapsed, res.err)
		b.updatePreferred(meta)
		b.Log.Debug().Str("backend", string(res.backend)).Dur("elapsed", res.elapsed).
			Bool("ok", res.err == nil).Msg("backend probe")
	case <-grace.C:
	case <-ctx.Done():
	}
	return readings, err
}

// recordResult updates one backend's EWMA latency and variance. Transport
// failures are charged as a max-cost latency sample so a flapping backend
// loses the comparison instead of freezing its stats.
func (b *Blended) recordResult(meta *model.Meta, backend model.Backend, elapsed time.Duration, err error) {
	st := meta.BackendStat(backend)
	now := b.Now()
	ms := float64(elapsed.Milliseconds())
	if err != nil {
		st.FailCount++
		st.LastFailureAt = model.Time(now)
		st.LastFailReason = err.Error()
		if ms <= 0 {
			ms = st.LatencyEWMAMs * 2
		}
		if ms > 0 {
			st.LatencyVarEWMAMs2 = util.EWMAVariance(st.LatencyVarEWMAMs2, st.LatencyEWMAMs, ms, backendEWMAAlpha)
			st.LatencyEWMAMs = util.EWMA(st.LatencyEWMAMs, ms, backendEWMAAlpha)
		}
		return
	}
	st.SuccessCount++
	st.LastSuccessAt = model.Time(now)
	if st.LatencyEWMAMs <= 0 {
		st.LatencyEWMAMs = ms
		st.LatencyVarEWMAMs2 = 0
		return
	}
	st.LatencyVarEWMAMs2 = util.EWMAVariance(st.LatencyVarEWMAMs2, st.LatencyEWMAMs, ms, backendEWMAAlpha)
	st.LatencyEWMAMs = util.EWMA(st.LatencyEWMAMs, ms, backendEWMAAlpha)
}

// updatePreferred re-evaluates the preferred backend once both sides have
// confident stats. A switch requires a ≥10% mean-latency advantage.
func (b *Blended) updatePreferred(meta *model.Meta) {
	legacy := meta.BackendStat(model.BackendLegacy)
	modern := meta.BackendStat(model.BackendModern)
	if legacy.SuccessCount < confidenceSamples || modern.SuccessCount < confidenceSamples {
		return
	}
	switch {
	case legacy.LatencyEWMAMs < modern.LatencyEWMAMs*(1-switchHysteresis):
		b.setPreferred(meta, model.BackendLegacy)
	case modern.LatencyEWMAMs < legacy.LatencyEWMAMs*(1-switchHysteresis):
		b.setPreferred(meta, model.BackendModern)
	}
}

func (b *Blended) setPreferred(meta *model.Meta, backend model.Backend) {
	if meta.PreferredBackend == backend {
		return
	}
	b.Log.Info().
		Str("backend", string(backend)).
		Float64("legacy_ms", meta.BackendStat(model.BackendLegacy).LatencyEWMAMs).
		Float64("modern_ms", meta.BackendStat(model.BackendModern).LatencyEWMAMs).
		Msg("preferred backend changed")
	meta.PreferredBackend = backend
}

func (b *Blended) preferredAdapter(meta *model.Meta) Adapter {
	switch meta.PreferredBackend {
	case model.BackendLegacy:
		return b.Legacy
	case model.BackendModern:
		return b.Modern
	}
	return nil
}
