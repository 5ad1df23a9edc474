package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftahirops/streamvis/config"
	"github.com/ftahirops/streamvis/metrics"
	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/state"
	"github.com/ftahirops/streamvis/usgs"
)

// Control is a manual override posted to the poll loop.
type Control int

const (
	// CtrlRefresh wakes the loop for an immediate poll.
	CtrlRefresh Control = iota
	// CtrlForced wakes the loop and refreshes in-place values even when the
	// upstream repeats an already-seen timestamp.
	CtrlForced
	// CtrlQuit asks the loop to commit and return.
	CtrlQuit
)

// Loop is the single-writer poll loop. It owns all state mutation; readers
// get committed snapshots via Snapshot.
type Loop struct {
	Opts    config.Options
	Log     zerolog.Logger
	Metrics *metrics.Provider

	Client  *usgs.Client
	Legacy  *usgs.LegacyAdapter
	Modern  *usgs.ModernAdapter
	Blended *usgs.Blended

	Lock *state.FileLock
	Ctrl chan Control

	st      *model.State
	backoff time.Duration

	mu       sync.RWMutex
	snapshot *model.State
	footer   string
}

// NewLoop wires the adapters and takes ownership of st. The caller must hold
// lock for the configured state file.
func NewLoop(opts config.Options, st *model.State, lock *state.FileLock, log zerolog.Logger, prov *metrics.Provider) *Loop {
	client := usgs.NewClient(opts.RequestTimeout)
	legacy := usgs.NewLegacyAdapter(client)
	modern := usgs.NewModernAdapter(client)
	return &Loop{
		Opts:    opts,
		Log:     log,
		Metrics: prov,
		Client:  client,
		Legacy:  legacy,
		Modern:  modern,
		Blended: usgs.NewBlended(legacy, modern, log),
		Lock:    lock,
		Ctrl:    make(chan Control, 4),
		st:      st,
	}
}

// Snapshot returns the last committed state. Safe for concurrent readers;
// the snapshot is never mutated after publication.
func (l *Loop) Snapshot() *model.State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// Footer returns the one-line status for the UI.
func (l *Loop) Footer() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.footer
}

// Refresh requests an immediate poll without blocking.
func (l *Loop) Refresh() { l.post(CtrlRefresh) }

// ForceRefetch requests an immediate poll that rewrites in-place values.
func (l *Loop) ForceRefetch() { l.post(CtrlForced) }

// Quit asks the loop to stop.
func (l *Loop) Quit() { l.post(CtrlQuit) }

func (l *Loop) post(c Control) {
	select {
	case l.Ctrl <- c:
	default:
	}
}

// TrackedGauges lists the primary stations plus any discovered dynamic ones.
func (l *Loop) TrackedGauges() []model.Gauge {
	gauges := make([]model.Gauge, 0, len(config.PrimaryGauges))
	gauges = append(gauges, config.PrimaryGauges...)
	gauges = append(gauges, DynamicGauges(l.st)...)
	return gauges
}

func siteMapOf(gauges []model.Gauge) map[string]string {
	m := make(map[string]string, len(gauges))
	for _, g := range gauges {
		m[g.ID] = g.SiteNo
	}
	return m
}

// Run drives poll cycles until ctx is canceled or CtrlQuit arrives. Pending
// state is committed before returning.
func (l *Loop) Run(ctx context.Context) error {
	l.st.Meta.APIBackend = l.Opts.Backend
	l.startup(ctx)

	for {
		delay := l.iterate(ctx, false)
		if err := l.commit(); err != nil {
			l.Log.Error().Err(err).Msg("state commit failed")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return l.commit()
		case c := <-l.Ctrl:
			timer.Stop()
			switch c {
			case CtrlQuit:
				return l.commit()
			case CtrlForced:
				l.runForced(ctx)
			case CtrlRefresh:
				// Next iteration starts immediately.
			}
		case <-timer.C:
		}
	}
}

// runForced executes one forced cycle immediately.
func (l *Loop) runForced(ctx context.Context) {
	_ = l.iterate(ctx, true)
	if err := l.commit(); err != nil {
		l.Log.Error().Err(err).Msg("state commit failed")
	}
}

// startup performs the cold-start work: nearby discovery and history
// backfill, then an initial commit so the UI has something to show.
func (l *Loop) startup(ctx context.Context) {
	now := time.Now().UTC()
	MaybeDiscoverNearby(ctx, l.st, l.Legacy, l.Opts.NearbyEnabled,
		l.Opts.NearbyLat, l.Opts.NearbyLon, l.Opts.NearbyRadiusMiles, now, l.Log)
	gauges := l.TrackedGauges()
	MaybeBackfill(ctx, l.st, l.Legacy, l.Modern, l.Opts.Backend,
		siteMapOf(gauges), l.Opts.BackfillHours, now, l.Log)
	if err := l.commit(); err != nil {
		l.Log.Error().Err(err).Msg("state commit failed")
	}
}

// iterate runs one poll cycle and returns the sleep until the next one.
func (l *Loop) iterate(ctx context.Context, forced bool) time.Duration {
	now := time.Now().UTC()
	meta := l.st.Meta
	gauges := l.TrackedGauges()
	siteMap := siteMapOf(gauges)

	readings, err := l.Blended.Fetch(ctx, siteMap, meta, l.Opts.Backend,
		ModifiedSince(l.st, siteMap))
	meta.LastFetchAt = model.Time(now)

	if err != nil {
		meta.LastFailureAt = model.Time(now)
		meta.LastFailureReason = err.Error()
		l.backoff = Backoff(l.backoff, l.Opts.MinRetrySeconds, l.Opts.MaxRetrySeconds)
		l.Metrics.ObservePoll(string(meta.LastBackendUsed), "error")
		l.setFooter(fmt.Sprintf("fetch failed: %v (retry in %s)", err, l.backoff))
		l.Log.Warn().Err(err).Dur("backoff", l.backoff).Msg("poll failed")
		meta.NextPollAt = model.Time(now.Add(l.backoff))
		return l.backoff
	}

	l.backoff = 0
	meta.LastSuccessAt = model.Time(now)
	meta.LastFailureReason = ""
	l.Metrics.ObservePoll(string(meta.LastBackendUsed), "ok")

	updated := ApplyReadings(l.st, readings, now, forced)
	for id := range updated {
		l.Metrics.ObserveUpdate(id)
	}
	RefreshETAs(l.st, now)
	l.exportMetrics()

	if l.Opts.CommunityPublish {
		PublishCommunitySamples(ctx, l.st, l.Client, l.Opts.CommunityBase,
			siteMapOf(gauges), updated, now, l.Log)
	}
	MaybeRefreshForecasts(ctx, l.st, l.Client, gauges, l.Opts, now, l.Log)
	MaybeRefreshNWRFC(ctx, l.st, l.Client, now, l.Log)
	MaybeRefreshCommunity(ctx, l.st, l.Client, l.Opts.CommunityBase,
		siteMapOf(gauges), now, l.Log)
	MaybeDiscoverNearby(ctx, l.st, l.Legacy, l.Opts.NearbyEnabled,
		l.Opts.NearbyLat, l.Opts.NearbyLon, l.Opts.NearbyRadiusMiles, now, l.Log)
	MaybeBackfill(ctx, l.st, l.Legacy, l.Modern, l.Opts.Backend,
		siteMapOf(gauges), l.Opts.BackfillHours, now, l.Log)

	delay := NextPollDelay(l.st, now, l.Opts.MinRetrySeconds)
	meta.NextPollAt = model.Time(now.Add(delay))
	l.setFooter(fmt.Sprintf("backend=%s updates=%d next poll %s",
		meta.LastBackendUsed, len(updated), delay.Round(time.Second)))
	l.Log.Debug().Int("updates", len(updated)).Dur("next", delay).
		Str("backend", string(meta.LastBackendUsed)).Msg("poll ok")
	return delay
}

// exportMetrics publishes the learned statistics to the provider.
func (l *Loop) exportMetrics() {
	if l.Metrics == nil {
		return
	}
	for name, bs := range l.st.Meta.BackendStats {
		if bs != nil {
			l.Metrics.SetBackendLatency(name, bs.LatencyEWMAMs)
		}
	}
	for id, g := range l.st.Gauges {
		if g != nil && g.PollsPerUpdateEWMA > 0 {
			l.Metrics.SetPollsPerUpdate(id, g.PollsPerUpdateEWMA)
		}
	}
}

// commit saves the state file and publishes a fresh snapshot for readers.
func (l *Loop) commit() error {
	err := state.Save(l.st, l.Opts.StateFile, l.Lock)
	snap := cloneState(l.st)
	l.mu.Lock()
	l.snapshot = snap
	l.mu.Unlock()
	return err
}

func (l *Loop) setFooter(s string) {
	l.mu.Lock()
	l.footer = s
	l.mu.Unlock()
}

// cloneState deep-copies through the JSON codec; the document is small and
// already round-trips through it on every save.
func cloneState(st *model.State) *model.State {
	data, err := json.Marshal(st)
	if err != nil {
		return model.NewState()
	}
	var out model.State
	if err := json.Unmarshal(data, &out); err != nil {
		return model.NewState()
	}
	if out.Meta == nil {
		out.Meta = &model.Meta{}
	}
	if out.Gauges == nil {
		out.Gauges = make(map[string]*model.GaugeState)
	}
	return &out
}

// Once performs a single poll cycle (startup work included) and commits.
// Used by the one-shot mode.
func (l *Loop) Once(ctx context.Context) (*model.State, error) {
	l.st.Meta.APIBackend = l.Opts.Backend
	l.startup(ctx)
	_ = l.iterate(ctx, false)
	if err := l.commit(); err != nil {
		return l.Snapshot(), err
	}
	if l.st.Meta.LastFailureReason != "" && l.st.Meta.LastSuccessAt == nil {
		return l.Snapshot(), fmt.Errorf("fetch failed: %s", l.st.Meta.LastFailureReason)
	}
	return l.Snapshot(), nil
}
