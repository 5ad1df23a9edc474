package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/state"
	"github.com/ftahirops/streamvis/usgs"
)

const (
	backfillCheckInterval = 6 * time.Hour
	backfillRepeatHours   = 6
)

// MaybeBackfill seeds per-gauge history from the upstream archive: the full
// configured lookback on the first run, then a 6 h top-up every 6 h. Cadence,
// phase, and the interval estimate are re-derived from the merged history.
func MaybeBackfill(ctx context.Context, st *model.State, legacy *usgs.LegacyAdapter, modern *usgs.ModernAdapter, configured model.Backend, siteMap map[string]string, hours int, now time.Time, log zerolog.Logger) {
	if hours <= 0 || len(siteMap) == 0 {
		return
	}
	meta := st.Meta
	lookback := hours
	if last := meta.LastBackfillCheckAt; last != nil {
		if now.Sub(*last) < backfillCheckInterval {
			return
		}
		lookback = backfillRepeatHours
	}
	meta.LastBackfillCheckAt = model.Time(now)
	meta.BackfillHours = hours

	var (
		points  map[string][]model.HistoryPoint
		elapsed time.Duration
		err     error
	)
	if configured == model.BackendModern {
		points, elapsed, err = modern.FetchHistory(ctx, siteMap,
			now.Add(-time.Duration(lookback)*time.Hour), now)
	} else {
		points, elapsed, err = legacy.FetchHistory(ctx, siteMap, lookback)
	}
	if err != nil {
		log.Warn().Int("hours", lookback).Err(err).Msg("backfill fetch failed")
		return
	}

	merged := 0
	for gaugeID, pts := range points {
		if len(pts) == 0 {
			continue
		}
		g := st.Gauge(gaugeID)
		g.History = state.MergeHistory(g.History, pts)
		if n := len(g.History); n > 0 {
			last := g.History[n-1]
			if g.LastTimestamp == nil || last.TS.After(*g.LastTimestamp) {
				g.LastTimestamp = model.Time(last.TS)
				if last.Stage != nil {
					g.LastStage = last.Stage
				}
				if last.Flow != nil {
					g.LastFlow = last.Flow
				}
			}
		}
		RederiveCadence(g)
		merged++
	}
	log.Info().Int("gauges", merged).Int("hours", lookback).
		Dur("elapsed", elapsed).Msg("backfill merged")
}

// ModifiedSince returns the safe legacy-API narrowing window: only when every
// tracked gauge has been seen at least once and all cadences are at most
// hourly is it safe to ask for recent changes only. Zero disables the hint.
func ModifiedSince(st *model.State, siteMap map[string]string) time.Duration {
	if len(siteMap) == 0 {
		return 0
	}
	minInterval := model.MaxIntervalSec
	for gaugeID := range siteMap {
		g, ok := st.Gauges[gaugeID]
		if !ok || g.LastTimestamp == nil {
			return 0
		}
		interval := g.MeanIntervalSec
		if interval <= 0 || interval > 3600 {
			return 0
		}
		if interval < minInterval {
			minInterval = interval
		}
	}
	window := 2 * minInterval
	if window < 1800 {
		window = 1800
	}
	return secDur(window)
}
