package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/usgs"
	"github.com/ftahirops/streamvis/util"
)

const communityRefreshInterval = 24 * time.Hour

// CommunitySummary is the aggregator's published prior document.
type CommunitySummary struct {
	Version     int                              `json:"version"`
	GeneratedAt string                           `json:"generated_at"`
	Stations    map[string]CommunityStationPrior `json:"stations"`
}

// CommunityStationPrior carries crowd-learned timing for one site.
type CommunityStationPrior struct {
	CadenceMult     int      `json:"cadence_mult"`
	CadenceFit      float64  `json:"cadence_fit"`
	PhaseOffsetSec  *float64 `json:"phase_offset_sec"`
	LatencyLocSec   float64  `json:"latency_loc_sec"`
	LatencyScaleSec float64  `json:"latency_scale_sec"`
	Samples         int      `json:"samples"`
	UpdatedAt       string   `json:"updated_at"`
}

// communitySample is the published latency-window observation.
type communitySample struct {
	SiteNo     string  `json:"site_no"`
	ObsTS      string  `json:"obs_ts"`
	PollTS     string  `json:"poll_ts"`
	LowerSec   float64 `json:"lower_sec"`
	UpperSec   float64 `json:"upper_sec"`
	LatencySec float64 `json:"latency_sec"`
}

// MaybeRefreshCommunity pulls crowd priors at most once per 24 h and adopts
// them only where local confidence is still low: fewer than 3 latency
// samples, or no confident cadence fit.
func MaybeRefreshCommunity(ctx context.Context, st *model.State, client *usgs.Client, base string, siteMap map[string]string, now time.Time, log zerolog.Logger) {
	if base == "" {
		return
	}
	if last := st.Meta.LastCommunityFetchAt; last != nil && now.Sub(*last) < communityRefreshInterval {
		return
	}
	st.Meta.LastCommunityFetchAt = model.Time(now)

	var summary CommunitySummary
	if err := client.GetJSON(ctx, "community", base+"/summary.json", nil, &summary); err != nil {
		log.Debug().Err(err).Msg("community summary fetch failed")
		return
	}
	adopted := 0
	for gaugeID, siteNo := range siteMap {
		prior, ok := summary.Stations[siteNo]
		if !ok {
			continue
		}
		if AdoptCommunityPrior(st.Gauge(gaugeID), prior) {
			adopted++
		}
	}
	if adopted > 0 {
		log.Info().Int("gauges", adopted).Msg("adopted community priors")
	}
}

// AdoptCommunityPrior overlays a remote prior onto a gauge when the local
// estimate has not earned trust yet. Reports whether anything was taken.
func AdoptCommunityPrior(g *model.GaugeState, prior CommunityStationPrior) bool {
	took := false
	if len(g.LatencySamples) < 3 && prior.LatencyLocSec > 0 && prior.LatencyScaleSec > 0 {
		g.LatencyLocSec = prior.LatencyLocSec
		g.LatencyScaleSec = prior.LatencyScaleSec
		took = true
	}
	if g.CadenceFit < model.CadenceFitMin &&
		prior.CadenceMult >= 1 && prior.CadenceMult <= model.CadenceMaxMult &&
		prior.CadenceFit >= model.CadenceFitMin {
		g.CadenceMult = prior.CadenceMult
		g.CadenceFit = prior.CadenceFit
		g.PhaseOffsetSec = prior.PhaseOffsetSec
		g.MeanIntervalSec = util.Clamp(float64(prior.CadenceMult*model.CadenceBaseSec),
			model.MinIntervalSec, model.MaxIntervalSec)
		took = true
	}
	return took
}

// PublishCommunitySamples posts the latest latency window for each updated
// gauge. Fire-and-forget: failures are logged at debug and otherwise ignored.
func PublishCommunitySamples(ctx context.Context, st *model.State, client *usgs.Client, base string, siteMap map[string]string, updated map[string]bool, pollAt time.Time, log zerolog.Logger) {
	if base == "" || len(updated) == 0 {
		return
	}
	for gaugeID := range updated {
		g, ok := st.Gauges[gaugeID]
		if !ok || g.LastTimestamp == nil || g.LatencyWindow == nil {
			continue
		}
		siteNo, ok := siteMap[gaugeID]
		if !ok {
			continue
		}
		sample := communitySample{
			SiteNo:     siteNo,
			ObsTS:      util.FormatTimestamp(*g.LastTimestamp),
			PollTS:     util.FormatTimestamp(pollAt),
			LowerSec:   g.LatencyWindow.LowerSec,
			UpperSec:   g.LatencyWindow.UpperSec,
			LatencySec: g.LatencyLocSec,
		}
		if err := client.PostJSON(ctx, base+"/sample", sample); err != nil {
			log.Debug().Str("gauge", gaugeID).Err(err).Msg("community publish failed")
		}
	}
}
