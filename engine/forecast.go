package engine

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftahirops/streamvis/config"
	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/usgs"
	"github.com/ftahirops/streamvis/util"
)

const forecastRefreshInterval = 60 * time.Minute

// MaybeRefreshForecasts pulls the optional overlay series for every tracked
// gauge, at most once per hour. Failures leave previous data intact.
func MaybeRefreshForecasts(ctx context.Context, st *model.State, client *usgs.Client, gauges []model.Gauge, opts config.Options, now time.Time, log zerolog.Logger) {
	if opts.ForecastBase == "" {
		return
	}
	if last := st.Meta.LastForecastFetchAt; last != nil && now.Sub(*last) < forecastRefreshInterval {
		return
	}
	st.Meta.LastForecastFetchAt = model.Time(now)

	for _, g := range gauges {
		u := ResolveForecastURL(opts.ForecastBase, g.ID, g.SiteNo, config.NWRFCIDs[g.ID])
		var raw json.RawMessage
		if err := client.GetJSON(ctx, "forecast", u, nil, &raw); err != nil {
			log.Debug().Str("gauge", g.ID).Err(err).Msg("forecast fetch failed")
			continue
		}
		points := ParseForecastSeries(raw)
		if len(points) == 0 {
			continue
		}
		ApplyForecast(st, g.ID, points, now, opts.ForecastHours)
	}
}

// ResolveForecastURL substitutes the per-gauge placeholders into a template.
func ResolveForecastURL(template, gaugeID, siteNo, nwsLID string) string {
	return strings.NewReplacer(
		"{gauge_id}", gaugeID,
		"{site_no}", siteNo,
		"{nws_lid}", nwsLID,
	).Replace(template)
}

// forecastEntry covers the field spellings seen across forecast feeds.
type forecastEntry struct {
	ValidTime string `json:"validTime"`
	Time      string `json:"time"`
	TS        string `json:"ts"`

	StageFt json.RawMessage `json:"stage_ft"`
	Stage   json.RawMessage `json:"stage"`
	Value   json.RawMessage `json:"value"`
	FlowCFS json.RawMessage `json:"flow_cfs"`
	Flow    json.RawMessage `json:"flow"`
}

// ParseForecastSeries extracts (ts, stage, flow) points from a
// shape-agnostic payload: either a top-level array or an object carrying one
// under a conventional key. Unparseable entries are skipped.
func ParseForecastSeries(raw json.RawMessage) []model.HistoryPoint {
	var entries []forecastEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil
		}
		for _, key := range []string{"forecast", "values", "data", "series"} {
			inner, ok := wrapper[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(inner, &entries); err == nil {
				break
			}
			entries = nil
		}
	}

	points := make([]model.HistoryPoint, 0, len(entries))
	for _, e := range entries {
		tsRaw := e.ValidTime
		if tsRaw == "" {
			tsRaw = e.Time
		}
		if tsRaw == "" {
			tsRaw = e.TS
		}
		ts, ok := util.ParseTimestamp(tsRaw)
		if !ok {
			continue
		}
		stage := lenientFloat(e.StageFt)
		if stage == nil {
			stage = lenientFloat(e.Stage)
		}
		if stage == nil {
			stage = lenientFloat(e.Value)
		}
		flow := lenientFloat(e.FlowCFS)
		if flow == nil {
			flow = lenientFloat(e.Flow)
		}
		points = append(points, model.HistoryPoint{TS: ts, Stage: stage, Flow: flow})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].TS.Before(points[j].TS) })
	return points
}

// lenientFloat accepts a JSON number or numeric string, nil otherwise.
func lenientFloat(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return model.Float(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return model.Float(f)
		}
	}
	return nil
}

// ApplyForecast merges freshly fetched points into a gauge's overlay state,
// trims to ±horizon around now, and recomputes summaries and bias.
func ApplyForecast(st *model.State, gaugeID string, points []model.HistoryPoint, now time.Time, horizonHours int) {
	if st.Forecast == nil {
		st.Forecast = make(map[string]*model.ForecastState)
	}
	fc, ok := st.Forecast[gaugeID]
	if !ok {
		fc = &model.ForecastState{}
		st.Forecast[gaugeID] = fc
	}

	byTS := make(map[time.Time]model.HistoryPoint, len(fc.Points)+len(points))
	for _, p := range fc.Points {
		byTS[p.TS.UTC()] = p
	}
	for _, p := range points {
		p.TS = p.TS.UTC()
		byTS[p.TS] = p
	}
	horizon := time.Duration(horizonHours) * time.Hour
	merged := make([]model.HistoryPoint, 0, len(byTS))
	for ts, p := range byTS {
		if horizon > 0 && (ts.Before(now.Add(-horizon)) || ts.After(now.Add(horizon))) {
			continue
		}
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].TS.Before(merged[j].TS) })
	fc.Points = merged

	fc.Summary3h = summarizeForecast(merged, now, 3*time.Hour)
	fc.Summary24h = summarizeForecast(merged, now, 24*time.Hour)
	fc.SummaryFull = summarizeForecast(merged, now, horizon)
	applyForecastBias(st, gaugeID, fc)
	applyForecastPhase(st, gaugeID, fc)
	fc.LastFetchAt = model.Time(now)
}

// summarizeForecast computes forward-looking stage/flow maxima within span.
func summarizeForecast(points []model.HistoryPoint, now time.Time, span time.Duration) *model.ForecastSummary {
	var out model.ForecastSummary
	found := false
	for _, p := range points {
		delta := p.TS.Sub(now)
		if delta < 0 || (span > 0 && delta > span) {
			continue
		}
		if p.Stage != nil && (out.StageMax == nil || *p.Stage > *out.StageMax) {
			out.StageMax = p.Stage
			out.StageTime = model.Time(p.TS)
			found = true
		}
		if p.Flow != nil && (out.FlowMax == nil || *p.Flow > *out.FlowMax) {
			out.FlowMax = p.Flow
			out.FlowTime = model.Time(p.TS)
			found = true
		}
	}
	if !found {
		return nil
	}
	return &out
}

// applyForecastBias compares the latest observation against the forecast
// point nearest in time to it.
func applyForecastBias(st *model.State, gaugeID string, fc *model.ForecastState) {
	g, ok := st.Gauges[gaugeID]
	if !ok || g.LastTimestamp == nil || len(fc.Points) == 0 {
		return
	}
	var nearest *model.HistoryPoint
	best := math.Inf(1)
	for i := range fc.Points {
		diff := math.Abs(fc.Points[i].TS.Sub(*g.LastTimestamp).Seconds())
		if diff < best {
			best = diff
			nearest = &fc.Points[i]
		}
	}
	if nearest == nil {
		return
	}
	if g.LastStage != nil && nearest.Stage != nil {
		fc.StageDelta = model.Float(*g.LastStage - *nearest.Stage)
		if *nearest.Stage != 0 {
			fc.StageRatio = model.Float(*g.LastStage / *nearest.Stage)
		}
	}
	if g.LastFlow != nil && nearest.Flow != nil {
		fc.FlowDelta = model.Float(*g.LastFlow - *nearest.Flow)
		if *nearest.Flow != 0 {
			fc.FlowRatio = model.Float(*g.LastFlow / *nearest.Flow)
		}
	}
}

// applyForecastPhase records observed stage peak minus forecast stage peak.
func applyForecastPhase(st *model.State, gaugeID string, fc *model.ForecastState) {
	g, ok := st.Gauges[gaugeID]
	if !ok || fc.SummaryFull == nil || fc.SummaryFull.StageTime == nil {
		return
	}
	var peakAt *time.Time
	var peakStage float64
	for i := range g.History {
		p := g.History[i]
		if p.Stage == nil {
			continue
		}
		if peakAt == nil || *p.Stage > peakStage {
			peakStage = *p.Stage
			peakAt = model.Time(p.TS)
		}
	}
	if peakAt == nil {
		return
	}
	fc.PhaseShiftSec = model.Float(peakAt.Sub(*fc.SummaryFull.StageTime).Seconds())
}
