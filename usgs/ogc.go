package usgs

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ftahirops/streamvis/config"
	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/util"
)

// ModernAdapter queries the OGC API–Features endpoints. Monitoring locations
// are addressed as "USGS-<site_no>".
type ModernAdapter struct {
	Client    *Client
	LatestURL string
	RangeURL  string
}

// NewModernAdapter builds the modern adapter against the default endpoints.
func NewModernAdapter(c *Client) *ModernAdapter {
	return &ModernAdapter{
		Client:    c,
		LatestURL: config.ModernLatestContinuous,
		RangeURL:  config.ModernContinuous,
	}
}

// Name returns the backend identifier.
func (a *ModernAdapter) Name() model.Backend { return model.BackendModern }

type ogcPayload struct {
	Features []struct {
		Properties struct {
			MonitoringLocationID string          `json:"monitoringLocationId"`
			ParameterCode        string          `json:"parameterCode"`
			Value                json.RawMessage `json:"value"`
			PhenomenonTime       string          `json:"phenomenonTime"`
		} `json:"properties"`
	} `json:"features"`
}

// FetchLatest returns the newest reading per gauge, merging the per-variable
// features by (site_no, observation time). The modifiedSince hint is ignored;
// the latest-continuous collection always returns one point per variable.
func (a *ModernAdapter) FetchLatest(ctx context.Context, siteMap map[string]string, _ time.Duration) (map[string]model.Reading, time.Duration, error) {
	if len(siteMap) == 0 {
		return map[string]model.Reading{}, 0, nil
	}
	params := url.Values{}
	params.Set("f", "json")
	params.Set("monitoringLocationId", monitoringIDs(siteMap))
	params.Set("parameterCode", paramFlow+","+paramStage)
	params.Set("limit", strconv.Itoa(len(siteMap)*2+10))

	var payload ogcPayload
	start := time.Now()
	err := a.Client.GetJSON(ctx, string(a.Name()), a.LatestURL, params, &payload)
	elapsed := time.Since(start)
	if err != nil {
		return map[string]model.Reading{}, elapsed, err
	}

	siteToGauge := invertSites(siteMap)
	readings := make(map[string]model.Reading, len(siteMap))
	for _, f := range payload.Features {
		props := f.Properties
		gaugeID, ok := siteToGauge[stripSitePrefix(props.MonitoringLocationID)]
		if !ok {
			continue
		}
		if props.ParameterCode != paramFlow && props.ParameterCode != paramStage {
			continue
		}
		val, ok := coerceFloat(props.Value)
		if !ok {
			continue
		}
		obsAt, ok := util.ParseTimestamp(props.PhenomenonTime)
		if !ok {
			continue
		}
		r := readings[gaugeID]
		applyMetric(&r, props.ParameterCode, val)
		if r.ObservedAt == nil || obsAt.After(*r.ObservedAt) {
			r.ObservedAt = model.Time(obsAt)
		}
		readings[gaugeID] = r
	}
	return readings, elapsed, nil
}

// FetchHistory returns points in [start, end) per gauge, ascending.
func (a *ModernAdapter) FetchHistory(ctx context.Context, siteMap map[string]string, startAt, endAt time.Time) (map[string][]model.HistoryPoint, time.Duration, error) {
	if len(siteMap) == 0 {
		return map[string][]model.HistoryPoint{}, 0, nil
	}
	params := url.Values{}
	params.Set("f", "json")
	params.Set("monitoringLocationId", monitoringIDs(siteMap))
	params.Set("parameterCode", paramFlow+","+paramStage)
	params.Set("datetime", startAt.UTC().Format("2006-01-02T15:04:05Z")+"/"+endAt.UTC().Format("2006-01-02T15:04:05Z"))
	params.Set("limit", "10000")

	var payload ogcPayload
	start := time.Now()
	err := a.Client.GetJSON(ctx, string(a.Name()), a.RangeURL, params, &payload)
	elapsed := time.Since(start)
	if err != nil {
		return map[string][]model.HistoryPoint{}, elapsed, err
	}

	siteToGauge := invertSites(siteMap)
	type key struct {
		gauge string
		ts    time.Time
	}
	points := make(map[key]*model.HistoryPoint)
	for _, f := range payload.Features {
		props := f.Properties
		gaugeID, ok := siteToGauge[stripSitePrefix(props.MonitoringLocationID)]
		if !ok {
			continue
		}
		if props.ParameterCode != paramFlow && props.ParameterCode != paramStage {
			continue
		}
		val, ok := coerceFloat(props.Value)
		if !ok {
			continue
		}
		obsAt, ok := util.ParseTimestamp(props.PhenomenonTime)
		if !ok {
			continue
		}
		k := key{gauge: gaugeID, ts: obsAt}
		p, exists := points[k]
		if !exists {
			p = &model.HistoryPoint{TS: obsAt}
			points[k] = p
		}
		if props.ParameterCode == paramFlow {
			p.Flow = model.Float(val)
		} else {
			p.Stage = model.Float(val)
		}
	}

	out := make(map[string][]model.HistoryPoint, len(siteMap))
	for k, p := range points {
		out[k.gauge] = append(out[k.gauge], *p)
	}
	for id := range out {
		sort.Slice(out[id], func(i, j int) bool { return out[id][i].TS.Before(out[id][j].TS) })
	}
	return out, elapsed, nil
}

func monitoringIDs(siteMap map[string]string) string {
	sites := make([]string, 0, len(siteMap))
	for _, s := range siteMap {
		sites = append(sites, "USGS-"+s)
	}
	sort.Strings(sites)
	return strings.Join(sites, ",")
}

func stripSitePrefix(locID string) string {
	return strings.TrimPrefix(locID, "USGS-")
}

// coerceFloat accepts either a JSON number or a numeric string.
func coerceFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
