package usgs

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/ftahirops/streamvis/config"
	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/util"
)

// Parameter codes: discharge (cfs) and gage height (ft).
const (
	paramFlow  = "00060"
	paramStage = "00065"
)

// LegacyAdapter queries the WaterServices instantaneous-values API in a
// single batched GET per fetch.
type LegacyAdapter struct {
	Client *Client
	IVURL  string
}

// NewLegacyAdapter builds the legacy adapter against the default endpoint.
func NewLegacyAdapter(c *Client) *LegacyAdapter {
	return &LegacyAdapter{Client: c, IVURL: config.LegacyIVURL}
}

// Name returns the backend identifier.
func (a *LegacyAdapter) Name() model.Backend { return model.BackendLegacy }

// ivPayload mirrors the nested WaterServices JSON response.
type ivPayload struct {
	Value struct {
		TimeSeries []ivTimeSeries `json:"timeSeries"`
	} `json:"value"`
}

type ivTimeSeries struct {
	SourceInfo struct {
		SiteCode []struct {
			Value string `json:"value"`
		} `json:"siteCode"`
	} `json:"sourceInfo"`
	Variable struct {
		VariableCode []struct {
			Value string `json:"value"`
		} `json:"variableCode"`
	} `json:"variable"`
	Values []struct {
		Value []struct {
			Value    string `json:"value"`
			DateTime string `json:"dateTime"`
		} `json:"value"`
	} `json:"values"`
}

// FetchLatest returns the newest reading per gauge. modifiedSince, when
// positive, narrows the upstream query to recently changed stations.
// Failures yield an empty map plus a typed error; the call never panics.
func (a *LegacyAdapter) FetchLatest(ctx context.Context, siteMap map[string]string, modifiedSince time.Duration) (map[string]model.Reading, time.Duration, error) {
	if len(siteMap) == 0 {
		return map[string]model.Reading{}, 0, nil
	}
	params := url.Values{}
	params.Set("format", "json")
	params.Set("sites", joinSites(siteMap))
	params.Set("parameterCd", paramFlow+","+paramStage)
	params.Set("siteStatus", "all")
	if modifiedSince > 0 {
		params.Set("modifiedSince", util.ISO8601Duration(modifiedSince))
	}

	var payload ivPayload
	start := time.Now()
	err := a.Client.GetJSON(ctx, string(a.Name()), a.IVURL, params, &payload)
	elapsed := time.Since(start)
	if err != nil {
		return map[string]model.Reading{}, elapsed, err
	}

	siteToGauge := invertSites(siteMap)
	readings := make(map[string]model.Reading, len(siteMap))
	for _, ts := range payload.Value.TimeSeries {
		gaugeID, param, ok := seriesKey(ts, siteToGauge)
		if !ok || len(ts.Values) == 0 || len(ts.Values[0].Value) == 0 {
			continue
		}
		last := ts.Values[0].Value[len(ts.Values[0].Value)-1]
		val, err := strconv.ParseFloat(last.Value, 64)
		if err != nil {
			continue
		}
		obsAt, ok := util.ParseTimestamp(last.DateTime)
		if !ok {
			continue
		}
		r := readings[gaugeID]
		applyMetric(&r, param, val)
		if r.ObservedAt == nil || obsAt.After(*r.ObservedAt) {
			r.ObservedAt = model.Time(obsAt)
		}
		readings[gaugeID] = r
	}
	return readings, elapsed, nil
}

// FetchHistory returns up to periodHours of points per gauge, merged across
// both metrics and sorted ascending by timestamp.
func (a *LegacyAdapter) FetchHistory(ctx context.Context, siteMap map[string]string, periodHours int) (map[string][]model.HistoryPoint, time.Duration, error) {
	if len(siteMap) == 0 {
		return map[string][]model.HistoryPoint{}, 0, nil
	}
	params := url.Values{}
	params.Set("format", "json")
	params.Set("sites", joinSites(siteMap))
	params.Set("parameterCd", paramFlow+","+paramStage)
	params.Set("period", fmt.Sprintf("PT%dH", periodHours))
	params.Set("siteStatus", "all")

	var payload ivPayload
	start := time.Now()
	err := a.Client.GetJSON(ctx, string(a.Name()), a.IVURL, params, &payload)
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
	for _, ts := range payload.Value.TimeSeries {
		gaugeID, param, ok := seriesKey(ts, siteToGauge)
		if !ok || len(ts.Values) == 0 {
			continue
		}
		for _, v := range ts.Values[0].Value {
			val, err := strconv.ParseFloat(v.Value, 64)
			if err != nil {
				continue
			}
			obsAt, ok := util.ParseTimestamp(v.DateTime)
			if !ok {
				continue
			}
			k := key{gauge: gaugeID, ts: obsAt}
			p, exists := points[k]
			if !exists {
				p = &model.HistoryPoint{TS: obsAt}
				points[k] = p
			}
			if param == paramFlow {
				p.Flow = model.Float(val)
			} else {
				p.Stage = model.Float(val)
			}
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

func seriesKey(ts ivTimeSeries, siteToGauge map[string]string) (gaugeID, param string, ok bool) {
	if len(ts.SourceInfo.SiteCode) == 0 || len(ts.Variable.VariableCode) == 0 {
		return "", "", false
	}
	gaugeID, found := siteToGauge[ts.SourceInfo.SiteCode[0].Value]
	if !found {
		return "", "", false
	}
	param = ts.Variable.VariableCode[0].Value
	if param != paramFlow && param != paramStage {
		return "", "", false
	}
	return gaugeID, param, true
}

func applyMetric(r *model.Reading, param string, val float64) {
	if param == paramFlow {
		r.Flow = model.Float(val)
	} else {
		r.Stage = model.Float(val)
	}
}

func joinSites(siteMap map[string]string) string {
	sites := make([]string, 0, len(siteMap))
	for _, s := range siteMap {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	out := ""
	for i, s := range sites {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func invertSites(siteMap map[string]string) map[string]string {
	inv := make(map[string]string, len(siteMap))
	for gaugeID, siteNo := range siteMap {
		inv[siteNo] = gaugeID
	}
	return inv
}
