package engine

import (
	"context"
	"net/url"
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

const nwrfcRefreshInterval = 15 * time.Minute

// MaybeRefreshNWRFC cross-checks observed stage/flow against the river
// forecast center's textPlot output for the mapped stations, at most once
// per 15 minutes. Failures leave previous data intact.
func MaybeRefreshNWRFC(ctx context.Context, st *model.State, client *usgs.Client, now time.Time, log zerolog.Logger) {
	if last := st.Meta.LastNWRFCFetchAt; last != nil && now.Sub(*last) < nwrfcRefreshInterval {
		return
	}
	st.Meta.LastNWRFCFetchAt = model.Time(now)

	for gaugeID, nwrfcID := range config.NWRFCIDs {
		params := url.Values{}
		params.Set("id", nwrfcID)
		params.Set("pe", "HG")
		params.Set("bt", "on")
		text, err := client.GetText(ctx, "nwrfc", config.NWRFCTextBase, params)
		if err != nil {
			log.Debug().Str("gauge", gaugeID).Err(err).Msg("nwrfc fetch failed")
			continue
		}
		observed, forecast := ParseNWRFCText(text)
		if len(observed) == 0 && len(forecast) == 0 {
			continue
		}
		if st.NWRFC == nil {
			st.NWRFC = make(map[string]*model.NWRFCState)
		}
		st.NWRFC[gaugeID] = &model.NWRFCState{
			Observed:    observed,
			Forecast:    forecast,
			LastFetchAt: model.Time(now),
		}
	}
}

// ParseNWRFCText parses textPlot output into observed and forecast series.
//
// The format is a header block with "Forecast/Trend Issued: <ts> <TZ>", a
// column header row, then rows whose first four columns are observed
// (date, time, stage, discharge) with optional forecast columns following.
func ParseNWRFCText(text string) (observed, forecast []model.HistoryPoint) {
	if text == "" {
		return nil, nil
	}
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			lines = append(lines, ln)
		}
	}

	tzLabel := "PST"
	for _, ln := range lines {
		if strings.Contains(ln, "Forecast/Trend Issued:") {
			parts := strings.Fields(ln)
			if len(parts) > 0 {
				tzLabel = parts[len(parts)-1]
			}
			break
		}
	}

	for _, ln := range lines {
		if strings.HasPrefix(ln, "SF ") || strings.Contains(ln, "Date/Time") ||
			strings.HasPrefix(ln, "Observed") {
			continue
		}
		parts := strings.Fields(ln)
		if len(parts) < 4 {
			continue
		}
		if p, ok := nwrfcPoint(parts[0], parts[1], parts[2], parts[3], tzLabel); ok {
			observed = append(observed, p)
		}
		if len(parts) >= 8 {
			if p, ok := nwrfcPoint(parts[4], parts[5], parts[6], parts[7], tzLabel); ok {
				forecast = append(forecast, p)
			}
		}
	}
	sortPoints(observed)
	sortPoints(forecast)
	return observed, forecast
}

func nwrfcPoint(dateStr, timeStr, stageRaw, flowRaw, tzLabel string) (model.HistoryPoint, bool) {
	ts, ok := util.ParseRFCLocalTime(dateStr, timeStr, tzLabel)
	if !ok {
		return model.HistoryPoint{}, false
	}
	p := model.HistoryPoint{TS: ts}
	if v, err := strconv.ParseFloat(stageRaw, 64); err == nil {
		p.Stage = model.Float(v)
	}
	if v, err := strconv.ParseFloat(flowRaw, 64); err == nil {
		p.Flow = model.Float(v)
	}
	return p, true
}

func sortPoints(points []model.HistoryPoint) {
	sort.Slice(points, func(i, j int) bool { return points[i].TS.Before(points[j].TS) })
}
