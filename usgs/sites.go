package usgs

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ftahirops/streamvis/config"
	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/util"
)

// FetchSitesNear queries the legacy site service for active stream gauges
// with instantaneous values inside a bounding box around (lat, lon).
func (a *LegacyAdapter) FetchSitesNear(ctx context.Context, lat, lon, radiusMiles float64) ([]model.DynamicSite, time.Duration, error) {
	west, south, east, north := util.BBoxForRadius(lat, lon, radiusMiles)
	params := url.Values{}
	params.Set("format", "rdb")
	params.Set("bBox", fmt.Sprintf("%.5f,%.5f,%.5f,%.5f", west, south, east, north))
	params.Set("siteStatus", "active")
	params.Set("hasDataTypeCd", "iv")
	params.Set("siteType", "ST")
	params.Set("parameterCd", paramFlow+","+paramStage)

	start := time.Now()
	text, err := a.Client.GetText(ctx, string(a.Name()), config.LegacySiteURL, params)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, err
	}

	sites := ParseSiteRDB(text)
	for i := range sites {
		sites[i].DistanceMiles = util.HaversineMiles(lat, lon, sites[i].Lat, sites[i].Lon)
	}
	return sites, elapsed, nil
}

// ParseSiteRDB parses the tab-separated USGS RDB site listing. The format is
// a comment block, a header row, a column-width row, then data rows.
func ParseSiteRDB(text string) []model.DynamicSite {
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimRight(ln, "\r")
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		lines = append(lines, ln)
	}
	if len(lines) < 3 {
		return nil
	}

	header := strings.Split(lines[0], "\t")
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, required := range []string{"site_no", "station_nm", "dec_lat_va", "dec_long_va"} {
		if _, ok := idx[required]; !ok {
			return nil
		}
	}

	var sites []model.DynamicSite
	for _, ln := range lines[2:] {
		parts := strings.Split(ln, "\t")
		if len(parts) < len(header) {
			continue
		}
		siteNo := strings.TrimSpace(parts[idx["site_no"]])
		if siteNo == "" {
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[idx["dec_lat_va"]]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[idx["dec_long_va"]]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		name := strings.TrimSpace(parts[idx["station_nm"]])
		if name == "" {
			name = siteNo
		}
		sites = append(sites, model.DynamicSite{
			SiteNo: siteNo,
			Name:   name,
			Lat:    lat,
			Lon:    lon,
		})
	}
	return sites
}
