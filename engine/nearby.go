package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/state"
	"github.com/ftahirops/streamvis/usgs"
)

const (
	nearbyRefreshInterval = 24 * time.Hour
	nearbyMaxRadiusMiles  = 180.0
)

// MaybeDiscoverNearby registers active stream gauges around the configured
// coordinates as dynamic gauges, at most once per 24 h. The search radius
// doubles (up to 180 mi) until at least one site answers. When nearby mode
// is off, any previously discovered gauges are evicted instead.
func MaybeDiscoverNearby(ctx context.Context, st *model.State, legacy *usgs.LegacyAdapter, enabled bool, lat, lon, radiusMiles float64, now time.Time, log zerolog.Logger) {
	meta := st.Meta
	if !enabled {
		if removed := state.EvictDynamicGauges(st); len(removed) > 0 {
			meta.NearbyEnabled = false
			log.Info().Strs("gauges", removed).Msg("evicted dynamic gauges")
		}
		return
	}
	if last := meta.NearbySearchAt; last != nil && now.Sub(*last) < nearbyRefreshInterval {
		return
	}
	meta.NearbyEnabled = true
	meta.UserLat = model.Float(lat)
	meta.UserLon = model.Float(lon)
	meta.NearbySearchAt = model.Time(now)

	var sites []model.DynamicSite
	for r := radiusMiles; r <= nearbyMaxRadiusMiles; r *= 2 {
		found, _, err := legacy.FetchSitesNear(ctx, lat, lon, r)
		if err != nil {
			log.Warn().Float64("radius_mi", r).Err(err).Msg("nearby site search failed")
			return
		}
		if len(found) > 0 {
			sites = found
			break
		}
	}
	if len(sites) == 0 {
		log.Info().Msg("no nearby stream gauges found")
		return
	}

	sort.Slice(sites, func(i, j int) bool {
		return sites[i].DistanceMiles < sites[j].DistanceMiles
	})
	registerDynamicSites(st, sites)
	log.Info().Int("sites", len(sites)).Msg("registered nearby gauges")
}

// registerDynamicSites assigns U-prefixed gauge ids to discovered sites,
// reusing the id of a site that is already tracked.
func registerDynamicSites(st *model.State, sites []model.DynamicSite) {
	meta := st.Meta
	if meta.DynamicSites == nil {
		meta.DynamicSites = make(map[string]model.DynamicSite)
	}
	siteToID := make(map[string]string, len(meta.DynamicSites))
	for id, s := range meta.DynamicSites {
		siteToID[s.SiteNo] = id
	}
	next := len(meta.DynamicSites) + 1
	ids := make([]string, 0, len(sites))
	for _, s := range sites {
		id, ok := siteToID[s.SiteNo]
		if !ok {
			id = fmt.Sprintf("U%d", next)
			next++
		}
		meta.DynamicSites[id] = s
		ids = append(ids, id)
	}
	sort.Strings(ids)
	meta.NearbyGauges = ids
}

// DynamicGauges materializes the discovered sites as gauge descriptors.
func DynamicGauges(st *model.State) []model.Gauge {
	meta := st.Meta
	if meta == nil || len(meta.DynamicSites) == 0 {
		return nil
	}
	ids := make([]string, 0, len(meta.DynamicSites))
	for id := range meta.DynamicSites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.Gauge, 0, len(ids))
	for _, id := range ids {
		s := meta.DynamicSites[id]
		out = append(out, model.Gauge{
			ID:      id,
			SiteNo:  s.SiteNo,
			Name:    s.Name,
			Lat:     model.Float(s.Lat),
			Lon:     model.Float(s.Lon),
			Dynamic: true,
		})
	}
	return out
}
