// Package config holds user-configurable defaults, the static station map,
// and flood thresholds.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ftahirops/streamvis/model"
)

// Options holds the resolved runtime configuration.
type Options struct {
	Mode            string // once | adaptive | tui
	StateFile       string
	MinRetrySeconds int
	MaxRetrySeconds int
	BackfillHours   int

	ForecastBase  string
	ForecastHours int

	Backend model.Backend

	CommunityBase    string
	CommunityPublish bool

	NearbyEnabled     bool
	NearbyLat         float64
	NearbyLon         float64
	NearbyRadiusMiles float64

	UITickSec   float64
	ChartMetric string // stage | flow
	Debug       bool

	MetricsAddr string

	RequestTimeout time.Duration
}

// Default returns the option set used before flags and env are applied.
func Default() Options {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return Options{
		Mode:              "tui",
		StateFile:         filepath.Join(home, ".streamvis_state.json"),
		MinRetrySeconds:   60,
		MaxRetrySeconds:   300,
		BackfillHours:     6,
		ForecastHours:     72,
		Backend:           model.BackendBlended,
		NearbyRadiusMiles: 30.0,
		UITickSec:         0.15,
		ChartMetric:       "stage",
		RequestTimeout:    10 * time.Second,
	}
}

// ApplyEnv overlays STREAMVIS_* environment variables (optionally loaded from
// a .env file) onto opts. Flags parsed afterwards still win.
func ApplyEnv(opts *Options) {
	_ = godotenv.Load(".env")

	if v := strings.TrimSpace(os.Getenv("STREAMVIS_STATE_FILE")); v != "" {
		opts.StateFile = v
	}
	if v := strings.TrimSpace(os.Getenv("STREAMVIS_BACKEND")); v != "" {
		if b := model.Backend(v); b.Valid() {
			opts.Backend = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("STREAMVIS_FORECAST_BASE")); v != "" {
		opts.ForecastBase = v
	}
	if v := strings.TrimSpace(os.Getenv("STREAMVIS_COMMUNITY_BASE")); v != "" {
		opts.CommunityBase = v
	}
	if v := strings.TrimSpace(os.Getenv("STREAMVIS_METRICS_ADDR")); v != "" {
		opts.MetricsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("STREAMVIS_REQUEST_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			opts.RequestTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("STREAMVIS_DEBUG")); v != "" {
		opts.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(os.Getenv("STREAMVIS_BACKFILL_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.BackfillHours = n
		}
	}
}

// PrimaryGauges lists the statically configured stations in display order.
// Snoqualmie basin: most update on 15-minute multiples.
var PrimaryGauges = []model.Gauge{
	{ID: "TANW1", SiteNo: "12141300", Name: "MF Snoqualmie nr Tanner", Lat: model.Float(47.485912), Lon: model.Float(-121.647864)},
	{ID: "GARW1", SiteNo: "12143400", Name: "SF Snoqualmie ab Alice Cr", Lat: model.Float(47.4151086), Lon: model.Float(-121.5873213)},
	{ID: "EDGW1", SiteNo: "12143600", Name: "SF Snoqualmie at Edgewick", Lat: model.Float(47.4527778), Lon: model.Float(-121.7166667)},
	{ID: "SQUW1", SiteNo: "12144500", Name: "Snoqualmie nr Snoqualmie", Lat: model.Float(47.5451019), Lon: model.Float(-121.8423360)},
	{ID: "CRNW1", SiteNo: "12149000", Name: "Snoqualmie nr Carnation", Lat: model.Float(47.6659340), Lon: model.Float(-121.9253969)},
}

// FloodThresholds maps gauge ids to NWS stage thresholds (feet).
var FloodThresholds = map[string]*model.FloodThresholds{
	"CRNW1": {Action: model.Float(50.7), Minor: model.Float(54.0), Moderate: model.Float(56.0), Major: model.Float(58.0)},
	"SQUW1": {Action: model.Float(11.94), Minor: model.Float(13.54), Moderate: model.Float(16.21), Major: model.Float(17.42)},
}

// NWRFCIDs maps gauge ids to NWRFC station identifiers where a cross-check
// plot exists.
var NWRFCIDs = map[string]string{
	"GARW1": "GARW1",
	"CRNW1": "CRNW1",
	"SQUW1": "SQUW1",
}

// Upstream endpoints.
const (
	LegacyIVURL   = "https://waterservices.usgs.gov/nwis/iv/"
	LegacySiteURL = "https://waterservices.usgs.gov/nwis/site/"

	ModernAPIBase          = "https://api.waterdata.usgs.gov/ogcapi/v0"
	ModernLatestContinuous = ModernAPIBase + "/collections/latest-continuous/items"
	ModernContinuous       = ModernAPIBase + "/collections/continuous/items"

	NWRFCTextBase = "https://www.nwrfc.noaa.gov/station/flowplot/textPlot.cgi"
)
