// Package model defines the shared data types for streamvis: the persisted
// state document, per-gauge learning state, backend statistics, and the
// reading shape produced by the upstream adapters.
package model

import "time"

// HistoryLimit caps every rolling per-gauge sequence (history, deltas,
// latency samples).
const HistoryLimit = 120

// Cadence and latency bounds shared by the store and the learners.
const (
	CadenceBaseSec  = 15 * 60     // 15-minute grid
	CadenceMaxMult  = 24          // largest learnable multiple (6h)
	MinIntervalSec  = 900.0       // clamp floor for mean_interval_sec
	MaxIntervalSec  = 6 * 3600.0  // clamp ceiling for mean_interval_sec
	CadenceSnapTol  = 180.0       // grid jitter tolerance, seconds
	CadenceFitMin   = 0.60        // confidence needed to adopt a multiple
	CadenceClearMin = 0.45        // a held multiple survives down to this fit
	MinUpdateGapSec = 60.0        // sub-minute deltas are duplicate noise

	LatencyPriorLocSec   = 600.0
	LatencyPriorScaleSec = 100.0
)

// StateSchemaVersion marks the persisted document layout.
const StateSchemaVersion = 1

// Backend identifies an upstream API flavor, or the blended policy.
type Backend string

const (
	BackendBlended Backend = "blended"
	BackendLegacy  Backend = "legacy"
	BackendModern  Backend = "modern"
)

// Valid reports whether b is one of the three known backends.
func (b Backend) Valid() bool {
	return b == BackendBlended || b == BackendLegacy || b == BackendModern
}

// Gauge describes one tracked station.
type Gauge struct {
	ID      string
	SiteNo  string
	Name    string
	Lat     *float64
	Lon     *float64
	Dynamic bool
}

// HistoryPoint is one observation in a gauge's rolling history.
type HistoryPoint struct {
	TS    time.Time `json:"ts"`
	Stage *float64  `json:"stage"`
	Flow  *float64  `json:"flow"`
}

// Reading is the latest observation for one gauge as returned by an adapter.
// Either metric may be absent on partial reads.
type Reading struct {
	ObservedAt *time.Time
	Stage      *float64
	Flow       *float64
}

// LatencyWindow brackets one observation→visibility latency sample.
type LatencyWindow struct {
	LowerSec float64 `json:"lower_sec"`
	UpperSec float64 `json:"upper_sec"`
}

// GaugeState is the persisted per-gauge document.
type GaugeState struct {
	LastTimestamp *time.Time     `json:"last_timestamp,omitempty"`
	LastStage     *float64       `json:"last_stage,omitempty"`
	LastFlow      *float64       `json:"last_flow,omitempty"`
	History       []HistoryPoint `json:"history,omitempty"`

	// Cadence learning.
	MeanIntervalSec float64   `json:"mean_interval_sec,omitempty"`
	CadenceMult     int       `json:"cadence_mult,omitempty"`
	CadenceFit      float64   `json:"cadence_fit,omitempty"`
	PhaseOffsetSec  *float64  `json:"phase_offset_sec,omitempty"`
	Deltas          []float64 `json:"deltas,omitempty"`

	// Latency learning.
	LatencyLocSec   float64        `json:"latency_loc_sec,omitempty"`
	LatencyScaleSec float64        `json:"latency_scale_sec,omitempty"`
	LatencySamples  []float64      `json:"latency_samples,omitempty"`
	LatencyWindow   *LatencyWindow `json:"latency_window,omitempty"`

	// Polling instrumentation.
	NoUpdatePolls      int        `json:"no_update_polls,omitempty"`
	PollsPerUpdateEWMA float64    `json:"polls_per_update_ewma,omitempty"`
	LastPollTS         *time.Time `json:"last_poll_ts,omitempty"`
	NextETA            *time.Time `json:"next_eta,omitempty"`
}

// BackendStats tracks request latency and reliability for one backend.
type BackendStats struct {
	LatencyEWMAMs     float64    `json:"latency_ewma_ms"`
	LatencyVarEWMAMs2 float64    `json:"latency_var_ewma_ms2"`
	SuccessCount      int        `json:"success_count"`
	FailCount         int        `json:"fail_count"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt     *time.Time `json:"last_failure_at,omitempty"`
	LastFailReason    string     `json:"last_fail_reason,omitempty"`
}

// DynamicSite is metadata for a nearby-discovered station.
type DynamicSite struct {
	SiteNo        string  `json:"site_no"`
	Name          string  `json:"station_nm"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	DistanceMiles float64 `json:"distance_miles"`
}

// Meta is the process-wide persisted state.
type Meta struct {
	StateVersion  int    `json:"state_version"`
	LoadError     string `json:"load_error,omitempty"`
	BackfillHours int    `json:"backfill_hours,omitempty"`

	LastBackfillCheckAt *time.Time `json:"last_backfill_check_at,omitempty"`
	LastFetchAt         *time.Time `json:"last_fetch_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastFailureReason   string     `json:"last_failure_reason,omitempty"`
	NextPollAt          *time.Time `json:"next_poll_at,omitempty"`

	APIBackend         Backend                  `json:"api_backend,omitempty"`
	LastBackendUsed    Backend                  `json:"last_backend_used,omitempty"`
	PreferredBackend   Backend                  `json:"preferred_backend,omitempty"`
	BackendStats       map[string]*BackendStats `json:"backend_stats,omitempty"`
	LastBackendProbeAt *time.Time               `json:"last_backend_probe_at,omitempty"`

	LastForecastFetchAt  *time.Time `json:"last_forecast_fetch_at,omitempty"`
	LastNWRFCFetchAt     *time.Time `json:"last_nwrfc_fetch_at,omitempty"`
	LastCommunityFetchAt *time.Time `json:"last_community_fetch_at,omitempty"`

	NearbyEnabled  bool                   `json:"nearby_enabled,omitempty"`
	UserLat        *float64               `json:"user_lat,omitempty"`
	UserLon        *float64               `json:"user_lon,omitempty"`
	NearbySearchAt *time.Time             `json:"nearby_search_at,omitempty"`
	NearbyGauges   []string               `json:"nearby_gauges,omitempty"`
	DynamicSites   map[string]DynamicSite `json:"dynamic_sites,omitempty"`
}

// ForecastSummary holds stage/flow maxima over one horizon.
type ForecastSummary struct {
	StageMax  *float64   `json:"stage_max,omitempty"`
	FlowMax   *float64   `json:"flow_max,omitempty"`
	StageTime *time.Time `json:"stage_time,omitempty"`
	FlowTime  *time.Time `json:"flow_time,omitempty"`
}

// ForecastState is the optional overlay series for one gauge.
type ForecastState struct {
	Points      []HistoryPoint   `json:"points,omitempty"`
	Summary3h   *ForecastSummary `json:"summary_3h,omitempty"`
	Summary24h  *ForecastSummary `json:"summary_24h,omitempty"`
	SummaryFull *ForecastSummary `json:"summary_full,omitempty"`

	// Amplitude bias: latest observation vs nearest forecast point.
	StageDelta *float64 `json:"stage_delta,omitempty"`
	StageRatio *float64 `json:"stage_ratio,omitempty"`
	FlowDelta  *float64 `json:"flow_delta,omitempty"`
	FlowRatio  *float64 `json:"flow_ratio,omitempty"`

	// Observed peak minus forecast peak, seconds.
	PhaseShiftSec *float64   `json:"phase_shift_sec,omitempty"`
	LastFetchAt   *time.Time `json:"last_fetch_at,omitempty"`
}

// NWRFCState is the river forecast center cross-check series for one gauge.
type NWRFCState struct {
	Observed    []HistoryPoint `json:"observed,omitempty"`
	Forecast    []HistoryPoint `json:"forecast,omitempty"`
	LastFetchAt *time.Time     `json:"last_fetch_at,omitempty"`
}

// State is the root persisted document.
type State struct {
	Gauges   map[string]*GaugeState    `json:"gauges"`
	Meta     *Meta                     `json:"meta"`
	Forecast map[string]*ForecastState `json:"forecast,omitempty"`
	NWRFC    map[string]*NWRFCState    `json:"nwrfc,omitempty"`
}

// NewState returns an empty state with initialized maps.
func NewState() *State {
	return &State{
		Gauges: make(map[string]*GaugeState),
		Meta:   &Meta{},
	}
}

// Gauge returns the state for id, creating it when absent.
func (s *State) Gauge(id string) *GaugeState {
	if s.Gauges == nil {
		s.Gauges = make(map[string]*GaugeState)
	}
	g, ok := s.Gauges[id]
	if !ok {
		g = &GaugeState{}
		s.Gauges[id] = g
	}
	return g
}

// BackendStat returns the stats bucket for a backend, creating it when absent.
func (m *Meta) BackendStat(b Backend) *BackendStats {
	if m.BackendStats == nil {
		m.BackendStats = make(map[string]*BackendStats)
	}
	st, ok := m.BackendStats[string(b)]
	if !ok {
		st = &BackendStats{}
		m.BackendStats[string(b)] = st
	}
	return st
}

// Float returns a pointer to v. Convenience for the nullable metric fields.
func Float(v float64) *float64 { return &v }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }
