package model

// FloodThresholds holds the stage levels at which a gauge's status escalates.
// A nil level means the level is not defined for that gauge.
type FloodThresholds struct {
	Action   *float64
	Minor    *float64
	Moderate *float64
	Major    *float64
}

// Status buckets for the gauge table.
const (
	StatusUnknown  = "—"
	StatusNormal   = "NORMAL"
	StatusAction   = "ACTION"
	StatusMinor    = "MINOR FLOOD"
	StatusModerate = "MOD FLOOD"
	StatusMajor    = "MAJOR FLOOD"
)

// ClassifyStage maps a stage reading onto a flood status. Gauges without
// thresholds, or readings without a stage, classify as unknown.
func ClassifyStage(stage *float64, th *FloodThresholds) string {
	if stage == nil || th == nil {
		return StatusUnknown
	}
	s := *stage
	switch {
	case th.Major != nil && s >= *th.Major:
		return StatusMajor
	case th.Moderate != nil && s >= *th.Moderate:
		return StatusModerate
	case th.Minor != nil && s >= *th.Minor:
		return StatusMinor
	case th.Action != nil && s >= *th.Action:
		return StatusAction
	case th.Action == nil && th.Minor == nil && th.Moderate == nil && th.Major == nil:
		return StatusUnknown
	default:
		return StatusNormal
	}
}
