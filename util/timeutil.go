package util

import (
	"fmt"
	"strings"
	"time"
)

// ParseTimestamp parses an ISO-8601 timestamp into UTC.
// Accepts both "Z" and numeric offsets, with or without sub-second precision.
// Returns the zero time when parsing fails.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders a UTC instant the way the state document stores it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ISO8601Duration renders a duration as "PT..H..M..S" for USGS modifiedSince.
func ISO8601Duration(d time.Duration) string {
	total := int(d.Seconds())
	if total <= 0 {
		return "PT0S"
	}
	minutes, secs := total/60, total%60
	hours, minutes := minutes/60, minutes%60
	var b strings.Builder
	b.WriteString("PT")
	if hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}
	if secs > 0 && hours == 0 && minutes == 0 {
		fmt.Fprintf(&b, "%dS", secs)
	}
	if b.Len() == 2 {
		b.WriteString("0S")
	}
	return b.String()
}

// FmtRel formats target relative to now as "in 5m" / "12s ago" / "now".
func FmtRel(now, target time.Time) string {
	if target.IsZero() {
		return "unknown"
	}
	delta := target.Sub(now)
	if delta.Abs() < time.Second {
		return "now"
	}
	suffix := "in"
	if delta < 0 {
		suffix = "ago"
		delta = -delta
	}
	var s string
	switch {
	case delta < time.Minute:
		s = fmt.Sprintf("%ds", int(delta.Seconds()))
	case delta < time.Hour:
		s = fmt.Sprintf("%dm", int(delta.Minutes()))
	default:
		s = fmt.Sprintf("%dh", int(delta.Hours()))
	}
	if suffix == "ago" {
		return s + " ago"
	}
	return "in " + s
}

// FmtClock renders a local wall-clock time, "-" for the zero time.
func FmtClock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

// ParseRFCLocalTime converts an NWRFC local date/time pair ("2025-12-08",
// "19:00", "PST"/"PDT") into UTC.
func ParseRFCLocalTime(dateStr, timeStr, tzLabel string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02 15:04", dateStr+" "+timeStr)
	if err != nil {
		return time.Time{}, false
	}
	offset := -8 * 3600
	if strings.EqualFold(tzLabel, "PDT") {
		offset = -7 * 3600
	}
	loc := time.FixedZone(strings.ToUpper(tzLabel), offset)
	local := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	return local.UTC(), true
}
