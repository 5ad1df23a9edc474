package util

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
		ok   bool
	}{
		{"rfc3339 z", "2025-12-08T19:30:00Z", time.Date(2025, 12, 8, 19, 30, 0, 0, time.UTC), true},
		{"rfc3339 offset", "2025-12-08T11:30:00-08:00", time.Date(2025, 12, 8, 19, 30, 0, 0, time.UTC), true},
		{"subsecond", "2025-12-08T19:30:00.250Z", time.Date(2025, 12, 8, 19, 30, 0, 250000000, time.UTC), true},
		{"bare", "2025-12-08T19:30:00", time.Date(2025, 12, 8, 19, 30, 0, 0, time.UTC), true},
		{"space separated", "2025-12-08 19:30:00", time.Date(2025, 12, 8, 19, 30, 0, 0, time.UTC), true},
		{"empty", "", time.Time{}, false},
		{"garbage", "yesterday", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestISO8601Duration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "PT0S"},
		{45 * time.Second, "PT45S"},
		{30 * time.Minute, "PT30M"},
		{90 * time.Minute, "PT1H30M"},
		{2 * time.Hour, "PT2H"},
	}
	for _, tt := range tests {
		if got := ISO8601Duration(tt.in); got != tt.want {
			t.Errorf("ISO8601Duration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseRFCLocalTime(t *testing.T) {
	got, ok := ParseRFCLocalTime("2025-12-08", "19:00", "PST")
	if !ok {
		t.Fatal("not ok")
	}
	want := time.Date(2025, 12, 9, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("PST got %v, want %v", got, want)
	}

	got, ok = ParseRFCLocalTime("2025-06-08", "19:00", "PDT")
	if !ok {
		t.Fatal("not ok")
	}
	want = time.Date(2025, 6, 9, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("PDT got %v, want %v", got, want)
	}

	if _, ok := ParseRFCLocalTime("nope", "19:00", "PST"); ok {
		t.Error("expected failure on bad date")
	}
}

func TestFmtRel(t *testing.T) {
	now := time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		target time.Time
		want   string
	}{
		{"future seconds", now.Add(30 * time.Second), "in 30s"},
		{"past minutes", now.Add(-5 * time.Minute), "5m ago"},
		{"future hours", now.Add(3 * time.Hour), "in 3h"},
		{"now", now, "now"},
		{"zero", time.Time{}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FmtRel(now, tt.target); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
