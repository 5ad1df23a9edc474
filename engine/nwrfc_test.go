package engine

import (
	"testing"
	"time"
)

const nwrfcText = `SF SNOQUALMIE - GARW1
Forecast/Trend Issued: 2025-12-08 10:00 PST
Date/Time (PST)   Stage  Discharge
Observed
2025-12-08 08:00  10.21  1540  2025-12-09 08:00  10.80  1900
2025-12-08 07:00  10.15  1500  2025-12-09 09:00  10.95  2010
2025-12-08 09:00  10.34  1600
short line
2025-12-08 10:00  NA  NA
`

func TestParseNWRFCText(t *testing.T) {
	observed, forecast := ParseNWRFCText(nwrfcText)

	// 08:00, 07:00, 09:00, and the NA row all parse as observed timestamps.
	if len(observed) != 4 {
		t.Fatalf("observed = %d, want 4", len(observed))
	}
	for i := 1; i < len(observed); i++ {
		if observed[i].TS.Before(observed[i-1].TS) {
			t.Fatal("observed not ascending")
		}
	}
	// PST rows land 8 hours later in UTC.
	want := time.Date(2025, 12, 8, 15, 0, 0, 0, time.UTC)
	if !observed[0].TS.Equal(want) {
		t.Errorf("first observed = %v, want %v", observed[0].TS, want)
	}
	if observed[0].Stage == nil || *observed[0].Stage != 10.15 {
		t.Errorf("stage = %v", observed[0].Stage)
	}
	// Unparseable numbers become nil, not dropped rows.
	last := observed[len(observed)-1]
	if last.Stage != nil || last.Flow != nil {
		t.Error("NA metrics must be nil")
	}

	if len(forecast) != 2 {
		t.Fatalf("forecast = %d, want 2", len(forecast))
	}
	if forecast[0].Stage == nil || *forecast[0].Stage != 10.80 {
		t.Errorf("forecast stage = %v", forecast[0].Stage)
	}
}

func TestParseNWRFCTextEmpty(t *testing.T) {
	observed, forecast := ParseNWRFCText("")
	if observed != nil || forecast != nil {
		t.Error("empty input must yield nil series")
	}
}
