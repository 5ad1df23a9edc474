package usgs

import "testing"

const siteRDB = `#
# US Geological Survey
# retrieved: 2025-12-08
#
agency_cd	site_no	station_nm	site_tp_cd	dec_lat_va	dec_long_va
5s	15s	50s	7s	16s	16s
USGS	12149000	SNOQUALMIE RIVER NEAR CARNATION, WA	ST	47.66593400	-121.92539690
USGS	12144500	SNOQUALMIE RIVER NEAR SNOQUALMIE, WA	ST	47.54510190	-121.84233600
USGS	12140000		ST	bad	-121.5
USGS		ORPHAN ROW	ST	47.0	-121.0
`

func TestParseSiteRDB(t *testing.T) {
	sites := ParseSiteRDB(siteRDB)
	if len(sites) != 2 {
		t.Fatalf("sites = %d, want 2 (bad rows skipped)", len(sites))
	}
	if sites[0].SiteNo != "12149000" {
		t.Errorf("site_no = %q", sites[0].SiteNo)
	}
	if sites[0].Name != "SNOQUALMIE RIVER NEAR CARNATION, WA" {
		t.Errorf("name = %q", sites[0].Name)
	}
	if sites[0].Lat != 47.665934 || sites[0].Lon != -121.9253969 {
		t.Errorf("coords = %v, %v", sites[0].Lat, sites[0].Lon)
	}
}

func TestParseSiteRDBMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"comments only", "# nothing\n# here\n"},
		{"missing required column", "agency_cd\tsite_no\n5s\t15s\nUSGS\t12149000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if sites := ParseSiteRDB(tt.in); sites != nil {
				t.Errorf("got %v, want nil", sites)
			}
		})
	}
}
