package util

import "math"

const earthRadiusMiles = 3958.8

// HaversineMiles returns the great-circle distance between two points.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dphi := (lat2 - lat1) * math.Pi / 180
	dlambda := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dphi/2)*math.Sin(dphi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dlambda/2)*math.Sin(dlambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(math.Max(0, 1-a)))
	return earthRadiusMiles * c
}

// BBoxForRadius computes a (west, south, east, north) bounding box around a
// point. Longitude degrees shrink with latitude; the cosine is floored to
// keep the box finite near the poles.
func BBoxForRadius(lat, lon, radiusMiles float64) (west, south, east, north float64) {
	latDeg := radiusMiles / 69.0
	lonDeg := radiusMiles / (69.0 * math.Max(0.2, math.Cos(lat*math.Pi/180)))
	return lon - lonDeg, lat - latDeg, lon + lonDeg, lat + latDeg
}
