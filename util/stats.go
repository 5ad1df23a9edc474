package util

import (
	"math"
	"sort"
)

// EWMA updates an exponentially weighted moving average.
// A non-positive current mean is treated as uninitialized.
func EWMA(current, sample, alpha float64) float64 {
	if current <= 0 {
		return sample
	}
	return (1-alpha)*current + alpha*sample
}

// EWMAVariance updates an EWMA of squared deviation from the current mean.
func EWMAVariance(currentVar, currentMean, sample, alpha float64) float64 {
	if currentVar < 0 {
		currentVar = 0
	}
	d := sample - currentMean
	return (1-alpha)*currentVar + alpha*d*d
}

// Median returns the median of values, 0 for an empty slice.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	vals := make([]float64, n)
	copy(vals, values)
	sort.Float64s(vals)
	mid := n / 2
	if n%2 == 1 {
		return vals[mid]
	}
	return 0.5 * (vals[mid-1] + vals[mid])
}

// MAD returns the median absolute deviation around center.
func MAD(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - center)
	}
	return Median(devs)
}

// Biweight tuning constants and iteration limits.
const (
	BiweightLocC    = 6.0
	BiweightScaleC  = 9.0
	BiweightMaxIter = 5
	BiweightTol     = 1e-6
)

// BiweightLocScale computes Tukey's biweight location and midvariance scale.
//
// Initial estimates come from the median and MAD of the samples; with fewer
// than 3 finite non-negative samples the supplied prior is returned as-is.
// The location is refined by iteratively reweighted averaging (c=6, at most
// 5 iterations, convergence below 1e-6); the scale is the biweight
// midvariance with c=9.
func BiweightLocScale(values []float64, priorLoc, priorScale float64) (float64, float64) {
	clean := values[:0:0]
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			continue
		}
		clean = append(clean, v)
	}
	if len(clean) < 3 {
		return priorLoc, math.Max(0, priorScale)
	}

	loc := Median(clean)
	scale := MAD(clean, loc)
	if scale <= 0 {
		scale = math.Max(priorScale, 1e-6)
	}

	for iter := 0; iter < BiweightMaxIter; iter++ {
		denom := BiweightLocC * scale
		if denom <= 0 {
			break
		}
		var num, den float64
		for _, v := range clean {
			u := (v - loc) / denom
			if math.Abs(u) >= 1 {
				continue
			}
			w := (1 - u*u) * (1 - u*u)
			num += (v - loc) * w
			den += w
		}
		if den <= 1e-12 {
			break
		}
		delta := num / den
		loc += delta
		if math.Abs(delta) < BiweightTol {
			break
		}
	}

	// Biweight midvariance for the scale.
	denom := BiweightScaleC * scale
	if denom <= 0 {
		return loc, 0
	}
	var num, den float64
	for _, v := range clean {
		u := (v - loc) / denom
		if math.Abs(u) >= 1 {
			continue
		}
		om := 1 - u*u
		num += (v - loc) * (v - loc) * om * om * om * om
		den += om * (1 - 5*u*u)
	}
	den = math.Abs(den)
	if den <= 1e-12 {
		return loc, 0
	}
	return loc, math.Sqrt(float64(len(clean))*num) / den
}

// BiweightPhase estimates a circular location of phase samples in [0, period).
//
// Samples are unwrapped against the first sample (anything more than half a
// period below the anchor is shifted up) before the biweight location is
// taken, then reduced modulo the period.
func BiweightPhase(phases []float64, period float64) (float64, bool) {
	if len(phases) < 3 || period <= 0 {
		return 0, false
	}
	anchor := phases[0]
	unwrapped := make([]float64, len(phases))
	for i, p := range phases {
		if p < anchor-period/2 {
			p += period
		}
		unwrapped[i] = p
	}
	loc, _ := BiweightLocScale(unwrapped, Median(unwrapped), MAD(unwrapped, Median(unwrapped)))
	loc = math.Mod(loc, period)
	if loc < 0 {
		loc += period
	}
	return loc, true
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
