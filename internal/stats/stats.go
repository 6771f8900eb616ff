// Package stats is the statistical kernel shared by all detectors.
//
// # Design
//
// Every function is pure and deterministic: observations in, numbers out, no
// I/O and no clock. Inputs are (date, value) series plus a trailing window;
// days missing from a series are skipped, never imputed. When a window holds
// fewer valid points than the primitive's minimum sample size the function
// reports ok=false, and callers must treat that as "no signal" rather than an
// anomaly.
package stats

import (
	"math"
	"sort"

	"github.com/singlethrowdata/scout/pkg/types"
)

// Minimum sample sizes. Rolling-window primitives need a week of data;
// quartile-based primitives need a month.
const (
	MinRollingSamples  = 7
	MinQuartileSamples = 30
)

// Window is a trailing window of Days calendar days ending on End, inclusive.
type Window struct {
	End  types.Date
	Days int
}

// Start returns the first day covered by the window.
func (w Window) Start() types.Date {
	return w.End.AddDays(-(w.Days - 1))
}

// Contains reports whether a day falls inside the window.
func (w Window) Contains(d types.Date) bool {
	return !d.Before(w.Start().Time) && !d.After(w.End.Time)
}

// Slice extracts the values of the observations that fall inside the window,
// preserving date order. Gaps simply yield fewer values.
func Slice(series []types.Observation, w Window) []float64 {
	var out []float64
	for _, obs := range series {
		if w.Contains(obs.Date) {
			out = append(out, obs.Value)
		}
	}
	return out
}

// Mean returns the arithmetic mean of the windowed values, requiring at least
// minN valid points.
func Mean(series []types.Observation, w Window, minN int) (float64, bool) {
	values := Slice(series, w)
	if len(values) < minN || len(values) == 0 {
		return 0, false
	}
	return mean(values), true
}

// StdDev returns the population standard deviation of the windowed values,
// requiring at least minN valid points.
func StdDev(series []types.Observation, w Window, minN int) (float64, bool) {
	values := Slice(series, w)
	if len(values) < minN || len(values) == 0 {
		return 0, false
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values))), true
}

// MeanStdDev computes both moments over the same window and minimum sample
// size.
func MeanStdDev(series []types.Observation, w Window, minN int) (m, sd float64, ok bool) {
	m, ok = Mean(series, w, minN)
	if !ok {
		return 0, 0, false
	}
	sd, _ = StdDev(series, w, minN)
	return m, sd, true
}

// Quartiles returns Q1 and Q3 of the windowed values via linear interpolation
// on the sorted sample. Requires at least minN points (MinQuartileSamples for
// production use).
func Quartiles(series []types.Observation, w Window, minN int) (q1, q3 float64, ok bool) {
	values := Slice(series, w)
	if len(values) < minN || len(values) == 0 {
		return 0, 0, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return quantile(sorted, 0.25), quantile(sorted, 0.75), true
}

// IQR returns the interquartile range Q3 - Q1 over the window.
func IQR(series []types.Observation, w Window, minN int) (float64, bool) {
	q1, q3, ok := Quartiles(series, w, minN)
	if !ok {
		return 0, false
	}
	return q3 - q1, true
}

// ZScore returns (x - mean) / stddev. Undefined when stddev is not strictly
// positive.
func ZScore(x, mean, stddev float64) (float64, bool) {
	if stddev <= 0 {
		return 0, false
	}
	return (x - mean) / stddev, true
}

// RollingMean is the trailing moving average over the window, with the
// default rolling minimum sample size.
func RollingMean(series []types.Observation, w Window) (float64, bool) {
	return Mean(series, w, MinRollingSamples)
}

// Extremum is a windowed max or min together with the day it occurred.
type Extremum struct {
	Date  types.Date
	Value float64
}

// Max returns the highest observation in the window and its date, requiring
// at least minN valid points. Ties resolve to the earliest day.
func Max(series []types.Observation, w Window, minN int) (Extremum, bool) {
	return extremum(series, w, minN, func(candidate, best float64) bool {
		return candidate > best
	})
}

// Min returns the lowest observation in the window and its date, requiring at
// least minN valid points. Ties resolve to the earliest day.
func Min(series []types.Observation, w Window, minN int) (Extremum, bool) {
	return extremum(series, w, minN, func(candidate, best float64) bool {
		return candidate < best
	})
}

func extremum(series []types.Observation, w Window, minN int, better func(candidate, best float64) bool) (Extremum, bool) {
	var best Extremum
	count := 0
	for _, obs := range series {
		if !w.Contains(obs.Date) {
			continue
		}
		if count == 0 || better(obs.Value, best.Value) {
			best = Extremum{Date: obs.Date, Value: obs.Value}
		}
		count++
	}
	if count < minN || count == 0 {
		return Extremum{}, false
	}
	return best, true
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// quantile interpolates linearly between the two nearest ranks of a sorted
// sample.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
