package detector

import (
	"fmt"
	"math"
	"sort"

	"github.com/singlethrowdata/scout/internal/config"
	"github.com/singlethrowdata/scout/internal/stats"
	"github.com/singlethrowdata/scout/pkg/types"
)

// Trend spots sustained directional shifts via a short- vs long-window
// moving-average crossover. Downward shifts are P2, upward P3.
type Trend struct {
	cfg config.TrendConfig
}

// NewTrend creates the trend detector.
func NewTrend(cfg config.TrendConfig) *Trend {
	return &Trend{cfg: cfg}
}

// Kind implements Detector.
func (t *Trend) Kind() types.DetectorKind { return types.DetectorTrend }

var trendMetrics = []types.Metric{
	types.MetricSessions,
	types.MetricUsers,
	types.MetricConversions,
}

// Detect implements Detector. At most MaxPerDimension alerts per dimension,
// keeping the largest shifts.
func (t *Trend) Detect(in Input) ([]types.Alert, error) {
	longWindow := stats.Window{End: in.AnalysisDate, Days: t.cfg.LongWindowDays}
	shortWindow := stats.Window{End: in.AnalysisDate, Days: t.cfg.ShortWindowDays}

	var alerts []types.Alert
	for _, dim := range dimensions(in.Property, types.AllDimensions) {
		var dimAlerts []types.Alert
		for _, value := range in.Dataset.DimensionValues(dim) {
			if !t.highTraffic(in, dim, value, longWindow) {
				continue
			}
			for _, metric := range trendMetrics {
				if a, ok := t.evaluate(in, dim, value, metric, shortWindow, longWindow); ok {
					dimAlerts = append(dimAlerts, a)
				}
			}
		}
		alerts = append(alerts, t.capPerDimension(dimAlerts)...)
	}
	return alerts, nil
}

func (t *Trend) highTraffic(in Input, dim types.Dimension, value string, longWindow stats.Window) bool {
	floor := t.cfg.VolumeFloor
	if in.Property.VolumeFloor > 0 {
		floor = in.Property.VolumeFloor
	}
	sessions := in.Dataset.Series(dim, value, types.MetricSessions)
	mean, ok := stats.Mean(sessions, longWindow, t.cfg.MinLongSamples)
	return ok && mean >= floor
}

func (t *Trend) evaluate(in Input, dim types.Dimension, value string, metric types.Metric, shortWindow, longWindow stats.Window) (types.Alert, bool) {
	series := in.Dataset.Series(dim, value, metric)

	maShort, ok := stats.Mean(series, shortWindow, t.cfg.MinShortSamples)
	if !ok {
		return types.Alert{}, false
	}
	maLong, ok := stats.Mean(series, longWindow, t.cfg.MinLongSamples)
	if !ok || maLong <= 0 {
		return types.Alert{}, false
	}

	deltaPct := (maShort - maLong) / maLong * 100
	if math.Abs(deltaPct) < t.cfg.DeltaPctMin {
		return types.Alert{}, false
	}

	direction := "up"
	priority := types.PriorityP3
	severity := types.SeverityInfo
	if deltaPct < 0 {
		direction = "down"
		priority = types.PriorityP2
		severity = types.SeverityWarning
	}

	label := string(dim)
	if value != "" {
		label = fmt.Sprintf("%s=%s", dim, value)
	}

	return types.Alert{
		ID:               alertID(types.DetectorTrend, in, dim, value, metric, "ma_crossover"),
		Detector:         types.DetectorTrend,
		Priority:         priority,
		PropertyID:       in.Property.PropertyID,
		Date:             in.AnalysisDate,
		Dimension:        dim,
		DimensionValue:   value,
		Metric:           metric,
		ObservedValue:    round2(maShort),
		BaselineValue:    round2(maLong),
		Delta:            round2(deltaPct),
		Severity:         severity,
		BusinessImpact:   clampImpact(int(math.Round(math.Abs(deltaPct) * 0.4))),
		DetectionMethods: methods("ma_crossover"),
		Message: fmt.Sprintf("%s %s trending %s: %d-day avg %.1f vs %d-day avg %.1f (%+.1f%%)",
			label, metric, direction,
			t.cfg.ShortWindowDays, maShort, t.cfg.LongWindowDays, maLong, deltaPct),
		Details: map[string]any{
			"trend_direction": direction,
			"ma_short":        round2(maShort),
			"ma_long":         round2(maLong),
		},
		GeneratedAt: in.GeneratedAt,
	}, true
}

// capPerDimension keeps the top-|delta| alerts for one dimension, breaking
// ties deterministically by slice identity.
func (t *Trend) capPerDimension(alerts []types.Alert) []types.Alert {
	if t.cfg.MaxPerDimension <= 0 || len(alerts) <= t.cfg.MaxPerDimension {
		return alerts
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		di, dj := math.Abs(alerts[i].Delta), math.Abs(alerts[j].Delta)
		if di != dj {
			return di > dj
		}
		if alerts[i].DimensionValue != alerts[j].DimensionValue {
			return alerts[i].DimensionValue < alerts[j].DimensionValue
		}
		return alerts[i].Metric < alerts[j].Metric
	})
	return alerts[:t.cfg.MaxPerDimension]
}
