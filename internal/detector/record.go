package detector

import (
	"fmt"
	"math"

	"github.com/singlethrowdata/scout/internal/config"
	"github.com/singlethrowdata/scout/internal/stats"
	"github.com/singlethrowdata/scout/pkg/types"
)

// Record identifies 90-day highs and lows per dimension slice. Lows are
// P1 (the worst the window has seen); highs are P3 and celebratory.
type Record struct {
	cfg config.RecordConfig
}

// NewRecord creates the record detector.
func NewRecord(cfg config.RecordConfig) *Record {
	return &Record{cfg: cfg}
}

// Kind implements Detector.
func (r *Record) Kind() types.DetectorKind { return types.DetectorRecord }

var recordDimensions = []types.Dimension{
	types.DimensionOverall,
	types.DimensionDevice,
	types.DimensionTrafficSource,
	types.DimensionLandingPage,
}

var recordMetrics = []types.Metric{
	types.MetricSessions,
	types.MetricUsers,
	types.MetricConversions,
}

// Detect implements Detector.
func (r *Record) Detect(in Input) ([]types.Alert, error) {
	// Prior window ends two days before the analysis date so yesterday and
	// the day before (still settling at export time) never compete with
	// themselves.
	prior := stats.Window{End: in.AnalysisDate.AddDays(-2), Days: r.cfg.WindowDays}

	var alerts []types.Alert
	for _, dim := range dimensions(in.Property, recordDimensions) {
		for _, value := range in.Dataset.DimensionValues(dim) {
			if !r.highTraffic(in, dim, value, prior) {
				continue
			}
			for _, metric := range recordMetrics {
				if a, ok := r.evaluate(in, dim, value, metric, prior); ok {
					alerts = append(alerts, a)
				}
			}
		}
	}
	return alerts, nil
}

// highTraffic gates records to segments whose mean sessions over the window
// clear the volume floor. Low-traffic slices set meaningless records daily.
func (r *Record) highTraffic(in Input, dim types.Dimension, value string, prior stats.Window) bool {
	floor := r.cfg.VolumeFloor
	if in.Property.VolumeFloor > 0 {
		floor = in.Property.VolumeFloor
	}
	sessions := in.Dataset.Series(dim, value, types.MetricSessions)
	mean, ok := stats.Mean(sessions, prior, r.cfg.MinSamples)
	return ok && mean >= floor
}

func (r *Record) evaluate(in Input, dim types.Dimension, value string, metric types.Metric, prior stats.Window) (types.Alert, bool) {
	series := in.Dataset.Series(dim, value, metric)

	observed, ok := in.Dataset.ValueOn(dim, value, metric, in.AnalysisDate)
	if !ok {
		return types.Alert{}, false
	}

	priorMax, okMax := stats.Max(series, prior, r.cfg.MinSamples)
	priorMin, okMin := stats.Min(series, prior, r.cfg.MinSamples)
	if !okMax || !okMin {
		return types.Alert{}, false
	}

	switch {
	case observed > priorMax.Value && priorMax.Value > 0:
		deltaPct := (observed - priorMax.Value) / priorMax.Value * 100
		if deltaPct < r.cfg.SignificancePct {
			return types.Alert{}, false
		}
		impact := clampImpact(int(math.Round(math.Abs(deltaPct) * 1.5)))
		return r.alert(in, dim, value, metric, "record_high", observed, priorMax, deltaPct,
			types.PriorityP3, types.SeverityInfo, impact,
			fmt.Sprintf("New %d-day high for %s: %.0f (previous record %.0f on %s, up %.1f%%)",
				r.cfg.WindowDays, metric, observed, priorMax.Value, priorMax.Date, deltaPct)), true

	case observed < priorMin.Value:
		if priorMin.Value <= 0 {
			return types.Alert{}, false
		}
		deltaPct := (observed - priorMin.Value) / priorMin.Value * 100
		if math.Abs(deltaPct) < r.cfg.SignificancePct {
			return types.Alert{}, false
		}
		impact := clampImpact(int(math.Round(math.Abs(deltaPct) * 1.5)))
		if impact < r.cfg.LowImpactFloor {
			impact = r.cfg.LowImpactFloor
		}
		return r.alert(in, dim, value, metric, "record_low", observed, priorMin, deltaPct,
			types.PriorityP1, types.SeverityWarning, impact,
			fmt.Sprintf("New %d-day low for %s: %.0f (previous low %.0f on %s, down %.1f%%)",
				r.cfg.WindowDays, metric, observed, priorMin.Value, priorMin.Date, math.Abs(deltaPct))), true
	}
	return types.Alert{}, false
}

func (r *Record) alert(in Input, dim types.Dimension, value string, metric types.Metric, recordType string, observed float64, previous stats.Extremum, deltaPct float64, priority types.Priority, severity types.Severity, impact int, message string) types.Alert {
	details := map[string]any{
		"record_type":          recordType,
		"previous_record":      previous.Value,
		"previous_record_date": previous.Date.String(),
	}
	if recordType == "record_high" {
		details["increase"] = round2(deltaPct)
	} else {
		details["decline"] = round2(math.Abs(deltaPct))
	}
	return types.Alert{
		ID:               alertID(types.DetectorRecord, in, dim, value, metric, recordType),
		Detector:         types.DetectorRecord,
		Priority:         priority,
		PropertyID:       in.Property.PropertyID,
		Date:             in.AnalysisDate,
		Dimension:        dim,
		DimensionValue:   value,
		Metric:           metric,
		ObservedValue:    observed,
		BaselineValue:    previous.Value,
		Delta:            round2(deltaPct),
		Severity:         severity,
		BusinessImpact:   impact,
		DetectionMethods: methods("window_extremum"),
		Message:          message,
		Details:          details,
		GeneratedAt:      in.GeneratedAt,
	}
}
