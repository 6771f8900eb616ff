package detector

import (
	"fmt"
	"math"

	"github.com/singlethrowdata/scout/internal/config"
	"github.com/singlethrowdata/scout/internal/stats"
	"github.com/singlethrowdata/scout/pkg/types"
)

// Spam flags probable bot bursts: a session spike that is both statistically
// extreme against the trailing week and behaviorally worthless (bounces
// immediately or sticks around for seconds).
type Spam struct {
	cfg config.SpamConfig
}

// NewSpam creates the spam detector.
func NewSpam(cfg config.SpamConfig) *Spam {
	return &Spam{cfg: cfg}
}

// Kind implements Detector.
func (s *Spam) Kind() types.DetectorKind { return types.DetectorSpam }

var spamDimensions = []types.Dimension{
	types.DimensionOverall,
	types.DimensionGeography,
	types.DimensionTrafficSource,
}

// Detect implements Detector. At most one alert per (dimension, value) slice
// per day, whichever signals confirmed it.
func (s *Spam) Detect(in Input) ([]types.Alert, error) {
	var alerts []types.Alert
	for _, dim := range dimensions(in.Property, spamDimensions) {
		for _, value := range in.Dataset.DimensionValues(dim) {
			if a, ok := s.evaluate(in, dim, value); ok {
				alerts = append(alerts, a)
			}
		}
	}
	return alerts, nil
}

func (s *Spam) evaluate(in Input, dim types.Dimension, value string) (types.Alert, bool) {
	sessions := in.Dataset.Series(dim, value, types.MetricSessions)

	observed, ok := in.Dataset.ValueOn(dim, value, types.MetricSessions, in.AnalysisDate)
	if !ok {
		return types.Alert{}, false
	}

	floor := s.cfg.VolumeFloor
	if dim == types.DimensionOverall {
		floor = s.cfg.OverallVolumeFloor
	}
	if in.Property.VolumeFloor > 0 {
		floor = in.Property.VolumeFloor
	}
	if observed < floor {
		return types.Alert{}, false
	}

	// Baseline: trailing week ending the day before the analysis date.
	baseline := stats.Window{End: in.AnalysisDate.AddDays(-1), Days: s.cfg.BaselineDays}
	mean, sd, ok := stats.MeanStdDev(sessions, baseline, stats.MinRollingSamples)
	if !ok {
		return types.Alert{}, false
	}
	z, ok := stats.ZScore(observed, mean, sd)
	if !ok || z < s.cfg.ZThreshold {
		return types.Alert{}, false
	}

	// Quality confirmation: a genuine traffic surge engages; bots do not.
	bounceFired := false
	if bounce, has := in.Dataset.ValueOn(dim, value, types.MetricBounceRate, in.AnalysisDate); has {
		bounceFired = bounce > s.cfg.BounceRateMax
	}
	durationFired := false
	if dur, has := in.Dataset.ValueOn(dim, value, types.MetricAvgSessionDuration, in.AnalysisDate); has {
		durationFired = dur < s.cfg.SessionDurationMin
	}
	if !bounceFired && !durationFired {
		return types.Alert{}, false
	}

	fired := []string{"z_score"}
	if bounceFired {
		fired = append(fired, "bounce_rate")
	}
	if durationFired {
		fired = append(fired, "session_duration")
	}

	severity := types.SeverityWarning
	if z >= s.cfg.ZCritical && bounceFired && durationFired {
		severity = types.SeverityCritical
	}

	impact := clampImpact(int(math.Round(10 * z)))
	if bounceFired && durationFired {
		impact = clampImpact(impact + 15)
	}

	label := string(dim)
	if value != "" {
		label = fmt.Sprintf("%s=%s", dim, value)
	}

	return types.Alert{
		ID:               alertID(types.DetectorSpam, in, dim, value, types.MetricSessions, "spam_burst"),
		Detector:         types.DetectorSpam,
		Priority:         types.PriorityP1,
		PropertyID:       in.Property.PropertyID,
		Date:             in.AnalysisDate,
		Dimension:        dim,
		DimensionValue:   value,
		Metric:           types.MetricSessions,
		ObservedValue:    observed,
		BaselineValue:    mean,
		Delta:            z,
		Severity:         severity,
		BusinessImpact:   impact,
		DetectionMethods: methods(fired...),
		Message: fmt.Sprintf("Suspected bot burst on %s: %.0f sessions vs 7-day mean %.1f (z=%.1f)",
			label, observed, mean, z),
		Details: map[string]any{
			"z_score":        round2(z),
			"stddev":         round2(sd),
			"bounce_rate":    bounceFired,
			"short_sessions": durationFired,
		},
		GeneratedAt: in.GeneratedAt,
	}, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
