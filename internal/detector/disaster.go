package detector

import (
	"fmt"

	"github.com/singlethrowdata/scout/internal/config"
	"github.com/singlethrowdata/scout/internal/stats"
	"github.com/singlethrowdata/scout/pkg/types"
)

// Disaster catches catastrophic site-wide failures: sessions or conversions
// collapsing overnight on a property that had a credible baseline the three
// days before. Overall dimension only; always P0.
type Disaster struct {
	cfg config.DisasterConfig
}

// NewDisaster creates the disaster detector.
func NewDisaster(cfg config.DisasterConfig) *Disaster {
	return &Disaster{cfg: cfg}
}

// Kind implements Detector.
func (d *Disaster) Kind() types.DetectorKind { return types.DetectorDisaster }

// Detect implements Detector. Each trigger type that fires emits its own
// alert so operators see the full taxonomy.
func (d *Disaster) Detect(in Input) ([]types.Alert, error) {
	if !in.Property.DimensionEnabled(types.DimensionOverall) {
		return nil, nil
	}

	sessions := in.Dataset.Series(types.DimensionOverall, "", types.MetricSessions)
	conversions := in.Dataset.Series(types.DimensionOverall, "", types.MetricConversions)

	priorWindow := stats.Window{End: in.AnalysisDate.AddDays(-1), Days: d.cfg.BaselineDays}

	var alerts []types.Alert

	// A disaster call needs a complete prior window; a patchy baseline is not
	// credible enough for a P0 page.
	sessToday, sessOK := in.Dataset.ValueOn(types.DimensionOverall, "", types.MetricSessions, in.AnalysisDate)
	sessPrior, sessPriorOK := stats.Mean(sessions, priorWindow, d.cfg.BaselineDays)

	if sessOK && sessPriorOK {
		if sessToday < d.cfg.SessionsFloor && sessPrior >= d.cfg.BaselineSessions {
			alerts = append(alerts, d.alert(in, types.MetricSessions, "sessions_zeroed",
				sessToday, sessPrior, 95,
				fmt.Sprintf("Sessions collapsed to %.0f (3-day mean %.1f)", sessToday, sessPrior)))
		}
		if sessPrior >= d.cfg.BaselineSessions && sessToday <= sessPrior*(1-d.cfg.DropFraction) {
			drop := (sessPrior - sessToday) / sessPrior * 100
			alerts = append(alerts, d.alert(in, types.MetricSessions, "sessions_dropped",
				sessToday, sessPrior, 85,
				fmt.Sprintf("Sessions dropped %.1f%% vs 3-day mean %.1f", drop, sessPrior)))
		}
	}

	convToday, convOK := in.Dataset.ValueOn(types.DimensionOverall, "", types.MetricConversions, in.AnalysisDate)
	convPrior, convPriorOK := stats.Mean(conversions, priorWindow, d.cfg.BaselineDays)

	if convOK && convPriorOK {
		if convToday == 0 && convPrior >= d.cfg.BaselineConv {
			alerts = append(alerts, d.alert(in, types.MetricConversions, "conversions_zeroed",
				convToday, convPrior, 100,
				fmt.Sprintf("Conversions went to zero (3-day mean %.1f)", convPrior)))
		}
	}

	return alerts, nil
}

func (d *Disaster) alert(in Input, metric types.Metric, trigger string, observed, baseline float64, impact int, message string) types.Alert {
	return types.Alert{
		ID:               alertID(types.DetectorDisaster, in, types.DimensionOverall, "", metric, trigger),
		Detector:         types.DetectorDisaster,
		Priority:         types.PriorityP0,
		PropertyID:       in.Property.PropertyID,
		Date:             in.AnalysisDate,
		Dimension:        types.DimensionOverall,
		Metric:           metric,
		ObservedValue:    observed,
		BaselineValue:    baseline,
		Delta:            observed - baseline,
		Severity:         types.SeverityCritical,
		BusinessImpact:   impact,
		DetectionMethods: methods("threshold"),
		Message:          message,
		Details: map[string]any{
			"trigger": trigger,
		},
		GeneratedAt: in.GeneratedAt,
	}
}
