package detector

import (
	"testing"
	"time"

	"github.com/singlethrowdata/scout/internal/config"
	"github.com/singlethrowdata/scout/pkg/types"
)

var testGeneratedAt = time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)

func day(t *testing.T, s string) types.Date {
	t.Helper()
	d, err := types.ParseDate(s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

// datasetBuilder accumulates series for a test dataset.
type datasetBuilder struct {
	t  *testing.T
	ds *types.CleanDataset
}

func newDataset(t *testing.T, propertyID string, referenceDate string) *datasetBuilder {
	return &datasetBuilder{
		t: t,
		ds: &types.CleanDataset{
			PropertyID:    propertyID,
			ReferenceDate: day(t, referenceDate),
		},
	}
}

// daily appends consecutive daily points ending on end.
func (b *datasetBuilder) daily(dim types.Dimension, value string, metric types.Metric, end string, values ...float64) *datasetBuilder {
	endDate := day(b.t, end)
	for i, v := range values {
		p := types.MetricPoint{
			Date:           endDate.AddDays(i - len(values) + 1),
			DimensionValue: value,
			Metric:         metric,
			Value:          v,
		}
		switch dim {
		case types.DimensionOverall:
			b.ds.Overall = append(b.ds.Overall, p)
		case types.DimensionGeography:
			b.ds.Geography = append(b.ds.Geography, p)
		case types.DimensionDevice:
			b.ds.Device = append(b.ds.Device, p)
		case types.DimensionTrafficSource:
			b.ds.TrafficSource = append(b.ds.TrafficSource, p)
		case types.DimensionLandingPage:
			b.ds.LandingPage = append(b.ds.LandingPage, p)
		}
	}
	return b
}

// constant appends n identical daily points ending on end.
func (b *datasetBuilder) constant(dim types.Dimension, value string, metric types.Metric, end string, n int, v float64) *datasetBuilder {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return b.daily(dim, value, metric, end, values...)
}

func (b *datasetBuilder) input(analysisDate string) Input {
	return Input{
		Property:     types.Property{PropertyID: b.ds.PropertyID, IsConfigured: true},
		Dataset:      b.ds,
		AnalysisDate: day(b.t, analysisDate),
		GeneratedAt:  testGeneratedAt,
	}
}

func defaultDetectors() config.DetectorsConfig {
	return config.Default().Detectors
}
