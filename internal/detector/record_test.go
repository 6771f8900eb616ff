package detector

import (
	"math"
	"testing"

	"github.com/singlethrowdata/scout/pkg/types"
)

// mobileSessions builds a 93-day device=mobile series: ~900/day, a prior max
// of 1200 on one day, and yesterday at the given value.
func mobileSessions(t *testing.T, yesterday float64) *datasetBuilder {
	values := make([]float64, 93)
	for i := range values {
		values[i] = 900
	}
	values[31] = 1200 // prior record
	values[92] = yesterday
	return newDataset(t, "prop-1", "2026-08-01").
		daily(types.DimensionDevice, "mobile", types.MetricSessions, "2026-07-29", values...)
}

func TestRecordHighOnMobile(t *testing.T) {
	alerts, err := NewRecord(defaultDetectors().Record).Detect(mobileSessions(t, 1500).input("2026-07-29"))
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Detector != types.DetectorRecord || a.Priority != types.PriorityP3 {
		t.Errorf("got %s/%s, want record/P3", a.Detector, a.Priority)
	}
	if a.Details["record_type"] != "record_high" {
		t.Errorf("record_type = %v, want record_high", a.Details["record_type"])
	}
	if a.Details["previous_record"] != 1200.0 {
		t.Errorf("previous_record = %v, want 1200", a.Details["previous_record"])
	}
	if inc := a.Details["increase"].(float64); math.Abs(inc-25.0) > 1e-9 {
		t.Errorf("increase = %v, want 25.0", inc)
	}
	if a.Severity != types.SeverityInfo {
		t.Errorf("severity = %s, want info", a.Severity)
	}
}

func TestRecordSignificanceFloorSuppressesTies(t *testing.T) {
	// 1230 beats the 1200 record by only 2.5%: a trivial tick, not a record.
	alerts, err := NewRecord(defaultDetectors().Record).Detect(mobileSessions(t, 1230).input("2026-07-29"))
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts, want 0 under the significance floor", len(alerts))
	}
}

func TestRecordLowIsP1WithImpactFloor(t *testing.T) {
	values := make([]float64, 93)
	for i := range values {
		values[i] = 900
	}
	values[10] = 700 // prior min
	values[92] = 630 // 10% under it
	b := newDataset(t, "prop-1", "2026-08-01").
		daily(types.DimensionDevice, "mobile", types.MetricSessions, "2026-07-29", values...)

	alerts, err := NewRecord(defaultDetectors().Record).Detect(b.input("2026-07-29"))
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Priority != types.PriorityP1 {
		t.Errorf("priority = %s, want P1 for a record low", a.Priority)
	}
	if a.Details["record_type"] != "record_low" {
		t.Errorf("record_type = %v, want record_low", a.Details["record_type"])
	}
	// round(10 * 1.5) = 15, lifted to the low-severity floor.
	if a.BusinessImpact != 40 {
		t.Errorf("business_impact = %d, want floor of 40", a.BusinessImpact)
	}
	if dec := a.Details["decline"].(float64); math.Abs(dec-10.0) > 1e-9 {
		t.Errorf("decline = %v, want 10.0", dec)
	}
}

func TestRecordVolumeFloorGatesQuietSegments(t *testing.T) {
	values := make([]float64, 93)
	for i := range values {
		values[i] = 20 // well under the 100 mean-sessions floor
	}
	values[92] = 60
	b := newDataset(t, "prop-1", "2026-08-01").
		daily(types.DimensionDevice, "tablet", types.MetricSessions, "2026-07-29", values...)

	alerts, err := NewRecord(defaultDetectors().Record).Detect(b.input("2026-07-29"))
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts, want 0 for a low-traffic segment", len(alerts))
	}
}

func TestRecordExcludesGeography(t *testing.T) {
	values := make([]float64, 93)
	for i := range values {
		values[i] = 900
	}
	values[92] = 5000
	b := newDataset(t, "prop-1", "2026-08-01").
		daily(types.DimensionGeography, "US", types.MetricSessions, "2026-07-29", values...)

	alerts, err := NewRecord(defaultDetectors().Record).Detect(b.input("2026-07-29"))
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts, want 0: record detector does not scan geography", len(alerts))
	}
}
