// Package detector implements the four anomaly detectors.
//
// # Design
//
// Detectors are pure functions over an immutable CleanDataset: no I/O, no
// clock reads, no shared state. Each consumes the dataset once and returns a
// list of Alert values; domain conditions (thin history, quiet slices) never
// raise, they just produce no alerts. The orchestrator owns scheduling,
// timeouts, and persistence.
//
// All four detectors evaluate the analysis date: the most recent day whose
// warehouse export is settled. "Yesterday" in rule descriptions always means
// that day.
package detector

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/singlethrowdata/scout/pkg/types"
)

// Input is everything a detector sees for one property.
type Input struct {
	Property     types.Property
	Dataset      *types.CleanDataset
	AnalysisDate types.Date

	// GeneratedAt stamps emitted alerts. It comes from the run clock, never
	// from the system clock.
	GeneratedAt time.Time
}

// Detector turns one property's dataset into alerts.
type Detector interface {
	Kind() types.DetectorKind
	Detect(in Input) ([]types.Alert, error)
}

// alertID derives a deterministic ID from the alert's identity so reruns on
// identical inputs produce byte-identical artifacts.
func alertID(kind types.DetectorKind, in Input, dim types.Dimension, value string, metric types.Metric, trigger string) string {
	key := fmt.Sprintf("scout/%s/%s/%s/%s/%s/%s/%s",
		kind, in.Property.PropertyID, in.AnalysisDate, dim, value, metric, trigger)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// dimensions filters the requested dimensions down to the ones enabled for
// the property.
func dimensions(p types.Property, requested []types.Dimension) []types.Dimension {
	var out []types.Dimension
	for _, d := range requested {
		if p.DimensionEnabled(d) {
			out = append(out, d)
		}
	}
	return out
}

// methods returns a canonically ordered copy of the detection-method set.
func methods(names ...string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

// clampImpact bounds a business-impact score to [0, 100].
func clampImpact(v int) int {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}
