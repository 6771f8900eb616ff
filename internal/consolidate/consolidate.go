// Package consolidate merges the four per-detector alert streams into the
// day's digest: one total order, one per-property volume cap, one place where
// cross-detector policy lives.
package consolidate

import (
	"sort"
	"time"

	"github.com/singlethrowdata/scout/pkg/types"
)

// PerPropertyCap is the ceiling on consolidated alerts per property per day.
// P0/P1 alerts are never suppressed by the cap.
const PerPropertyCap = 12

// Consolidator assembles digests.
type Consolidator struct {
	cap int
}

// New creates a Consolidator with the default per-property cap.
func New() *Consolidator {
	return &Consolidator{cap: PerPropertyCap}
}

// Consolidate merges the detector streams for all analyzed properties into an
// ordered digest. analyzed lists every property that completed detection
// (zero alerts included, so all-clear roll-ups are explicit); issues lists
// the ones that did not.
func (c *Consolidator) Consolidate(
	streams map[types.DetectorKind][]types.Alert,
	analyzed []types.Property,
	issues []types.DigestIssue,
	referenceDate, analysisDate types.Date,
	generatedAt time.Time,
) *types.Digest {
	var all []types.Alert
	for _, kind := range types.AllDetectors {
		all = append(all, streams[kind]...)
	}

	all = dedupe(all)
	sortAlerts(all)
	kept, suppressedByProperty := c.applyCap(all)

	counts := make(map[types.DetectorKind]int, len(types.AllDetectors))
	for _, kind := range types.AllDetectors {
		counts[kind] = 0
	}
	perProperty := make(map[string]*types.PropertyRollup)
	for _, a := range kept {
		counts[a.Detector]++
		r := perProperty[a.PropertyID]
		if r == nil {
			r = &types.PropertyRollup{PropertyID: a.PropertyID}
			perProperty[a.PropertyID] = r
		}
		r.TotalAlerts++
		switch a.Priority {
		case types.PriorityP0:
			r.P0Count++
		case types.PriorityP1:
			r.P1Count++
		case types.PriorityP2:
			r.P2Count++
		case types.PriorityP3:
			r.P3Count++
		}
	}

	suppressedTotal := 0
	rollups := make([]types.PropertyRollup, 0, len(analyzed))
	for _, p := range analyzed {
		r := perProperty[p.PropertyID]
		if r == nil {
			r = &types.PropertyRollup{PropertyID: p.PropertyID, AllClear: true}
		}
		r.ClientName = p.ClientName
		r.SuppressedCount = suppressedByProperty[p.PropertyID]
		suppressedTotal += r.SuppressedCount
		rollups = append(rollups, *r)
	}
	sort.Slice(rollups, func(i, j int) bool { return rollups[i].PropertyID < rollups[j].PropertyID })

	sortedIssues := append([]types.DigestIssue(nil), issues...)
	sort.Slice(sortedIssues, func(i, j int) bool {
		if sortedIssues[i].PropertyID != sortedIssues[j].PropertyID {
			return sortedIssues[i].PropertyID < sortedIssues[j].PropertyID
		}
		return sortedIssues[i].Code < sortedIssues[j].Code
	})

	return &types.Digest{
		GeneratedAt:     generatedAt,
		ReferenceDate:   referenceDate,
		AnalysisDate:    analysisDate,
		DetectorCounts:  counts,
		TotalAlerts:     len(kept),
		SuppressedCount: suppressedTotal,
		Alerts:          kept,
		Properties:      rollups,
		Issues:          sortedIssues,
	}
}

// dedupe drops Trend(down) alerts whose slice also set a Record(low): the
// record is the stronger statement of the same decline.
func dedupe(alerts []types.Alert) []types.Alert {
	recordLows := make(map[types.SliceKey]struct{})
	for i := range alerts {
		a := &alerts[i]
		if a.Detector == types.DetectorRecord && a.Delta < 0 {
			recordLows[a.Slice()] = struct{}{}
		}
	}
	if len(recordLows) == 0 {
		return alerts
	}
	out := alerts[:0]
	for _, a := range alerts {
		if a.Detector == types.DetectorTrend && a.Delta < 0 {
			if _, dominated := recordLows[a.Slice()]; dominated {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// sortAlerts imposes the digest's total order. Every field in the comparator
// is part of the contract: two runs on the same inputs must produce
// byte-identical digests.
func sortAlerts(alerts []types.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		a, b := &alerts[i], &alerts[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.BusinessImpact != b.BusinessImpact {
			return a.BusinessImpact > b.BusinessImpact
		}
		return identityLess(a, b)
	})
}

// identityLess is the deterministic tie-break over an alert's slice identity,
// shared by the display order and the cap selection.
func identityLess(a, b *types.Alert) bool {
	if a.PropertyID != b.PropertyID {
		return a.PropertyID < b.PropertyID
	}
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date.Time)
	}
	if a.Dimension != b.Dimension {
		return a.Dimension < b.Dimension
	}
	if a.DimensionValue != b.DimensionValue {
		return a.DimensionValue < b.DimensionValue
	}
	if a.Metric != b.Metric {
		return a.Metric < b.Metric
	}
	return a.Detector < b.Detector
}

// applyCap enforces the per-property ceiling on an already display-sorted
// list. P0/P1 always survive. The remaining slots go to the
// highest-business_impact P2/P3 candidates regardless of tier: a celebratory
// record high at impact 60 outranks a marginal trend-down at impact 7 even
// though P2 sorts ahead of P3 in the display order.
func (c *Consolidator) applyCap(alerts []types.Alert) ([]types.Alert, map[string]int) {
	used := make(map[string]int)
	suppressed := make(map[string]int)

	var pool []types.Alert
	for _, a := range alerts {
		if a.Priority <= types.PriorityP1 {
			used[a.PropertyID]++
		} else {
			pool = append(pool, a)
		}
	}

	ranked := append([]types.Alert(nil), pool...)
	sort.Slice(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if a.BusinessImpact != b.BusinessImpact {
			return a.BusinessImpact > b.BusinessImpact
		}
		return identityLess(a, b)
	})
	keep := make(map[string]struct{})
	for _, a := range ranked {
		if used[a.PropertyID] >= c.cap {
			suppressed[a.PropertyID]++
			continue
		}
		used[a.PropertyID]++
		keep[a.ID] = struct{}{}
	}

	// Filtering the original slice preserves the display order for the
	// survivors.
	kept := make([]types.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Priority <= types.PriorityP1 {
			kept = append(kept, a)
			continue
		}
		if _, ok := keep[a.ID]; ok {
			kept = append(kept, a)
		}
	}
	return kept, suppressed
}
