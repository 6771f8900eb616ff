// Package loader reads and validates clean datasets from the blob store.
//
// # Normalization
//
// The warehouse export's sort order is unspecified and its encoding quirks
// (BOM, mixed line endings) are isolated here: the core only ever sees a
// decoded, validated, date-sorted CleanDataset. A dataset that fails
// validation produces a LoadError scoped to its property; the run skips the
// property and carries on.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/singlethrowdata/scout/internal/blob"
	"github.com/singlethrowdata/scout/pkg/types"
)

// LoadError marks a dataset that is absent, malformed, or too thin to
// analyze. It is scoped to one property.
type LoadError struct {
	PropertyID string
	Reason     string
	Err        error
}

func (e *LoadError) Error() string {
	msg := "loading dataset for " + e.PropertyID + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// DatasetCache is an optional read-through cache for decoded datasets. The
// warehouse export is immutable once settled, so cached entries never go
// stale within their TTL.
type DatasetCache interface {
	Get(ctx context.Context, propertyID string, referenceDate types.Date) (*types.CleanDataset, bool)
	Put(ctx context.Context, ds *types.CleanDataset)
}

// Loader fetches clean datasets sized for the longest detector window.
type Loader struct {
	store      blob.Store
	cache      DatasetCache // may be nil
	dataPrefix string
	// minHistoryDays is the shortest overall series that still supports the
	// disaster baseline; anything thinner is a LoadError.
	minHistoryDays int
	logger         *slog.Logger
}

// New creates a Loader. cache may be nil.
func New(store blob.Store, cache DatasetCache, dataPrefix string, minHistoryDays int, logger *slog.Logger) *Loader {
	return &Loader{
		store:          store,
		cache:          cache,
		dataPrefix:     dataPrefix,
		minHistoryDays: minHistoryDays,
		logger:         logger.With("component", "loader"),
	}
}

// Key returns the blob key for a property's dataset on a reference date.
func (l *Loader) Key(propertyID string, referenceDate types.Date) string {
	return fmt.Sprintf("%s/%s/%s.json", l.dataPrefix, propertyID, referenceDate)
}

// Load fetches, decodes, validates, and sorts one property's dataset.
// analysisDate is the last settled day; no point may postdate it.
func (l *Loader) Load(ctx context.Context, propertyID string, referenceDate, analysisDate types.Date) (*types.CleanDataset, error) {
	if l.cache != nil {
		if ds, ok := l.cache.Get(ctx, propertyID, referenceDate); ok {
			l.logger.Debug("dataset cache hit", "property_id", propertyID)
			return ds, nil
		}
	}

	data, err := l.store.Get(ctx, l.Key(propertyID, referenceDate))
	if err != nil {
		return nil, &LoadError{PropertyID: propertyID, Reason: "fetching blob", Err: err}
	}

	ds, err := Decode(data)
	if err != nil {
		return nil, &LoadError{PropertyID: propertyID, Reason: "decoding", Err: err}
	}
	if ds.PropertyID != propertyID {
		return nil, &LoadError{
			PropertyID: propertyID,
			Reason:     fmt.Sprintf("blob belongs to property %q", ds.PropertyID),
		}
	}
	if err := Validate(ds, analysisDate, l.minHistoryDays); err != nil {
		return nil, &LoadError{PropertyID: propertyID, Reason: "validating", Err: err}
	}
	Normalize(ds)

	if l.cache != nil {
		l.cache.Put(ctx, ds)
	}
	return ds, nil
}

// Decode parses a dataset blob, stripping a UTF-8 BOM if the warehouse left
// one behind.
func Decode(data []byte) (*types.CleanDataset, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	var ds types.CleanDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate enforces the dataset invariants: no negative, NaN, or infinite
// values, counts are whole numbers, bounce rates are fractions, no duplicate
// (date, dimension_value, metric) rows, nothing after the analysis date, and
// the overall series reaches back at least minHistoryDays.
func Validate(ds *types.CleanDataset, analysisDate types.Date, minHistoryDays int) error {
	for _, dim := range types.AllDimensions {
		seen := make(map[string]struct{})
		for _, p := range ds.Points(dim) {
			if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
				return fmt.Errorf("%s/%s %s on %s: non-finite value", dim, p.DimensionValue, p.Metric, p.Date)
			}
			if p.Value < 0 {
				return fmt.Errorf("%s/%s %s on %s: negative value %v", dim, p.DimensionValue, p.Metric, p.Date, p.Value)
			}
			if p.Metric.IsCount() && p.Value != math.Trunc(p.Value) {
				return fmt.Errorf("%s/%s %s on %s: count is not an integer: %v", dim, p.DimensionValue, p.Metric, p.Date, p.Value)
			}
			if p.Metric == types.MetricBounceRate && p.Value > 1 {
				return fmt.Errorf("%s/%s bounce_rate on %s: %v outside [0,1]", dim, p.DimensionValue, p.Date, p.Value)
			}
			if dim == types.DimensionOverall && p.DimensionValue != "" {
				return fmt.Errorf("overall point on %s carries dimension_value %q", p.Date, p.DimensionValue)
			}
			if dim != types.DimensionOverall && p.DimensionValue == "" {
				return fmt.Errorf("%s point on %s missing dimension_value", dim, p.Date)
			}
			if p.Date.After(analysisDate.Time) {
				return fmt.Errorf("%s/%s %s on %s postdates analysis date %s", dim, p.DimensionValue, p.Metric, p.Date, analysisDate)
			}
			key := p.Date.String() + "\x00" + p.DimensionValue + "\x00" + string(p.Metric)
			if _, dup := seen[key]; dup {
				return fmt.Errorf("duplicate point %s/%s %s on %s", dim, p.DimensionValue, p.Metric, p.Date)
			}
			seen[key] = struct{}{}
		}
	}

	sessions := ds.Series(types.DimensionOverall, "", types.MetricSessions)
	if len(sessions) == 0 {
		return fmt.Errorf("no overall sessions series")
	}
	if minHistoryDays > 0 {
		span := sessions[0].Date.DaysUntil(sessions[len(sessions)-1].Date) + 1
		if span < minHistoryDays {
			return fmt.Errorf("overall series spans %d days, need at least %d", span, minHistoryDays)
		}
	}
	return nil
}

// Normalize sorts every series by (dimension_value, metric, date) so
// downstream iteration order is deterministic regardless of export order.
func Normalize(ds *types.CleanDataset) {
	for _, dim := range types.AllDimensions {
		points := ds.Points(dim)
		sort.Slice(points, func(i, j int) bool {
			a, b := points[i], points[j]
			if a.DimensionValue != b.DimensionValue {
				return a.DimensionValue < b.DimensionValue
			}
			if a.Metric != b.Metric {
				return a.Metric < b.Metric
			}
			return a.Date.Before(b.Date.Time)
		})
	}
}
