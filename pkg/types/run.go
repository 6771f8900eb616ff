package types

import "time"

// PropertyStatus is the outcome of one property in a run.
type PropertyStatus string

const (
	PropertyOK               PropertyStatus = "ok"
	PropertyLoadFailed       PropertyStatus = "load_failed"
	PropertyTimedOut         PropertyStatus = "timed_out"
	PropertyDetectorFailed   PropertyStatus = "detector_failed"
	PropertyInsufficientData PropertyStatus = "insufficient_data"
)

// PropertyOutcome records how one property fared during a run.
type PropertyOutcome struct {
	PropertyID      string         `json:"property_id"`
	Status          PropertyStatus `json:"status"`
	Reason          string         `json:"reason,omitempty"`
	FailedDetectors []DetectorKind `json:"failed_detectors,omitempty"`
	AlertCount      int            `json:"alert_count"`
	LoadMillis      int64          `json:"load_ms"`
}

// HostStats is a point-in-time snapshot of the machine the run executed on.
type HostStats struct {
	Hostname       string  `json:"hostname"`
	MemoryTotalMB  uint64  `json:"memory_total_mb"`
	MemoryUsedPct  float64 `json:"memory_used_pct"`
	ProcessRSSMB   uint64  `json:"process_rss_mb"`
	NumGoroutines  int     `json:"num_goroutines"`
}

// RunSummary is the per-run accounting artifact (run_summary.json).
type RunSummary struct {
	RunID         string    `json:"run_id"`
	ReferenceDate Date      `json:"reference_date"`
	AnalysisDate  Date      `json:"analysis_date"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	WallMillis    int64     `json:"wall_ms"`

	PropertiesAttempted int `json:"properties_attempted"`
	PropertiesLoaded    int `json:"properties_loaded"`
	PropertiesFailed    int `json:"properties_failed"`

	AlertsByDetector map[DetectorKind]int `json:"alerts_by_detector"`
	Outcomes         []PropertyOutcome    `json:"outcomes"`

	DryRun bool       `json:"dry_run"`
	Host   *HostStats `json:"host,omitempty"`
}
