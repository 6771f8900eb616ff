// Package orchestrator drives one full pipeline run: registry load, fan-out
// of (property, detector) tasks over a bounded worker pool, consolidation,
// rendering, persistence, and delivery handoff.
//
// # Failure Semantics
//
// A property that fails to load is skipped and recorded; one detector failing
// on one property never aborts the other (property, detector) pairs. Run
// turns the run's errors into an exit code; the CLI returns its own codes
// only for failures before a run starts.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/singlethrowdata/scout/internal/blob"
	"github.com/singlethrowdata/scout/internal/config"
	"github.com/singlethrowdata/scout/internal/consolidate"
	"github.com/singlethrowdata/scout/internal/delivery"
	"github.com/singlethrowdata/scout/internal/detector"
	"github.com/singlethrowdata/scout/internal/loader"
	"github.com/singlethrowdata/scout/internal/registry"
	"github.com/singlethrowdata/scout/internal/render"
	"github.com/singlethrowdata/scout/pkg/types"
)

// Exit codes of the run subcommand.
const (
	ExitOK       = 0
	ExitConfig   = 2
	ExitPartial  = 3
	ExitDelivery = 4
	ExitTimeout  = 5
)

// maxWorkers bounds the task pool regardless of portfolio size.
const maxWorkers = 16

// Options select what a run covers.
type Options struct {
	// ReferenceDate is the date the run is "for". Zero means today per the
	// run clock.
	ReferenceDate types.Date

	// Properties restricts the run to specific property ids. Empty = all.
	Properties []string

	// Detectors restricts which detectors execute. Empty = all four.
	Detectors []types.DetectorKind

	// DryRun writes artifacts to a scratch namespace and skips delivery.
	DryRun bool
}

// HistorySink receives the consolidated run for long-term storage. Optional.
type HistorySink interface {
	RecordRun(ctx context.Context, summary *types.RunSummary, digest *types.Digest) error
}

// Orchestrator owns one pipeline configuration and can execute runs.
type Orchestrator struct {
	cfg       *config.Config
	store     blob.Store
	registry  *registry.Registry
	loader    *loader.Loader
	detectors []detector.Detector
	deliverer delivery.Deliverer
	history   HistorySink // may be nil
	clock     Clock
	logger    *slog.Logger
}

// New assembles an orchestrator. history may be nil.
func New(
	cfg *config.Config,
	store blob.Store,
	reg *registry.Registry,
	load *loader.Loader,
	detectors []detector.Detector,
	deliverer delivery.Deliverer,
	history HistorySink,
	clock Clock,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		registry:  reg,
		loader:    load,
		detectors: detectors,
		deliverer: deliverer,
		history:   history,
		clock:     clock,
		logger:    logger.With("component", "orchestrator"),
	}
}

// taskResult is the outcome of one (property, detector) pair.
type taskResult struct {
	propertyID string
	kind       types.DetectorKind
	alerts     []types.Alert
	err        error
	loadErr    error
	loadMillis int64
}

// propertyRun shares one dataset load and one wall-clock budget across a
// property's detector tasks.
type propertyRun struct {
	property types.Property

	once       sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	dataset    *types.CleanDataset
	loadErr    error
	loadMillis int64
}

// Run executes one full pipeline run and returns the summary and exit code.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*types.RunSummary, int) {
	started := o.clock.Now()
	referenceDate := opts.ReferenceDate
	if referenceDate.IsZero() {
		referenceDate = types.DateOf(started)
	}
	analysisDate := referenceDate.AddDays(-o.cfg.SettlingDays)

	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID, "reference_date", referenceDate.String())
	logger.Info("run starting",
		"analysis_date", analysisDate.String(),
		"settling_days", o.cfg.SettlingDays,
		"dry_run", opts.DryRun,
	)

	summary := &types.RunSummary{
		RunID:            runID,
		ReferenceDate:    referenceDate,
		AnalysisDate:     analysisDate,
		StartedAt:        started,
		AlertsByDetector: make(map[types.DetectorKind]int),
		DryRun:           opts.DryRun,
	}
	for _, d := range o.detectors {
		summary.AlertsByDetector[d.Kind()] = 0
	}

	properties, err := o.registry.Load(ctx)
	if err == nil {
		properties, err = registry.Filter(properties, opts.Properties)
	}
	if err != nil {
		logger.Error("registry load failed", "error", err)
		o.finish(summary)
		if ctx.Err() != nil {
			return summary, ExitTimeout
		}
		return summary, ExitConfig
	}
	summary.PropertiesAttempted = len(properties)

	detectors := o.selectDetectors(opts.Detectors)

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	results := o.execute(runCtx, properties, detectors, referenceDate, analysisDate, started)

	streams, analyzed, issues := o.aggregate(summary, properties, detectors, results)

	resultsPrefix := o.cfg.Storage.ResultsPrefix
	if opts.DryRun {
		resultsPrefix += "/dry-run"
	}
	runPrefix := fmt.Sprintf("%s/%s", resultsPrefix, referenceDate)

	persistFailed := false
	for _, d := range detectors {
		if err := o.persistDetector(runCtx, runPrefix, d.Kind(), streams[d.Kind()], referenceDate, started, len(analyzed)); err != nil {
			logger.Error("detector artifact persistence failed", "detector", d.Kind(), "error", err)
			persistFailed = true
		}
	}

	digest := consolidate.New().Consolidate(streams, analyzed, issues, referenceDate, analysisDate, started)

	if err := o.persistDigest(runCtx, runPrefix, digest); err != nil {
		logger.Error("digest persistence failed", "error", err)
		persistFailed = true
	}

	deliveryFailed := false
	if !opts.DryRun {
		if err := o.deliver(runCtx, digest); err != nil {
			logger.Error("digest delivery failed", "error", err)
			deliveryFailed = true
		}
	}

	if o.history != nil {
		if err := o.history.RecordRun(runCtx, summary, digest); err != nil {
			// History is a convenience sink; the blob artifacts are the
			// source of truth.
			logger.Warn("history record failed", "error", err)
		}
	}

	o.finish(summary)
	if err := o.persistSummary(context.WithoutCancel(runCtx), runPrefix, summary); err != nil {
		logger.Error("run summary persistence failed", "error", err)
		persistFailed = true
	}

	logger.Info("run complete",
		"wall_ms", summary.WallMillis,
		"properties_loaded", summary.PropertiesLoaded,
		"properties_failed", summary.PropertiesFailed,
		"total_alerts", digest.TotalAlerts,
	)

	switch {
	case runCtx.Err() != nil:
		return summary, ExitTimeout
	case deliveryFailed:
		return summary, ExitDelivery
	case persistFailed || summary.PropertiesFailed > 0:
		return summary, ExitPartial
	default:
		return summary, ExitOK
	}
}

func (o *Orchestrator) selectDetectors(kinds []types.DetectorKind) []detector.Detector {
	if len(kinds) == 0 {
		return o.detectors
	}
	want := make(map[types.DetectorKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []detector.Detector
	for _, d := range o.detectors {
		if want[d.Kind()] {
			out = append(out, d)
		}
	}
	return out
}

// execute fans (property, detector) tasks out over the worker pool. One
// dataset load per property is shared by its detector tasks; each property
// has its own wall-clock budget.
func (o *Orchestrator) execute(
	ctx context.Context,
	properties []types.Property,
	detectors []detector.Detector,
	referenceDate, analysisDate types.Date,
	generatedAt time.Time,
) []taskResult {
	runs := make([]*propertyRun, len(properties))
	for i, p := range properties {
		runs[i] = &propertyRun{property: p}
	}

	type task struct {
		run *propertyRun
		det detector.Detector
	}
	tasks := make(chan task)
	resultCh := make(chan taskResult, len(properties)*len(detectors))

	workers := o.cfg.WorkerPoolSize
	if workers <= 0 {
		workers = len(properties) * len(detectors)
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				resultCh <- o.runTask(ctx, t.run, t.det, referenceDate, analysisDate, generatedAt)
			}
		}()
	}

	for _, r := range runs {
		for _, d := range detectors {
			tasks <- task{run: r, det: d}
		}
	}
	close(tasks)
	wg.Wait()
	close(resultCh)

	for _, r := range runs {
		if r.cancel != nil {
			r.cancel()
		}
	}

	results := make([]taskResult, 0, cap(resultCh))
	for res := range resultCh {
		results = append(results, res)
	}
	return results
}

func (o *Orchestrator) runTask(
	ctx context.Context,
	run *propertyRun,
	det detector.Detector,
	referenceDate, analysisDate types.Date,
	generatedAt time.Time,
) (res taskResult) {
	res = taskResult{propertyID: run.property.PropertyID, kind: det.Kind()}

	// The property budget starts when its first task starts; the shared load
	// happens exactly once under that budget.
	run.once.Do(func() {
		run.ctx, run.cancel = context.WithTimeout(ctx, o.cfg.PropertyTimeout)
		loadStart := time.Now()
		run.dataset, run.loadErr = o.loader.Load(run.ctx, run.property.PropertyID, referenceDate, analysisDate)
		run.loadMillis = time.Since(loadStart).Milliseconds()
	})
	res.loadMillis = run.loadMillis
	if run.loadErr != nil {
		res.loadErr = run.loadErr
		return res
	}
	if err := run.ctx.Err(); err != nil {
		res.err = err
		return res
	}

	defer func() {
		// A panicking detector is a programmer error scoped to this
		// (property, detector) pair; the rest of the run continues.
		if r := recover(); r != nil {
			res.err = fmt.Errorf("detector panic: %v", r)
			res.alerts = nil
		}
	}()

	alerts, err := det.Detect(detector.Input{
		Property:     run.property,
		Dataset:      run.dataset,
		AnalysisDate: analysisDate,
		GeneratedAt:  generatedAt,
	})
	if err != nil {
		res.err = fmt.Errorf("detector %s: %w", det.Kind(), err)
		return res
	}
	res.alerts = alerts
	return res
}

// aggregate folds task results into the summary, the per-detector streams,
// and the digest issue list. Single-threaded by construction.
func (o *Orchestrator) aggregate(
	summary *types.RunSummary,
	properties []types.Property,
	detectors []detector.Detector,
	results []taskResult,
) (map[types.DetectorKind][]types.Alert, []types.Property, []types.DigestIssue) {
	type propState struct {
		loadErr    error
		loadMillis int64
		failed     map[types.DetectorKind]string
		alertCount int
	}
	states := make(map[string]*propState, len(properties))
	for _, p := range properties {
		states[p.PropertyID] = &propState{failed: make(map[types.DetectorKind]string)}
	}

	streams := make(map[types.DetectorKind][]types.Alert, len(detectors))
	for _, res := range results {
		st := states[res.propertyID]
		st.loadMillis = res.loadMillis
		switch {
		case res.loadErr != nil:
			st.loadErr = res.loadErr
		case res.err != nil:
			st.failed[res.kind] = res.err.Error()
		default:
			streams[res.kind] = append(streams[res.kind], res.alerts...)
			st.alertCount += len(res.alerts)
		}
	}

	// Detector emission order across properties is scheduling-dependent;
	// restore a deterministic order before anything downstream sees it.
	for kind := range streams {
		sortStream(streams[kind])
	}
	for _, d := range detectors {
		summary.AlertsByDetector[d.Kind()] = len(streams[d.Kind()])
	}

	var analyzed []types.Property
	var issues []types.DigestIssue
	for _, p := range properties {
		st := states[p.PropertyID]
		outcome := types.PropertyOutcome{
			PropertyID: p.PropertyID,
			Status:     types.PropertyOK,
			AlertCount: st.alertCount,
			LoadMillis: st.loadMillis,
		}
		switch {
		case st.loadErr != nil:
			outcome.Status = types.PropertyLoadFailed
			outcome.Reason = st.loadErr.Error()
			if errors.Is(st.loadErr, context.DeadlineExceeded) {
				outcome.Status = types.PropertyTimedOut
			}
			summary.PropertiesFailed++
			issues = append(issues, types.DigestIssue{
				PropertyID: p.PropertyID,
				Code:       string(outcome.Status),
				Detail:     outcome.Reason,
			})
		case len(st.failed) > 0:
			outcome.Status = types.PropertyDetectorFailed
			for kind, reason := range st.failed {
				outcome.FailedDetectors = append(outcome.FailedDetectors, kind)
				issues = append(issues, types.DigestIssue{
					PropertyID: p.PropertyID,
					Code:       string(types.PropertyDetectorFailed),
					Detail:     fmt.Sprintf("%s: %s", kind, reason),
				})
			}
			sort.Slice(outcome.FailedDetectors, func(i, j int) bool {
				return outcome.FailedDetectors[i] < outcome.FailedDetectors[j]
			})
			summary.PropertiesLoaded++
			// Detectors that did run still contribute; the property stays in
			// the digest.
			analyzed = append(analyzed, p)
		default:
			summary.PropertiesLoaded++
			analyzed = append(analyzed, p)
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}
	return streams, analyzed, issues
}

// sortStream orders one detector's alerts by (property, date desc, dimension,
// dimension_value, metric, id) so artifacts are stable across reruns.
func sortStream(alerts []types.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		a, b := &alerts[i], &alerts[j]
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
		return a.ID < b.ID
	})
}

func (o *Orchestrator) persistDetector(ctx context.Context, runPrefix string, kind types.DetectorKind, alerts []types.Alert, referenceDate types.Date, generatedAt time.Time, propertiesAnalyzed int) error {
	artifact := types.DetectorArtifact{
		Detector:           kind,
		GeneratedAt:        generatedAt,
		ReferenceDate:      referenceDate,
		PropertiesAnalyzed: propertiesAnalyzed,
		TotalAlerts:        len(alerts),
		Alerts:             alerts,
	}
	if artifact.Alerts == nil {
		artifact.Alerts = []types.Alert{}
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s artifact: %w", kind, err)
	}
	key := fmt.Sprintf("%s/%s_alerts.json", runPrefix, kind)
	return blob.PutWithRetry(ctx, o.store, key, data, o.logger)
}

func (o *Orchestrator) persistDigest(ctx context.Context, runPrefix string, digest *types.Digest) error {
	data, err := json.MarshalIndent(digest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding digest: %w", err)
	}
	if err := blob.PutWithRetry(ctx, o.store, runPrefix+"/digest.json", data, o.logger); err != nil {
		return err
	}
	html, err := render.HTML(digest)
	if err != nil {
		return err
	}
	if err := blob.PutWithRetry(ctx, o.store, runPrefix+"/digest.html", []byte(html), o.logger); err != nil {
		return err
	}
	return blob.PutWithRetry(ctx, o.store, runPrefix+"/digest.txt", []byte(render.Text(digest)), o.logger)
}

func (o *Orchestrator) persistSummary(ctx context.Context, runPrefix string, summary *types.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}
	return blob.PutWithRetry(ctx, o.store, runPrefix+"/run_summary.json", data, o.logger)
}

func (o *Orchestrator) deliver(ctx context.Context, digest *types.Digest) error {
	html, err := render.HTML(digest)
	if err != nil {
		return err
	}
	providerID, err := o.deliverer.Deliver(ctx, html, render.Text(digest), o.cfg.Delivery.Recipients)
	if err != nil {
		return err
	}
	o.logger.Info("digest handed off", "provider_id", providerID)
	return nil
}

func (o *Orchestrator) finish(summary *types.RunSummary) {
	summary.FinishedAt = o.clock.Now()
	summary.WallMillis = summary.FinishedAt.Sub(summary.StartedAt).Milliseconds()
	summary.Host = collectHostStats()
}
