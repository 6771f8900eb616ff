package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/singlethrowdata/scout/internal/blob"
	"github.com/singlethrowdata/scout/internal/config"
	"github.com/singlethrowdata/scout/internal/delivery"
	"github.com/singlethrowdata/scout/internal/detector"
	"github.com/singlethrowdata/scout/internal/loader"
	"github.com/singlethrowdata/scout/internal/registry"
	"github.com/singlethrowdata/scout/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is a thread-safe in-memory blob.Store.
type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func (m *memStore) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) get(t *testing.T, key string) []byte {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		t.Fatalf("blob %s not written", key)
	}
	return data
}

func date(t *testing.T, s string) types.Date {
	t.Helper()
	d, err := types.ParseDate(s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

// putRegistry writes a registry blob for the given property ids.
func putRegistry(t *testing.T, store *memStore, ids ...string) {
	t.Helper()
	reg := types.PropertyRegistry{}
	for _, id := range ids {
		reg.Properties = append(reg.Properties, types.Property{
			PropertyID:   id,
			ClientName:   "Client " + id,
			IsConfigured: true,
		})
	}
	data, _ := json.Marshal(reg)
	store.blobs["config/properties.json"] = data
}

// putDataset writes a 10-day dataset. zeroConversions makes the final day a
// disaster trigger.
func putDataset(t *testing.T, store *memStore, propertyID string, zeroConversions bool) {
	t.Helper()
	ds := &types.CleanDataset{
		PropertyID:    propertyID,
		ReferenceDate: date(t, "2026-08-01"),
	}
	end := date(t, "2026-07-29")
	for i := 9; i >= 0; i-- {
		d := end.AddDays(-i)
		conv := 5.0
		if zeroConversions && i == 0 {
			conv = 0
		}
		ds.Overall = append(ds.Overall,
			types.MetricPoint{Date: d, Metric: types.MetricSessions, Value: 500},
			types.MetricPoint{Date: d, Metric: types.MetricConversions, Value: conv},
		)
	}
	data, err := json.Marshal(ds)
	if err != nil {
		t.Fatal(err)
	}
	store.blobs["clean_dataset/"+propertyID+"/2026-08-01.json"] = data
}

func newTestOrchestrator(store *memStore, deliverer delivery.Deliverer) *Orchestrator {
	logger := testLogger()
	cfg := config.Default()
	cfg.Storage.Root = "unused"
	load := loader.New(store, nil, "clean_dataset", 4, logger)
	reg := registry.New(store, "config/properties.json", logger)
	detectors := []detector.Detector{
		detector.NewDisaster(cfg.Detectors.Disaster),
		detector.NewSpam(cfg.Detectors.Spam),
		detector.NewRecord(cfg.Detectors.Record),
		detector.NewTrend(cfg.Detectors.Trend),
	}
	if deliverer == nil {
		deliverer = &delivery.LogDeliverer{Logger: logger}
	}
	clock := FixedClock{T: time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)}
	return New(cfg, store, reg, load, detectors, deliverer, nil, clock, logger)
}

func runOpts(t *testing.T) Options {
	return Options{ReferenceDate: date(t, "2026-08-01")}
}

func TestRunAllClear(t *testing.T) {
	store := newMemStore()
	putRegistry(t, store, "alpha")
	putDataset(t, store, "alpha", false)

	orch := newTestOrchestrator(store, nil)
	summary, code := orch.Run(context.Background(), runOpts(t))

	if code != ExitOK {
		t.Fatalf("exit = %d, want 0", code)
	}
	if summary.PropertiesLoaded != 1 || summary.PropertiesFailed != 0 {
		t.Errorf("summary = %+v", summary)
	}

	var digest types.Digest
	if err := json.Unmarshal(store.get(t, "results/2026-08-01/digest.json"), &digest); err != nil {
		t.Fatal(err)
	}
	if !digest.AllClear() {
		t.Errorf("expected all-clear digest, got %d alerts", digest.TotalAlerts)
	}
	if len(digest.Properties) != 1 || !digest.Properties[0].AllClear {
		t.Errorf("rollups = %+v", digest.Properties)
	}

	// All four detector artifacts exist even with zero alerts.
	for _, kind := range types.AllDetectors {
		var artifact types.DetectorArtifact
		if err := json.Unmarshal(store.get(t, "results/2026-08-01/"+string(kind)+"_alerts.json"), &artifact); err != nil {
			t.Fatal(err)
		}
		if artifact.TotalAlerts != 0 || artifact.Alerts == nil {
			t.Errorf("%s artifact = %+v", kind, artifact)
		}
	}
	store.get(t, "results/2026-08-01/digest.html")
	store.get(t, "results/2026-08-01/digest.txt")
	store.get(t, "results/2026-08-01/run_summary.json")
}

func TestRunEmitsDisaster(t *testing.T) {
	store := newMemStore()
	putRegistry(t, store, "alpha", "charlie")
	putDataset(t, store, "alpha", false)
	putDataset(t, store, "charlie", true)

	orch := newTestOrchestrator(store, nil)
	_, code := orch.Run(context.Background(), runOpts(t))
	if code != ExitOK {
		t.Fatalf("exit = %d, want 0", code)
	}

	var digest types.Digest
	if err := json.Unmarshal(store.get(t, "results/2026-08-01/digest.json"), &digest); err != nil {
		t.Fatal(err)
	}
	if digest.TotalAlerts != 1 {
		t.Fatalf("alerts = %d, want 1", digest.TotalAlerts)
	}
	a := digest.Alerts[0]
	if a.Detector != types.DetectorDisaster || a.PropertyID != "charlie" || a.Priority != types.PriorityP0 {
		t.Errorf("alert = %+v", a)
	}
	if !a.Date.Equal(date(t, "2026-07-29")) {
		t.Errorf("alert date = %s, want analysis date 2026-07-29", a.Date)
	}
	// alpha is all clear, charlie is not.
	for _, r := range digest.Properties {
		wantClear := r.PropertyID == "alpha"
		if r.AllClear != wantClear {
			t.Errorf("rollup %s all_clear=%v", r.PropertyID, r.AllClear)
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	build := func() []byte {
		store := newMemStore()
		putRegistry(t, store, "alpha", "charlie")
		putDataset(t, store, "alpha", false)
		putDataset(t, store, "charlie", true)
		orch := newTestOrchestrator(store, nil)
		if _, code := orch.Run(context.Background(), runOpts(t)); code != ExitOK {
			t.Fatalf("exit = %d", code)
		}
		return store.get(t, "results/2026-08-01/digest.json")
	}
	if !bytes.Equal(build(), build()) {
		t.Error("two runs on identical inputs produced different digest.json bytes")
	}
}

func TestRunSkipsFailedLoads(t *testing.T) {
	store := newMemStore()
	putRegistry(t, store, "alpha", "bravo")
	putDataset(t, store, "alpha", false)
	// bravo has no dataset blob

	orch := newTestOrchestrator(store, nil)
	summary, code := orch.Run(context.Background(), runOpts(t))

	if code != ExitPartial {
		t.Fatalf("exit = %d, want 3 (partial failure)", code)
	}
	if summary.PropertiesLoaded != 1 || summary.PropertiesFailed != 1 {
		t.Errorf("summary = loaded %d / failed %d", summary.PropertiesLoaded, summary.PropertiesFailed)
	}

	var digest types.Digest
	if err := json.Unmarshal(store.get(t, "results/2026-08-01/digest.json"), &digest); err != nil {
		t.Fatal(err)
	}
	// bravo is excluded from the property rollups but named in issues.
	for _, r := range digest.Properties {
		if r.PropertyID == "bravo" {
			t.Error("failed property must not appear in rollups")
		}
	}
	found := false
	for _, issue := range digest.Issues {
		if issue.PropertyID == "bravo" && issue.Code == "load_failed" {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %+v, want bravo/load_failed", digest.Issues)
	}
}

func TestRunMissingRegistryIsConfigExit(t *testing.T) {
	orch := newTestOrchestrator(newMemStore(), nil)
	if _, code := orch.Run(context.Background(), runOpts(t)); code != ExitConfig {
		t.Fatalf("exit = %d, want 2", code)
	}
}

type failingDeliverer struct{}

func (failingDeliverer) Deliver(context.Context, string, string, []string) (string, error) {
	return "", errors.New("provider rejected the message")
}

func TestRunDeliveryFailure(t *testing.T) {
	store := newMemStore()
	putRegistry(t, store, "alpha")
	putDataset(t, store, "alpha", false)

	orch := newTestOrchestrator(store, failingDeliverer{})
	_, code := orch.Run(context.Background(), runOpts(t))
	if code != ExitDelivery {
		t.Fatalf("exit = %d, want 4", code)
	}
	// The digest was still persisted before delivery failed.
	store.get(t, "results/2026-08-01/digest.json")
}

func TestRunDryRunSkipsDeliveryAndUsesScratch(t *testing.T) {
	store := newMemStore()
	putRegistry(t, store, "alpha")
	putDataset(t, store, "alpha", false)

	opts := runOpts(t)
	opts.DryRun = true
	orch := newTestOrchestrator(store, failingDeliverer{})
	_, code := orch.Run(context.Background(), opts)

	// The failing deliverer was never called.
	if code != ExitOK {
		t.Fatalf("exit = %d, want 0 on dry run", code)
	}
	store.get(t, "results/dry-run/2026-08-01/digest.json")
}

func TestRunCancellation(t *testing.T) {
	store := newMemStore()
	putRegistry(t, store, "alpha")
	putDataset(t, store, "alpha", false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := newTestOrchestrator(store, nil)
	if _, code := orch.Run(ctx, runOpts(t)); code != ExitTimeout {
		t.Fatalf("exit = %d, want 5 on cancellation", code)
	}
}

func TestDetectorFilterRunsSubset(t *testing.T) {
	store := newMemStore()
	putRegistry(t, store, "charlie")
	putDataset(t, store, "charlie", true)

	opts := runOpts(t)
	opts.Detectors = []types.DetectorKind{types.DetectorSpam}
	orch := newTestOrchestrator(store, nil)
	if _, code := orch.Run(context.Background(), opts); code != ExitOK {
		t.Fatalf("exit = %d, want 0", code)
	}

	// Only the spam artifact is written; the disaster never ran.
	store.get(t, "results/2026-08-01/spam_alerts.json")
	store.mu.Lock()
	_, wroteDisaster := store.blobs["results/2026-08-01/disaster_alerts.json"]
	store.mu.Unlock()
	if wroteDisaster {
		t.Error("disaster artifact written despite detector filter")
	}
}
