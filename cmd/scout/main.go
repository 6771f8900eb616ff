// Command scout runs the daily anomaly-detection pipeline.
//
// # Usage
//
//	scout run --reference-date=2026-08-01 [--properties=id,id] [--detectors=disaster,spam] [--dry-run]
//	scout render --from=digest.json --out=digest.html
//	scout verify --dataset=clean_dataset/prop-1/2026-08-01.json
//	scout history --property=prop-1 [--limit=50]
//
// # Configuration
//
// The pipeline can be configured via:
// - Command-line flags
// - Environment variables (REFERENCE_DATE_OVERRIDE, SETTLING_DAYS, ...)
// - Config file (YAML, --config)
//
// # Exit Codes
//
//	0 success
//	2 configuration error
//	3 partial failure (some properties failed; digest still emitted)
//	4 delivery failure
//	5 cancellation or timeout
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/singlethrowdata/scout/internal/blob"
	"github.com/singlethrowdata/scout/internal/config"
	"github.com/singlethrowdata/scout/internal/delivery"
	"github.com/singlethrowdata/scout/internal/detector"
	"github.com/singlethrowdata/scout/internal/history"
	"github.com/singlethrowdata/scout/internal/loader"
	"github.com/singlethrowdata/scout/internal/orchestrator"
	"github.com/singlethrowdata/scout/internal/registry"
	"github.com/singlethrowdata/scout/internal/render"
	"github.com/singlethrowdata/scout/internal/secrets"
	"github.com/singlethrowdata/scout/pkg/types"
)

const version = "scout v0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(orchestrator.ExitConfig)
	}
	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "render":
		os.Exit(renderCmd(os.Args[2:]))
	case "verify":
		os.Exit(verifyCmd(os.Args[2:]))
	case "history":
		os.Exit(historyCmd(os.Args[2:]))
	case "version", "--version":
		fmt.Println(version)
		os.Exit(0)
	default:
		usage()
		os.Exit(orchestrator.ExitConfig)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: scout <run|render|verify|history> [flags]")
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var (
		configPath    = fs.String("config", "", "Path to YAML config file")
		referenceDate = fs.String("reference-date", "", "Reference date (YYYY-MM-DD, default today UTC)")
		propertyList  = fs.String("properties", "", "Comma-separated property ids (default all configured)")
		detectorList  = fs.String("detectors", "", "Comma-separated detectors (disaster,spam,record,trend)")
		dryRun        = fs.Bool("dry-run", false, "Write artifacts to a scratch namespace and skip delivery")
		debug         = fs.Bool("debug", false, "Enable debug logging")
	)
	fs.Parse(args)

	logger := newLogger(*debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return orchestrator.ExitConfig
	}

	opts := orchestrator.Options{DryRun: *dryRun}

	refDateStr := *referenceDate
	if refDateStr == "" {
		refDateStr = os.Getenv("REFERENCE_DATE_OVERRIDE")
	}
	if refDateStr != "" {
		d, err := types.ParseDate(refDateStr)
		if err != nil {
			logger.Error("invalid reference date", "error", err)
			return orchestrator.ExitConfig
		}
		opts.ReferenceDate = d
	}
	if *propertyList != "" {
		opts.Properties = splitList(*propertyList)
	}
	if *detectorList != "" {
		for _, name := range splitList(*detectorList) {
			kind := types.DetectorKind(name)
			switch kind {
			case types.DetectorDisaster, types.DetectorSpam, types.DetectorRecord, types.DetectorTrend:
				opts.Detectors = append(opts.Detectors, kind)
			default:
				logger.Error("unknown detector", "detector", name)
				return orchestrator.ExitConfig
			}
		}
	}

	store, err := blob.NewFileStore(cfg.Storage.Root, blob.Options{ReadRateLimit: cfg.Storage.ReadRateLimit}, logger)
	if err != nil {
		logger.Error("blob store init failed", "error", err)
		return orchestrator.ExitConfig
	}

	var cache loader.DatasetCache
	if cfg.Cache.RedisURL != "" {
		redisCache, err := loader.NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.TTL, logger)
		if err != nil {
			logger.Warn("dataset cache disabled - connection failed", "error", err)
		} else {
			defer redisCache.Close()
			cache = redisCache
			logger.Info("dataset cache enabled")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink orchestrator.HistorySink
	if cfg.History.DatabaseURL != "" {
		h, err := history.NewFromURL(ctx, cfg.History.DatabaseURL, logger)
		if err != nil {
			logger.Warn("alert history disabled - connection failed", "error", err)
		} else {
			defer h.Close()
			sink = h
			logger.Info("alert history enabled")
		}
	}

	var deliverer delivery.Deliverer = &delivery.LogDeliverer{Logger: logger}
	if cfg.Delivery.SMTPHost != "" {
		secretStore, err := secrets.NewStore(secrets.ConfigFromEnv(), logger)
		if err != nil {
			logger.Error("secrets init failed", "error", err)
			return orchestrator.ExitConfig
		}
		deliverer = &delivery.SMTPDeliverer{
			Host:           cfg.Delivery.SMTPHost,
			Port:           cfg.Delivery.SMTPPort,
			From:           cfg.Delivery.From,
			CredentialName: cfg.Delivery.CredentialName,
			Secrets:        secretStore,
			Logger:         logger,
		}
	}

	logger.Info("dataset horizon",
		"days", cfg.LongestWindowDays(),
		"settling_days", cfg.SettlingDays,
	)
	load := loader.New(store, cache, cfg.Storage.DataPrefix, cfg.Detectors.Disaster.BaselineDays+1, logger)
	reg := registry.New(store, cfg.Storage.RegistryPath, logger)
	detectors := []detector.Detector{
		detector.NewDisaster(cfg.Detectors.Disaster),
		detector.NewSpam(cfg.Detectors.Spam),
		detector.NewRecord(cfg.Detectors.Record),
		detector.NewTrend(cfg.Detectors.Trend),
	}

	orch := orchestrator.New(cfg, store, reg, load, detectors, deliverer, sink, orchestrator.SystemClock{}, logger)
	_, code := orch.Run(ctx, opts)
	return code
}

func renderCmd(args []string) int {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	var (
		from  = fs.String("from", "", "Path to a digest.json")
		out   = fs.String("out", "", "Output path (.html or .txt; default stdout as html)")
		debug = fs.Bool("debug", false, "Enable debug logging")
	)
	fs.Parse(args)
	logger := newLogger(*debug)

	if *from == "" {
		logger.Error("render requires --from")
		return orchestrator.ExitConfig
	}
	data, err := os.ReadFile(*from)
	if err != nil {
		logger.Error("reading digest", "error", err)
		return orchestrator.ExitConfig
	}
	var digest types.Digest
	if err := json.Unmarshal(data, &digest); err != nil {
		logger.Error("parsing digest", "error", err)
		return orchestrator.ExitConfig
	}

	var rendered string
	if strings.HasSuffix(*out, ".txt") {
		rendered = render.Text(&digest)
	} else {
		rendered, err = render.HTML(&digest)
		if err != nil {
			logger.Error("rendering digest", "error", err)
			return orchestrator.ExitPartial
		}
	}

	if *out == "" {
		fmt.Print(rendered)
		return orchestrator.ExitOK
	}
	if err := os.WriteFile(*out, []byte(rendered), 0o644); err != nil {
		logger.Error("writing output", "error", err)
		return orchestrator.ExitPartial
	}
	return orchestrator.ExitOK
}

func verifyCmd(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	var (
		datasetPath = fs.String("dataset", "", "Path to a clean dataset JSON file")
		debug       = fs.Bool("debug", false, "Enable debug logging")
	)
	fs.Parse(args)
	logger := newLogger(*debug)

	if *datasetPath == "" {
		logger.Error("verify requires --dataset")
		return orchestrator.ExitConfig
	}
	data, err := os.ReadFile(*datasetPath)
	if err != nil {
		logger.Error("reading dataset", "error", err)
		return orchestrator.ExitConfig
	}
	ds, err := loader.Decode(data)
	if err != nil {
		logger.Error("dataset malformed", "error", err)
		return orchestrator.ExitPartial
	}
	// Validation against the dataset's own reference date; history-depth
	// checks are skipped so partial exports can be linted during onboarding.
	if err := loader.Validate(ds, ds.ReferenceDate, 0); err != nil {
		logger.Error("dataset invalid", "property_id", ds.PropertyID, "error", err)
		return orchestrator.ExitPartial
	}
	loader.Normalize(ds)

	fmt.Printf("property %s, reference date %s\n", ds.PropertyID, ds.ReferenceDate)
	for _, dim := range types.AllDimensions {
		points := ds.Points(dim)
		if len(points) == 0 {
			fmt.Printf("  %-15s (empty)\n", dim)
			continue
		}
		values := ds.DimensionValues(dim)
		series := ds.Series(dim, values[0], types.MetricSessions)
		span := ""
		if len(series) > 0 {
			span = fmt.Sprintf(", %s..%s", series[0].Date, series[len(series)-1].Date)
		}
		fmt.Printf("  %-15s %d points, %d values%s\n", dim, len(points), len(values), span)
	}
	return orchestrator.ExitOK
}

func historyCmd(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	var (
		configPath = fs.String("config", "", "Path to YAML config file")
		propertyID = fs.String("property", "", "Property id to query")
		limit      = fs.Int("limit", 50, "Maximum alerts to show")
		debug      = fs.Bool("debug", false, "Enable debug logging")
	)
	fs.Parse(args)
	logger := newLogger(*debug)

	if *propertyID == "" {
		logger.Error("history requires --property")
		return orchestrator.ExitConfig
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return orchestrator.ExitConfig
	}
	if cfg.History.DatabaseURL == "" {
		logger.Error("alert history not configured", "hint", "set history.database_url or SCOUT_DATABASE_URL")
		return orchestrator.ExitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := history.NewFromURL(ctx, cfg.History.DatabaseURL, logger)
	if err != nil {
		logger.Error("history connection failed", "error", err)
		return orchestrator.ExitPartial
	}
	defer h.Close()
	if err := h.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		return orchestrator.ExitPartial
	}

	alerts, err := h.RecentAlerts(ctx, *propertyID, *limit)
	if err != nil {
		logger.Error("history query failed", "error", err)
		return orchestrator.ExitPartial
	}
	if len(alerts) == 0 {
		fmt.Printf("no recorded alerts for %s\n", *propertyID)
		return orchestrator.ExitOK
	}
	for _, a := range alerts {
		slice := string(a.Dimension)
		if a.DimensionValue != "" {
			slice += "=" + a.DimensionValue
		}
		fmt.Printf("%s  [%s] %-8s %-28s %-12s impact=%-3d %s\n",
			a.Date, a.Priority, a.Detector, slice, a.Metric, a.BusinessImpact, a.Message)
	}
	return orchestrator.ExitOK
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
