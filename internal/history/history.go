// Package history persists consolidated runs to Postgres so account managers
// can query alert recurrence across days.
//
// # Design
//
// Raw SQL with pgx, matching how the rest of our storage talks to Postgres.
// The schema is two tables (runs, alerts) created on first use; a rerun for
// the same reference date replaces that date's rows so the table mirrors the
// blob artifacts.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/singlethrowdata/scout/pkg/types"
)

// Store provides alert-history database operations.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewFromURL connects to the given database URL and ensures the schema.
func NewFromURL(ctx context.Context, url string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	s := &Store{pool: pool, logger: logger.With("component", "history")}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS scout_runs (
			run_id          UUID PRIMARY KEY,
			reference_date  DATE NOT NULL,
			analysis_date   DATE NOT NULL,
			started_at      TIMESTAMPTZ NOT NULL,
			finished_at     TIMESTAMPTZ NOT NULL,
			properties_ok   INT NOT NULL,
			properties_failed INT NOT NULL,
			total_alerts    INT NOT NULL,
			summary         JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS scout_runs_reference_date_idx ON scout_runs (reference_date)`,
		`CREATE TABLE IF NOT EXISTS scout_alerts (
			id              UUID NOT NULL,
			run_id          UUID NOT NULL REFERENCES scout_runs (run_id) ON DELETE CASCADE,
			detector        TEXT NOT NULL,
			priority        TEXT NOT NULL,
			property_id     TEXT NOT NULL,
			alert_date      DATE NOT NULL,
			dimension       TEXT NOT NULL,
			dimension_value TEXT NOT NULL,
			metric          TEXT NOT NULL,
			observed_value  DOUBLE PRECISION NOT NULL,
			baseline_value  DOUBLE PRECISION NOT NULL,
			delta           DOUBLE PRECISION NOT NULL,
			severity        TEXT NOT NULL,
			business_impact INT NOT NULL,
			message         TEXT NOT NULL,
			details         JSONB,
			PRIMARY KEY (run_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS scout_alerts_property_idx ON scout_alerts (property_id, alert_date)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// RecordRun appends one consolidated run. Earlier runs for the same reference
// date are removed first so the history always reflects the latest artifacts.
func (s *Store) RecordRun(ctx context.Context, summary *types.RunSummary, digest *types.Digest) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM scout_runs WHERE reference_date = $1`,
		summary.ReferenceDate.Time,
	); err != nil {
		return fmt.Errorf("clearing prior runs: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO scout_runs (
			run_id, reference_date, analysis_date, started_at, finished_at,
			properties_ok, properties_failed, total_alerts, summary
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		summary.RunID,
		summary.ReferenceDate.Time,
		summary.AnalysisDate.Time,
		summary.StartedAt,
		summary.FinishedAt,
		summary.PropertiesLoaded,
		summary.PropertiesFailed,
		digest.TotalAlerts,
		summaryJSON,
	); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	if len(digest.Alerts) > 0 {
		if err := s.insertAlerts(ctx, tx, summary.RunID, digest.Alerts); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	s.logger.Info("run recorded",
		"run_id", summary.RunID,
		"alerts", len(digest.Alerts),
	)
	return nil
}

func (s *Store) insertAlerts(ctx context.Context, tx pgx.Tx, runID string, alerts []types.Alert) error {
	batch := &pgx.Batch{}
	for _, a := range alerts {
		details, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("encoding details for alert %s: %w", a.ID, err)
		}
		batch.Queue(`
			INSERT INTO scout_alerts (
				id, run_id, detector, priority, property_id, alert_date,
				dimension, dimension_value, metric,
				observed_value, baseline_value, delta,
				severity, business_impact, message, details
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			a.ID, runID, string(a.Detector), a.Priority.String(), a.PropertyID, a.Date.Time,
			string(a.Dimension), a.DimensionValue, string(a.Metric),
			a.ObservedValue, a.BaselineValue, a.Delta,
			string(a.Severity), a.BusinessImpact, a.Message, details,
		)
	}
	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for range alerts {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting alerts: %w", err)
		}
	}
	return nil
}

// RecentAlerts returns the latest alerts for a property, newest first.
func (s *Store) RecentAlerts(ctx context.Context, propertyID string, limit int) ([]types.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, detector, priority, property_id, alert_date,
		       dimension, dimension_value, metric,
		       observed_value, baseline_value, delta,
		       severity, business_impact, message
		FROM scout_alerts
		WHERE property_id = $1
		ORDER BY alert_date DESC, business_impact DESC
		LIMIT $2`,
		propertyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var out []types.Alert
	for rows.Next() {
		var a types.Alert
		var detector, priority, dimension, metric, severity string
		if err := rows.Scan(
			&a.ID, &detector, &priority, &a.PropertyID, &a.Date.Time,
			&dimension, &a.DimensionValue, &metric,
			&a.ObservedValue, &a.BaselineValue, &a.Delta,
			&severity, &a.BusinessImpact, &a.Message,
		); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Detector = types.DetectorKind(detector)
		a.Dimension = types.Dimension(dimension)
		a.Metric = types.Metric(metric)
		a.Severity = types.Severity(severity)
		for i, name := range []string{"P0", "P1", "P2", "P3"} {
			if strings.EqualFold(priority, name) {
				a.Priority = types.Priority(i)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
