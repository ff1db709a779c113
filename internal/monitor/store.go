package monitor

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qen-labs/execserv/internal/migration"
)

// Store persists health-check snapshots and alerts, following the same
// single-writer WAL discipline as the trace and queue stores.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open monitor db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migration.EnsureVersion(db, 1); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema version: %w", err)
	}
	return s, nil
}

func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS health_checks (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			component    TEXT NOT NULL,
			status       TEXT NOT NULL,
			message      TEXT,
			checked_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_checks_checked_at ON health_checks(checked_at)`,
		`CREATE TABLE IF NOT EXISTS execution_alerts (
			id            TEXT PRIMARY KEY,
			rule_type     TEXT NOT NULL,
			severity      TEXT NOT NULL,
			message       TEXT NOT NULL,
			fired_at      TEXT NOT NULL,
			resolved_at   TEXT,
			acknowledged  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_alerts_fired_at ON execution_alerts(fired_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create monitor schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordHealthChecks persists one snapshot row per component.
func (s *Store) RecordHealthChecks(components []ComponentHealth) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, c := range components {
		if _, err := tx.Exec(
			`INSERT INTO health_checks (component, status, message, checked_at) VALUES (?,?,?,?)`,
			c.Component, string(c.Status), c.Message, c.CheckedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record health check: %w", err)
		}
	}
	return tx.Commit()
}

// UpsertFiringAlert inserts a new firing alert. An alert with the same id
// that was resolved fires again (severity, message and fired_at refreshed,
// acknowledgement cleared); while one with that id is still firing the
// call is a no-op (the caller uses a stable id per component so repeated
// ticks don't duplicate a still-firing alert).
func (s *Store) UpsertFiringAlert(a Alert) error {
	_, err := s.db.Exec(
		`INSERT INTO execution_alerts (id, rule_type, severity, message, fired_at, resolved_at, acknowledged)
		 VALUES (?,?,?,?,?,NULL,0)
		 ON CONFLICT(id) DO UPDATE SET severity = excluded.severity, message = excluded.message,
		   fired_at = excluded.fired_at, resolved_at = NULL, acknowledged = 0
		 WHERE execution_alerts.resolved_at IS NOT NULL`,
		a.ID, a.RuleType, a.Severity, a.Message, a.FiredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert firing alert: %w", err)
	}
	return nil
}

// ResolveAlert marks an alert resolved.
func (s *Store) ResolveAlert(id string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE execution_alerts SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		at.UTC().Format(time.RFC3339Nano), id,
	)
	return err
}

// AcknowledgeAlert marks an alert acknowledged by a client.
func (s *Store) AcknowledgeAlert(id string) error {
	res, err := s.db.Exec(`UPDATE execution_alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("acknowledge alert %s: not found", id)
	}
	return nil
}

// ActiveAlerts returns every unresolved alert, most recent first.
func (s *Store) ActiveAlerts() ([]Alert, error) {
	rows, err := s.db.Query(
		`SELECT id, rule_type, severity, message, fired_at, resolved_at, acknowledged
		 FROM execution_alerts WHERE resolved_at IS NULL ORDER BY fired_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// ListAlerts returns every alert (firing and resolved), most recent first.
func (s *Store) ListAlerts(limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, rule_type, severity, message, fired_at, resolved_at, acknowledged
		 FROM execution_alerts ORDER BY fired_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func scanAlerts(rows *sql.Rows) ([]Alert, error) {
	var out []Alert
	for rows.Next() {
		var a Alert
		var firedAt string
		var resolvedAt sql.NullString
		var acked int
		if err := rows.Scan(&a.ID, &a.RuleType, &a.Severity, &a.Message, &firedAt, &resolvedAt, &acked); err != nil {
			return nil, err
		}
		a.FiredAt, _ = time.Parse(time.RFC3339Nano, firedAt)
		if resolvedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, resolvedAt.String)
			a.ResolvedAt = &t
		}
		a.Acknowledged = acked != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes health_checks and resolved execution_alerts
// rows older than cutoff (spec §4.7 "Retention").
func (s *Store) PruneOlderThan(cutoff time.Time) error {
	cut := cutoff.UTC().Format(time.RFC3339Nano)
	if _, err := s.db.Exec(`DELETE FROM health_checks WHERE checked_at < ?`, cut); err != nil {
		return fmt.Errorf("prune health_checks: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM execution_alerts WHERE resolved_at IS NOT NULL AND resolved_at < ?`, cut); err != nil {
		return fmt.Errorf("prune execution_alerts: %w", err)
	}
	return nil
}
