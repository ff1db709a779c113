package queue

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qen-labs/execserv/internal/execerr"
	"github.com/qen-labs/execserv/internal/migration"
)

// Store persists queue items, dead letters and the ACTIVE/PAUSED control
// row in SQLite, following the same single-writer WAL discipline as the
// trace store.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
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
		`CREATE TABLE IF NOT EXISTS queue_items (
			execution_id          TEXT PRIMARY KEY,
			execution_type        TEXT NOT NULL,
			priority              INTEGER NOT NULL DEFAULT 3,
			payload               BLOB,
			queued_at             TEXT NOT NULL,
			scheduled_at          TEXT NOT NULL,
			retry_count           INTEGER NOT NULL DEFAULT 0,
			max_retries           INTEGER NOT NULL DEFAULT 0,
			processing_started_at TEXT,
			last_error            TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_dispatch ON queue_items(processing_started_at, scheduled_at, priority)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			execution_id    TEXT PRIMARY KEY,
			execution_type  TEXT NOT NULL,
			priority        INTEGER NOT NULL,
			payload         BLOB,
			queued_at       TEXT NOT NULL,
			scheduled_at    TEXT NOT NULL,
			retry_count     INTEGER NOT NULL,
			max_retries     INTEGER NOT NULL,
			last_error      TEXT,
			moved_at        TEXT NOT NULL,
			failure_reason  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queue_control (
			id     INTEGER PRIMARY KEY CHECK (id = 1),
			status TEXT NOT NULL DEFAULT 'ACTIVE'
		)`,
		`INSERT OR IGNORE INTO queue_control (id, status) VALUES (1, 'ACTIVE')`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping() error { return s.db.Ping() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// Enqueue inserts a new queue item.
func (s *Store) Enqueue(item Item) error {
	_, err := s.db.Exec(`INSERT INTO queue_items (
		execution_id, execution_type, priority, payload, queued_at, scheduled_at,
		retry_count, max_retries, processing_started_at, last_error
	) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		item.ExecutionID, item.ExecutionType, int(item.Priority), item.Payload,
		formatTime(item.QueuedAt), formatTime(item.ScheduledAt),
		item.RetryCount, item.MaxRetries, nil, nullStr(item.LastError))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", item.ExecutionID, err)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanItem(row interface {
	Scan(dest ...any) error
}) (*Item, error) {
	var it Item
	var payload []byte
	var queuedAt, scheduledAt string
	var processingStartedAt, lastError sql.NullString
	var priority int
	if err := row.Scan(&it.ExecutionID, &it.ExecutionType, &priority, &payload,
		&queuedAt, &scheduledAt, &it.RetryCount, &it.MaxRetries, &processingStartedAt, &lastError); err != nil {
		return nil, err
	}
	it.Priority = Priority(priority)
	it.Payload = payload
	it.QueuedAt = parseTime(queuedAt)
	it.ScheduledAt = parseTime(scheduledAt)
	it.ProcessingStartedAt = parseTimePtr(processingStartedAt)
	it.LastError = lastError.String
	return &it, nil
}

const selectItemCols = `SELECT execution_id, execution_type, priority, payload, queued_at, scheduled_at,
	retry_count, max_retries, processing_started_at, last_error FROM queue_items`

// Dequeue atomically claims the next ready item: ready means no lease
// held and scheduled_at <= now; ordering is (priority ASC, scheduled_at
// ASC). Returns nil, nil when nothing is ready.
func (s *Store) Dequeue(now time.Time) (*Item, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRow(selectItemCols+` WHERE processing_started_at IS NULL AND scheduled_at <= ?
		ORDER BY priority ASC, scheduled_at ASC LIMIT 1`, formatTime(now))
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue candidate: %w", err)
	}

	res, err := tx.Exec(`UPDATE queue_items SET processing_started_at = ?
		WHERE execution_id = ? AND processing_started_at IS NULL`, formatTime(now), item.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("claim lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// A concurrent claimant won first: tell the caller there was
		// nothing to dequeue this round rather than returning a stale item.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	leaseTime := now
	item.ProcessingStartedAt = &leaseTime
	return item, nil
}

// Get returns a single queue item.
func (s *Store) Get(executionID string) (*Item, error) {
	row := s.db.QueryRow(selectItemCols+` WHERE execution_id = ?`, executionID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, execerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// Delete removes the queue item (used by Complete on success).
func (s *Store) Delete(executionID string) error {
	_, err := s.db.Exec(`DELETE FROM queue_items WHERE execution_id = ?`, executionID)
	return err
}

// Reschedule clears the lease, bumps retry_count, sets scheduled_at and
// last_error — used by the retry path.
func (s *Store) Reschedule(executionID string, retryCount int, scheduledAt time.Time, lastError string) error {
	res, err := s.db.Exec(`UPDATE queue_items SET processing_started_at = NULL, retry_count = ?,
		scheduled_at = ?, last_error = ? WHERE execution_id = ?`,
		retryCount, formatTime(scheduledAt), lastError, executionID)
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", executionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return execerr.ErrNotFound
	}
	return nil
}

// MoveToDeadLetter snapshots item into dead_letters and removes it from
// queue_items, in one transaction.
func (s *Store) MoveToDeadLetter(item Item, reason string, movedAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO dead_letters (
		execution_id, execution_type, priority, payload, queued_at, scheduled_at,
		retry_count, max_retries, last_error, moved_at, failure_reason
	) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		item.ExecutionID, item.ExecutionType, int(item.Priority), item.Payload,
		formatTime(item.QueuedAt), formatTime(item.ScheduledAt), item.RetryCount, item.MaxRetries,
		nullStr(item.LastError), formatTime(movedAt), reason); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM queue_items WHERE execution_id = ?`, item.ExecutionID); err != nil {
		return fmt.Errorf("remove dequeued item: %w", err)
	}

	return tx.Commit()
}

// SweepExpiredLeases returns items whose lease (processing_started_at)
// is older than the processing timeout, for the worker loop's retry
// sweep (spec §4.2 worker loop step 1).
func (s *Store) SweepExpiredLeases(olderThan time.Time) ([]Item, error) {
	rows, err := s.db.Query(selectItemCols+` WHERE processing_started_at IS NOT NULL AND processing_started_at < ?`,
		formatTime(olderThan))
	if err != nil {
		return nil, fmt.Errorf("sweep expired leases: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// CountInFlight returns the number of items currently leased.
func (s *Store) CountInFlight() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM queue_items WHERE processing_started_at IS NOT NULL`).Scan(&n)
	return n, err
}

// Status returns the ACTIVE/PAUSED control state.
func (s *Store) ControlStatus() (Status, error) {
	var st string
	err := s.db.QueryRow(`SELECT status FROM queue_control WHERE id = 1`).Scan(&st)
	if err != nil {
		return "", fmt.Errorf("read control status: %w", err)
	}
	return Status(st), nil
}

// SetControlStatus sets ACTIVE/PAUSED.
func (s *Store) SetControlStatus(status Status) error {
	_, err := s.db.Exec(`UPDATE queue_control SET status = ? WHERE id = 1`, string(status))
	return err
}

// GetQueueStatus aggregates totals, in-flight count, priority
// distribution, oldest queued time and dead-letter count.
func (s *Store) GetQueueStatus() (QueueStatus, error) {
	var qs QueueStatus
	qs.PriorityDistribution = make(map[string]int)

	control, err := s.ControlStatus()
	if err != nil {
		return qs, err
	}
	qs.ControlStatus = control

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM queue_items`).Scan(&qs.TotalItems); err != nil {
		return qs, fmt.Errorf("count total items: %w", err)
	}

	inFlight, err := s.CountInFlight()
	if err != nil {
		return qs, fmt.Errorf("count in-flight: %w", err)
	}
	qs.InFlightCount = inFlight

	rows, err := s.db.Query(`SELECT priority, COUNT(*) FROM queue_items GROUP BY priority`)
	if err != nil {
		return qs, fmt.Errorf("priority distribution: %w", err)
	}
	for rows.Next() {
		var priority, count int
		if err := rows.Scan(&priority, &count); err != nil {
			rows.Close()
			return qs, err
		}
		qs.PriorityDistribution[fmt.Sprintf("%d", priority)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return qs, err
	}

	var oldest sql.NullString
	if err := s.db.QueryRow(`SELECT MIN(queued_at) FROM queue_items`).Scan(&oldest); err != nil {
		return qs, fmt.Errorf("oldest queued: %w", err)
	}
	qs.OldestQueuedAt = parseTimePtr(oldest)

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM dead_letters`).Scan(&qs.DeadLetterCount); err != nil {
		return qs, fmt.Errorf("count dead letters: %w", err)
	}

	return qs, nil
}

// ClearQueue removes all queue items, optionally scoped to execType.
func (s *Store) ClearQueue(execType string) error {
	if execType == "" {
		_, err := s.db.Exec(`DELETE FROM queue_items`)
		return err
	}
	_, err := s.db.Exec(`DELETE FROM queue_items WHERE execution_type = ?`, execType)
	return err
}
