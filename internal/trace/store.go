package trace

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qen-labs/execserv/internal/execerr"
	"github.com/qen-labs/execserv/internal/migration"
)

// inlineHistoryDepth is how many recent state_history entries are kept
// inline on the trace row for quick inspection; execution_state_history
// is the system of record (spec §9 design notes).
const inlineHistoryDepth = 5

// Store persists execution traces, normalized step results and state
// history in SQLite. One *sql.DB connection is kept, matching the
// single-writer discipline the queue layer depends on for its atomic
// dequeue (spec §4.2 "Concurrency").
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the trace database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
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
		`CREATE TABLE IF NOT EXISTS execution_traces (
			execution_id          TEXT PRIMARY KEY,
			parent_execution_id   TEXT,
			execution_type        TEXT NOT NULL,
			test_case_id          TEXT,
			test_suite_id         TEXT,
			status                TEXT NOT NULL,
			triggered_by          TEXT NOT NULL,
			triggered_at          TEXT NOT NULL,
			started_at            TEXT,
			completed_at          TEXT,
			last_state_change     TEXT NOT NULL,
			is_partitioned        INTEGER NOT NULL DEFAULT 0,
			step_count_threshold  INTEGER NOT NULL DEFAULT 50,
			estimated_step_count  INTEGER NOT NULL DEFAULT 0,
			embedded_steps        TEXT NOT NULL DEFAULT '[]',
			execution_context     TEXT NOT NULL DEFAULT '{}',
			execution_config      TEXT NOT NULL DEFAULT '{}',
			tags                  TEXT NOT NULL DEFAULT '[]',
			metadata              TEXT NOT NULL DEFAULT '{}',
			priority              INTEGER NOT NULL DEFAULT 5,
			statistics            TEXT NOT NULL DEFAULT '{}',
			state_history_inline  TEXT NOT NULL DEFAULT '[]',
			execution_log         TEXT NOT NULL DEFAULT '[]',
			debug_data            TEXT NOT NULL DEFAULT '{}',
			overall_result        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_status_triggered ON execution_traces(status, triggered_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_triggered_by ON execution_traces(triggered_by, triggered_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_case ON execution_traces(test_case_id, status, triggered_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_suite ON execution_traces(test_suite_id, status, triggered_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_by_type ON execution_traces(triggered_by, execution_type, triggered_at DESC)`,
		`CREATE TABLE IF NOT EXISTS execution_state_history (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			old_status   TEXT NOT NULL,
			new_status   TEXT NOT NULL,
			timestamp    TEXT NOT NULL,
			user_id      TEXT,
			context      TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_state_history_exec ON execution_state_history(execution_id, timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS step_results (
			execution_id    TEXT NOT NULL,
			step_order      INTEGER NOT NULL,
			step_id         TEXT NOT NULL,
			step_name       TEXT NOT NULL,
			status          TEXT NOT NULL,
			started_at      TEXT,
			completed_at    TEXT,
			duration_ms     INTEGER,
			input_data      TEXT NOT NULL DEFAULT 'null',
			output_data     TEXT NOT NULL DEFAULT 'null',
			expected_result TEXT NOT NULL DEFAULT 'null',
			actual_result   TEXT NOT NULL DEFAULT 'null',
			error_details   TEXT,
			retry_count     INTEGER NOT NULL DEFAULT 0,
			max_retries     INTEGER NOT NULL DEFAULT 0,
			warnings        TEXT NOT NULL DEFAULT '[]',
			metadata        TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (execution_id, step_order)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks store reachability for the monitoring health check (§4.7).
func (s *Store) Ping() error { return s.db.Ping() }

// BaselineCount returns the total number of traces, used as the store
// health check's baseline sanity read.
func (s *Store) BaselineCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM execution_traces`).Scan(&n)
	return n, err
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshal(data string, v any) {
	if strings.TrimSpace(data) == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), v)
}

// Insert creates a new trace row. Callers set ExecutionID, TriggeredAt,
// LastStateChange, Status=PENDING before calling.
func (s *Store) Insert(t ExecutionTrace) error {
	embeddedSteps := t.EmbeddedSteps
	if t.IsPartitioned {
		embeddedSteps = nil
	}
	_, err := s.db.Exec(`INSERT INTO execution_traces (
		execution_id, parent_execution_id, execution_type, test_case_id, test_suite_id,
		status, triggered_by, triggered_at, started_at, completed_at, last_state_change,
		is_partitioned, step_count_threshold, estimated_step_count, embedded_steps,
		execution_context, execution_config, tags, metadata, priority, statistics,
		state_history_inline, execution_log, debug_data, overall_result
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ExecutionID, nullableStr(t.ParentExecutionID), string(t.ExecutionType),
		nullableStr(t.TestCaseID), nullableStr(t.TestSuiteID),
		string(t.Status), t.TriggeredBy, formatTime(t.TriggeredAt), formatTimePtr(t.StartedAt), formatTimePtr(t.CompletedAt),
		formatTime(t.LastStateChange), boolToInt(t.IsPartitioned), t.StepCountThreshold, t.EstimatedStepCount,
		marshal(embeddedSteps), marshal(t.ExecutionContext), marshal(t.ExecutionConfig), marshal(t.Tags),
		marshal(t.Metadata), t.Priority, marshal(t.Statistics), marshal(t.StateHistory),
		marshal(t.ExecutionLog), marshal(t.DebugData), t.OverallResult,
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// Get returns one trace by execution id.
func (s *Store) Get(executionID string) (*ExecutionTrace, error) {
	row := s.db.QueryRow(selectTraceCols+` FROM execution_traces WHERE execution_id = ?`, executionID)
	t, err := scanTrace(row)
	if err == sql.ErrNoRows {
		return nil, execerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}
	return t, nil
}

const selectTraceCols = `SELECT
	execution_id, parent_execution_id, execution_type, test_case_id, test_suite_id,
	status, triggered_by, triggered_at, started_at, completed_at, last_state_change,
	is_partitioned, step_count_threshold, estimated_step_count, embedded_steps,
	execution_context, execution_config, tags, metadata, priority, statistics,
	state_history_inline, execution_log, debug_data, overall_result`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (*ExecutionTrace, error) {
	var (
		t                                                     ExecutionTrace
		parentID, testCaseID, testSuiteID                     sql.NullString
		startedAt, completedAt                                sql.NullString
		isPartitioned                                         int
		embeddedSteps, execContext, execConfig, tagsJSON      string
		metadataJSON, statsJSON, historyJSON, logJSON, dbgJSON string
		triggeredAtStr, lastStateChangeStr                    string
	)
	if err := row.Scan(
		&t.ExecutionID, &parentID, &t.ExecutionType, &testCaseID, &testSuiteID,
		&t.Status, &t.TriggeredBy, &triggeredAtStr, &startedAt, &completedAt, &lastStateChangeStr,
		&isPartitioned, &t.StepCountThreshold, &t.EstimatedStepCount, &embeddedSteps,
		&execContext, &execConfig, &tagsJSON, &metadataJSON, &t.Priority, &statsJSON,
		&historyJSON, &logJSON, &dbgJSON, &t.OverallResult,
	); err != nil {
		return nil, err
	}

	t.ParentExecutionID = nullableOut(parentID)
	t.TestCaseID = nullableOut(testCaseID)
	t.TestSuiteID = nullableOut(testSuiteID)
	t.TriggeredAt = parseTime(triggeredAtStr)
	t.StartedAt = parseTimePtr(startedAt)
	t.CompletedAt = parseTimePtr(completedAt)
	t.LastStateChange = parseTime(lastStateChangeStr)
	t.IsPartitioned = isPartitioned != 0
	unmarshal(embeddedSteps, &t.EmbeddedSteps)
	unmarshal(execContext, &t.ExecutionContext)
	unmarshal(execConfig, &t.ExecutionConfig)
	unmarshal(tagsJSON, &t.Tags)
	unmarshal(metadataJSON, &t.Metadata)
	unmarshal(statsJSON, &t.Statistics)
	unmarshal(historyJSON, &t.StateHistory)
	unmarshal(logJSON, &t.ExecutionLog)
	unmarshal(dbgJSON, &t.DebugData)
	return &t, nil
}

// ListFilter controls List's filtering/sorting/pagination (spec §4.5).
type ListFilter struct {
	TriggeredBy  string
	Status       []Status
	ExecType     ExecutionType
	TestCaseID   string
	TestSuiteID  string
	Tags         []string // OR-logic
	TriggeredAfter  *time.Time
	TriggeredBefore *time.Time
	SortBy       string // triggered_at, started_at, completed_at, status, execution_type, duration
	SortDesc     bool
	Page         int
	PageSize     int
}

// List returns the filtered/sorted/paginated traces and the total count
// matching the filter (for pagination metadata).
func (s *Store) List(f ListFilter) ([]ExecutionTrace, int, error) {
	var where []string
	var args []any

	if f.TriggeredBy != "" {
		where = append(where, "triggered_by = ?")
		args = append(args, f.TriggeredBy)
	}
	if len(f.Status) > 0 {
		ph := make([]string, len(f.Status))
		for i, st := range f.Status {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(ph, ",")))
	}
	if f.ExecType != "" {
		where = append(where, "execution_type = ?")
		args = append(args, string(f.ExecType))
	}
	if f.TestCaseID != "" {
		where = append(where, "test_case_id = ?")
		args = append(args, f.TestCaseID)
	}
	if f.TestSuiteID != "" {
		where = append(where, "test_suite_id = ?")
		args = append(args, f.TestSuiteID)
	}
	if len(f.Tags) > 0 {
		ph := make([]string, len(f.Tags))
		for i, tag := range f.Tags {
			ph[i] = "tags LIKE ?"
			args = append(args, "%\""+tag+"\"%")
		}
		where = append(where, "("+strings.Join(ph, " OR ")+")")
	}
	if f.TriggeredAfter != nil {
		where = append(where, "triggered_at >= ?")
		args = append(args, formatTime(*f.TriggeredAfter))
	}
	if f.TriggeredBefore != nil {
		where = append(where, "triggered_at <= ?")
		args = append(args, formatTime(*f.TriggeredBefore))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM execution_traces %s`, whereClause)
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count traces: %w", err)
	}

	sortCol := sortColumn(f.SortBy)
	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`%s FROM execution_traces %s ORDER BY %s %s LIMIT ? OFFSET ?`,
		selectTraceCols, whereClause, sortCol, direction)
	queryArgs := append(append([]any{}, args...), pageSize, offset)

	rows, err := s.db.Query(query, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	out := make([]ExecutionTrace, 0, pageSize)
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan trace: %w", err)
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

func sortColumn(sortBy string) string {
	switch sortBy {
	case "started_at":
		return "started_at"
	case "completed_at":
		return "completed_at"
	case "status":
		return "status"
	case "execution_type":
		return "execution_type"
	default:
		return "triggered_at"
	}
}

// UpdateStatusCAS performs the atomic compare-and-set transition from
// spec §4.1: it only succeeds if the row's current status equals from.
// Returns (true, nil) on success, (false, nil) if a concurrent writer
// raced (zero rows modified), and a non-nil error only on a genuine
// illegal transition or store failure.
func (s *Store) UpdateStatusCAS(executionID string, from, to Status, at time.Time, userID string, ctxMeta map[string]any) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", execerr.ErrInvalidTransition, from, to)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var completedAtArg any
	if to.IsTerminal() {
		completedAtArg = formatTime(at)
	}

	var startedAtClause string
	var args []any
	args = append(args, string(to), formatTime(at))
	if to == StatusRunning {
		startedAtClause = ", started_at = ?"
		args = append(args, formatTime(at))
	}
	if completedAtArg != nil {
		startedAtClause += ", completed_at = ?"
		args = append(args, completedAtArg)
	}
	args = append(args, executionID, string(from))

	res, err := tx.Exec(fmt.Sprintf(`UPDATE execution_traces SET status = ?, last_state_change = ?%s WHERE execution_id = ? AND status = ?`, startedAtClause), args...)
	if err != nil {
		return false, fmt.Errorf("update trace status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.Exec(`INSERT INTO execution_state_history (execution_id, old_status, new_status, timestamp, user_id, context)
		VALUES (?,?,?,?,?,?)`, executionID, string(from), string(to), formatTime(at), userID, marshal(ctxMeta)); err != nil {
		return false, fmt.Errorf("append state history: %w", err)
	}

	if err := s.refreshInlineHistory(tx, executionID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) refreshInlineHistory(tx *sql.Tx, executionID string) error {
	rows, err := tx.Query(`SELECT old_status, new_status, timestamp, user_id, context FROM execution_state_history
		WHERE execution_id = ? ORDER BY id DESC LIMIT ?`, executionID, inlineHistoryDepth)
	if err != nil {
		return fmt.Errorf("read recent state history: %w", err)
	}
	defer rows.Close()

	var entries []StateHistoryEntry
	for rows.Next() {
		var e StateHistoryEntry
		var userID sql.NullString
		var ts, ctxJSON string
		if err := rows.Scan(&e.From, &e.To, &ts, &userID, &ctxJSON); err != nil {
			return err
		}
		e.At = parseTime(ts)
		e.UserID = userID.String
		unmarshal(ctxJSON, &e.Context)
		entries = append([]StateHistoryEntry{e}, entries...)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE execution_traces SET state_history_inline = ? WHERE execution_id = ?`, marshal(entries), executionID)
	return err
}

// GetStateHistory returns up to limit history entries for an execution,
// most recent first, from the system-of-record table.
func (s *Store) GetStateHistory(executionID string, limit int) ([]StateHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT old_status, new_status, timestamp, user_id, context FROM execution_state_history
		WHERE execution_id = ? ORDER BY id DESC LIMIT ?`, executionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get state history: %w", err)
	}
	defer rows.Close()

	var out []StateHistoryEntry
	for rows.Next() {
		var e StateHistoryEntry
		var userID sql.NullString
		var ts, ctxJSON string
		if err := rows.Scan(&e.From, &e.To, &ts, &userID, &ctxJSON); err != nil {
			return nil, err
		}
		e.At = parseTime(ts)
		e.UserID = userID.String
		unmarshal(ctxJSON, &e.Context)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetActiveExecutions returns traces in a non-terminal, non-timeout status.
func (s *Store) GetActiveExecutions() ([]ExecutionTrace, error) {
	rows, err := s.db.Query(selectTraceCols+` FROM execution_traces WHERE status IN (?,?,?,?) ORDER BY triggered_at DESC`,
		string(StatusPending), string(StatusQueued), string(StatusRunning), string(StatusRetrying))
	if err != nil {
		return nil, fmt.Errorf("get active executions: %w", err)
	}
	defer rows.Close()

	var out []ExecutionTrace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateStatistics writes statistics and optionally the embedded steps,
// without touching status (the Orchestrator's exclusive write per spec
// §5 "Shared-resource policy").
func (s *Store) UpdateStatistics(executionID string, stats ExecutionStatistics, embeddedSteps []StepResult) error {
	if embeddedSteps != nil {
		_, err := s.db.Exec(`UPDATE execution_traces SET statistics = ?, embedded_steps = ? WHERE execution_id = ?`,
			marshal(stats), marshal(embeddedSteps), executionID)
		return err
	}
	_, err := s.db.Exec(`UPDATE execution_traces SET statistics = ? WHERE execution_id = ?`, marshal(stats), executionID)
	return err
}

// SetOverallResult stores the computed overall result label (e.g. for
// suite aggregation) without touching status.
func (s *Store) SetOverallResult(executionID, result string) error {
	_, err := s.db.Exec(`UPDATE execution_traces SET overall_result = ? WHERE execution_id = ?`, result, executionID)
	return err
}

// SetCompletedAt backfills completed_at for the state-consistency repair
// path (spec §4.1 "recoverState"), without touching status.
func (s *Store) SetCompletedAt(executionID string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE execution_traces SET completed_at = ? WHERE execution_id = ?`, formatTime(at), executionID)
	return err
}

// AppendLog appends one execution_log line.
func (s *Store) AppendLog(executionID, line string) error {
	t, err := s.Get(executionID)
	if err != nil {
		return err
	}
	t.ExecutionLog = append(t.ExecutionLog, line)
	_, err = s.db.Exec(`UPDATE execution_traces SET execution_log = ? WHERE execution_id = ?`, marshal(t.ExecutionLog), executionID)
	return err
}

// InsertStepResults writes normalized step results (used when
// is_partitioned is true).
func (s *Store) InsertStepResults(executionID string, steps []StepResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, step := range steps {
		var errJSON any
		if step.ErrorDetails != nil {
			errJSON = marshal(step.ErrorDetails)
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO step_results (
			execution_id, step_order, step_id, step_name, status, started_at, completed_at, duration_ms,
			input_data, output_data, expected_result, actual_result, error_details, retry_count, max_retries, warnings, metadata
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			executionID, step.StepOrder, step.StepID, step.StepName, string(step.Status),
			formatTimePtr(step.StartedAt), formatTimePtr(step.CompletedAt), nullableInt64(step.DurationMs),
			marshal(step.InputData), marshal(step.OutputData), marshal(step.ExpectedResult), marshal(step.ActualResult),
			errJSON, step.RetryCount, step.MaxRetries, marshal(step.Warnings), marshal(step.Metadata))
		if err != nil {
			return fmt.Errorf("insert step result: %w", err)
		}
	}
	return tx.Commit()
}

// ListStepResults returns normalized step results in step_order.
func (s *Store) ListStepResults(executionID string) ([]StepResult, error) {
	rows, err := s.db.Query(`SELECT step_id, step_name, step_order, status, started_at, completed_at, duration_ms,
		input_data, output_data, expected_result, actual_result, error_details, retry_count, max_retries, warnings, metadata
		FROM step_results WHERE execution_id = ? ORDER BY step_order ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}
	defer rows.Close()

	var out []StepResult
	for rows.Next() {
		var step StepResult
		var startedAt, completedAt sql.NullString
		var durationMs sql.NullInt64
		var inputJSON, outputJSON, expectedJSON, actualJSON, warningsJSON, metaJSON string
		var errJSON sql.NullString
		if err := rows.Scan(&step.StepID, &step.StepName, &step.StepOrder, &step.Status,
			&startedAt, &completedAt, &durationMs, &inputJSON, &outputJSON, &expectedJSON, &actualJSON,
			&errJSON, &step.RetryCount, &step.MaxRetries, &warningsJSON, &metaJSON); err != nil {
			return nil, err
		}
		step.StartedAt = parseTimePtr(startedAt)
		step.CompletedAt = parseTimePtr(completedAt)
		if durationMs.Valid {
			d := durationMs.Int64
			step.DurationMs = &d
		}
		unmarshal(inputJSON, &step.InputData)
		unmarshal(outputJSON, &step.OutputData)
		unmarshal(expectedJSON, &step.ExpectedResult)
		unmarshal(actualJSON, &step.ActualResult)
		unmarshal(metaJSON, &step.Metadata)
		unmarshal(warningsJSON, &step.Warnings)
		if errJSON.Valid {
			var ed StepErrorDetails
			unmarshal(errJSON.String, &ed)
			step.ErrorDetails = &ed
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// --- small scalar helpers shared across the store layer ---

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

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

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableOut(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
