// Package trace defines the execution trace data model and its durable
// SQLite-backed store (component C1). The trace is the root entity:
// every other component reads or writes a slice of it under the
// ownership rules in spec §3 ("Ownership & lifecycle").
package trace

import "time"

// Status is the execution lifecycle status (spec §3 state machine).
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusPassed    Status = "PASSED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusTimeout   Status = "TIMEOUT"
	StatusRetrying  Status = "RETRYING"
	StatusAborted   Status = "ABORTED"
)

// IsTerminal reports whether s is one of the terminal statuses for
// billing/retention purposes (PASSED, FAILED, CANCELLED, ABORTED).
// TIMEOUT is deliberately excluded: it is transient per spec §3.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusCancelled, StatusAborted:
		return true
	default:
		return false
	}
}

// transitions is the complete allowed-transition table from spec §3.
var transitions = map[Status]map[Status]bool{
	StatusPending:   {StatusQueued: true, StatusCancelled: true},
	StatusQueued:    {StatusRunning: true, StatusCancelled: true},
	StatusRunning:   {StatusPassed: true, StatusFailed: true, StatusCancelled: true, StatusTimeout: true},
	StatusFailed:    {StatusRetrying: true},
	StatusTimeout:   {StatusRetrying: true},
	StatusRetrying:  {StatusQueued: true, StatusAborted: true},
	StatusPassed:    {},
	StatusCancelled: {},
	StatusAborted:   {},
}

// CanTransition reports whether from → to is allowed by the state table.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// ExecutionType classifies what kind of artifact is being executed.
type ExecutionType string

const (
	TypeTestCase  ExecutionType = "test_case"
	TypeTestSuite ExecutionType = "test_suite"
	TypeManual    ExecutionType = "manual"
	TypeBatch     ExecutionType = "batch"
	TypeCICD      ExecutionType = "ci_cd"
)

// ExecutionContext carries environment/browser/build metadata — a
// tagged opaque value at the system boundary (spec §9 design notes),
// not a free-form map in a hot path.
type ExecutionContext struct {
	Environment string            `json:"environment,omitempty"`
	Browser     string            `json:"browser,omitempty"`
	BuildTag    string            `json:"build_tag,omitempty"`
	Properties  map[string]string `json:"custom_properties,omitempty"`
}

// RetryPolicy configures per-step retry behavior (distinct from the
// queue layer's own retry counting, per spec §4.2 "Failure semantics").
type RetryPolicy struct {
	Enabled    bool `json:"enabled"`
	MaxRetries int  `json:"max_retries"`
}

// ExecutionConfig configures one execution run.
type ExecutionConfig struct {
	TimeoutMs          int64       `json:"timeout_ms"`
	StepTimeoutMs       int64       `json:"step_timeout_ms"`
	FailFast            bool        `json:"fail_fast"`
	Retry               RetryPolicy `json:"retry_policy"`
	CaptureScreenshots  bool        `json:"capture_screenshots,omitempty"`
	CaptureLogs         bool        `json:"capture_logs,omitempty"`
	ParallelExecution    bool       `json:"parallel_execution,omitempty"`
	MaxParallelCases     int        `json:"max_parallel_cases,omitempty"`
	ContinueOnFailure    bool       `json:"continue_on_failure,omitempty"`
	MaxResourceCPUPct    float64    `json:"max_resource_cpu_percent,omitempty"`
	MaxResourceMemoryMB  float64    `json:"max_resource_memory_mb,omitempty"`
}

// Validate enforces the config invariant from spec §4.3:
// step_timeout_ms must be strictly less than timeout_ms.
func (c ExecutionConfig) Validate() error {
	if c.TimeoutMs <= 0 {
		return errInvalidConfig("timeout_ms must be > 0")
	}
	if c.StepTimeoutMs <= 0 {
		return errInvalidConfig("step_timeout_ms must be > 0")
	}
	if c.StepTimeoutMs >= c.TimeoutMs {
		return errInvalidConfig("step_timeout_ms must be < timeout_ms")
	}
	if c.MaxParallelCases < 0 {
		return errInvalidConfig("max_parallel_cases must be >= 0")
	}
	return nil
}

// StepStatus is the per-step lifecycle status.
type StepStatus string

const (
	StepPending StepStatus = "PENDING"
	StepRunning StepStatus = "RUNNING"
	StepPassed  StepStatus = "PASSED"
	StepFailed  StepStatus = "FAILED"
	StepSkipped StepStatus = "SKIPPED"
	StepBlocked StepStatus = "BLOCKED"
	StepWarning StepStatus = "WARNING"
)

// IsTerminal reports whether the step status is a completion status.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepPassed, StepFailed, StepSkipped, StepBlocked, StepWarning:
		return true
	default:
		return false
	}
}

// StepErrorDetails describes why a step failed.
type StepErrorDetails struct {
	Type               string         `json:"type"`
	Message            string         `json:"message"`
	Code               string         `json:"code,omitempty"`
	Stack              string         `json:"stack,omitempty"`
	Context             map[string]any `json:"context,omitempty"`
	RetryAttempted      bool           `json:"retry_attempted"`
	RecoverySuggestion  string         `json:"recovery_suggestion,omitempty"`
}

// StepResult is a per-step record, stored either embedded in the trace
// or normalized depending on ExecutionTrace.IsPartitioned.
type StepResult struct {
	StepID        string            `json:"step_id"`
	StepName      string            `json:"step_name"`
	StepOrder     int               `json:"step_order"`
	Status        StepStatus        `json:"status"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	DurationMs    *int64            `json:"duration_ms,omitempty"`
	InputData     any               `json:"input_data,omitempty"`
	OutputData    any               `json:"output_data,omitempty"`
	ExpectedResult any              `json:"expected_result,omitempty"`
	ActualResult   any              `json:"actual_result,omitempty"`
	ErrorDetails  *StepErrorDetails `json:"error_details,omitempty"`
	RetryCount    int               `json:"retry_count"`
	MaxRetries    int               `json:"max_retries"`
	Warnings      []string          `json:"warnings,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

// Finish marks the step terminal, filling duration_ms from start/complete
// when both are present (spec §3 StepResult invariants).
func (s *StepResult) Finish(status StepStatus, at time.Time) {
	s.Status = status
	s.CompletedAt = &at
	if s.StartedAt != nil {
		d := at.Sub(*s.StartedAt).Milliseconds()
		s.DurationMs = &d
	}
}

// ResourceUsage captures optional resource-consumption samples
// (supplemented from original_source/, loader-populated only — see
// SPEC_FULL.md).
type ResourceUsage struct {
	CPUUsagePercent *float64 `json:"cpu_usage_percent,omitempty"`
	MemoryUsageMB   *float64 `json:"memory_usage_mb,omitempty"`
}

// ExecutionStatistics aggregates step outcomes for a run.
type ExecutionStatistics struct {
	TotalSteps         int            `json:"total_steps"`
	CompletedSteps     int            `json:"completed_steps"`
	PassedSteps        int            `json:"passed_steps"`
	FailedSteps        int            `json:"failed_steps"`
	SkippedSteps       int            `json:"skipped_steps"`
	ProgressPercent    float64        `json:"progress_percent"`
	AvgStepDurationMs  float64        `json:"average_step_duration_ms"`
	TotalDurationMs    int64          `json:"total_duration_ms"`
	SuccessRate        float64        `json:"success_rate"`
	ErrorRate          float64        `json:"error_rate"`
	RetryRate          float64        `json:"retry_rate"`
	ResourceUsage      *ResourceUsage `json:"resource_usage,omitempty"`
}

// Recompute derives progress/success/error rates from the counters,
// matching spec §3: "progress% = completed/total·100 when not
// explicitly set; success_rate = passed/completed similarly".
func (s *ExecutionStatistics) Recompute(totalRetries int) {
	if s.TotalSteps > 0 {
		s.ProgressPercent = float64(s.CompletedSteps) / float64(s.TotalSteps) * 100
	}
	if s.CompletedSteps > 0 {
		s.SuccessRate = float64(s.PassedSteps) / float64(s.CompletedSteps)
		s.ErrorRate = float64(s.FailedSteps) / float64(s.CompletedSteps)
	}
	if s.TotalSteps > 0 {
		s.RetryRate = float64(totalRetries) / float64(s.TotalSteps)
	}
}

// StateHistoryEntry is one row of the audit trail (spec §3).
type StateHistoryEntry struct {
	From    Status         `json:"from"`
	To      Status         `json:"to"`
	At      time.Time      `json:"at"`
	UserID  string         `json:"user_id,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ExecutionTrace is the root entity (spec §3).
type ExecutionTrace struct {
	ExecutionID       string  `json:"execution_id"`
	ParentExecutionID *string `json:"parent_execution_id,omitempty"`

	ExecutionType ExecutionType `json:"execution_type"`
	TestCaseID    *string       `json:"test_case_id,omitempty"`
	TestSuiteID   *string       `json:"test_suite_id,omitempty"`

	Status          Status     `json:"status"`
	TriggeredBy     string     `json:"triggered_by"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastStateChange time.Time  `json:"last_state_change"`

	IsPartitioned      bool `json:"is_partitioned"`
	StepCountThreshold int  `json:"step_count_threshold"`
	EstimatedStepCount int  `json:"estimated_step_count"`
	EmbeddedSteps      []StepResult `json:"embedded_steps,omitempty"`

	ExecutionContext ExecutionContext `json:"execution_context"`
	ExecutionConfig  ExecutionConfig  `json:"execution_config"`
	Tags             []string         `json:"tags,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	Priority         int              `json:"priority"`

	Statistics ExecutionStatistics `json:"statistics"`

	StateHistory []StateHistoryEntry `json:"state_history,omitempty"`
	ExecutionLog []string            `json:"execution_log,omitempty"`
	DebugData    map[string]any      `json:"debug_data,omitempty"`

	OverallResult string `json:"overall_result,omitempty"`
}

// TotalDurationMs returns completed_at − started_at, or 0 if either is unset.
func (t *ExecutionTrace) TotalDurationMs() int64 {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt).Milliseconds()
}

// ShouldPartition decides embedded-vs-normalized storage per spec §3:
// is_partitioned ⇔ estimated_step_count ≥ threshold.
func ShouldPartition(estimatedStepCount, threshold int) bool {
	return estimatedStepCount >= threshold
}

type configError string

func (e configError) Error() string { return string(e) }

func errInvalidConfig(msg string) error { return configError(msg) }
