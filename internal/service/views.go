package service

import (
	"time"

	"github.com/qen-labs/execserv/internal/trace"
)

// TraceFields selects how much of a trace to project into a view
// (spec §4.5/§6 field-inclusion hints).
type TraceFields string

const (
	FieldsCore     TraceFields = "core"
	FieldsSummary  TraceFields = "summary"
	FieldsDetailed TraceFields = "detailed"
	FieldsFull     TraceFields = "full"
)

// ParseTraceFields normalizes a query value, defaulting to SUMMARY.
func ParseTraceFields(v string) TraceFields {
	switch TraceFields(v) {
	case FieldsCore, FieldsSummary, FieldsDetailed, FieldsFull:
		return TraceFields(v)
	default:
		return FieldsSummary
	}
}

// StepFields selects how much of a StepResult to project (spec §6).
type StepFields string

const (
	StepFieldsBasic    StepFields = "basic"
	StepFieldsStandard StepFields = "standard"
	StepFieldsDetailed StepFields = "detailed"
	StepFieldsFull     StepFields = "full"
)

// ParseStepFields normalizes a query value, defaulting to STANDARD.
func ParseStepFields(v string) StepFields {
	switch StepFields(v) {
	case StepFieldsBasic, StepFieldsStandard, StepFieldsDetailed, StepFieldsFull:
		return StepFields(v)
	default:
		return StepFieldsStandard
	}
}

// StepView is the projected representation of a trace.StepResult.
type StepView struct {
	StepID    string `json:"step_id"`
	StepName  string `json:"step_name"`
	StepOrder int    `json:"step_order"`
	Status    string `json:"status"`

	StartedAt      *string `json:"started_at,omitempty"`
	CompletedAt    *string `json:"completed_at,omitempty"`
	DurationMs     *int64  `json:"duration_ms,omitempty"`
	InputData      any     `json:"input_data,omitempty"`
	OutputData     any     `json:"output_data,omitempty"`
	ExpectedResult any     `json:"expected_result,omitempty"`
	ActualResult   any     `json:"actual_result,omitempty"`

	ErrorDetails *trace.StepErrorDetails `json:"error_details,omitempty"`
	Warnings     []string                `json:"warnings,omitempty"`
	RetryCount   *int                    `json:"retry_count,omitempty"`
	MaxRetries   *int                    `json:"max_retries,omitempty"`
	Metadata     map[string]any          `json:"metadata,omitempty"`
}

// ProjectStep builds a StepView at the requested inclusion level.
func ProjectStep(s trace.StepResult, incl StepFields) StepView {
	v := StepView{
		StepID:    s.StepID,
		StepName:  s.StepName,
		StepOrder: s.StepOrder,
		Status:    string(s.Status),
	}
	if incl == StepFieldsBasic {
		return v
	}

	v.StartedAt = formatTimePtr(s.StartedAt)
	v.CompletedAt = formatTimePtr(s.CompletedAt)
	v.DurationMs = s.DurationMs
	v.InputData = s.InputData
	v.OutputData = s.OutputData
	v.ExpectedResult = s.ExpectedResult
	v.ActualResult = s.ActualResult
	if incl == StepFieldsStandard {
		return v
	}

	v.ErrorDetails = s.ErrorDetails
	v.Warnings = s.Warnings
	retryCount, maxRetries := s.RetryCount, s.MaxRetries
	v.RetryCount = &retryCount
	v.MaxRetries = &maxRetries
	v.Metadata = s.Metadata
	// FULL is DETAILED in current data; reserved for future debug data.
	return v
}

// TraceView is the projected representation of a trace.ExecutionTrace.
type TraceView struct {
	ExecutionID   string `json:"execution_id"`
	Status        string `json:"status"`
	ExecutionType string `json:"execution_type"`
	TriggeredBy   string `json:"triggered_by"`
	TriggeredAt   string `json:"triggered_at"`

	TestCaseID  *string `json:"test_case_id,omitempty"`
	TestSuiteID *string `json:"test_suite_id,omitempty"`
	StartedAt   *string `json:"started_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`

	Statistics *trace.ExecutionStatistics `json:"statistics,omitempty"`

	ExecutionContext *trace.ExecutionContext `json:"execution_context,omitempty"`
	ExecutionConfig  *trace.ExecutionConfig  `json:"execution_config,omitempty"`
	Tags             []string                `json:"tags,omitempty"`
	Steps            []StepView              `json:"steps,omitempty"`
	OverallResult    string                  `json:"overall_result,omitempty"`

	StateHistory []trace.StateHistoryEntry `json:"state_history,omitempty"`
	ExecutionLog []string                  `json:"execution_log,omitempty"`
	DebugData    map[string]any            `json:"debug_data,omitempty"`
	Metadata     map[string]any            `json:"metadata,omitempty"`
}

// ProjectTrace builds a TraceView at the requested inclusion level,
// pulling steps from either the trace's embedded slice or an explicitly
// supplied (partitioned) slice.
func ProjectTrace(t *trace.ExecutionTrace, steps []trace.StepResult, fields TraceFields, stepFields StepFields) TraceView {
	v := TraceView{
		ExecutionID:   t.ExecutionID,
		Status:        string(t.Status),
		ExecutionType: string(t.ExecutionType),
		TriggeredBy:   t.TriggeredBy,
		TriggeredAt:   formatTime(t.TriggeredAt),
	}
	if fields == FieldsCore {
		return v
	}

	v.TestCaseID = t.TestCaseID
	v.TestSuiteID = t.TestSuiteID
	v.StartedAt = formatTimePtr(t.StartedAt)
	v.CompletedAt = formatTimePtr(t.CompletedAt)
	stats := t.Statistics
	v.Statistics = &stats
	if fields == FieldsSummary {
		return v
	}

	v.ExecutionContext = &t.ExecutionContext
	v.ExecutionConfig = &t.ExecutionConfig
	v.Tags = t.Tags
	v.OverallResult = t.OverallResult
	if len(steps) == 0 {
		steps = t.EmbeddedSteps
	}
	for _, s := range steps {
		v.Steps = append(v.Steps, ProjectStep(s, stepFields))
	}
	if fields == FieldsDetailed {
		return v
	}

	v.StateHistory = t.StateHistory
	v.ExecutionLog = t.ExecutionLog
	v.DebugData = t.DebugData
	v.Metadata = t.Metadata
	return v
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
