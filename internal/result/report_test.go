package result

import (
	"strings"
	"testing"
	"time"

	"github.com/qen-labs/execserv/internal/trace"
)

func sampleReport(includeSteps bool) Report {
	tr := trace.ExecutionTrace{
		ExecutionID:   "abc123",
		ExecutionType: trace.TypeTestCase,
		Status:        trace.StatusPassed,
		TriggeredBy:   "user-1",
		TriggeredAt:   time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	processed := NewProcessor(nil).Process([]trace.StepResult{
		{StepID: "s1", StepName: "step one", Status: trace.StepPassed, StepOrder: 0, DurationMs: durationPtr(50)},
	}, trace.StatusPassed)
	return Report{
		Trace:        tr,
		Processed:    processed,
		Steps:        []trace.StepResult{{StepID: "s1", StepName: "step one", Status: trace.StepPassed, StepOrder: 0, DurationMs: durationPtr(50)}},
		IncludeSteps: includeSteps,
	}
}

func TestRenderJSONContainsExecutionID(t *testing.T) {
	out, err := Render(sampleReport(false), FormatJSON)
	if err != nil {
		t.Fatalf("render json: %v", err)
	}
	if !strings.Contains(string(out), "abc123") {
		t.Fatalf("expected execution id in json output, got %s", out)
	}
}

func TestRenderHTMLContainsSummary(t *testing.T) {
	out, err := Render(sampleReport(true), FormatHTML)
	if err != nil {
		t.Fatalf("render html: %v", err)
	}
	if !strings.Contains(string(out), "step one") {
		t.Fatalf("expected step table in html output, got %s", out)
	}
}

func TestRenderCSVPerExecutionRow(t *testing.T) {
	out, err := Render(sampleReport(false), FormatCSV)
	if err != nil {
		t.Fatalf("render csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines: %v", len(lines), lines)
	}
}

func TestRenderCSVPerStepRows(t *testing.T) {
	out, err := Render(sampleReport(true), FormatCSV)
	if err != nil {
		t.Fatalf("render csv: %v", err)
	}
	if !strings.Contains(string(out), "step one") {
		t.Fatalf("expected step row in csv output, got %s", out)
	}
}

func sampleSuiteReport() Report {
	tr := trace.ExecutionTrace{
		ExecutionID:   "suite-abc",
		ExecutionType: trace.TypeTestSuite,
		Status:        trace.StatusFailed,
		TriggeredBy:   "user-1",
		TriggeredAt:   time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	steps := []trace.StepResult{
		{StepID: "tc-1", StepName: "tc-1", Status: trace.StepPassed, StepOrder: 0, DurationMs: durationPtr(50)},
		{StepID: "tc-2", StepName: "tc-2", Status: trace.StepFailed, StepOrder: 1, DurationMs: durationPtr(75)},
	}
	processed := NewProcessor(nil).Process(steps, trace.StatusFailed)
	return NewReport(tr, processed, steps, false)
}

func TestNewReportComputesSuiteAggregate(t *testing.T) {
	r := sampleSuiteReport()
	if r.Suite == nil {
		t.Fatal("expected a suite aggregate for a test_suite execution")
	}
	if r.Suite.TotalChildren != 2 {
		t.Fatalf("expected 2 children, got %d", r.Suite.TotalChildren)
	}
	if r.Suite.OverallStatus != trace.StatusFailed {
		t.Fatalf("expected FAILED overall status, got %s", r.Suite.OverallStatus)
	}
}

func TestNewReportOmitsSuiteAggregateForTestCase(t *testing.T) {
	r := sampleReport(false)
	if r.Suite != nil {
		t.Fatal("expected no suite aggregate for a test_case execution")
	}
}

func TestRenderJSONIncludesSuiteAggregate(t *testing.T) {
	out, err := Render(sampleSuiteReport(), FormatJSON)
	if err != nil {
		t.Fatalf("render json: %v", err)
	}
	if !strings.Contains(string(out), `"suite"`) {
		t.Fatalf("expected suite aggregate in json output, got %s", out)
	}
}
