package runner

import (
	"context"
	"time"

	"github.com/qen-labs/execserv/internal/trace"
)

// Manual collects a tester-supplied outcome per step. Failures never
// halt subsequent steps unless cfg.FailFast is explicitly set (spec
// §4.4 "Manual": "runs longer by nature").
type Manual struct{}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) Name() string { return "manual" }

func (m *Manual) ValidateTestCase(tc *TestCase) ValidationResult {
	var result ValidationResult
	result.Valid = true
	if tc == nil || len(tc.Steps) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "test case has no steps")
	}
	return result
}

func (m *Manual) ExecuteTest(ctx context.Context, tc *TestCase, execCtx trace.ExecutionContext, cfg trace.ExecutionConfig) []trace.StepResult {
	results := make([]trace.StepResult, 0, len(tc.Steps))
	for i, step := range tc.Steps {
		result := m.ExecuteStep(ctx, step, i, execCtx, cfg)
		results = append(results, result)
		if result.Status == trace.StepFailed && cfg.FailFast {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// ExecuteStep reads the tester-supplied outcome out of step.Extra
// (key "tester_outcome": "passed"/"failed"/"skipped"); a missing
// outcome blocks the step pending tester action.
func (m *Manual) ExecuteStep(ctx context.Context, step TestStepDef, order int, execCtx trace.ExecutionContext, cfg trace.ExecutionConfig) trace.StepResult {
	return runWithStepTimeout(ctx, cfg, func() trace.StepResult {
		start := time.Now().UTC()
		result := trace.StepResult{
			StepID:         step.StepID,
			StepName:       step.Name,
			StepOrder:      order,
			StartedAt:      &start,
			InputData:      step.InputData,
			ExpectedResult: step.ExpectedResult,
		}

		outcome, _ := step.Extra["tester_outcome"].(string)
		switch outcome {
		case "passed":
			result.ActualResult = step.ExpectedResult
			result.Finish(trace.StepPassed, time.Now().UTC())
		case "failed":
			result.Finish(trace.StepFailed, time.Now().UTC())
			result.ErrorDetails = &trace.StepErrorDetails{
				Type:    "ManualFailure",
				Message: "tester recorded a failure",
			}
		case "skipped":
			result.Finish(trace.StepSkipped, time.Now().UTC())
		default:
			result.Finish(trace.StepBlocked, time.Now().UTC())
			result.Warnings = append(result.Warnings, "awaiting tester outcome")
		}
		return result
	})
}
