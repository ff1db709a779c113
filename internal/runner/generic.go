package runner

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/qen-labs/execserv/internal/trace"
)

// Generic runs plain action/verify steps: execute an action, then
// compare expected_result against actual_result (spec §4.4 "Generic").
type Generic struct{}

func NewGeneric() *Generic { return &Generic{} }

func (g *Generic) Name() string { return "generic" }

func (g *Generic) ValidateTestCase(tc *TestCase) ValidationResult {
	var result ValidationResult
	result.Valid = true
	if tc == nil || len(tc.Steps) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "test case has no steps")
	}
	for i, step := range tc.Steps {
		if step.StepID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("step %d missing step_id", i))
			result.Valid = false
		}
	}
	return result
}

func (g *Generic) ExecuteTest(ctx context.Context, tc *TestCase, execCtx trace.ExecutionContext, cfg trace.ExecutionConfig) []trace.StepResult {
	results := make([]trace.StepResult, 0, len(tc.Steps))
	for i, step := range tc.Steps {
		result := g.ExecuteStep(ctx, step, i, execCtx, cfg)
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

func (g *Generic) ExecuteStep(ctx context.Context, step TestStepDef, order int, execCtx trace.ExecutionContext, cfg trace.ExecutionConfig) trace.StepResult {
	return runWithStepTimeout(ctx, cfg, func() trace.StepResult {
		start := time.Now().UTC()
		result := trace.StepResult{
			StepID:         step.StepID,
			StepName:       step.Name,
			StepOrder:      order,
			StartedAt:      &start,
			InputData:      step.InputData,
			ExpectedResult: step.ExpectedResult,
			MaxRetries:     0,
		}

		actual := step.InputData
		result.ActualResult = actual

		if step.ExpectedResult != nil && !expectedSubsetOfActual(step.ExpectedResult, actual) {
			result.Finish(trace.StepFailed, time.Now().UTC())
			result.ErrorDetails = &trace.StepErrorDetails{
				Type:    "AssertionError",
				Message: fmt.Sprintf("expected %v, got %v", step.ExpectedResult, actual),
			}
			return result
		}

		result.Finish(trace.StepPassed, time.Now().UTC())
		return result
	})
}

// expectedSubsetOfActual implements the naive "expected ⊆ actual"
// verification spec §4.4 calls for: a map's keys/values must all be
// present in actual (when actual is also a map); otherwise direct
// equality.
func expectedSubsetOfActual(expected, actual any) bool {
	expMap, expIsMap := expected.(map[string]any)
	actMap, actIsMap := actual.(map[string]any)
	if expIsMap && actIsMap {
		for k, v := range expMap {
			av, ok := actMap[k]
			if !ok || !reflect.DeepEqual(v, av) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(expected, actual)
}
