package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/qen-labs/execserv/internal/trace"
)

// BDD runs Gherkin-style steps grouped into given/when/then scenarios
// (spec §4.4 "BDD"). A scenario aborts on failure when cfg.FailFast.
type BDD struct{}

func NewBDD() *BDD { return &BDD{} }

func (b *BDD) Name() string { return "bdd" }

func (b *BDD) ValidateTestCase(tc *TestCase) ValidationResult {
	var result ValidationResult
	result.Valid = true
	if tc == nil || len(tc.Steps) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "test case has no steps")
		return result
	}

	seen := map[string]bool{}
	for _, step := range tc.Steps {
		seen[step.Type] = true
	}
	if !(seen["given"] && seen["when"] && seen["then"]) {
		result.Warnings = append(result.Warnings, "scenario does not contain a given/when/then mix")
	}
	return result
}

func (b *BDD) ExecuteTest(ctx context.Context, tc *TestCase, execCtx trace.ExecutionContext, cfg trace.ExecutionConfig) []trace.StepResult {
	results := make([]trace.StepResult, 0, len(tc.Steps))
	for i, step := range tc.Steps {
		result := b.ExecuteStep(ctx, step, i, execCtx, cfg)
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

func (b *BDD) ExecuteStep(ctx context.Context, step TestStepDef, order int, execCtx trace.ExecutionContext, cfg trace.ExecutionConfig) trace.StepResult {
	return runWithStepTimeout(ctx, cfg, func() trace.StepResult {
		start := time.Now().UTC()
		result := trace.StepResult{
			StepID:         step.StepID,
			StepName:       gherkinLabel(step),
			StepOrder:      order,
			StartedAt:      &start,
			InputData:      step.InputData,
			ExpectedResult: step.ExpectedResult,
		}

		if step.Type != "given" && step.Type != "when" && step.Type != "then" {
			result.Finish(trace.StepWarning, time.Now().UTC())
			result.Warnings = append(result.Warnings, "step missing a given/when/then type")
			return result
		}

		// "then" steps assert; given/when steps only set up state and
		// always pass.
		if step.Type == "then" && step.ExpectedResult != nil && !expectedSubsetOfActual(step.ExpectedResult, step.InputData) {
			result.ActualResult = step.InputData
			result.Finish(trace.StepFailed, time.Now().UTC())
			result.ErrorDetails = &trace.StepErrorDetails{
				Type:    "AssertionError",
				Message: fmt.Sprintf("then-step assertion failed: expected %v, got %v", step.ExpectedResult, step.InputData),
			}
			return result
		}

		result.ActualResult = step.InputData
		result.Finish(trace.StepPassed, time.Now().UTC())
		return result
	})
}

func gherkinLabel(step TestStepDef) string {
	if step.Type == "" {
		return step.Name
	}
	return fmt.Sprintf("%s %s", step.Type, step.Name)
}
