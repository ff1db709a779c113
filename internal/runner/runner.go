// Package runner implements the pluggable test runners (component C4):
// Generic, BDD and Manual executors sharing one interface, registered
// statically by test_type (spec §4.4).
package runner

import (
	"context"
	"time"

	"github.com/qen-labs/execserv/internal/trace"
)

// ValidationResult is the outcome of validateTestCase (spec §4.4).
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Runner is the common interface every test-type executor implements
// (spec §4.4 "Common interface").
type Runner interface {
	// Name identifies the runner for logging/registry lookups.
	Name() string
	// ExecuteTest runs every step of a test case in order, honoring
	// config.fail_fast, and returns one StepResult per step attempted.
	ExecuteTest(ctx context.Context, tc *TestCase, execCtx trace.ExecutionContext, cfg trace.ExecutionConfig) []trace.StepResult
	// ExecuteStep runs a single step, honoring config.step_timeout_ms.
	ExecuteStep(ctx context.Context, step TestStepDef, order int, execCtx trace.ExecutionContext, cfg trace.ExecutionConfig) trace.StepResult
	// ValidateTestCase sanity-checks a case before it is scheduled.
	ValidateTestCase(tc *TestCase) ValidationResult
}

// runWithStepTimeout runs fn, enforcing cfg.StepTimeoutMs as a deadline.
// Most in-process runners finish well under the deadline; this guards
// against a pathological step action hanging past its budget.
func runWithStepTimeout(ctx context.Context, cfg trace.ExecutionConfig, fn func() trace.StepResult) trace.StepResult {
	if cfg.StepTimeoutMs <= 0 {
		return fn()
	}

	stepCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.StepTimeoutMs)*time.Millisecond)
	defer cancel()

	resultCh := make(chan trace.StepResult, 1)
	go func() { resultCh <- fn() }()

	select {
	case result := <-resultCh:
		return result
	case <-stepCtx.Done():
		now := time.Now().UTC()
		return trace.StepResult{
			Status:      trace.StepFailed,
			CompletedAt: &now,
			ErrorDetails: &trace.StepErrorDetails{
				Type:    "TimeoutError",
				Message: "step exceeded step_timeout_ms",
			},
		}
	}
}
