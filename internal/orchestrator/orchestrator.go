// Package orchestrator implements component C5: given a dequeued work
// item it loads the test artifact, selects a runner, iterates steps
// (or suite children), updates statistics, and drives the trace to a
// terminal status (spec §4.3).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qen-labs/execserv/internal/execerr"
	"github.com/qen-labs/execserv/internal/queue"
	"github.com/qen-labs/execserv/internal/result"
	"github.com/qen-labs/execserv/internal/runner"
	"github.com/qen-labs/execserv/internal/state"
	"github.com/qen-labs/execserv/internal/trace"
)

// Orchestrator drives one execution from RUNNING to a terminal status.
type Orchestrator struct {
	store       *trace.Store
	state       *state.Service
	queueSvc    *queue.Service
	registry    *runner.Registry
	caseLoader  runner.CaseLoader
	suiteLoader runner.SuiteLoader
	processor   *result.Processor
	breaker     *breaker
	logger      *zap.Logger
}

// New builds an Orchestrator. caseLoader/suiteLoader are the external
// collaborators of spec §6; a nil processor falls back to a default one.
func New(store *trace.Store, st *state.Service, queueSvc *queue.Service, registry *runner.Registry,
	caseLoader runner.CaseLoader, suiteLoader runner.SuiteLoader, processor *result.Processor, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if processor == nil {
		processor = result.NewProcessor(nil)
	}
	return &Orchestrator{
		store:       store,
		state:       st,
		queueSvc:    queueSvc,
		registry:    registry,
		caseLoader:  caseLoader,
		suiteLoader: suiteLoader,
		processor:   processor,
		breaker:     newBreaker("runner-dispatch"),
		logger:      logger.Named("orchestrator"),
	}
}

// Dispatch adapts Orchestrate to queue.Dispatch for the worker loop:
// on completion it reports the outcome back to the queue service.
func (o *Orchestrator) Dispatch(ctx context.Context, item queue.Item) {
	success, execErr := o.Orchestrate(ctx, item.ExecutionID)
	if _, err := o.queueSvc.Complete(item, success, execErr); err != nil {
		o.logger.Error("queue complete failed", zap.String("execution_id", item.ExecutionID), zap.Error(err))
	}
}

// Orchestrate runs exec_id to a terminal status. Re-invocation on an
// already-running or terminal trace is a conflict, never silent
// corruption (spec §4.3 "idempotent w.r.t. transitions").
func (o *Orchestrator) Orchestrate(ctx context.Context, execID string) (success bool, execErrMsg string) {
	tr, err := o.store.Get(execID)
	if err != nil {
		o.logger.Error("load trace failed", zap.String("execution_id", execID), zap.Error(err))
		return false, err.Error()
	}

	if tr.Status != trace.StatusPending && tr.Status != trace.StatusQueued {
		o.logger.Warn("orchestrate called on non-startable trace, ignoring",
			zap.String("execution_id", execID), zap.String("status", string(tr.Status)))
		return false, "conflict: execution is not in a startable status"
	}

	ok, err := o.state.Transition(execID, tr.Status, trace.StatusRunning, "", nil)
	if err != nil || !ok {
		return false, "conflict: could not transition to RUNNING"
	}

	deadline := time.Now().UTC().Add(time.Duration(tr.ExecutionConfig.TimeoutMs) * time.Millisecond)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var steps []trace.StepResult
	var outcome trace.Status

	switch tr.ExecutionType {
	case trace.TypeTestSuite:
		steps, outcome = o.runSuite(runCtx, tr)
	default:
		steps, outcome = o.runTestCase(runCtx, tr)
	}

	processed := o.processor.Process(steps, outcome)
	if tr.IsPartitioned {
		if err := o.store.InsertStepResults(execID, steps); err != nil {
			o.logger.Error("persist normalized steps failed", zap.String("execution_id", execID), zap.Error(err))
		}
		if err := o.state.UpdateProgress(execID, processed.Statistics, nil, ""); err != nil {
			o.logger.Error("update progress failed", zap.String("execution_id", execID), zap.Error(err))
		}
	} else {
		if err := o.state.UpdateProgress(execID, processed.Statistics, steps, ""); err != nil {
			o.logger.Error("update progress failed", zap.String("execution_id", execID), zap.Error(err))
		}
	}
	if err := o.store.SetOverallResult(execID, string(outcome)); err != nil {
		o.logger.Error("set overall result failed", zap.String("execution_id", execID), zap.Error(err))
	}

	final, err := o.store.Get(execID)
	if err != nil {
		return false, err.Error()
	}
	if final.Status == trace.StatusCancelled {
		// An external caller already moved this to CANCELLED; nothing
		// further to transition.
		return false, "cancelled"
	}

	if _, err := o.state.Transition(execID, trace.StatusRunning, outcome, "", nil); err != nil && !execerr.IsInvalidTransition(err) {
		o.logger.Error("terminal transition failed", zap.String("execution_id", execID), zap.Error(err))
	}

	return outcome == trace.StatusPassed, outcomeMessage(outcome)
}

func outcomeMessage(outcome trace.Status) string {
	if outcome == trace.StatusPassed {
		return ""
	}
	return fmt.Sprintf("execution ended in %s", outcome)
}

// isCancelled reloads just the status to check for an externally
// applied cancellation (spec §4.3 "Cancellation during a step").
func (o *Orchestrator) isCancelled(execID string) bool {
	tr, err := o.store.Get(execID)
	if err != nil {
		return false
	}
	return tr.Status == trace.StatusCancelled
}

func (o *Orchestrator) runTestCase(ctx context.Context, tr *trace.ExecutionTrace) ([]trace.StepResult, trace.Status) {
	if tr.TestCaseID == nil {
		return nil, trace.StatusFailed
	}
	tc, err := o.caseLoader.Load(*tr.TestCaseID)
	if err != nil {
		o.logger.Error("load test case failed", zap.String("test_case_id", *tr.TestCaseID), zap.Error(err))
		return nil, trace.StatusFailed
	}

	run := o.registry.Resolve(tc.TestType)

	// Empty test case: nothing to run. Treated the same as an empty
	// suite (spec §4.3 edge-case policy) — PASSED, documented no-op.
	if len(tc.Steps) == 0 {
		return nil, trace.StatusPassed
	}

	steps := make([]trace.StepResult, 0, len(tc.Steps))
	anyFailed := false
	for i, stepDef := range tc.Steps {
		if ctx.Err() != nil {
			return steps, trace.StatusTimeout
		}
		if o.isCancelled(tr.ExecutionID) {
			return steps, trace.StatusCancelled
		}

		stepResult, err := o.executeStepWithBreaker(ctx, run, stepDef, i, tr.ExecutionContext, tr.ExecutionConfig)
		if err != nil {
			stepResult = synthesizeFailure(stepDef, i, err)
		}
		steps = append(steps, stepResult)

		if stepResult.Status == trace.StepFailed {
			anyFailed = true
		}

		o.reportProgress(tr.ExecutionID, steps, len(tc.Steps))

		if stepResult.Status == trace.StepFailed && tr.ExecutionConfig.FailFast {
			break
		}
	}

	if ctx.Err() != nil {
		return steps, trace.StatusTimeout
	}
	if o.isCancelled(tr.ExecutionID) {
		return steps, trace.StatusCancelled
	}
	if anyFailed {
		return steps, trace.StatusFailed
	}
	return steps, trace.StatusPassed
}

func (o *Orchestrator) reportProgress(execID string, steps []trace.StepResult, totalSteps int) {
	stats := statsFromSteps(steps, totalSteps)
	if err := o.state.UpdateProgress(execID, stats, nil, ""); err != nil {
		o.logger.Debug("progress update skipped", zap.String("execution_id", execID), zap.Error(err))
	}
}

func statsFromSteps(steps []trace.StepResult, totalSteps int) trace.ExecutionStatistics {
	var stats trace.ExecutionStatistics
	stats.TotalSteps = totalSteps
	totalRetries := 0
	for _, s := range steps {
		if !s.Status.IsTerminal() {
			continue
		}
		stats.CompletedSteps++
		switch s.Status {
		case trace.StepPassed:
			stats.PassedSteps++
		case trace.StepFailed:
			stats.FailedSteps++
		case trace.StepSkipped:
			stats.SkippedSteps++
		}
		totalRetries += s.RetryCount
	}
	stats.Recompute(totalRetries)
	return stats
}

func (o *Orchestrator) executeStepWithBreaker(ctx context.Context, run runner.Runner, step runner.TestStepDef, order int, execCtx trace.ExecutionContext, cfg trace.ExecutionConfig) (trace.StepResult, error) {
	out, err := o.breaker.execute(func() (any, error) {
		return run.ExecuteStep(ctx, step, order, execCtx, cfg), nil
	})
	if err != nil {
		return trace.StepResult{}, err
	}
	return out.(trace.StepResult), nil
}

func synthesizeFailure(step runner.TestStepDef, order int, err error) trace.StepResult {
	now := time.Now().UTC()
	return trace.StepResult{
		StepID:      step.StepID,
		StepName:    step.Name,
		StepOrder:   order,
		Status:      trace.StepFailed,
		CompletedAt: &now,
		ErrorDetails: &trace.StepErrorDetails{
			Type:    "RunnerError",
			Message: err.Error(),
		},
	}
}

func (o *Orchestrator) runSuite(ctx context.Context, tr *trace.ExecutionTrace) ([]trace.StepResult, trace.Status) {
	if tr.TestSuiteID == nil {
		return nil, trace.StatusFailed
	}
	suite, err := o.suiteLoader.Load(*tr.TestSuiteID)
	if err != nil {
		o.logger.Error("load test suite failed", zap.String("test_suite_id", *tr.TestSuiteID), zap.Error(err))
		return nil, trace.StatusFailed
	}

	if len(suite.TestCases) == 0 {
		return nil, trace.StatusPassed
	}

	steps := make([]trace.StepResult, len(suite.TestCases))

	runChild := func(i int) trace.StepResult {
		ref := suite.TestCases[i]
		now := time.Now().UTC()
		child := trace.StepResult{StepID: ref.TestCaseID, StepName: ref.TestCaseID, StepOrder: i, StartedAt: &now}

		tc, err := o.caseLoader.Load(ref.TestCaseID)
		if err != nil {
			child.Finish(trace.StepFailed, time.Now().UTC())
			child.ErrorDetails = &trace.StepErrorDetails{Type: "LoaderError", Message: err.Error()}
			return child
		}

		run := o.registry.Resolve(tc.TestType)
		childResults := run.ExecuteTest(ctx, tc, tr.ExecutionContext, tr.ExecutionConfig)
		childFailed := false
		for _, cr := range childResults {
			if cr.Status == trace.StepFailed {
				childFailed = true
				break
			}
		}
		if childFailed {
			child.Finish(trace.StepFailed, time.Now().UTC())
		} else {
			child.Finish(trace.StepPassed, time.Now().UTC())
		}
		return child
	}

	if tr.ExecutionConfig.ParallelExecution {
		g, gctx := errgroup.WithContext(ctx)
		limit := tr.ExecutionConfig.MaxParallelCases
		if limit <= 0 {
			limit = len(suite.TestCases)
		}
		g.SetLimit(limit)
		for i := range suite.TestCases {
			i := i
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if o.isCancelled(tr.ExecutionID) {
					return fmt.Errorf("execution cancelled")
				}
				steps[i] = runChild(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range suite.TestCases {
			if ctx.Err() != nil {
				break
			}
			if o.isCancelled(tr.ExecutionID) {
				break
			}
			steps[i] = runChild(i)
			o.reportProgress(tr.ExecutionID, nonZero(steps[:i+1]), len(suite.TestCases))
			if steps[i].Status == trace.StepFailed && !tr.ExecutionConfig.ContinueOnFailure {
				steps = steps[:i+1]
				break
			}
		}
	}

	if ctx.Err() != nil {
		return nonZero(steps), trace.StatusTimeout
	}
	if o.isCancelled(tr.ExecutionID) {
		return nonZero(steps), trace.StatusCancelled
	}
	return nonZero(steps), aggregateSuiteStatus(nonZero(steps))
}

func nonZero(steps []trace.StepResult) []trace.StepResult {
	out := make([]trace.StepResult, 0, len(steps))
	for _, s := range steps {
		if s.StepID != "" {
			out = append(out, s)
		}
	}
	return out
}

// aggregateSuiteStatus implements spec §4.3 step 3 / §4.6 suite
// aggregation: any FAILED child ⇒ FAILED; otherwise PASSED. Run-level
// CANCELLED/TIMEOUT are decided by the caller from the trace/context
// state before aggregateSuiteStatus is ever reached.
func aggregateSuiteStatus(steps []trace.StepResult) trace.Status {
	for _, s := range steps {
		if s.Status == trace.StepFailed {
			return trace.StatusFailed
		}
	}
	return trace.StatusPassed
}
