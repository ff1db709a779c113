// Package service implements the execution service (component C5): the
// API façade offering start/get/list/update operations over the trace,
// state and queue services, projecting results through field-inclusion
// views (spec §4.5).
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qen-labs/execserv/internal/execerr"
	"github.com/qen-labs/execserv/internal/queue"
	"github.com/qen-labs/execserv/internal/runner"
	"github.com/qen-labs/execserv/internal/shared/ratelimit"
	"github.com/qen-labs/execserv/internal/shared/security"
	"github.com/qen-labs/execserv/internal/state"
	"github.com/qen-labs/execserv/internal/trace"
)

// Service is the execution façade consumed by the HTTP layer.
type Service struct {
	store              *trace.Store
	state              *state.Service
	queueSvc           *queue.Service
	caseLoader         runner.CaseLoader
	stepCountThreshold int
	limiter            *ratelimit.Limiter
	logger             *zap.Logger
}

func New(store *trace.Store, st *state.Service, queueSvc *queue.Service, caseLoader runner.CaseLoader, stepCountThreshold int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stepCountThreshold <= 0 {
		stepCountThreshold = 50
	}
	return &Service{
		store:              store,
		state:              st,
		queueSvc:           queueSvc,
		caseLoader:         caseLoader,
		stepCountThreshold: stepCountThreshold,
		limiter:            ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		logger:             logger.Named("service"),
	}
}

// sanitizeMetadata redacts credential-shaped values from user-supplied
// metadata before it is persisted or logged (spec §3 metadata is
// free-form and caller-controlled).
func sanitizeMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = security.SanitizeMap(map[string]string{k: s})[k]
			continue
		}
		out[k] = v
	}
	return out
}

// StartCaseRequest is the POST /test-case body (spec §6).
type StartCaseRequest struct {
	TestCaseID       string                  `json:"test_case_id" validate:"required"`
	ExecutionContext trace.ExecutionContext  `json:"execution_context"`
	ExecutionConfig  trace.ExecutionConfig   `json:"execution_config"`
	Tags             []string                `json:"tags" validate:"max=20"`
	Metadata         map[string]any          `json:"metadata"`
	Priority         int                     `json:"priority" validate:"omitempty,min=1,max=10"`
}

// StartSuiteRequest is the POST /test-suite body (spec §6): everything
// in StartCaseRequest targeting a suite id, plus suite-only config.
type StartSuiteRequest struct {
	TestSuiteID       string                 `json:"test_suite_id" validate:"required"`
	ExecutionContext  trace.ExecutionContext `json:"execution_context"`
	ExecutionConfig   trace.ExecutionConfig  `json:"execution_config"`
	Tags              []string               `json:"tags" validate:"max=20"`
	Metadata          map[string]any         `json:"metadata"`
	Priority          int                    `json:"priority" validate:"omitempty,min=1,max=10"`
	ParallelExecution bool                   `json:"parallel_execution"`
	MaxParallelCases  int                    `json:"max_parallel_cases" validate:"omitempty,min=0"`
	ContinueOnFailure bool                   `json:"continue_on_failure"`
}

func defaultExecutionConfig(c trace.ExecutionConfig) trace.ExecutionConfig {
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 30 * 60 * 1000
	}
	if c.StepTimeoutMs == 0 {
		c.StepTimeoutMs = 30 * 1000
	}
	return c
}

func tagsWithinLimit(tags []string) error {
	if len(tags) > 20 {
		return fmt.Errorf("%w: at most 20 tags allowed", execerr.ErrValidation)
	}
	return nil
}

func normalizePriority(p int) int {
	if p < 1 || p > 10 {
		return 5
	}
	return p
}

// queuePriority maps the trace's 1..10 priority scale down to the
// queue's 1..5 QueuePriority enum (spec §3: two independent scales).
func queuePriority(tracePriority int) queue.Priority {
	switch {
	case tracePriority <= 2:
		return queue.PriorityHighest
	case tracePriority <= 4:
		return queue.PriorityHigh
	case tracePriority <= 6:
		return queue.PriorityNormal
	case tracePriority <= 8:
		return queue.PriorityLow
	default:
		return queue.PriorityLowest
	}
}

// StartTestCase validates the test case exists, inserts a PENDING trace,
// transitions it to QUEUED and enqueues it for dispatch.
func (s *Service) StartTestCase(userID string, req StartCaseRequest) (*trace.ExecutionTrace, error) {
	if req.TestCaseID == "" {
		return nil, fmt.Errorf("%w: test_case_id is required", execerr.ErrValidation)
	}
	if err := tagsWithinLimit(req.Tags); err != nil {
		return nil, err
	}
	if s.caseLoader != nil {
		if _, err := s.caseLoader.Load(req.TestCaseID); err != nil {
			return nil, fmt.Errorf("%w: test case %s: %v", execerr.ErrValidation, req.TestCaseID, err)
		}
	}

	cfg := defaultExecutionConfig(req.ExecutionConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", execerr.ErrValidation, err)
	}

	testCaseID := req.TestCaseID
	tr, err := s.insertAndEnqueue(userID, trace.TypeTestCase, &testCaseID, nil, cfg, req.ExecutionContext, req.Tags, req.Metadata, req.Priority)
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// StartTestSuite mirrors StartTestCase for suite executions.
func (s *Service) StartTestSuite(userID string, req StartSuiteRequest) (*trace.ExecutionTrace, error) {
	if req.TestSuiteID == "" {
		return nil, fmt.Errorf("%w: test_suite_id is required", execerr.ErrValidation)
	}
	if err := tagsWithinLimit(req.Tags); err != nil {
		return nil, err
	}

	cfg := defaultExecutionConfig(req.ExecutionConfig)
	cfg.ParallelExecution = req.ParallelExecution
	cfg.MaxParallelCases = req.MaxParallelCases
	cfg.ContinueOnFailure = req.ContinueOnFailure
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", execerr.ErrValidation, err)
	}

	suiteID := req.TestSuiteID
	tr, err := s.insertAndEnqueue(userID, trace.TypeTestSuite, nil, &suiteID, cfg, req.ExecutionContext, req.Tags, req.Metadata, req.Priority)
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (s *Service) insertAndEnqueue(userID string, execType trace.ExecutionType, testCaseID, testSuiteID *string, cfg trace.ExecutionConfig, execCtx trace.ExecutionContext, tags []string, metadata map[string]any, priority int) (*trace.ExecutionTrace, error) {
	priority = normalizePriority(priority)

	// Concurrency is tracked only across the submission itself: queue
	// concurrency for executions already admitted is the queue worker's
	// job (cfg.MaxConcurrentExecutions), so the burst guard here only
	// needs to cover a thundering herd of simultaneous submissions.
	decision := s.limiter.Allow(userID, priority <= 2)
	if !decision.Allowed {
		return nil, fmt.Errorf("%w: %s", execerr.ErrResourceAllocation, decision.Reason)
	}
	s.limiter.RecordStart(userID)
	defer s.limiter.RecordComplete(userID)

	execID, err := trace.NewExecutionID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	metadata = sanitizeMetadata(metadata)

	tr := trace.ExecutionTrace{
		ExecutionID:        execID,
		ExecutionType:      execType,
		TestCaseID:         testCaseID,
		TestSuiteID:        testSuiteID,
		Status:             trace.StatusPending,
		TriggeredBy:        userID,
		TriggeredAt:        now,
		LastStateChange:    now,
		StepCountThreshold: s.stepCountThreshold,
		ExecutionContext:   execCtx,
		ExecutionConfig:    cfg,
		Tags:               tags,
		Metadata:           metadata,
		Priority:           priority,
	}
	if err := s.store.Insert(tr); err != nil {
		return nil, fmt.Errorf("insert trace: %w", err)
	}

	if ok, err := s.state.Transition(execID, trace.StatusPending, trace.StatusQueued, userID, nil); err != nil {
		return nil, fmt.Errorf("transition to queued: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("%w: could not queue newly created execution", execerr.ErrConflict)
	}

	if err := s.queueSvc.Enqueue(execID, string(execType), queuePriority(priority), nil, cfg.Retry.MaxRetries, now); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	return s.store.Get(execID)
}

// Get loads a trace and its steps (resolving partitioned storage),
// returning execerr.ErrNotFound when absent.
func (s *Service) Get(execID string) (*trace.ExecutionTrace, []trace.StepResult, error) {
	tr, err := s.store.Get(execID)
	if err != nil {
		return nil, nil, err
	}
	if tr.IsPartitioned {
		steps, err := s.store.ListStepResults(execID)
		if err != nil {
			return nil, nil, fmt.Errorf("list step results: %w", err)
		}
		return tr, steps, nil
	}
	return tr, tr.EmbeddedSteps, nil
}

// List delegates to the trace store, scoping callers to their own
// executions unless filter.TriggeredBy is already set by the caller.
func (s *Service) List(userID string, filter trace.ListFilter) ([]trace.ExecutionTrace, int, error) {
	if filter.TriggeredBy == "" {
		filter.TriggeredBy = userID
	}
	return s.store.List(filter)
}

// UpdateStatus delegates to the state service, distinguishing an
// illegal transition (execerr.ErrInvalidTransition) from not-found.
func (s *Service) UpdateStatus(execID string, to trace.Status, userID, reason string, metadata map[string]any) (*trace.ExecutionTrace, error) {
	tr, err := s.store.Get(execID)
	if err != nil {
		return nil, err
	}
	if !trace.CanTransition(tr.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", execerr.ErrInvalidTransition, tr.Status, to)
	}

	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	if reason != "" {
		meta["reason"] = reason
	}

	ok, err := s.state.Transition(execID, tr.Status, to, userID, meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: execution %s changed concurrently", execerr.ErrConflict, execID)
	}
	return s.store.Get(execID)
}

// Progress returns a lightweight view of current execution state: the
// recomputed trace plus its statistics, intended for GET /{id}/progress.
func (s *Service) Progress(execID string) (*trace.ExecutionTrace, error) {
	return s.store.Get(execID)
}

// Stream subscribes to the state-change/progress event bus for a single
// execution, for GET /{id}/progress callers that want push updates
// instead of polling. The returned cancel func must be called once the
// caller stops reading ch.
func (s *Service) Stream(ctx context.Context, execID, subscriberID string) (<-chan state.Event, func(), error) {
	if _, err := s.store.Get(execID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.state.Subscribe(ctx, execID, subscriberID)
	return ch, cancel, nil
}

// QueueStatus reports the queue's current metrics.
func (s *Service) QueueStatus() (queue.QueueStatus, error) { return s.queueSvc.GetQueueStatus() }

// PauseQueue and ResumeQueue control queue dispatch.
func (s *Service) PauseQueue() error  { return s.queueSvc.Pause() }
func (s *Service) ResumeQueue() error { return s.queueSvc.Resume() }

// Statistics summarizes the caller's own executions for GET /statistics.
type Statistics struct {
	TotalExecutions int                    `json:"total_executions"`
	ByStatus        map[string]int         `json:"by_status"`
	ByType          map[string]int         `json:"by_type"`
}

// Statistics scans up to 100 of the caller's most recent executions and
// tallies them by status and type. A full aggregate query belongs in the
// store once volume demands it; this keeps the façade simple for now.
func (s *Service) Statistics(userID string) (Statistics, error) {
	traces, _, err := s.store.List(trace.ListFilter{TriggeredBy: userID, PageSize: 100, Page: 1, SortBy: "triggered_at", SortDesc: true})
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{ByStatus: map[string]int{}, ByType: map[string]int{}}
	for _, t := range traces {
		stats.TotalExecutions++
		stats.ByStatus[string(t.Status)]++
		stats.ByType[string(t.ExecutionType)]++
	}
	return stats, nil
}
