package service

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/qen-labs/execserv/internal/execerr"
	"github.com/qen-labs/execserv/internal/queue"
	"github.com/qen-labs/execserv/internal/runner"
	"github.com/qen-labs/execserv/internal/shared/ratelimit"
	"github.com/qen-labs/execserv/internal/state"
	"github.com/qen-labs/execserv/internal/trace"
)

func newTestService(t *testing.T, cases map[string]*runner.TestCase) *Service {
	t.Helper()
	dir := t.TempDir()

	traceStore, err := trace.NewStore(filepath.Join(dir, "trace.db"))
	if err != nil {
		t.Fatalf("new trace store: %v", err)
	}
	t.Cleanup(func() { traceStore.Close() })

	queueStore, err := queue.NewStore(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("new queue store: %v", err)
	}
	t.Cleanup(func() { queueStore.Close() })

	st := state.New(traceStore, nil)
	queueSvc := queue.New(queueStore, nil)

	loader := runner.CaseLoaderFunc(func(id string) (*runner.TestCase, error) {
		tc, ok := cases[id]
		if !ok {
			return nil, errors.New("not found")
		}
		return tc, nil
	})

	return New(traceStore, st, queueSvc, loader, 50, nil)
}

func TestStartTestCaseInsertsQueuedTraceAndEnqueues(t *testing.T) {
	svc := newTestService(t, map[string]*runner.TestCase{"tc-1": {ID: "tc-1", Title: "sample"}})

	tr, err := svc.StartTestCase("user-1", StartCaseRequest{TestCaseID: "tc-1", Priority: 3})
	if err != nil {
		t.Fatalf("start test case: %v", err)
	}
	if tr.Status != trace.StatusQueued {
		t.Fatalf("expected QUEUED, got %s", tr.Status)
	}
	if tr.TriggeredBy != "user-1" {
		t.Fatalf("expected triggered_by user-1, got %s", tr.TriggeredBy)
	}

	status, err := svc.QueueStatus()
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if status.TotalItems != 1 {
		t.Fatalf("expected 1 queued item, got %d", status.TotalItems)
	}
}

func TestStartTestCaseRejectsUnknownCase(t *testing.T) {
	svc := newTestService(t, map[string]*runner.TestCase{})

	_, err := svc.StartTestCase("user-1", StartCaseRequest{TestCaseID: "missing"})
	if !execerr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStartTestCaseRejectsTooManyTags(t *testing.T) {
	svc := newTestService(t, map[string]*runner.TestCase{"tc-1": {ID: "tc-1"}})

	tags := make([]string, 21)
	for i := range tags {
		tags[i] = "t"
	}
	_, err := svc.StartTestCase("user-1", StartCaseRequest{TestCaseID: "tc-1", Tags: tags})
	if !execerr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetReturnsNotFoundForUnknownExecution(t *testing.T) {
	svc := newTestService(t, nil)

	_, _, err := svc.Get("does-not-exist")
	if !execerr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	svc := newTestService(t, map[string]*runner.TestCase{"tc-1": {ID: "tc-1"}})

	tr, err := svc.StartTestCase("user-1", StartCaseRequest{TestCaseID: "tc-1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// QUEUED can only go to RUNNING or CANCELLED, never straight to PASSED.
	_, err = svc.UpdateStatus(tr.ExecutionID, trace.StatusPassed, "user-1", "", nil)
	if !execerr.IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestUpdateStatusCancelsQueuedExecution(t *testing.T) {
	svc := newTestService(t, map[string]*runner.TestCase{"tc-1": {ID: "tc-1"}})

	tr, err := svc.StartTestCase("user-1", StartCaseRequest{TestCaseID: "tc-1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	updated, err := svc.UpdateStatus(tr.ExecutionID, trace.StatusCancelled, "user-1", "no longer needed", nil)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != trace.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", updated.Status)
	}
}

func TestListScopesToTriggeredBy(t *testing.T) {
	svc := newTestService(t, map[string]*runner.TestCase{"tc-1": {ID: "tc-1"}})

	if _, err := svc.StartTestCase("user-1", StartCaseRequest{TestCaseID: "tc-1"}); err != nil {
		t.Fatalf("start as user-1: %v", err)
	}
	if _, err := svc.StartTestCase("user-2", StartCaseRequest{TestCaseID: "tc-1"}); err != nil {
		t.Fatalf("start as user-2: %v", err)
	}

	traces, total, err := svc.List("user-1", trace.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(traces) != 1 {
		t.Fatalf("expected exactly 1 execution scoped to user-1, got %d (%d)", len(traces), total)
	}
}

func TestStatisticsTalliesByStatusAndType(t *testing.T) {
	svc := newTestService(t, map[string]*runner.TestCase{"tc-1": {ID: "tc-1"}})

	for i := 0; i < 3; i++ {
		if _, err := svc.StartTestCase("user-1", StartCaseRequest{TestCaseID: "tc-1"}); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	stats, err := svc.Statistics("user-1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalExecutions != 3 {
		t.Fatalf("expected 3 executions, got %d", stats.TotalExecutions)
	}
	if stats.ByStatus[string(trace.StatusQueued)] != 3 {
		t.Fatalf("expected 3 QUEUED, got %+v", stats.ByStatus)
	}
	if stats.ByType[string(trace.TypeTestCase)] != 3 {
		t.Fatalf("expected 3 test_case, got %+v", stats.ByType)
	}
}

func TestStartTestCaseRejectsWhenRateLimited(t *testing.T) {
	svc := newTestService(t, map[string]*runner.TestCase{"tc-1": {ID: "tc-1"}})
	svc.limiter = ratelimit.NewLimiter(ratelimit.Config{
		MaxConcurrentEngine:     100,
		MaxConcurrentPerUser:    100,
		MaxStartsPerHourEngine:  100,
		MaxStartsPerHourPerUser: 1,
	})

	if _, err := svc.StartTestCase("user-1", StartCaseRequest{TestCaseID: "tc-1"}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := svc.StartTestCase("user-1", StartCaseRequest{TestCaseID: "tc-1"})
	if !execerr.IsResourceAllocation(err) {
		t.Fatalf("expected resource allocation error, got %v", err)
	}
}

func TestStartTestCaseSanitizesMetadata(t *testing.T) {
	svc := newTestService(t, map[string]*runner.TestCase{"tc-1": {ID: "tc-1"}})

	tr, err := svc.StartTestCase("user-1", StartCaseRequest{
		TestCaseID: "tc-1",
		Metadata:   map[string]any{"note": "Authorization: Bearer abcdef0123456789", "retries": 2},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if tr.Metadata["note"] == "Authorization: Bearer abcdef0123456789" {
		t.Fatalf("expected metadata to be sanitized, got %+v", tr.Metadata)
	}
	switch v := tr.Metadata["retries"].(type) {
	case float64:
		if v != 2 {
			t.Fatalf("expected retries 2, got %v", v)
		}
	case int:
		if v != 2 {
			t.Fatalf("expected retries 2, got %v", v)
		}
	default:
		t.Fatalf("expected numeric retries, got %T %v", v, v)
	}
}

func TestProjectTraceFieldLevels(t *testing.T) {
	now := trace.ExecutionTrace{ExecutionID: "x", Status: trace.StatusPassed, ExecutionType: trace.TypeTestCase, TriggeredBy: "u"}

	core := ProjectTrace(&now, nil, FieldsCore, StepFieldsBasic)
	if core.Statistics != nil || core.ExecutionConfig != nil {
		t.Fatalf("CORE view should omit statistics/config, got %+v", core)
	}

	full := ProjectTrace(&now, nil, FieldsFull, StepFieldsFull)
	if full.Statistics == nil || full.ExecutionConfig == nil {
		t.Fatalf("FULL view should include statistics/config, got %+v", full)
	}
}
