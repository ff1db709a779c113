package trace

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestTrace(t *testing.T) ExecutionTrace {
	t.Helper()
	id, err := NewExecutionID()
	if err != nil {
		t.Fatalf("new execution id: %v", err)
	}
	now := time.Now().UTC()
	return ExecutionTrace{
		ExecutionID:     id,
		ExecutionType:   TypeTestCase,
		Status:          StatusPending,
		TriggeredBy:     "user-1",
		TriggeredAt:     now,
		LastStateChange: now,
		ExecutionConfig: ExecutionConfig{TimeoutMs: 60000, StepTimeoutMs: 5000},
		Priority:        5,
	}
}

func TestStoreInsertGet(t *testing.T) {
	store := newTestStore(t)
	tr := newTestTrace(t)

	if err := store.Insert(tr); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.Get(tr.ExecutionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ExecutionID != tr.ExecutionID {
		t.Fatalf("expected id %q, got %q", tr.ExecutionID, got.ExecutionID)
	}
	if got.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", got.Status)
	}
	if got.TriggeredBy != "user-1" {
		t.Fatalf("unexpected triggered_by: %q", got.TriggeredBy)
	}
}

func TestStoreGetMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get("deadbeefdeadbeefdeadbeef"); err == nil {
		t.Fatal("expected error for missing execution")
	}
}

func TestStoreUpdateStatusCASSucceedsOnMatch(t *testing.T) {
	store := newTestStore(t)
	tr := newTestTrace(t)
	if err := store.Insert(tr); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ok, err := store.UpdateStatusCAS(tr.ExecutionID, StatusPending, StatusQueued, time.Now().UTC(), "user-1", nil)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if !ok {
		t.Fatal("expected cas to succeed")
	}

	got, err := store.Get(tr.ExecutionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusQueued {
		t.Fatalf("expected QUEUED, got %s", got.Status)
	}

	history, err := store.GetStateHistory(tr.ExecutionID, 10)
	if err != nil {
		t.Fatalf("get state history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].From != StatusPending || history[0].To != StatusQueued {
		t.Fatalf("unexpected history entry: %+v", history[0])
	}
}

func TestStoreUpdateStatusCASFailsOnStaleFrom(t *testing.T) {
	store := newTestStore(t)
	tr := newTestTrace(t)
	if err := store.Insert(tr); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := store.UpdateStatusCAS(tr.ExecutionID, StatusPending, StatusQueued, time.Now().UTC(), "user-1", nil); err != nil {
		t.Fatalf("first cas: %v", err)
	}

	// Second caller still thinks the status is PENDING: this must not
	// silently overwrite the already-advanced QUEUED status.
	ok, err := store.UpdateStatusCAS(tr.ExecutionID, StatusPending, StatusCancelled, time.Now().UTC(), "user-2", nil)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if ok {
		t.Fatal("expected cas to fail on stale from-status")
	}

	got, err := store.Get(tr.ExecutionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusQueued {
		t.Fatalf("expected status to remain QUEUED, got %s", got.Status)
	}
}

func TestStoreUpdateStatusCASRejectsIllegalTransition(t *testing.T) {
	store := newTestStore(t)
	tr := newTestTrace(t)
	if err := store.Insert(tr); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := store.UpdateStatusCAS(tr.ExecutionID, StatusPending, StatusPassed, time.Now().UTC(), "user-1", nil); err == nil {
		t.Fatal("expected error for illegal transition PENDING -> PASSED")
	}
}

func TestStoreListFiltersByStatusAndPaginates(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		tr := newTestTrace(t)
		if i%2 == 0 {
			tr.Status = StatusRunning
		}
		if err := store.Insert(tr); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	results, total, err := store.List(ListFilter{Status: []Status{StatusRunning}, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 running traces, got %d", total)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	page, total, err := store.List(ListFilter{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if len(page) != 2 {
		t.Fatalf("expected page size 2, got %d", len(page))
	}
}

func TestStoreGetActiveExecutionsExcludesTerminal(t *testing.T) {
	store := newTestStore(t)

	active := newTestTrace(t)
	active.Status = StatusRunning
	if err := store.Insert(active); err != nil {
		t.Fatalf("insert active: %v", err)
	}

	done := newTestTrace(t)
	done.Status = StatusPassed
	if err := store.Insert(done); err != nil {
		t.Fatalf("insert done: %v", err)
	}

	got, err := store.GetActiveExecutions()
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 active execution, got %d", len(got))
	}
	if got[0].ExecutionID != active.ExecutionID {
		t.Fatalf("unexpected active execution: %s", got[0].ExecutionID)
	}
}

func TestStoreInsertAndListStepResults(t *testing.T) {
	store := newTestStore(t)
	tr := newTestTrace(t)
	tr.IsPartitioned = true
	if err := store.Insert(tr); err != nil {
		t.Fatalf("insert: %v", err)
	}

	steps := []StepResult{
		{StepID: "s1", StepName: "step one", StepOrder: 0, Status: StepPassed},
		{StepID: "s2", StepName: "step two", StepOrder: 1, Status: StepFailed,
			ErrorDetails: &StepErrorDetails{Type: "assertion", Message: "boom"}},
	}
	if err := store.InsertStepResults(tr.ExecutionID, steps); err != nil {
		t.Fatalf("insert steps: %v", err)
	}

	got, err := store.ListStepResults(tr.ExecutionID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(got))
	}
	if got[0].StepOrder != 0 || got[1].StepOrder != 1 {
		t.Fatalf("expected steps ordered by step_order, got %+v", got)
	}
	if got[1].ErrorDetails == nil || got[1].ErrorDetails.Message != "boom" {
		t.Fatalf("expected error details to round-trip, got %+v", got[1].ErrorDetails)
	}
}
