package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/qen-labs/execserv/internal/trace"
)

func newTestService(t *testing.T) (*Service, *trace.Store) {
	t.Helper()
	store, err := trace.NewStore(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil), store
}

func insertPendingTrace(t *testing.T, store *trace.Store) string {
	t.Helper()
	id, err := trace.NewExecutionID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	now := time.Now().UTC()
	err = store.Insert(trace.ExecutionTrace{
		ExecutionID:     id,
		ExecutionType:   trace.TypeTestCase,
		Status:          trace.StatusPending,
		TriggeredBy:     "user-1",
		TriggeredAt:     now,
		LastStateChange: now,
		ExecutionConfig: trace.ExecutionConfig{TimeoutMs: 1000, StepTimeoutMs: 100},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func TestTransitionPublishesEvent(t *testing.T) {
	svc, store := newTestService(t)
	execID := insertPendingTrace(t, store)

	ch, cancel := svc.Subscribe(context.Background(), execID, "sub-1")
	defer cancel()

	ok, err := svc.Transition(execID, trace.StatusPending, trace.StatusQueued, "user-1", nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !ok {
		t.Fatal("expected transition to succeed")
	}

	select {
	case evt := <-ch:
		if evt.EventType != EventStateChange {
			t.Fatalf("expected STATE_CHANGE, got %s", evt.EventType)
		}
		if evt.ExecutionID != execID {
			t.Fatalf("unexpected execution id: %s", evt.ExecutionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state change event")
	}
}

func TestTransitionRaceLoses(t *testing.T) {
	svc, store := newTestService(t)
	execID := insertPendingTrace(t, store)

	if ok, err := svc.Transition(execID, trace.StatusPending, trace.StatusQueued, "u1", nil); err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}

	ok, err := svc.Transition(execID, trace.StatusPending, trace.StatusCancelled, "u2", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected second transition to lose the race")
	}
}

func TestSubscribeAllReceivesEveryExecution(t *testing.T) {
	svc, store := newTestService(t)
	e1 := insertPendingTrace(t, store)
	e2 := insertPendingTrace(t, store)

	ch, cancel := svc.SubscribeAll(context.Background(), "global-sub")
	defer cancel()

	if _, err := svc.Transition(e1, trace.StatusPending, trace.StatusQueued, "u", nil); err != nil {
		t.Fatalf("transition e1: %v", err)
	}
	if _, err := svc.Transition(e2, trace.StatusPending, trace.StatusQueued, "u", nil); err != nil {
		t.Fatalf("transition e2: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			seen[evt.ExecutionID] = true
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for global events")
		}
	}
	if !seen[e1] || !seen[e2] {
		t.Fatalf("expected events from both executions, got %+v", seen)
	}
}

func TestRecoverStateRepairsMissingCompletedAt(t *testing.T) {
	svc, store := newTestService(t)

	id, err := trace.NewExecutionID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	now := time.Now().UTC()
	// A terminal trace with no completed_at should not normally occur,
	// but can arise from a crash between transition and finish-up work.
	if err := store.Insert(trace.ExecutionTrace{
		ExecutionID:     id,
		ExecutionType:   trace.TypeTestCase,
		Status:          trace.StatusPassed,
		TriggeredBy:     "user-1",
		TriggeredAt:     now,
		LastStateChange: now,
		ExecutionConfig: trace.ExecutionConfig{TimeoutMs: 1000, StepTimeoutMs: 100},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	repaired, err := svc.RecoverState(id)
	if err != nil {
		t.Fatalf("recover state: %v", err)
	}
	if repaired.CompletedAt == nil {
		t.Fatal("expected completed_at to be repaired")
	}
}
