package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qen-labs/execserv/internal/execerr"
	"github.com/qen-labs/execserv/internal/trace"
)

const heartbeatInterval = 30 * time.Second

// Service is the state service (C2): it owns every status transition on
// top of the trace store and fans transitions out as events.
type Service struct {
	store  *trace.Store
	logger *zap.Logger

	global *bus

	mu       sync.Mutex
	perExec  map[string]*bus
	refCount map[string]int
}

// New builds a state service over store. logger defaults to a no-op
// logger when nil.
func New(store *trace.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		logger:   logger.Named("state"),
		global:   newBus(256),
		perExec:  make(map[string]*bus),
		refCount: make(map[string]int),
	}
}

// Transition performs the CAS from the trace's current status to
// toStatus, writes a state_history entry and publishes a StateChangeEvent
// on success. Returns false (no error) when the transition lost a race or
// was otherwise impossible without the trace store rejecting it outright.
func (s *Service) Transition(execID string, from, to trace.Status, userID string, metadata map[string]any) (bool, error) {
	at := time.Now().UTC()
	ok, err := s.store.UpdateStatusCAS(execID, from, to, at, userID, metadata)
	if err != nil {
		if execerr.IsInvalidTransition(err) {
			return false, err
		}
		return false, fmt.Errorf("transition %s %s->%s: %w", execID, from, to, err)
	}
	if !ok {
		s.logger.Debug("cas transition lost race", zap.String("execution_id", execID),
			zap.String("from", string(from)), zap.String("to", string(to)))
		return false, nil
	}

	data := map[string]any{"from": string(from), "to": string(to)}
	for k, v := range metadata {
		data[k] = v
	}
	s.publish(newEvent(execID, EventStateChange, data, userID))
	return true, nil
}

// UpdateProgress persists statistics (and optional embedded steps) and
// emits a PROGRESS_UPDATE event. It never changes status.
func (s *Service) UpdateProgress(execID string, stats trace.ExecutionStatistics, embeddedSteps []trace.StepResult, currentStep string) error {
	if err := s.store.UpdateStatistics(execID, stats, embeddedSteps); err != nil {
		return fmt.Errorf("update progress %s: %w", execID, err)
	}
	data := map[string]any{"statistics": stats}
	if currentStep != "" {
		data["current_step"] = currentStep
	}
	s.publish(newEvent(execID, EventProgressUpdate, data, ""))
	return nil
}

func (s *Service) publish(evt Event) {
	s.global.publish(evt)

	s.mu.Lock()
	b := s.perExec[evt.ExecutionID]
	s.mu.Unlock()
	if b != nil {
		b.publish(evt)
	}
}

// Subscribe returns a per-execution event stream. Call the returned
// cancel function when done to release the subscription and, once it
// is the last one for that execution, its bus.
func (s *Service) Subscribe(ctx context.Context, execID, subscriberID string) (<-chan Event, func()) {
	s.mu.Lock()
	b, ok := s.perExec[execID]
	if !ok {
		b = newBus(64)
		s.perExec[execID] = b
	}
	s.refCount[execID]++
	s.mu.Unlock()

	ch := b.subscribe(subscriberID)
	hbCtx, cancelHB := context.WithCancel(ctx)
	go s.heartbeat(hbCtx, b, subscriberID, execID)

	cancel := func() {
		cancelHB()
		b.unsubscribe(subscriberID)
		s.mu.Lock()
		s.refCount[execID]--
		if s.refCount[execID] <= 0 {
			delete(s.perExec, execID)
			delete(s.refCount, execID)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// SubscribeAll returns a global event stream across every execution.
func (s *Service) SubscribeAll(ctx context.Context, subscriberID string) (<-chan Event, func()) {
	ch := s.global.subscribe(subscriberID)
	hbCtx, cancelHB := context.WithCancel(ctx)
	go s.heartbeat(hbCtx, s.global, subscriberID, "")

	cancel := func() {
		cancelHB()
		s.global.unsubscribe(subscriberID)
	}
	return ch, cancel
}

// heartbeat publishes a synthetic PROGRESS_UPDATE{heartbeat:true} onto
// a single subscriber's own channel every ~30s, so idle clients can
// detect dead links (spec §4.1).
func (s *Service) heartbeat(ctx context.Context, b *bus, subscriberID, execID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.RLock()
			ch, ok := b.subscribers[subscriberID]
			b.mu.RUnlock()
			if !ok {
				return
			}
			evt := newEvent(execID, EventProgressUpdate, map[string]any{"heartbeat": true}, "")
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

// GetStateHistory returns up to limit transitions, most recent first.
func (s *Service) GetStateHistory(execID string, limit int) ([]trace.StateHistoryEntry, error) {
	return s.store.GetStateHistory(execID, limit)
}

// GetActiveExecutions returns traces in a non-terminal status.
func (s *Service) GetActiveExecutions() ([]trace.ExecutionTrace, error) {
	return s.store.GetActiveExecutions()
}

// RecoverState reloads a trace and repairs obvious inconsistencies
// (spec §4.1 "State-consistency repair"): a terminal trace missing
// completed_at gets one; a statistics anomaly (completed > total) is
// logged, never silently rewritten.
func (s *Service) RecoverState(execID string) (*trace.ExecutionTrace, error) {
	t, err := s.store.Get(execID)
	if err != nil {
		return nil, err
	}

	if t.Status.IsTerminal() && t.CompletedAt == nil {
		now := time.Now().UTC()
		t.CompletedAt = &now
		if err := s.store.SetCompletedAt(execID, now); err != nil {
			return nil, fmt.Errorf("repair completed_at %s: %w", execID, err)
		}
		s.logger.Warn("repaired missing completed_at", zap.String("execution_id", execID))
	}

	if t.Statistics.CompletedSteps > t.Statistics.TotalSteps {
		s.logger.Warn("statistics anomaly: completed_steps exceeds total_steps",
			zap.String("execution_id", execID),
			zap.Int("completed_steps", t.Statistics.CompletedSteps),
			zap.Int("total_steps", t.Statistics.TotalSteps))
	}

	return t, nil
}
