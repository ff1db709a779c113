package queue

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qen-labs/execserv/internal/execerr"
)

// MetricsRecorder is the subset of monitor.Metrics the queue layer
// needs. Declared here (rather than importing internal/monitor, which
// already depends on this package) to avoid an import cycle.
type MetricsRecorder interface {
	RecordEnqueued(execType string, priority int)
	RecordCompleted(execType, status string, duration float64)
	RecordRetried(execType string)
	RecordDeadLettered(execType string)
}

// Outcome is the explicit Ok/Retry/DeadLetter result of completing an
// item, replacing exceptions-as-control-flow for the queue layer
// (spec §9 design notes).
type Outcome string

const (
	OutcomeOk         Outcome = "OK"
	OutcomeRetried    Outcome = "RETRIED"
	OutcomeDeadLetter Outcome = "DEAD_LETTER"
)

// Service wraps Store with the enqueue/complete/retry/dead-letter
// algorithms from spec §4.2.
type Service struct {
	store   *Store
	logger  *zap.Logger
	metrics MetricsRecorder
}

func New(store *Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger.Named("queue")}
}

// WithMetrics attaches a metrics recorder, returning s for chaining.
// A nil recorder is valid and disables recording.
func (s *Service) WithMetrics(m MetricsRecorder) *Service {
	s.metrics = m
	return s
}

// Enqueue inserts a QueueItem for execID at the given priority,
// defaulting to NORMAL and "now" when scheduledAt is zero.
func (s *Service) Enqueue(execID, execType string, priority Priority, payload []byte, maxRetries int, scheduledAt time.Time) error {
	if priority == 0 {
		priority = PriorityNormal
	}
	now := time.Now().UTC()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	if err := s.store.Enqueue(Item{
		ExecutionID:   execID,
		ExecutionType: execType,
		Priority:      priority,
		Payload:       payload,
		QueuedAt:      now,
		ScheduledAt:   scheduledAt,
		MaxRetries:    maxRetries,
	}); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordEnqueued(execType, int(priority))
	}
	return nil
}

// Dequeue claims the next ready item, or returns (nil, nil) if the
// queue is empty or paused.
func (s *Service) Dequeue() (*Item, error) {
	status, err := s.store.ControlStatus()
	if err != nil {
		return nil, err
	}
	if status != StatusActive {
		return nil, nil
	}
	return s.store.Dequeue(time.Now().UTC())
}

// Complete finalizes an item: on success it is deleted; on failure it
// is routed through Retry.
func (s *Service) Complete(item Item, success bool, execErr string) (Outcome, error) {
	if success {
		if err := s.store.Delete(item.ExecutionID); err != nil {
			return "", fmt.Errorf("complete (delete) %s: %w", item.ExecutionID, err)
		}
		if s.metrics != nil {
			s.metrics.RecordCompleted(item.ExecutionType, string(OutcomeOk), processingDuration(item))
		}
		return OutcomeOk, nil
	}
	outcome, err := s.Retry(item, execErr)
	if err == nil && s.metrics != nil && outcome == OutcomeDeadLetter {
		s.metrics.RecordCompleted(item.ExecutionType, "FAILED", processingDuration(item))
	}
	return outcome, err
}

// processingDuration is the elapsed time since item was claimed for
// processing, or zero if it was never claimed.
func processingDuration(item Item) float64 {
	if item.ProcessingStartedAt == nil {
		return 0
	}
	return time.Since(*item.ProcessingStartedAt).Seconds()
}

// Retry increments retry_count and reschedules with linear backoff if
// under max_retries; otherwise moves the item to the dead letter queue.
func (s *Service) Retry(item Item, lastError string) (Outcome, error) {
	if item.RetryCount < item.MaxRetries {
		newCount := item.RetryCount + 1
		scheduledAt := time.Now().UTC().Add(Backoff(newCount))
		if err := s.store.Reschedule(item.ExecutionID, newCount, scheduledAt, lastError); err != nil {
			return "", fmt.Errorf("retry %s: %w", item.ExecutionID, err)
		}
		s.logger.Info("requeued for retry",
			zap.String("execution_id", item.ExecutionID), zap.Int("retry_count", newCount))
		if s.metrics != nil {
			s.metrics.RecordRetried(item.ExecutionType)
		}
		return OutcomeRetried, nil
	}

	if err := s.store.MoveToDeadLetter(item, "Retry limit exceeded", time.Now().UTC()); err != nil {
		return "", fmt.Errorf("dead-letter %s: %w", item.ExecutionID, err)
	}
	s.logger.Warn("moved to dead letter", zap.String("execution_id", item.ExecutionID), zap.String("reason", "Retry limit exceeded"))
	if s.metrics != nil {
		s.metrics.RecordDeadLettered(item.ExecutionType)
	}
	return OutcomeDeadLetter, nil
}

// SweepExpiredLeases retries every item whose lease exceeded
// processingTimeout, using "Execution timed out" as the failure reason.
func (s *Service) SweepExpiredLeases(processingTimeout time.Duration) (int, error) {
	expired, err := s.store.SweepExpiredLeases(time.Now().UTC().Add(-processingTimeout))
	if err != nil {
		return 0, err
	}
	for _, item := range expired {
		if _, err := s.Retry(item, "Execution timed out"); err != nil {
			return 0, fmt.Errorf("sweep retry %s: %w", item.ExecutionID, err)
		}
	}
	return len(expired), nil
}

func (s *Service) GetQueueStatus() (QueueStatus, error) { return s.store.GetQueueStatus() }

func (s *Service) CountInFlight() (int, error) { return s.store.CountInFlight() }

func (s *Service) Pause() error  { return s.store.SetControlStatus(StatusPaused) }
func (s *Service) Resume() error { return s.store.SetControlStatus(StatusActive) }

func (s *Service) ClearQueue(execType string) error { return s.store.ClearQueue(execType) }

func (s *Service) Get(execID string) (*Item, error) {
	item, err := s.store.Get(execID)
	if err != nil {
		if execerr.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("get %s: %w", execID, err)
	}
	return item, nil
}
