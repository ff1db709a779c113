// Package queue implements the queue service (component C3): the
// priority dispatch queue of pending executions, with lease-based
// dequeue, retry backoff and dead-letter routing (spec §4.2).
package queue

import "time"

// Priority is the QueuePriority enum (1..5), lower value dispatches first.
type Priority int

const (
	PriorityHighest Priority = 1
	PriorityHigh    Priority = 2
	PriorityNormal  Priority = 3
	PriorityLow     Priority = 4
	PriorityLowest  Priority = 5
)

// Status is the queue's own ACTIVE/PAUSED control state, independent of
// any individual item's status.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusPaused Status = "PAUSED"
)

// Item is a QueueItem: one row per live execution (spec §3).
type Item struct {
	ExecutionID         string    `json:"execution_id"`
	ExecutionType       string    `json:"execution_type"`
	Priority            Priority  `json:"priority"`
	Payload             []byte    `json:"payload,omitempty"`
	QueuedAt            time.Time `json:"queued_at"`
	ScheduledAt         time.Time `json:"scheduled_at"`
	RetryCount          int       `json:"retry_count"`
	MaxRetries          int       `json:"max_retries"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// DeadLetter is a snapshot of an Item plus why and when it was moved
// out of scheduling (spec §3).
type DeadLetter struct {
	Item
	MovedAt       time.Time `json:"moved_at"`
	FailureReason string    `json:"failure_reason"`
}

// QueueStatus reports aggregate queue state (spec §4.2 getQueueStatus).
type QueueStatus struct {
	ControlStatus      Status         `json:"control_status"`
	TotalItems         int            `json:"total_items"`
	InFlightCount      int            `json:"in_flight_count"`
	PriorityDistribution map[string]int `json:"priority_distribution"`
	OldestQueuedAt     *time.Time     `json:"oldest_queued_at,omitempty"`
	DeadLetterCount    int            `json:"dead_letter_count"`
}

// Backoff computes the linear backoff for a retry (spec §4.2:
// "retry_count · 2 min", replaceable).
func Backoff(retryCount int) time.Duration {
	return time.Duration(retryCount) * 2 * time.Minute
}
