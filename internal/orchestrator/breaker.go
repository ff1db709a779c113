package orchestrator

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// breaker wraps gobreaker.CircuitBreaker, preserving a simple Execute
// signature for the runner dispatch call site (spec §4.3: "gobreaker-
// wrapped runner dispatch" guards the orchestrator against a runner
// that is failing open, e.g. an external loader or action backend).
type breaker struct {
	gb *gobreaker.CircuitBreaker[any]
}

func newBreaker(name string) *breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &breaker{gb: gobreaker.NewCircuitBreaker[any](settings)}
}

// execute runs fn with circuit-breaker protection.
func (b *breaker) execute(fn func() (any, error)) (any, error) {
	result, err := b.gb.Execute(fn)
	if err != nil {
		return nil, fmt.Errorf("runner dispatch: %w", err)
	}
	return result, nil
}
