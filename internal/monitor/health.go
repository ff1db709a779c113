package monitor

import (
	"fmt"
	"time"

	"github.com/qen-labs/execserv/internal/config"
	"github.com/qen-labs/execserv/internal/queue"
	"github.com/qen-labs/execserv/internal/trace"
)

// checkStore pings the trace store and takes a baseline count, per spec
// §4.7: WARN if the round trip exceeds 5s, DOWN on error.
func checkStore(store *trace.Store, now time.Time) ComponentHealth {
	start := time.Now()
	err := store.Ping()
	elapsed := time.Since(start)
	if err != nil {
		return ComponentHealth{Component: "store", Status: HealthDown, Message: err.Error(), CheckedAt: now}
	}
	if _, err := store.BaselineCount(); err != nil {
		return ComponentHealth{Component: "store", Status: HealthDown, Message: err.Error(), CheckedAt: now}
	}
	if elapsed > 5*time.Second {
		return ComponentHealth{Component: "store", Status: HealthWarn,
			Message: "store round trip exceeded 5s", CheckedAt: now}
	}
	return ComponentHealth{Component: "store", Status: HealthOK, CheckedAt: now}
}

// checkEngine flags any RUNNING execution stuck past StuckRunThreshold
// (default 2h).
func checkEngine(store *trace.Store, cfg config.Config, now time.Time) ComponentHealth {
	active, err := store.GetActiveExecutions()
	if err != nil {
		return ComponentHealth{Component: "engine", Status: HealthDown, Message: err.Error(), CheckedAt: now}
	}

	stuck := 0
	for _, t := range active {
		if t.Status == trace.StatusRunning && t.StartedAt != nil && now.Sub(*t.StartedAt) > cfg.StuckRunThreshold {
			stuck++
		}
	}

	if stuck > 0 {
		return ComponentHealth{Component: "engine", Status: HealthWarn,
			Message: fmt.Sprintf("%d execution(s) RUNNING past %s", stuck, cfg.StuckRunThreshold),
			CheckedAt: now}
	}
	return ComponentHealth{Component: "engine", Status: HealthOK,
		Message: fmt.Sprintf("%d active execution(s)", len(active)), CheckedAt: now}
}

// checkQueue flags queue depth above QueueDepthThreshold.
func checkQueue(queueSvc *queue.Service, cfg config.Config, now time.Time) ComponentHealth {
	status, err := queueSvc.GetQueueStatus()
	if err != nil {
		return ComponentHealth{Component: "queue", Status: HealthDown, Message: err.Error(), CheckedAt: now}
	}
	if status.TotalItems > cfg.QueueDepthThreshold {
		return ComponentHealth{Component: "queue", Status: HealthWarn,
			Message: fmt.Sprintf("queue depth %d exceeds threshold %d", status.TotalItems, cfg.QueueDepthThreshold),
			CheckedAt: now}
	}
	return ComponentHealth{Component: "queue", Status: HealthOK,
		Message: fmt.Sprintf("%d items queued, %d in flight", status.TotalItems, status.InFlightCount), CheckedAt: now}
}

// checkPerformance samples completed executions from the last hour:
// WARN if average duration > 5min or failure rate > 20%.
func checkPerformance(store *trace.Store, cfg config.Config, now time.Time) ComponentHealth {
	cutoff := now.Add(-1 * time.Hour)
	traces, _, err := store.List(trace.ListFilter{
		Status:         []trace.Status{trace.StatusPassed, trace.StatusFailed, trace.StatusCancelled, trace.StatusAborted},
		TriggeredAfter: &cutoff,
		SortBy:         "triggered_at",
		SortDesc:       true,
		PageSize:       100,
	})
	if err != nil {
		return ComponentHealth{Component: "performance", Status: HealthDown, Message: err.Error(), CheckedAt: now}
	}
	if len(traces) < cfg.PerfWindowFailureCount {
		return ComponentHealth{Component: "performance", Status: HealthOK,
			Message: fmt.Sprintf("only %d completed execution(s) in the last hour, below the %d needed to judge performance", len(traces), cfg.PerfWindowFailureCount),
			CheckedAt: now}
	}

	var totalDuration int64
	failures := 0
	for _, t := range traces {
		totalDuration += t.TotalDurationMs()
		if t.Status == trace.StatusFailed {
			failures++
		}
	}
	avgDuration := time.Duration(totalDuration/int64(len(traces))) * time.Millisecond
	failureRate := float64(failures) / float64(len(traces))

	if avgDuration > 5*time.Minute || failureRate > cfg.HighFailureRateThresh {
		return ComponentHealth{Component: "performance", Status: HealthWarn,
			Message: fmt.Sprintf("avg duration %s, failure rate %.1f%% over %d executions", avgDuration, failureRate*100, len(traces)),
			CheckedAt: now}
	}
	return ComponentHealth{Component: "performance", Status: HealthOK,
		Message: fmt.Sprintf("avg duration %s, failure rate %.1f%% over %d executions", avgDuration, failureRate*100, len(traces)),
		CheckedAt: now}
}

// RunHealthChecks executes every component check and rolls up overall
// status as the worst of the four (spec §4.7).
func RunHealthChecks(store *trace.Store, queueSvc *queue.Service, cfg config.Config, now time.Time) SystemHealth {
	components := []ComponentHealth{
		checkStore(store, now),
		checkEngine(store, cfg, now),
		checkQueue(queueSvc, cfg, now),
		checkPerformance(store, cfg, now),
	}
	overall := HealthOK
	for _, c := range components {
		overall = worse(overall, c.Status)
	}
	return SystemHealth{Overall: overall, Components: components, CheckedAt: now}
}
