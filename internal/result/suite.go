package result

import "github.com/qen-labs/execserv/internal/trace"

// ChildOutcome is one test_suite child's result as seen by the
// aggregator: the orchestrator already ran it and reduced it to a
// pass/fail step (spec §4.3), so the aggregator only counts outcomes.
type ChildOutcome struct {
	TestCaseID string
	Status     trace.StepStatus
	DurationMs int64
}

// SuiteAggregate is the Result processor's suite-level output (spec
// §4.6 "Suite aggregation").
type SuiteAggregate struct {
	TotalChildren   int                      `json:"total_children"`
	OutcomeCounts   map[trace.StepStatus]int `json:"outcome_counts"`
	SuccessRate     float64                  `json:"success_rate"`
	TotalDurationMs int64                    `json:"total_duration_ms"`
	AvgDurationMs   float64                  `json:"average_duration_ms"`
	OverallStatus   trace.Status             `json:"overall_status"`
}

// AggregateSuite computes totals, per-child outcome counts and the
// overall suite status: any FAILED child ⇒ FAILED; any CANCELLED but
// none FAILED ⇒ CANCELLED; otherwise PASSED (spec §4.6).
func AggregateSuite(children []ChildOutcome, cancelledObserved bool) SuiteAggregate {
	agg := SuiteAggregate{
		TotalChildren: len(children),
		OutcomeCounts: make(map[trace.StepStatus]int),
	}

	var totalDuration int64
	passed := 0
	anyFailed := false
	for _, c := range children {
		agg.OutcomeCounts[c.Status]++
		totalDuration += c.DurationMs
		if c.Status == trace.StepPassed {
			passed++
		}
		if c.Status == trace.StepFailed {
			anyFailed = true
		}
	}

	agg.TotalDurationMs = totalDuration
	if len(children) > 0 {
		agg.SuccessRate = float64(passed) / float64(len(children))
		agg.AvgDurationMs = float64(totalDuration) / float64(len(children))
	}

	switch {
	case anyFailed:
		agg.OverallStatus = trace.StatusFailed
	case cancelledObserved:
		agg.OverallStatus = trace.StatusCancelled
	default:
		agg.OverallStatus = trace.StatusPassed
	}
	return agg
}

// BuildSuiteAggregate adapts a suite execution's recorded child steps
// (one trace.StepResult per test_suite case) into AggregateSuite's
// input, so the report path doesn't have to know ChildOutcome's shape.
func BuildSuiteAggregate(steps []trace.StepResult, overallStatus trace.Status) SuiteAggregate {
	children := make([]ChildOutcome, 0, len(steps))
	for _, s := range steps {
		var duration int64
		if s.DurationMs != nil {
			duration = *s.DurationMs
		}
		children = append(children, ChildOutcome{TestCaseID: s.StepID, Status: s.Status, DurationMs: duration})
	}
	return AggregateSuite(children, overallStatus == trace.StatusCancelled)
}
