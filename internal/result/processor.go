// Package result implements the result processor (component C6): it
// recomputes statistics authoritatively from a run's StepResults,
// derives insights and threshold-driven recommendations, and renders
// reports in JSON/HTML/CSV (spec §4.6).
package result

import (
	"sort"

	"github.com/qen-labs/execserv/internal/config"
	"github.com/qen-labs/execserv/internal/shared/security"
	"github.com/qen-labs/execserv/internal/trace"
)

// maxErrorMessageLen bounds a sanitized step error message/stack before
// it is folded into Insights or persisted further.
const maxErrorMessageLen = 4000

// Insights summarizes a processed run beyond the raw counters.
type Insights struct {
	Performance  PerformanceInsight `json:"performance"`
	Reliability  ReliabilityInsight `json:"reliability"`
	UniformOutcome bool             `json:"uniform_outcome"`
}

// PerformanceInsight captures step-duration distribution.
type PerformanceInsight struct {
	MinDurationMs    int64   `json:"min_duration_ms"`
	MaxDurationMs    int64   `json:"max_duration_ms"`
	MedianDurationMs int64   `json:"median_duration_ms"`
	VarianceMs2      float64 `json:"variance_ms2"`
}

// ReliabilityInsight captures failure counts and error-type distribution.
type ReliabilityInsight struct {
	FailureCount    int            `json:"failure_count"`
	FailureRate     float64        `json:"failure_rate"`
	ErrorTypeCounts map[string]int `json:"error_type_histogram,omitempty"`
	SecretsRedacted int            `json:"secrets_redacted,omitempty"`
}

// Processed is the Result processor's output for one execution.
type Processed struct {
	Statistics      trace.ExecutionStatistics `json:"statistics"`
	Insights        Insights                  `json:"insights"`
	Recommendations []string                  `json:"recommendations,omitempty"`
}

// Processor recomputes statistics/insights using configurable
// thresholds (spec §9 open question: thresholds are configuration,
// not hard-coded constants).
type Processor struct {
	slowStepMs          int64
	highFailureRate     float64
}

// NewProcessor builds a Processor from cfg. A nil cfg uses
// config.Default()'s thresholds.
func NewProcessor(cfg *config.Config) *Processor {
	c := config.Default()
	if cfg != nil {
		c = *cfg
	}
	return &Processor{
		slowStepMs:      c.SlowStepThreshold.Milliseconds(),
		highFailureRate: c.HighFailureRateThresh,
	}
}

// Process recomputes statistics from steps and derives insights and
// recommendations for one execution (spec §4.6 "Per-execution processing").
func (p *Processor) Process(steps []trace.StepResult, overall trace.Status) Processed {
	redacted := sanitizeStepErrors(steps)
	stats := p.recomputeStatistics(steps)
	insights := p.buildInsights(steps, stats)
	insights.Reliability.SecretsRedacted = redacted
	recs := p.recommendations(insights)
	_ = overall // overall status is recorded by the caller via SetOverallResult; kept for symmetry with suite aggregation callers
	return Processed{Statistics: stats, Insights: insights, Recommendations: recs}
}

// sanitizeStepErrors scrubs credential-shaped values out of each step's
// error message and stack trace before they are folded into insights or
// persisted further, returning how many messages carried a secret.
func sanitizeStepErrors(steps []trace.StepResult) int {
	redacted := 0
	for i := range steps {
		details := steps[i].ErrorDetails
		if details == nil {
			continue
		}
		if security.ContainsSecret(details.Message) || security.ContainsSecret(details.Stack) {
			redacted++
		}
		details.Message = security.SanitizeActionResult(details.Message, maxErrorMessageLen)
		details.Stack = security.SanitizeActionResult(details.Stack, maxErrorMessageLen)
	}
	return redacted
}

func (p *Processor) recomputeStatistics(steps []trace.StepResult) trace.ExecutionStatistics {
	var stats trace.ExecutionStatistics
	stats.TotalSteps = len(steps)
	var totalDuration int64
	var totalRetries int
	for _, s := range steps {
		if !s.Status.IsTerminal() {
			continue
		}
		stats.CompletedSteps++
		switch s.Status {
		case trace.StepPassed:
			stats.PassedSteps++
		case trace.StepFailed:
			stats.FailedSteps++
		case trace.StepSkipped:
			stats.SkippedSteps++
		}
		if s.DurationMs != nil {
			totalDuration += *s.DurationMs
		}
		totalRetries += s.RetryCount
	}
	stats.TotalDurationMs = totalDuration
	if stats.CompletedSteps > 0 {
		stats.AvgStepDurationMs = float64(totalDuration) / float64(stats.CompletedSteps)
	}
	stats.Recompute(totalRetries)
	return stats
}

func (p *Processor) buildInsights(steps []trace.StepResult, stats trace.ExecutionStatistics) Insights {
	durations := make([]int64, 0, len(steps))
	errorTypes := make(map[string]int)
	outcomes := make(map[trace.StepStatus]int)
	for _, s := range steps {
		if s.DurationMs != nil {
			durations = append(durations, *s.DurationMs)
		}
		if s.ErrorDetails != nil {
			errorTypes[s.ErrorDetails.Type]++
		}
		outcomes[s.Status]++
	}

	perf := PerformanceInsight{}
	if len(durations) > 0 {
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		perf.MinDurationMs = durations[0]
		perf.MaxDurationMs = durations[len(durations)-1]
		perf.MedianDurationMs = durations[len(durations)/2]
		perf.VarianceMs2 = variance(durations)
	}

	rel := ReliabilityInsight{
		FailureCount: stats.FailedSteps,
		FailureRate:  stats.ErrorRate,
	}
	if len(errorTypes) > 0 {
		rel.ErrorTypeCounts = errorTypes
	}

	return Insights{
		Performance:    perf,
		Reliability:    rel,
		UniformOutcome: len(steps) > 0 && len(outcomes) == 1,
	}
}

func variance(durations []int64) float64 {
	if len(durations) == 0 {
		return 0
	}
	var sum float64
	for _, d := range durations {
		sum += float64(d)
	}
	mean := sum / float64(len(durations))
	var sqDiff float64
	for _, d := range durations {
		diff := float64(d) - mean
		sqDiff += diff * diff
	}
	return sqDiff / float64(len(durations))
}

// recommendations implements the threshold rules from spec §4.6:
// slow-step (>30s), high failure rate (>20%), presence of
// TimeoutError/AssertionError in the error-type histogram.
func (p *Processor) recommendations(in Insights) []string {
	var recs []string
	if p.slowStepMs > 0 && in.Performance.MaxDurationMs > p.slowStepMs {
		recs = append(recs, "one or more steps exceeded the slow-step threshold; consider profiling the slowest step")
	}
	if in.Reliability.FailureRate > p.highFailureRate {
		recs = append(recs, "failure rate exceeds the configured threshold; investigate before re-running")
	}
	if in.Reliability.ErrorTypeCounts["TimeoutError"] > 0 {
		recs = append(recs, "steps are timing out; consider raising step_timeout_ms or checking the action backend")
	}
	if in.Reliability.ErrorTypeCounts["AssertionError"] > 0 {
		recs = append(recs, "assertion failures detected; review expected_result against actual behavior")
	}
	if in.Reliability.SecretsRedacted > 0 {
		recs = append(recs, "one or more step error messages contained credential-shaped values and were redacted")
	}
	return recs
}
