package service

import (
	"sort"
	"time"

	"github.com/qen-labs/execserv/internal/trace"
)

// Analytics is the GET /analytics response: performance/reliability
// over a recent rolling window (spec §6 "time_range_hours").
type Analytics struct {
	WindowHours     int     `json:"window_hours"`
	TotalExecutions int     `json:"total_executions"`
	PassedCount     int     `json:"passed_count"`
	FailedCount     int     `json:"failed_count"`
	SuccessRate     float64 `json:"success_rate"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
}

// Analytics aggregates the caller's completed executions over the last
// windowHours (clamped to 1..168 per spec §6).
func (s *Service) Analytics(userID string, windowHours int) (Analytics, error) {
	if windowHours < 1 {
		windowHours = 1
	}
	if windowHours > 168 {
		windowHours = 168
	}
	cutoff := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)

	traces, _, err := s.store.List(trace.ListFilter{
		TriggeredBy:    userID,
		Status:         []trace.Status{trace.StatusPassed, trace.StatusFailed, trace.StatusCancelled, trace.StatusAborted},
		TriggeredAfter: &cutoff,
		PageSize:       100,
	})
	if err != nil {
		return Analytics{}, err
	}

	a := Analytics{WindowHours: windowHours, TotalExecutions: len(traces)}
	var totalDuration int64
	for _, t := range traces {
		switch t.Status {
		case trace.StatusPassed:
			a.PassedCount++
		case trace.StatusFailed:
			a.FailedCount++
		}
		totalDuration += t.TotalDurationMs()
	}
	if len(traces) > 0 {
		a.SuccessRate = float64(a.PassedCount) / float64(len(traces))
		a.AvgDurationMs = float64(totalDuration) / float64(len(traces))
	}
	return a, nil
}

// TrendPoint is one day's rollup in a Trends response.
type TrendPoint struct {
	Date            string  `json:"date"`
	TotalExecutions int     `json:"total_executions"`
	SuccessRate     float64 `json:"success_rate"`
}

// Trends buckets the caller's completed executions into daily rollups
// over the last days (clamped to 1..30 per spec §6).
func (s *Service) Trends(userID string, days int) ([]TrendPoint, error) {
	if days < 1 {
		days = 1
	}
	if days > 30 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	traces, _, err := s.store.List(trace.ListFilter{
		TriggeredBy:    userID,
		Status:         []trace.Status{trace.StatusPassed, trace.StatusFailed, trace.StatusCancelled, trace.StatusAborted},
		TriggeredAfter: &cutoff,
		PageSize:       100,
	})
	if err != nil {
		return nil, err
	}

	type bucket struct {
		total, passed int
	}
	byDay := make(map[string]*bucket)
	for _, t := range traces {
		day := t.TriggeredAt.UTC().Format("2006-01-02")
		b, ok := byDay[day]
		if !ok {
			b = &bucket{}
			byDay[day] = b
		}
		b.total++
		if t.Status == trace.StatusPassed {
			b.passed++
		}
	}

	points := make([]TrendPoint, 0, len(byDay))
	for day, b := range byDay {
		rate := 0.0
		if b.total > 0 {
			rate = float64(b.passed) / float64(b.total)
		}
		points = append(points, TrendPoint{Date: day, TotalExecutions: b.total, SuccessRate: rate})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}
