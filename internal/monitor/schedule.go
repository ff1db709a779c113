package monitor

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// nextRun resolves a duration-or-cron schedule string against anchor,
// trying a plain Go duration first ("6h") and falling back to a
// standard 5-field cron expression ("0 0 * * *") — the retention sweep
// doesn't need to fire on every health tick, so it runs on its own,
// possibly much coarser, schedule.
func nextRun(schedule string, anchor time.Time) (time.Time, error) {
	if interval, err := time.ParseDuration(schedule); err == nil {
		if interval <= 0 {
			return time.Time{}, fmt.Errorf("sweep schedule duration must be > 0")
		}
		return anchor.Add(interval), nil
	}
	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	return spec.Next(anchor), nil
}
