package window

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is the cadence the pipeline is triggered on
const DefaultSchedule = "@weekly"

// FromSchedule derives the data interval a scheduler run covers. The logical
// date is the start of the interval and the next activation of the schedule
// after it is the end.
func FromSchedule(spec string, logical time.Time) (start, end time.Time, err error) {
	if spec == "" {
		spec = DefaultSchedule
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	start = logical.UTC()
	end = schedule.Next(start)

	if end.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: schedule %q never fires after %s", ErrInvalidInterval, spec, start.Format(time.RFC3339))
	}

	return start, end, nil
}
