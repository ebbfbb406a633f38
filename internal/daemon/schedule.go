package daemon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// ErrInvalidSchedule is returned by Start for a malformed restart schedule.
var ErrInvalidSchedule = errors.New("invalid restart schedule")

// validateSchedule accepts a 5-field cron expression that fires at least
// once a year.
func validateSchedule(expr string, from time.Time) error {
	if len(strings.Fields(expr)) != 5 || !gronx.IsValid(expr) {
		return fmt.Errorf("%w: %q, expected minute hour day-of-month month day-of-week", ErrInvalidSchedule, expr)
	}
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil || !next.Before(from.Add(365*24*time.Hour)) {
		return fmt.Errorf("%w: %q never fires within a year", ErrInvalidSchedule, expr)
	}
	return nil
}

// deadlineAt returns when the deadline trigger fires for a run started at
// from: the next schedule tick when one is configured, otherwise the fixed
// deadline.
func (r *Runner) deadlineAt(from time.Time) (time.Time, error) {
	if r.config.Schedule == "" {
		return from.Add(r.config.Deadline), nil
	}
	if err := validateSchedule(r.config.Schedule, from); err != nil {
		return time.Time{}, err
	}
	return gronx.NextTickAfter(r.config.Schedule, from, false)
}
