// Package scheduler – nextrun.go computes the next occurrence of a schedule
// spec. All results are strictly after the reference time except for once,
// which returns its fixed instant even when that is already past.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

var onceLayouts = []string{
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// NextRun returns the first occurrence of the schedule after ref.
func NextRun(typ ScheduleType, spec string, ref time.Time) (time.Time, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return time.Time{}, fmt.Errorf("%w: empty time for %s schedule", ErrInvalidSchedule, typ)
	}

	switch typ {
	case Once:
		return parseOnce(spec, ref.Location())

	case Daily:
		h, m, err := parseClock(spec)
		if err != nil {
			return time.Time{}, err
		}
		next := time.Date(ref.Year(), ref.Month(), ref.Day(), h, m, 0, 0, ref.Location())
		if !next.After(ref) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case Weekly:
		fields := strings.Fields(spec)
		if len(fields) != 2 {
			return time.Time{}, fmt.Errorf("%w: weekly time must be \"<day> HH:MM\", got %q", ErrInvalidSchedule, spec)
		}
		day, ok := weekdays[strings.ToLower(fields[0])]
		if !ok {
			return time.Time{}, fmt.Errorf("%w: unknown weekday %q", ErrInvalidSchedule, fields[0])
		}
		h, m, err := parseClock(fields[1])
		if err != nil {
			return time.Time{}, err
		}
		ahead := (int(day) - int(ref.Weekday()) + 7) % 7
		next := time.Date(ref.Year(), ref.Month(), ref.Day()+ahead, h, m, 0, 0, ref.Location())
		if !next.After(ref) {
			next = next.AddDate(0, 0, 7)
		}
		return next, nil

	case Monthly:
		fields := strings.Fields(spec)
		if len(fields) != 2 {
			return time.Time{}, fmt.Errorf("%w: monthly time must be \"<day> HH:MM\", got %q", ErrInvalidSchedule, spec)
		}
		dom, err := strconv.Atoi(fields[0])
		if err != nil || dom < 1 || dom > 31 {
			return time.Time{}, fmt.Errorf("%w: day of month must be 1-31, got %q", ErrInvalidSchedule, fields[0])
		}
		h, m, err := parseClock(fields[1])
		if err != nil {
			return time.Time{}, err
		}
		next := monthDay(ref.Year(), ref.Month(), dom, h, m, ref.Location())
		if !next.After(ref) {
			next = monthDay(ref.Year(), ref.Month()+1, dom, h, m, ref.Location())
		}
		return next, nil

	case Cron:
		sched, err := cronParser.Parse(spec)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: cron %q: %w", ErrInvalidSchedule, spec, err)
		}
		return sched.Next(ref), nil

	default:
		return time.Time{}, fmt.Errorf("%w: unknown schedule type %q", ErrInvalidSchedule, typ)
	}
}

// monthDay builds the given day in year/month, clamped to the month's last
// day. month may overflow into the next year.
func monthDay(year int, month time.Month, dom, hour, minute int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1).Day()
	if dom > last {
		dom = last
	}
	return time.Date(first.Year(), first.Month(), dom, hour, minute, 0, 0, loc)
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time must be HH:MM, got %q", ErrInvalidSchedule, s)
	}
	return t.Hour(), t.Minute(), nil
}

func parseOnce(spec string, loc *time.Location) (time.Time, error) {
	for _, layout := range onceLayouts {
		if t, err := time.ParseInLocation(layout, spec, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: once time must be \"YYYY-MM-DD HH:MM\", got %q", ErrInvalidSchedule, spec)
}
