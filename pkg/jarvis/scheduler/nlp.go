// Package scheduler – nlp.go turns scheduling phrases found inside an
// utterance ("daily at 9am", "every monday at 08:30", "in 10 minutes")
// into a schedule type and time spec accepted by NextRun.
package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParsedSchedule is the schedule extracted from an utterance.
type ParsedSchedule struct {
	Type ScheduleType
	Time string
	// Delay is set for relative phrases ("in 10 minutes").
	Delay time.Duration
	// Match is the phrase that was recognised, so callers can strip it.
	Match string
}

const clockExpr = `(\d{1,2}(?::\d{2})?\s*(?:am|pm)?)`

var (
	reInDuration   = regexp.MustCompile(`\bin\s+(\d+)\s+(second|sec|minute|min|hour|hr|day)s?\b`)
	reEveryN       = regexp.MustCompile(`\bevery\s+(\d+)\s+(minute|min|hour|hr)s?\b`)
	reHourly       = regexp.MustCompile(`\b(?:hourly|every\s+hour)\b`)
	reDailyAt      = regexp.MustCompile(`\b(?:daily|every\s+day|each\s+day)\s+at\s+` + clockExpr)
	reWeekdayAt    = regexp.MustCompile(`\b(?:every|weekly\s+on|each|on)\s+(sunday|monday|tuesday|wednesday|thursday|friday|saturday|sun|mon|tue|wed|thu|fri|sat)s?\s+at\s+` + clockExpr)
	reMonthlyAt    = regexp.MustCompile(`\b(?:monthly\s+)?on\s+the\s+(\d{1,2})(?:st|nd|rd|th)?(?:\s+of\s+(?:every|each)\s+month)?\s+at\s+` + clockExpr)
	reTomorrowAt   = regexp.MustCompile(`\btomorrow\s+at\s+` + clockExpr)
	reTodayAt      = regexp.MustCompile(`\b(?:today\s+)?at\s+` + clockExpr + `(?:\s+today)?$`)
	reOnDateAt     = regexp.MustCompile(`\bon\s+(\d{4}-\d{2}-\d{2})\s+at\s+(\d{1,2}:\d{2})\b`)
	reCronExplicit = regexp.MustCompile(`\bcron\s+"([^"]+)"`)
)

// ParseUtterance looks for a scheduling phrase in text. now anchors
// relative and date-less phrases.
func ParseUtterance(text string, now time.Time) (ParsedSchedule, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return ParsedSchedule{}, false
	}

	if m := reCronExplicit.FindStringSubmatch(s); m != nil {
		return ParsedSchedule{Type: Cron, Time: m[1], Match: m[0]}, true
	}

	if m := reInDuration.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			d := time.Duration(n) * unitDuration(m[2])
			return ParsedSchedule{
				Type:  Once,
				Time:  now.Add(d).Format("2006-01-02 15:04"),
				Delay: d,
				Match: m[0],
			}, true
		}
	}

	if m := reEveryN.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			d := time.Duration(n) * unitDuration(m[2])
			return ParsedSchedule{Type: Cron, Time: "@every " + d.String(), Match: m[0]}, true
		}
	}

	if m := reHourly.FindString(s); m != "" {
		return ParsedSchedule{Type: Cron, Time: "@hourly", Match: m}, true
	}

	if m := reDailyAt.FindStringSubmatch(s); m != nil {
		if clock, ok := normalizeClock(m[1]); ok {
			return ParsedSchedule{Type: Daily, Time: clock, Match: m[0]}, true
		}
	}

	if m := reWeekdayAt.FindStringSubmatch(s); m != nil {
		if clock, ok := normalizeClock(m[2]); ok {
			day := m[1]
			if wd, ok := weekdays[day]; ok {
				day = strings.ToLower(wd.String())
			}
			return ParsedSchedule{Type: Weekly, Time: day + " " + clock, Match: m[0]}, true
		}
	}

	if m := reMonthlyAt.FindStringSubmatch(s); m != nil {
		dom, _ := strconv.Atoi(m[1])
		if clock, ok := normalizeClock(m[2]); ok && dom >= 1 && dom <= 31 {
			return ParsedSchedule{Type: Monthly, Time: fmt.Sprintf("%d %s", dom, clock), Match: m[0]}, true
		}
	}

	if m := reOnDateAt.FindStringSubmatch(s); m != nil {
		if clock, ok := normalizeClock(m[2]); ok {
			return ParsedSchedule{Type: Once, Time: m[1] + " " + clock, Match: m[0]}, true
		}
	}

	if m := reTomorrowAt.FindStringSubmatch(s); m != nil {
		if clock, ok := normalizeClock(m[1]); ok {
			day := now.AddDate(0, 0, 1).Format("2006-01-02")
			return ParsedSchedule{Type: Once, Time: day + " " + clock, Match: m[0]}, true
		}
	}

	if m := reTodayAt.FindStringSubmatch(s); m != nil {
		if clock, ok := normalizeClock(m[1]); ok {
			day := now
			if h, mi, err := parseClock(clock); err == nil {
				at := time.Date(now.Year(), now.Month(), now.Day(), h, mi, 0, 0, now.Location())
				if !at.After(now) {
					day = now.AddDate(0, 0, 1)
				}
			}
			return ParsedSchedule{Type: Once, Time: day.Format("2006-01-02") + " " + clock, Match: m[0]}, true
		}
	}

	return ParsedSchedule{}, false
}

func unitDuration(unit string) time.Duration {
	switch unit {
	case "second", "sec":
		return time.Second
	case "minute", "min":
		return time.Minute
	case "hour", "hr":
		return time.Hour
	case "day":
		return 24 * time.Hour
	}
	return 0
}

// normalizeClock turns "9", "9am", "3:30pm" or "14:05" into "HH:MM".
func normalizeClock(s string) (string, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")

	pm := strings.HasSuffix(s, "pm")
	am := strings.HasSuffix(s, "am")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "pm"), "am")

	parts := strings.SplitN(s, ":", 2)
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", false
	}
	minute := 0
	if len(parts) == 2 {
		minute, err = strconv.Atoi(parts[1])
		if err != nil || minute < 0 || minute > 59 {
			return "", false
		}
	}
	if (am || pm) && (hour < 1 || hour > 12) {
		return "", false
	}
	if pm && hour < 12 {
		hour += 12
	}
	if am && hour == 12 {
		hour = 0
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}
