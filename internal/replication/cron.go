package replication

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleParser turns a cron expression into a schedule
type ScheduleParser func(expr string) (cron.Schedule, error)

// standardParser accepts exactly five fields: minute, hour, day of month,
// month and day of week. Seconds and @descriptors are rejected.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a standard 5-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	schedule, err := standardParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// NextFireTime returns the earliest instant strictly after from that matches
// expr, evaluated in from's location. Unparsable expressions and schedules
// that never match yield false.
func NextFireTime(expr string, from time.Time) (time.Time, bool) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, false
	}
	return nextAfter(schedule, from)
}

func nextAfter(schedule cron.Schedule, from time.Time) (time.Time, bool) {
	next := schedule.Next(from)
	if next.IsZero() || !next.After(from) {
		return time.Time{}, false
	}
	return next, true
}
