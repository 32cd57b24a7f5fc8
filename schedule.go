package redistasks

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule determines when a periodic task should run
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

// intervalSchedule runs at fixed intervals
type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

// dailySchedule runs once per day at specified time
type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		s.hour, s.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

// cronSchedule delegates to a parsed cron expression
type cronSchedule struct {
	expr string
	spec cron.Schedule
}

func (s cronSchedule) Next(from time.Time) time.Time {
	return s.spec.Next(from)
}

func (s cronSchedule) String() string {
	return "cron " + s.expr
}

// Every creates a schedule that runs at fixed intervals
func Every(d time.Duration) Schedule {
	return intervalSchedule{every: d}
}

// DailyAt creates a schedule that runs once per day at the specified time
func DailyAt(hour, minute int) Schedule {
	return dailySchedule{hour: hour, minute: minute}
}

// Daily creates a schedule that runs daily at midnight
func Daily() Schedule {
	return dailySchedule{hour: 0, minute: 0}
}

// Cron creates a schedule from a standard five-field cron expression,
// e.g. "*/10 * * * *" or "@hourly".
func Cron(expr string) (Schedule, error) {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("%w: %q", ErrInvalidSchedule, expr), err)
	}
	return cronSchedule{expr: expr, spec: spec}, nil
}

// MustCron is Cron for startup wiring: it panics on a malformed expression.
func MustCron(expr string) Schedule {
	s, err := Cron(expr)
	if err != nil {
		panic(err)
	}
	return s
}
