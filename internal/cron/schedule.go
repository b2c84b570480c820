// Package cron implements the CronService (spec.md §4.9): a persistent
// schedule store that fires isolated, headless agent turns on a
// configured cron expression and enforces each job's delivery contract.
// Schedule parsing is grounded on the teacher's internal/cron/schedule.go
// cron.NewParser configuration; the fire loop is grounded on
// internal/cron/scheduler.go's ticker-driven due check.
package cron

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// parser accepts standard 5-field cron expressions with optional leading
// seconds field and named descriptors (@daily, @every 1h, ...).
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression, returning an error that names
// the bad expression if it does not parse.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron: invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}
