// Package cron parses resync schedules.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinInterval is the shortest allowed gap between two resync runs. Every run
// enumerates the full content set.
const MinInterval = time.Minute

var (
	ErrEmpty       = errors.New("empty schedule")
	ErrTooFrequent = errors.New("schedule fires more often than once a minute")
)

// Schedule yields the next run strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Parser accepts standard five-field expressions and descriptors such as
// "@hourly" or "@every 30m".
type Parser struct {
	spec cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		spec: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse interprets expression in timezone; an empty timezone means UTC.
func (p *Parser) Parse(expression, timezone string) (Schedule, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, ErrEmpty
	}

	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("load timezone: %w", err)
		}
	}

	sched, err := p.spec.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok && every.Delay < MinInterval {
		return nil, fmt.Errorf("%q: %w", expression, ErrTooFrequent)
	}

	return localSchedule{sched: sched, loc: loc}, nil
}

type localSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s localSchedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

// Upcoming returns the next n run times after t, in UTC.
func Upcoming(s Schedule, after time.Time, n int) []time.Time {
	runs := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		next := s.Next(after)
		if next.IsZero() {
			break
		}
		runs = append(runs, next.UTC())
		after = next
	}
	return runs
}
