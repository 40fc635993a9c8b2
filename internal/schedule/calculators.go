// Package schedule fires the daily and monthly report jobs.
//
// Each schedule kind has its own FireCalculator that knows how to find the
// first fire after a given instant and how to advance one period from a fire.
package schedule

import (
	"fmt"
	"time"

	"bookkeeper/internal/core"
)

// Kind names a schedule.
type Kind string

const (
	Daily   Kind = "daily"
	Monthly Kind = "monthly"
)

// FireCalculator is the strategy interface for one schedule kind.
type FireCalculator interface {
	// Enabled reports whether cfg turns this schedule on.
	Enabled(cfg core.ScheduleConfig) bool
	// Changed reports whether the fields this schedule depends on differ.
	Changed(old, cfg core.ScheduleConfig) bool
	// First returns the soonest matching instant strictly after now.
	First(now time.Time, cfg core.ScheduleConfig, loc *time.Location) time.Time
	// Next returns the matching instant one period after fired.
	Next(fired time.Time, cfg core.ScheduleConfig, loc *time.Location) time.Time
	// Period is the date range a fire reports on.
	Period(fired time.Time, loc *time.Location) (core.Date, core.Date)
}

// DailyCalculator fires once a day at DailyTime.
type DailyCalculator struct{}

func (DailyCalculator) Enabled(cfg core.ScheduleConfig) bool { return cfg.DailyEnabled }

func (DailyCalculator) Changed(old, cfg core.ScheduleConfig) bool {
	return old.DailyTime != cfg.DailyTime || old.Timezone != cfg.Timezone
}

func (DailyCalculator) First(now time.Time, cfg core.ScheduleConfig, loc *time.Location) time.Time {
	local := now.In(loc)
	t := dailyAt(local.Year(), local.Month(), local.Day(), cfg.DailyTime, loc)
	if !t.After(now) {
		t = dailyAt(local.Year(), local.Month(), local.Day()+1, cfg.DailyTime, loc)
	}
	return t
}

func (DailyCalculator) Next(fired time.Time, cfg core.ScheduleConfig, loc *time.Location) time.Time {
	local := fired.In(loc)
	return dailyAt(local.Year(), local.Month(), local.Day()+1, cfg.DailyTime, loc)
}

func (DailyCalculator) Period(fired time.Time, loc *time.Location) (core.Date, core.Date) {
	d := core.DateOf(fired, loc)
	return d, d
}

func dailyAt(year int, month time.Month, day int, at core.ClockTime, loc *time.Location) time.Time {
	return wallClock(year, month, day, at, loc)
}

// wallClock returns the instant the clock in loc reads at on the given day.
// A time skipped by a spring-forward jump moves forward by the size of the
// jump, never before the configured time.
func wallClock(year int, month time.Month, day int, at core.ClockTime, loc *time.Location) time.Time {
	t := time.Date(year, month, day, at.Hour, at.Minute, 0, 0, loc)
	if t.Hour() == at.Hour && t.Minute() == at.Minute {
		return t
	}
	_, before := t.Zone()
	_, after := t.Add(12 * time.Hour).Zone()
	if shifted := t.Add(time.Duration(after-before) * time.Second); shifted.After(t) {
		return shifted
	}
	return t
}

// MonthlyCalculator fires once a month on MonthlyDay at MonthlyTime. A day
// past the end of a month fires on that month's last day.
type MonthlyCalculator struct{}

func (MonthlyCalculator) Enabled(cfg core.ScheduleConfig) bool { return cfg.MonthlyEnabled }

func (MonthlyCalculator) Changed(old, cfg core.ScheduleConfig) bool {
	return old.MonthlyDay != cfg.MonthlyDay ||
		old.MonthlyTime != cfg.MonthlyTime ||
		old.Timezone != cfg.Timezone
}

func (MonthlyCalculator) First(now time.Time, cfg core.ScheduleConfig, loc *time.Location) time.Time {
	local := now.In(loc)
	t := monthlyAt(local.Year(), local.Month(), cfg, loc)
	if !t.After(now) {
		t = monthlyAt(local.Year(), local.Month()+1, cfg, loc)
	}
	return t
}

func (MonthlyCalculator) Next(fired time.Time, cfg core.ScheduleConfig, loc *time.Location) time.Time {
	local := fired.In(loc)
	return monthlyAt(local.Year(), local.Month()+1, cfg, loc)
}

func (MonthlyCalculator) Period(fired time.Time, loc *time.Location) (core.Date, core.Date) {
	d := core.DateOf(fired, loc)
	return d.MonthStart(), d
}

func monthlyAt(year int, month time.Month, cfg core.ScheduleConfig, loc *time.Location) time.Time {
	// normalize month overflow before clamping the day
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	day := min(cfg.MonthlyDay, core.DaysIn(first.Year(), first.Month()))
	return wallClock(first.Year(), first.Month(), day, cfg.MonthlyTime, loc)
}

// calculators maps schedule kinds to their strategies.
var calculators = map[Kind]FireCalculator{
	Daily:   DailyCalculator{},
	Monthly: MonthlyCalculator{},
}

// kinds fixes iteration order.
var kinds = []Kind{Daily, Monthly}

// GetCalculator returns the strategy for kind.
func GetCalculator(kind Kind) (FireCalculator, error) {
	c, ok := calculators[kind]
	if !ok {
		return nil, fmt.Errorf("unknown schedule kind: %s", kind)
	}
	return c, nil
}
