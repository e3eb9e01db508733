/*
calendar.go - Business-day counting over a holiday calendar

PURPOSE:
  An application's TotalDays is the count of working days in its inclusive
  date range: weekends and published holidays are skipped. The holiday
  feed is read-only and external; the engine only consumes it.

SEE ALSO:
  - service.go: Submit computes TotalDays with this
*/
package workflow

import (
	"time"

	"github.com/shopspring/decimal"
)

// HolidayCalendar reports published non-working days.
type HolidayCalendar interface {
	IsHoliday(date time.Time) bool
}

// NoHolidays is a calendar with no published holidays.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(time.Time) bool { return false }

// StaticCalendar is a fixed set of holiday dates. Time-of-day and location
// are ignored; only the civil date matters.
type StaticCalendar struct {
	dates map[string]struct{}
}

// NewStaticCalendar builds a calendar from explicit dates.
func NewStaticCalendar(dates ...time.Time) *StaticCalendar {
	c := &StaticCalendar{dates: make(map[string]struct{}, len(dates))}
	for _, d := range dates {
		c.dates[d.Format("2006-01-02")] = struct{}{}
	}
	return c
}

func (c *StaticCalendar) IsHoliday(date time.Time) bool {
	_, ok := c.dates[date.Format("2006-01-02")]
	return ok
}

// Add registers another holiday.
func (c *StaticCalendar) Add(date time.Time) {
	c.dates[date.Format("2006-01-02")] = struct{}{}
}

// IsWorkday reports whether date is neither a weekend nor a holiday.
func IsWorkday(date time.Time, cal HolidayCalendar) bool {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if cal != nil && cal.IsHoliday(date) {
		return false
	}
	return true
}

// BusinessDays counts working days in [start, end] inclusive. An inverted
// range counts zero.
func BusinessDays(start, end time.Time, cal HolidayCalendar) decimal.Decimal {
	if end.Before(start) {
		return decimal.Zero
	}
	count := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsWorkday(d, cal) {
			count++
		}
	}
	return decimal.NewFromInt(int64(count))
}
