package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/leave-engine/ledger"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBusinessDays_SkipsWeekends(t *testing.T) {
	// Mon 2026-06-01 through Sun 2026-06-07: five working days.
	got := BusinessDays(date(2026, time.June, 1), date(2026, time.June, 7), NoHolidays{})
	assert.True(t, got.Equal(ledger.Days(5)), "got %s", got)
}

func TestBusinessDays_SkipsHolidays(t *testing.T) {
	cal := NewStaticCalendar(date(2026, time.June, 3))

	got := BusinessDays(date(2026, time.June, 1), date(2026, time.June, 5), cal)

	assert.True(t, got.Equal(ledger.Days(4)), "got %s", got)
}

func TestBusinessDays_SingleDay(t *testing.T) {
	// A Saturday counts zero; a Tuesday counts one.
	assert.True(t, BusinessDays(date(2026, time.June, 6), date(2026, time.June, 6), NoHolidays{}).IsZero())
	assert.True(t, BusinessDays(date(2026, time.June, 2), date(2026, time.June, 2), NoHolidays{}).Equal(ledger.Days(1)))
}

func TestBusinessDays_InvertedRange(t *testing.T) {
	got := BusinessDays(date(2026, time.June, 5), date(2026, time.June, 1), NoHolidays{})
	assert.True(t, got.IsZero())
}

func TestIsWorkday(t *testing.T) {
	cal := NewStaticCalendar(date(2026, time.December, 25))

	assert.True(t, IsWorkday(date(2026, time.December, 23), cal))  // Wednesday
	assert.False(t, IsWorkday(date(2026, time.December, 25), cal)) // holiday Friday
	assert.False(t, IsWorkday(date(2026, time.December, 26), cal)) // Saturday
}
