package core_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/core"
)

// =============================================================================
// DATE POINT
// =============================================================================

func TestDatePoint_TruncatesToUTCMidnight(t *testing.T) {
	// GIVEN: a timestamp late in the day in a non-UTC zone
	// WHEN: converting to a DatePoint
	// THEN: only the UTC calendar date survives

	loc := time.FixedZone("EST", -5*3600)
	stamp := time.Date(2022, time.June, 15, 23, 30, 0, 0, loc) // 2022-06-16 04:30 UTC

	d := core.DateFromTime(stamp)
	assert.Equal(t, "2022-06-16", d.String())
}

func TestDatePoint_Comparisons(t *testing.T) {
	a := core.NewDate(2022, time.June, 1)
	b := core.NewDate(2022, time.July, 1)

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.True(t, a.BeforeOrEqual(a))
	assert.True(t, a.AfterOrEqual(a))
	assert.False(t, a.Equal(b))
}

func TestDatePoint_MonthArithmetic(t *testing.T) {
	start := core.NewDate(2022, time.June, 1)

	assert.Equal(t, "2022-07-01", start.AddMonths(1).String())
	assert.Equal(t, "2023-06-01", start.AddMonths(12).String())
	assert.Equal(t, "2022-05-01", start.MinusMonths(1).String())
}

func TestDatePoint_LatestEarliest(t *testing.T) {
	a := core.NewDate(2022, time.June, 1)
	b := core.NewDate(2022, time.June, 15)

	assert.True(t, a.Latest(b).Equal(b))
	assert.True(t, a.Earliest(b).Equal(a))
}

func TestActualDaysBetween(t *testing.T) {
	from := core.NewDate(2022, time.June, 1)
	to := core.NewDate(2022, time.July, 1)

	assert.Equal(t, 30, core.ActualDaysBetween(from, to))
	assert.Equal(t, -30, core.ActualDaysBetween(to, from))
}

func TestDatePoint_JSONRoundTrip(t *testing.T) {
	d := core.NewDate(2022, time.June, 1)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2022-06-01"`, string(data))

	var back core.DatePoint
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, d.Equal(back))
}

// =============================================================================
// CALENDAR CONVENTIONS
// =============================================================================

func TestCalendar_DaysBetween(t *testing.T) {
	from := core.NewDate(2022, time.January, 31)
	to := core.NewDate(2022, time.February, 28)

	// Actual conventions count real days; 30/360 treats Jan 31 as Jan 30.
	assert.Equal(t, 28, core.CalendarActual365.DaysBetween(from, to))
	assert.Equal(t, 28, core.CalendarActual360.DaysBetween(from, to))
	assert.Equal(t, 28, core.CalendarThirty360.DaysBetween(from, to))

	fullYear := core.NewDate(2023, time.January, 31)
	assert.Equal(t, 365, core.CalendarActual365.DaysBetween(from, fullYear))
	assert.Equal(t, 360, core.CalendarThirty360.DaysBetween(from, fullYear))
}

func TestCalendar_DaysInYear(t *testing.T) {
	assert.Equal(t, 365, core.CalendarActual365.DaysInYear(2022))
	assert.Equal(t, 360, core.CalendarActual360.DaysInYear(2022))
	assert.Equal(t, 360, core.CalendarThirty360.DaysInYear(2022))
}

func TestCalendar_DailyRate(t *testing.T) {
	annual := decimal.RequireFromString("0.12")

	r365 := core.CalendarActual365.DailyRate(annual, 2022)
	r360 := core.CalendarActual360.DailyRate(annual, 2022)

	assert.True(t, r360.GreaterThan(r365), "a 360-day year yields a higher daily rate")

	diff := r365.Mul(decimal.NewFromInt(365)).Sub(annual).Abs()
	assert.True(t, diff.LessThan(decimal.RequireFromString("0.0000000001")))
}
