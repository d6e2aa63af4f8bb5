package core

import "github.com/shopspring/decimal"

// =============================================================================
// CALENDAR - Day-count conventions for interest accrual
// =============================================================================

// Calendar selects the day-count convention used when converting an
// annual rate into interest for a span of days. DSI accrual is sensitive
// to this: the same ten-day gap prices differently under Actual/360 and
// 30/360.
type Calendar string

const (
	CalendarActual365 Calendar = "actual/365"
	CalendarActual360 Calendar = "actual/360"
	CalendarThirty360 Calendar = "30/360"
)

// DaysBetween counts days from 'from' to 'to' under the convention.
func (c Calendar) DaysBetween(from, to DatePoint) int {
	switch c {
	case CalendarThirty360:
		return thirty360Days(from, to)
	default:
		return ActualDaysBetween(from, to)
	}
}

// DaysInYear returns the denominator for daily-rate derivation.
func (c Calendar) DaysInYear(year int) int {
	switch c {
	case CalendarActual360, CalendarThirty360:
		return 360
	default:
		return 365
	}
}

// DailyRate converts an annual rate to a per-day rate for the given year.
func (c Calendar) DailyRate(annualRate decimal.Decimal, year int) decimal.Decimal {
	return annualRate.Div(decimal.NewFromInt(int64(c.DaysInYear(year))))
}

// thirty360Days implements the US 30/360 convention: every month is
// treated as 30 days.
func thirty360Days(from, to DatePoint) int {
	d1, d2 := from.Day(), to.Day()
	if d1 == 31 {
		d1 = 30
	}
	if d2 == 31 && d1 == 30 {
		d2 = 30
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	return months*30 + d2 - d1
}
