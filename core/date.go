package core

import (
	"encoding/json"
	"time"
)

// =============================================================================
// DATE POINT - Normalized calendar date (UTC midnight)
// =============================================================================

type DatePoint struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) DatePoint {
	return DatePoint{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateFromTime truncates a timestamp to its UTC calendar date.
func DateFromTime(t time.Time) DatePoint {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

func ParseDate(s string) (DatePoint, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return DatePoint{}, err
	}
	return DateFromTime(t), nil
}

func Today() DatePoint { return DateFromTime(time.Now()) }

// Comparison
func (d DatePoint) Before(other DatePoint) bool        { return d.t.Before(other.t) }
func (d DatePoint) After(other DatePoint) bool         { return d.t.After(other.t) }
func (d DatePoint) Equal(other DatePoint) bool         { return d.t.Equal(other.t) }
func (d DatePoint) BeforeOrEqual(other DatePoint) bool { return !d.t.After(other.t) }
func (d DatePoint) AfterOrEqual(other DatePoint) bool  { return !d.t.Before(other.t) }
func (d DatePoint) IsZero() bool                       { return d.t.IsZero() }

// Arithmetic
func (d DatePoint) AddDays(n int) DatePoint   { return DatePoint{t: d.t.AddDate(0, 0, n)} }
func (d DatePoint) AddMonths(n int) DatePoint { return DatePoint{t: d.t.AddDate(0, n, 0)} }
func (d DatePoint) AddYears(n int) DatePoint  { return DatePoint{t: d.t.AddDate(n, 0, 0)} }
func (d DatePoint) MinusDays(n int) DatePoint   { return d.AddDays(-n) }
func (d DatePoint) MinusMonths(n int) DatePoint { return d.AddMonths(-n) }

// Properties
func (d DatePoint) Year() int         { return d.t.Year() }
func (d DatePoint) Month() time.Month { return d.t.Month() }
func (d DatePoint) Day() int          { return d.t.Day() }
func (d DatePoint) Time() time.Time   { return d.t }

func (d DatePoint) String() string { return d.t.Format("2006-01-02") }

// Min/Max
func (d DatePoint) Latest(other DatePoint) DatePoint {
	if other.After(d) {
		return other
	}
	return d
}

func (d DatePoint) Earliest(other DatePoint) DatePoint {
	if other.Before(d) {
		return other
	}
	return d
}

// ActualDaysBetween counts calendar days from d to other. Negative when
// other is earlier.
func ActualDaysBetween(from, to DatePoint) int {
	return int(to.t.Sub(from.t).Hours() / 24)
}

func ActualDaysInYear(year int) int {
	if isLeapYear(year) {
		return 366
	}
	return 365
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// =============================================================================
// JSON ROUND-TRIP
// =============================================================================

func (d DatePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DatePoint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
