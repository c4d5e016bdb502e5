package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// ErrUnknownWeekday is returned when a weekday name is not one of
// sunday..saturday.
var ErrUnknownWeekday = errors.New("unknown weekday name")

// weekdayNames maps time.Weekday (Sunday = 0) to the lowercase names used
// in stored weekly records.
var weekdayNames = [7]string{
	"sunday",
	"monday",
	"tuesday",
	"wednesday",
	"thursday",
	"friday",
	"saturday",
}

// WeekdayNames returns the seven weekday names, Sunday first.
func WeekdayNames() []string {
	out := make([]string, len(weekdayNames))
	copy(out, weekdayNames[:])
	return out
}

// WeekdayName returns the lowercase English name of wd.
func WeekdayName(wd time.Weekday) string {
	return weekdayNames[int(wd)%7]
}

// ParseWeekday maps a weekday name back to time.Weekday. Matching ignores
// case and surrounding whitespace.
func ParseWeekday(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, wn := range weekdayNames {
		if wn == n {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWeekday, name)
}

// Day is a timezone-naive civil date.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the civil date of t in t's own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

// ParseDay parses a YYYY-MM-DD literal.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, strings.TrimSpace(s))
	if err != nil {
		return Day{}, err
	}
	return DayOf(t), nil
}

// date is the UTC midnight of d, used for all calendar arithmetic so that
// no DST transition can skew day counting.
func (d Day) date() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns d shifted by n days (n may be negative).
func (d Day) AddDays(n int) Day {
	return DayOf(d.date().AddDate(0, 0, n))
}

func (d Day) Weekday() time.Weekday {
	return d.date().Weekday()
}

func (d Day) Before(o Day) bool {
	return d.date().Before(o.date())
}

func (d Day) Equal(o Day) bool {
	return d.date().Equal(o.date())
}

func (d Day) String() string {
	return d.date().Format(dayLayout)
}

// FirstOfMonth returns the 1st of d's month.
func (d Day) FirstOfMonth() Day {
	return Day{Year: d.Year, Month: d.Month, Day: 1}
}

// LastOfMonth returns the last day of d's month.
func (d Day) LastOfMonth() Day {
	return DayOf(d.FirstOfMonth().date().AddDate(0, 1, -1))
}

// StartOfWeek returns the Sunday on or before d.
func (d Day) StartOfWeek() Day {
	return d.AddDays(-int(d.Weekday()))
}

// EndOfWeek returns the Saturday on or after d.
func (d Day) EndOfWeek() Day {
	return d.AddDays(6 - int(d.Weekday()))
}

// EnumerateDaysBetween lists the days strictly between start and end, adding
// start and/or end themselves when the matching inclusive flag is set. An
// end before start yields at most the inclusive start, and start == end
// yields that single day when either flag is set.
func EnumerateDaysBetween(start, end Day, inclusiveStart, inclusiveEnd bool) []Day {
	days := make([]Day, 0)
	if inclusiveStart {
		days = append(days, start)
	}
	if !start.Before(end) {
		if start.Equal(end) && inclusiveEnd && !inclusiveStart {
			days = append(days, end)
		}
		return days
	}
	for cur := start.AddDays(1); cur.Before(end); cur = cur.AddDays(1) {
		days = append(days, cur)
	}
	if inclusiveEnd {
		days = append(days, end)
	}
	return days
}

// MonthGrid returns the whole Sunday-first weeks covering anchor's month.
// Its length is always a multiple of 7.
func MonthGrid(anchor Day) []Day {
	start := anchor.FirstOfMonth().StartOfWeek()
	end := anchor.LastOfMonth().EndOfWeek()
	return EnumerateDaysBetween(start, end, true, true)
}

// VisibleDays returns MonthGrid padded by one day on each side. The padding
// keeps weekly instances whose zone-shifted start crosses a week boundary
// inside the window even though the grid itself is zone-naive.
func VisibleDays(anchor Day) []Day {
	start := anchor.FirstOfMonth().StartOfWeek().AddDays(-1)
	end := anchor.LastOfMonth().EndOfWeek().AddDays(1)
	return EnumerateDaysBetween(start, end, true, true)
}

// WeekOf returns the seven days of the Sunday-first week containing d.
func WeekOf(d Day) []Day {
	return EnumerateDaysBetween(d.StartOfWeek(), d.EndOfWeek(), true, true)
}
