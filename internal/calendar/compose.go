package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateTimeLayout is the stored timestamp literal: wall-clock time with no
// offset. The timezone is always applied externally.
const DateTimeLayout = "2006-01-02T15:04"

var (
	ErrMalformedClock    = errors.New("malformed time of day")
	ErrMalformedDateTime = errors.New("malformed date-time literal")
)

// UnknownTimezoneError reports a zone identifier the timezone database does
// not know.
type UnknownTimezoneError struct {
	Name string
	Err  error
}

func (e *UnknownTimezoneError) Error() string {
	return fmt.Sprintf("unknown timezone %q: %v", e.Name, e.Err)
}

func (e *UnknownTimezoneError) Unwrap() error { return e.Err }

// LoadLocation resolves an IANA zone name. An empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &UnknownTimezoneError{Name: name, Err: err}
	}
	return loc, nil
}

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock parses "HH:mm" or "HH:mm:ss". A single-digit hour is accepted
// ("9:00"); minutes and seconds must be two digits.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Clock{}, fmt.Errorf("%w: %q", ErrMalformedClock, s)
	}
	limits := [3]int{23, 59, 59}
	var vals [3]int
	for i, p := range parts {
		if p == "" || len(p) > 2 || (i > 0 && len(p) != 2) {
			return Clock{}, fmt.Errorf("%w: %q", ErrMalformedClock, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return Clock{}, fmt.Errorf("%w: %q", ErrMalformedClock, s)
		}
		vals[i] = n
	}
	return Clock{Hour: vals[0], Minute: vals[1], Second: vals[2]}, nil
}

// Seconds returns the number of seconds since midnight.
func (c Clock) Seconds() int {
	return c.Hour*3600 + c.Minute*60 + c.Second
}

// After reports whether c is later in the day than o.
func (c Clock) After(o Clock) bool {
	return c.Seconds() > o.Seconds()
}

func (c Clock) String() string {
	if c.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
	}
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// DateTime is a zone-naive wall-clock timestamp.
type DateTime struct {
	Day   Day
	Clock Clock
}

// ParseDateTime parses a stored timestamp literal. Besides the canonical
// layout it accepts a seconds field and, for records written by older
// clients, a fractional/offset suffix which is dropped: the literal is read
// as wall-clock time either way.
func ParseDateTime(s string) (DateTime, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateTimeLayout, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return dateTimeOf(t), nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return dateTimeOf(t), nil
	}
	return DateTime{}, fmt.Errorf("%w: %q", ErrMalformedDateTime, s)
}

func dateTimeOf(t time.Time) DateTime {
	return DateTime{
		Day:   DayOf(t),
		Clock: Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()},
	}
}

func (dt DateTime) String() string {
	s := dt.Day.String() + "T" + fmt.Sprintf("%02d:%02d", dt.Clock.Hour, dt.Clock.Minute)
	if dt.Clock.Second != 0 {
		s += fmt.Sprintf(":%02d", dt.Clock.Second)
	}
	return s
}

// In resolves dt as wall-clock time in loc. See Compose for DST handling.
func (dt DateTime) In(loc *time.Location) time.Time {
	return Compose(dt.Day, dt.Clock, loc)
}

// WallClock returns the civil date and time of t as seen in loc.
func WallClock(t time.Time, loc *time.Location) DateTime {
	if loc == nil {
		loc = time.UTC
	}
	return dateTimeOf(t.In(loc))
}

// Compose resolves day + clock as wall-clock time in loc.
//
// Local times that do not exist (spring-forward gap) take the offset in
// effect before the transition, so they land gap-length later on the
// clock: 02:30 on a New York spring-forward day becomes 03:30 EDT.
// Local times that occur twice (fall-back overlap) resolve to the earlier
// instant.
func Compose(day Day, clock Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	naive := time.Date(day.Year, day.Month, day.Day, clock.Hour, clock.Minute, clock.Second, 0, time.UTC)
	want := DateTime{Day: day, Clock: clock}

	// Real offsets stay within [-12h, +14h], so probes a day either side
	// bracket the instant and see the offsets before and after any single
	// transition near it.
	_, offBefore := naive.Add(-24 * time.Hour).In(loc).Zone()
	_, offAfter := naive.Add(24 * time.Hour).In(loc).Zone()

	fallback := naive.Add(-time.Duration(offBefore) * time.Second)
	var best time.Time
	found := false
	for _, off := range []int{offBefore, offAfter} {
		c := naive.Add(-time.Duration(off) * time.Second)
		if WallClock(c, loc) != want {
			continue
		}
		if !found || c.Before(best) {
			best = c
			found = true
		}
	}
	if !found {
		best = fallback
	}
	return best.In(loc)
}
