// Package ics converts between schedules and iCalendar: materialized
// instances and weekly records are exported as VCALENDAR feeds, and
// holiday feeds are imported as exception records.
package ics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"schedcal/internal/calendar"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

const (
	productID     = "-//schedcal//schedcal//EN"
	floatingStamp = "20060102T150405"
)

var propertyColor = ical.ComponentProperty("COLOR")

// ExportOptions names the calendar and fixes DTSTAMP.
type ExportOptions struct {
	Name string
	Now  time.Time
}

func (o ExportOptions) stamp() time.Time {
	if o.Now.IsZero() {
		return time.Now().UTC()
	}
	return o.Now.UTC()
}

func newCalendar(opts ExportOptions) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	return cal
}

// Export writes one VEVENT per materialized instance, in UTC.
func Export(outs []model.EventOutput, opts ExportOptions) string {
	cal := newCalendar(opts)
	stamp := opts.stamp()

	for _, out := range outs {
		uid := fmt.Sprintf("%s-%s-%s@schedcal", out.Category(), out.ID, out.Start.UTC().Format("20060102T150405Z"))
		ev := cal.AddEvent(uid)
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(out.Start)
		ev.SetEndAt(out.End)
		ev.SetSummary(out.Title)
		ev.SetProperty(ical.ComponentPropertyCategories, string(out.Category()))
		setCommon(ev, out.Value, out.Color)
	}
	return cal.Serialize()
}

func setCommon(ev *ical.VEvent, value any, color string) {
	if s := valueText(value); s != "" {
		ev.SetDescription(s)
	}
	if color != "" {
		ev.SetProperty(propertyColor, color)
	}
}

func valueText(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

var rruleWeekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ExportRecurring writes each weekly record as a single VEVENT with a
// weekly RRULE. DTSTART is the first listed weekday on or after from,
// carrying a TZID so clients keep the local time across DST changes.
// Records that do not parse are logged and left out.
func ExportRecurring(records map[string]model.Weekly, loc *time.Location, from calendar.Day, opts ExportOptions) string {
	if loc == nil {
		loc = time.UTC
	}
	cal := newCalendar(opts)
	stamp := opts.stamp()
	if loc != time.UTC {
		addTimezone(cal, loc, from.Year)
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := records[id]
		rule, first, err := weeklyRule(rec, from)
		if err != nil {
			appLog.Error("ics export skipped weekly record", err, "id", id)
			continue
		}
		startClock, _ := calendar.ParseClock(rec.Start)
		endClock, _ := calendar.ParseClock(rec.End)
		endDay := first
		if startClock.After(endClock) {
			endDay = first.AddDays(1)
		}
		start := calendar.Compose(first, startClock, loc)
		end := calendar.Compose(endDay, endClock, loc)

		ev := cal.AddEvent(fmt.Sprintf("weekly-%s@schedcal", id))
		ev.SetDtStampTime(stamp)
		setZoned(ev, ical.ComponentPropertyDtStart, start, loc)
		setZoned(ev, ical.ComponentPropertyDtEnd, end, loc)
		ev.SetProperty(ical.ComponentPropertyRrule, rule)
		ev.SetSummary(rec.Name)
		ev.SetProperty(ical.ComponentPropertyCategories, string(model.CategoryWeekly))
		setCommon(ev, rec.Value, rec.Color)
	}
	return cal.Serialize()
}

func setZoned(ev *ical.VEvent, prop ical.ComponentProperty, t time.Time, loc *time.Location) {
	if loc == time.UTC {
		ev.SetProperty(prop, t.UTC().Format("20060102T150405Z"))
		return
	}
	tzid := &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{loc.String()}}
	ev.SetProperty(prop, t.In(loc).Format(floatingStamp), tzid)
}

// weeklyRule builds the RRULE value for rec and finds its first day on or
// after from.
func weeklyRule(rec model.Weekly, from calendar.Day) (string, calendar.Day, error) {
	if _, err := calendar.ParseClock(rec.Start); err != nil {
		return "", from, err
	}
	if _, err := calendar.ParseClock(rec.End); err != nil {
		return "", from, err
	}
	set := make(map[time.Weekday]bool, len(rec.Days))
	for _, name := range rec.Days {
		wd, err := calendar.ParseWeekday(name)
		if err != nil {
			return "", from, err
		}
		set[wd] = true
	}
	if len(set) == 0 {
		return "", from, fmt.Errorf("weekly record %q lists no weekdays", rec.Name)
	}

	byDay := make([]rrule.Weekday, 0, len(set))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if set[wd] {
			byDay = append(byDay, rruleWeekdays[wd])
		}
	}
	first := from
	for !set[first.Weekday()] {
		first = first.AddDays(1)
	}

	opt := rrule.ROption{Freq: rrule.WEEKLY, Byweekday: byDay}
	return strings.TrimPrefix(opt.RRuleString(), "RRULE:"), first, nil
}

// addTimezone adds the VTIMEZONE that DTSTART;TZID values refer to. Its
// observances are the zone's offset changes in year, each repeated yearly
// on the same nth weekday of its month. A zone without changes in year
// gets one fixed STANDARD observance.
func addTimezone(cal *ical.Calendar, loc *time.Location, year int) {
	tz := cal.AddTimezone(loc.String())

	cursor := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	found := false
	for {
		_, end := cursor.ZoneBounds()
		if end.IsZero() || end.In(loc).Year() > year {
			break
		}
		found = true
		tz.Components = append(tz.Components, observance(end, loc))
		cursor = end
	}
	if found {
		return
	}

	name, off := cursor.Zone()
	std := tz.AddStandard()
	std.SetProperty(ical.ComponentPropertyDtStart, "19700101T000000")
	std.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), utcOffset(off))
	std.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), utcOffset(off))
	std.SetProperty(ical.ComponentProperty(ical.PropertyTzname), name)
}

// observance describes the offset change at instant at. DTSTART is the
// local time of the change under the offset it replaces.
func observance(at time.Time, loc *time.Location) ical.Component {
	_, from := at.Add(-time.Second).In(loc).Zone()
	name, to := at.In(loc).Zone()
	local := at.UTC().Add(time.Duration(from) * time.Second)

	nth := (local.Day()-1)/7 + 1
	if local.AddDate(0, 0, 7).Month() != local.Month() {
		nth = -1
	}
	opt := rrule.ROption{
		Freq:      rrule.YEARLY,
		Bymonth:   []int{int(local.Month())},
		Byweekday: []rrule.Weekday{rruleWeekdays[local.Weekday()].Nth(nth)},
	}

	var base *ical.ComponentBase
	var comp ical.Component
	if at.In(loc).IsDST() {
		d := &ical.Daylight{}
		base, comp = &d.ComponentBase, d
	} else {
		s := &ical.Standard{}
		base, comp = &s.ComponentBase, s
	}
	base.SetProperty(ical.ComponentPropertyDtStart, local.Format(floatingStamp))
	base.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), utcOffset(from))
	base.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), utcOffset(to))
	base.SetProperty(ical.ComponentProperty(ical.PropertyTzname), name)
	base.SetProperty(ical.ComponentPropertyRrule, opt.RRuleString())
	return comp
}

// utcOffset formats seconds east of UTC as an iCalendar UTC-OFFSET.
func utcOffset(sec int) string {
	sign := '+'
	if sec < 0 {
		sign = '-'
		sec = -sec
	}
	return fmt.Sprintf("%c%02d%02d", sign, sec/3600, sec%3600/60)
}
