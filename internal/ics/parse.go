package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"schedcal/internal/calendar"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// feedEvent is the part of a VEVENT that import needs.
type feedEvent struct {
	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time
}

// parseFeed parses an ICS payload. VEVENTs that lack a UID or a usable
// DTSTART are logged and skipped; the rest of the feed is still returned.
func parseFeed(body []byte, loc *time.Location) ([]feedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]feedEvent, 0)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve, loc)
		if err != nil {
			appLog.Error("ics vevent skipped", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (feedEvent, error) {
	var out feedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parsePropTime(startProp, loc)
	if err != nil {
		return out, err
	}
	out.Start = start
	out.AllDay = allDay

	switch endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); {
	case endProp != nil:
		if out.End, _, err = parsePropTime(endProp, loc); err != nil {
			return out, err
		}
	case allDay:
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}
	if out.End.Before(out.Start) {
		return out, errors.New("DTEND before DTSTART")
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tzLoc := propLocation(p, loc)
		for _, part := range strings.Split(p.Value, ",") {
			if t, _, err := parseICSTime(part, tzLoc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

func parsePropTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	t, dateOnly, err := parseICSTime(p.Value, propLocation(p, loc))
	if err != nil {
		return t, false, err
	}
	if vs, ok := p.ICalParameters[string(ical.ParameterValue)]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		dateOnly = true
	}
	return t, dateOnly, nil
}

// propLocation is the zone named by the property's TZID, or fallback.
func propLocation(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if tzs, ok := p.ICalParameters[string(ical.ParameterTzid)]; ok && len(tzs) > 0 {
		if loc, err := calendar.LoadLocation(tzs[0]); err == nil {
			return loc
		}
		appLog.Debug("ics TZID not in tz database; using import zone", "tzid", tzs[0])
	}
	return fallback
}

// parseICSTime parses an ICS DATE or DATE-TIME value. Floating and
// date-only values are read in loc; the Z form is UTC.
func parseICSTime(v string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, false, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}
}

// ImportOptions controls how a holiday feed becomes exception records.
type ImportOptions struct {
	// Location is the zone the stored wall-clock literals are written in.
	// Nil means UTC.
	Location *time.Location

	// RangeStart / RangeEnd bound the occurrences of recurring VEVENTs.
	// Non-recurring VEVENTs are imported regardless of the window.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrences caps the dates taken from one recurring VEVENT. Zero
	// means defaultMaxOccurrences.
	MaxOccurrences int

	// Color and Value are copied onto every imported record.
	Color string
	Value any
}

// ImportExceptions turns the VEVENTs of an ICS feed into exception records
// keyed by an id derived from the UID, so importing the same feed twice
// replaces records instead of duplicating them.
func ImportExceptions(body []byte, opts ImportOptions) (map[string]model.Exception, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	evs, err := parseFeed(body, loc)
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	cfg := expandConfig{
		Location:       loc,
		RangeStart:     opts.RangeStart,
		RangeEnd:       opts.RangeEnd,
		MaxOccurrences: opts.MaxOccurrences,
	}

	out := make(map[string]model.Exception, len(evs))
	for _, ev := range evs {
		dates := expandDates(ev, cfg)
		if len(dates) == 0 {
			appLog.Debug("ics vevent has no dates in range", "uid", ev.UID)
			continue
		}
		id := RecordID(ev.UID)
		rec := out[id]
		rec.Name = ev.Summary
		if rec.Name == "" {
			rec.Name = ev.UID
		}
		rec.Color = opts.Color
		rec.Value = opts.Value
		rec.Dates = append(rec.Dates, dates...)
		out[id] = rec
	}

	appLog.Info("ics import completed", "vevents", len(evs), "records", len(out))
	return out, nil
}

// RecordID derives a stable record id from an ICS UID.
func RecordID(uid string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ics:"+uid)).String()
}
