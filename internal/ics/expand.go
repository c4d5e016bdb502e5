package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	"schedcal/internal/calendar"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

const defaultMaxOccurrences = 500

type expandConfig struct {
	Location       *time.Location
	RangeStart     time.Time
	RangeEnd       time.Time
	MaxOccurrences int
}

// expandDates returns the stored date ranges for one feed event: its own
// span when it does not recur, otherwise one span per RRULE occurrence in
// the configured window minus EXDATEs.
func expandDates(ev feedEvent, cfg expandConfig) []model.EventDate {
	if ev.RawRRule == "" {
		return []model.EventDate{toEventDate(ev.Start, ev.End, ev.AllDay, cfg.Location)}
	}
	if cfg.RangeStart.IsZero() || cfg.RangeEnd.Before(cfg.RangeStart) {
		appLog.Error("ics recurring vevent skipped", errors.New("no import window"), "uid", ev.UID)
		return nil
	}
	limit := cfg.MaxOccurrences
	if limit <= 0 {
		limit = defaultMaxOccurrences
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(cfg.RangeStart.In(ev.Start.Location()), cfg.RangeEnd.In(ev.Start.Location()), true)
	if len(starts) > limit {
		appLog.Error("ics truncated occurrences", errors.New("max occurrences reached"), "uid", ev.UID, "cap", limit)
		starts = starts[:limit]
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]model.EventDate, 0, len(starts))
	for _, s := range starts {
		e := s.Add(dur)
		if ev.AllDay {
			e = s.AddDate(0, 0, int(dur.Hours()/24+0.5))
		}
		out = append(out, toEventDate(s, e, ev.AllDay, cfg.Location))
	}
	return out
}

// toEventDate writes a span as wall-clock literals in loc. All-day spans
// cover 00:00 of the first day to 23:59 of the last day, DTEND being
// exclusive.
func toEventDate(start, end time.Time, allDay bool, loc *time.Location) model.EventDate {
	if allDay {
		first := calendar.DayOf(start)
		last := calendar.DayOf(end).AddDays(-1)
		if last.Before(first) {
			last = first
		}
		return model.EventDate{
			Start: calendar.DateTime{Day: first}.String(),
			End:   calendar.DateTime{Day: last, Clock: calendar.Clock{Hour: 23, Minute: 59}}.String(),
		}
	}
	return model.EventDate{
		Start: calendar.WallClock(start, loc).String(),
		End:   calendar.WallClock(end, loc).String(),
	}
}
