package schedule

import (
	"sort"
	"time"

	"schedcal/internal/calendar"
	"schedcal/internal/model"
)

// weeklyPlan is a weekly record with its times and weekdays parsed once.
type weeklyPlan struct {
	id       string
	rec      model.Weekly
	start    calendar.Clock
	end      calendar.Clock
	weekdays map[time.Weekday]bool
	labels   []string
}

// overnight reports whether the span ends on the day after it starts.
func (p weeklyPlan) overnight() bool {
	return p.start.After(p.end)
}

func planWeekly(id string, rec model.Weekly) (weeklyPlan, error) {
	p := weeklyPlan{id: id, rec: rec, weekdays: make(map[time.Weekday]bool, len(rec.Days))}

	var err error
	if p.start, err = calendar.ParseClock(rec.Start); err != nil {
		return p, err
	}
	if p.end, err = calendar.ParseClock(rec.End); err != nil {
		return p, err
	}
	if len(rec.Days) == 0 {
		return p, ErrNoWeekdays
	}
	for _, name := range rec.Days {
		wd, err := calendar.ParseWeekday(name)
		if err != nil {
			return p, err
		}
		p.weekdays[wd] = true
	}
	return p, nil
}

// ExpandWeekly emits one instance per (record, visible day) pair whose
// weekday the record lists. The start is composed on the matched day; the
// end on the same day, or the next one for overnight spans. Records that do
// not parse are skipped and reported; zero-length spans are still emitted.
//
// Output is ordered by day, then by record id.
func ExpandWeekly(records map[string]model.Weekly, days []calendar.Day, loc *time.Location, opts Options) ([]model.EventOutput, []RecordError) {
	if loc == nil {
		loc = time.UTC
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var issues []RecordError
	byWeekday := make(map[time.Weekday][]weeklyPlan)
	week := calendar.WeekOf(calendar.DayOf(opts.now().In(opts.viewLocation(loc))))

	for _, id := range ids {
		p, err := planWeekly(id, records[id])
		if err != nil {
			issues = append(issues, RecordError{Category: model.CategoryWeekly, ID: id, Index: -1, Err: err})
			continue
		}
		p.labels = weekLabels(p, week, loc, opts.viewLocation(loc))
		for wd := range p.weekdays {
			byWeekday[wd] = append(byWeekday[wd], p)
		}
	}
	for wd := range byWeekday {
		plans := byWeekday[wd]
		sort.Slice(plans, func(i, j int) bool { return plans[i].id < plans[j].id })
	}

	out := make([]model.EventOutput, 0)
	for _, day := range days {
		dayString := calendar.WeekdayName(day.Weekday())
		for _, p := range byWeekday[day.Weekday()] {
			endDay := day
			if p.overnight() {
				endDay = day.AddDays(1)
			}
			out = append(out, model.EventOutput{
				ID:          p.id,
				Start:       calendar.Compose(day, p.start, loc),
				End:         calendar.Compose(endDay, p.end, loc),
				Title:       p.rec.Name,
				Value:       p.rec.Value,
				Color:       p.rec.Color,
				IsWeekly:    true,
				Event:       model.CloneRecord(p.rec),
				BackupEvent: model.CloneRecord(p.rec),
				Days:        append([]string(nil), p.labels...),
				DayString:   dayString,
			})
		}
	}
	return out, issues
}

// weekLabels recomputes the weekdays an edit form shows for a record: for
// each day of the current week, compose the record's start in loc, keep it
// when its weekday in loc is one the record lists, and label it with its
// weekday as seen from view. A start near midnight can land on a different
// weekday in view than in loc, which is why the stored days are not echoed.
func weekLabels(p weeklyPlan, week []calendar.Day, loc, view *time.Location) []string {
	labels := make([]string, 0, len(p.weekdays))
	seen := make(map[string]bool)
	for _, d := range week {
		inst := calendar.Compose(d, p.start, loc)
		if !p.weekdays[calendar.WallClock(inst, loc).Day.Weekday()] {
			continue
		}
		label := calendar.WeekdayName(inst.In(view).Weekday())
		if seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return labels
}
