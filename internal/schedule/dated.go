package schedule

import (
	"sort"
	"time"

	"schedcal/internal/calendar"
	"schedcal/internal/model"
)

// DatedRecord is the common view of one-time events and exceptions, both
// of which expand one instance per stored date range.
type DatedRecord struct {
	ID     string
	Record model.Record
	Name   string
	Value  any
	Color  string
	Dates  []model.EventDate
}

// EventRecords lists the one-time events of a document sorted by id.
func EventRecords(events map[string]model.Event) []DatedRecord {
	out := make([]DatedRecord, 0, len(events))
	for id, e := range events {
		out = append(out, DatedRecord{ID: id, Record: e, Name: e.Name, Value: e.Value, Color: e.Color, Dates: e.Dates})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExceptionRecords lists the exceptions of a document sorted by id.
func ExceptionRecords(exceptions map[string]model.Exception) []DatedRecord {
	out := make([]DatedRecord, 0, len(exceptions))
	for id, x := range exceptions {
		out = append(out, DatedRecord{ID: id, Record: x, Name: x.Name, Value: x.Value, Color: x.Color, Dates: x.Dates})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExpandDated emits one instance per stored date range, reading each
// literal as wall-clock time in loc. A date range whose literals do not
// parse is skipped and reported; its siblings are still emitted.
func ExpandDated(records []DatedRecord, loc *time.Location, isHoliday bool) ([]model.EventOutput, []RecordError) {
	if loc == nil {
		loc = time.UTC
	}
	cat := model.CategoryEvents
	if isHoliday {
		cat = model.CategoryException
	}

	out := make([]model.EventOutput, 0, len(records))
	var issues []RecordError
	for _, r := range records {
		for i, date := range r.Dates {
			start, err := calendar.ParseDateTime(date.Start)
			if err != nil {
				issues = append(issues, RecordError{Category: cat, ID: r.ID, Index: i, Err: err})
				continue
			}
			end, err := calendar.ParseDateTime(date.End)
			if err != nil {
				issues = append(issues, RecordError{Category: cat, ID: r.ID, Index: i, Err: err})
				continue
			}
			out = append(out, model.EventOutput{
				ID:          r.ID,
				Start:       start.In(loc),
				End:         end.In(loc),
				Title:       r.Name,
				Value:       r.Value,
				Color:       r.Color,
				IsWeekly:    false,
				IsHoliday:   isHoliday,
				Event:       model.CloneRecord(r.Record),
				BackupEvent: model.CloneRecord(r.Record),
				Dates:       append([]model.EventDate(nil), r.Dates...),
			})
		}
	}
	return out, issues
}
