package schedule

import (
	"time"

	"schedcal/internal/calendar"
	"schedcal/internal/model"
)

// DisplayEvent is the renderer-facing view of an EventOutput: start and end
// as zone-naive wall-clock literals in the display zone, which is what a
// calendar widget that knows nothing about timezones draws.
type DisplayEvent struct {
	ID       string         `json:"id"`
	Category model.Category `json:"category"`

	Title string `json:"title"`
	Value any    `json:"value"`
	Color string `json:"color"`

	Start string `json:"start"`
	End   string `json:"end"`

	StartInstant time.Time `json:"startInstant"`
	EndInstant   time.Time `json:"endInstant"`

	IsWeekly  bool `json:"isWeekly"`
	IsHoliday bool `json:"isHoliday,omitempty"`

	Days      []string          `json:"days,omitempty"`
	DayString string            `json:"dayString,omitempty"`
	Dates     []model.EventDate `json:"dates,omitempty"`

	Event       model.Record `json:"event"`
	BackupEvent model.Record `json:"backupEvent"`
}

// ToDisplay converts out into display coordinates for loc (nil means UTC).
// Reading a displayed Start/End literal back as wall-clock time in loc
// yields the original instant, so edits round-trip without drift.
func ToDisplay(out model.EventOutput, loc *time.Location) DisplayEvent {
	if loc == nil {
		loc = time.UTC
	}
	return DisplayEvent{
		ID:           out.ID,
		Category:     out.Category(),
		Title:        out.Title,
		Value:        out.Value,
		Color:        out.Color,
		Start:        calendar.WallClock(out.Start, loc).String(),
		End:          calendar.WallClock(out.End, loc).String(),
		StartInstant: out.Start,
		EndInstant:   out.End,
		IsWeekly:     out.IsWeekly,
		IsHoliday:    out.IsHoliday,
		Days:         out.Days,
		DayString:    out.DayString,
		Dates:        out.Dates,
		Event:        out.Event,
		BackupEvent:  out.BackupEvent,
	}
}

// ToDisplayAll converts every output of a materialization.
func ToDisplayAll(outs []model.EventOutput, loc *time.Location) []DisplayEvent {
	disp := make([]DisplayEvent, 0, len(outs))
	for _, o := range outs {
		disp = append(disp, ToDisplay(o, loc))
	}
	return disp
}
