package model

import (
	"fmt"
	"time"
)

// Category names one of the three independent record collections of a
// schedule document. Record ids are unique within a category only.
type Category string

const (
	CategoryEvents    Category = "events"
	CategoryWeekly    Category = "weekly"
	CategoryException Category = "exception"
)

// Categories returns all categories in materialization order.
func Categories() []Category {
	return []Category{CategoryEvents, CategoryException, CategoryWeekly}
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryEvents, CategoryWeekly, CategoryException:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// Record is implemented by the stored record types.
type Record interface {
	Category() Category
}

// EventDate is one stored date range. Start and End are wall-clock
// literals (calendar.DateTimeLayout) with no offset; the timezone is
// applied at materialization.
type EventDate struct {
	Start string `json:"start" yaml:"start" validate:"required"`
	End   string `json:"end" yaml:"end" validate:"required"`
}

// Event is a one-time event occurring on each of its date ranges.
type Event struct {
	ID    string      `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string      `json:"name" yaml:"name" validate:"required"`
	Value any         `json:"value" yaml:"value"`
	Color string      `json:"color" yaml:"color"`
	Dates []EventDate `json:"dates" yaml:"dates" validate:"required,min=1,dive"`
}

func (Event) Category() Category { return CategoryEvents }

// Exception is a dated override (e.g. a holiday) layered over the normal
// schedule. It has the same shape as Event.
type Exception struct {
	ID    string      `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string      `json:"name" yaml:"name" validate:"required"`
	Value any         `json:"value" yaml:"value"`
	Color string      `json:"color" yaml:"color"`
	Dates []EventDate `json:"dates" yaml:"dates" validate:"required,min=1,dive"`
}

func (Exception) Category() Category { return CategoryException }

// Weekly recurs on each listed weekday from Start to End (times of day).
// Start later than End means the span ends on the following day.
type Weekly struct {
	ID    string   `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string   `json:"name" yaml:"name" validate:"required"`
	Value any      `json:"value" yaml:"value"`
	Color string   `json:"color" yaml:"color"`
	Days  []string `json:"days" yaml:"days" validate:"required,min=1,dive,oneof=sunday monday tuesday wednesday thursday friday saturday"`
	Start string   `json:"start" yaml:"start" validate:"required"`
	End   string   `json:"end" yaml:"end" validate:"required"`
}

func (Weekly) Category() Category { return CategoryWeekly }

func (e Event) clone() Event {
	e.Dates = cloneDates(e.Dates)
	return e
}

func (x Exception) clone() Exception {
	x.Dates = cloneDates(x.Dates)
	return x
}

func (w Weekly) clone() Weekly {
	if w.Days != nil {
		w.Days = append([]string(nil), w.Days...)
	}
	return w
}

func cloneDates(in []EventDate) []EventDate {
	if in == nil {
		return nil
	}
	return append([]EventDate(nil), in...)
}

// CloneRecord returns a copy of r that shares no slices with it.
func CloneRecord(r Record) Record {
	if isNilRecord(r) {
		return r
	}
	switch v := r.(type) {
	case Event:
		return v.clone()
	case Exception:
		return v.clone()
	case Weekly:
		return v.clone()
	case *Event:
		return v.clone()
	case *Exception:
		return v.clone()
	case *Weekly:
		return v.clone()
	default:
		return r
	}
}

// isNilRecord reports whether r is nil or a nil record pointer.
func isNilRecord(r Record) bool {
	switch v := r.(type) {
	case nil:
		return true
	case *Event:
		return v == nil
	case *Exception:
		return v == nil
	case *Weekly:
		return v == nil
	}
	return false
}

// EventOutput is one materialized calendar instance. It is never persisted.
type EventOutput struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Title string `json:"title"`
	Value any    `json:"value"`
	Color string `json:"color"`

	IsWeekly  bool `json:"isWeekly"`
	IsHoliday bool `json:"isHoliday,omitempty"`

	// Event is the live record; BackupEvent is the record as matched,
	// kept aside so an edit form can be reset.
	Event       Record `json:"event"`
	BackupEvent Record `json:"backupEvent"`

	Dates     []EventDate `json:"dates,omitempty"`
	Days      []string    `json:"days,omitempty"`
	DayString string      `json:"dayString,omitempty"`
}

// Category reports which collection the instance was materialized from.
func (o EventOutput) Category() Category {
	switch {
	case o.IsWeekly:
		return CategoryWeekly
	case o.IsHoliday:
		return CategoryException
	default:
		return CategoryEvents
	}
}
