package schedule

import (
	"sort"
	"time"

	"schedcal/internal/calendar"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// Options tunes materialization. The zero value materializes everything
// with payload values visible.
type Options struct {
	// Now anchors the "current week" used to recompute weekly Days labels.
	// Zero means time.Now().
	Now time.Time

	// ViewLocation is the zone the renderer shows instants in; weekly Days
	// labels are taken in it. Nil means the materialization zone.
	ViewLocation *time.Location

	// HidePayload blanks Value on every output.
	HidePayload bool

	SkipEvents     bool
	SkipWeekly     bool
	SkipExceptions bool
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

func (o Options) viewLocation(fallback *time.Location) *time.Location {
	if o.ViewLocation != nil {
		return o.ViewLocation
	}
	return fallback
}

// Result is one materialization cycle's output.
type Result struct {
	// Events holds one-time events, then exceptions, then weekly instances.
	Events []model.EventOutput
	// Issues lists the entries that were skipped.
	Issues []RecordError

	Days     []calendar.Day
	Location *time.Location
}

// RangeStart returns the first instant of the visible window.
func (r Result) RangeStart() time.Time {
	if len(r.Days) == 0 {
		return time.Time{}
	}
	return calendar.Compose(r.Days[0], calendar.Clock{}, r.Location)
}

// RangeEnd returns the instant the visible window ends (midnight after its
// last day).
func (r Result) RangeEnd() time.Time {
	if len(r.Days) == 0 {
		return time.Time{}
	}
	return calendar.Compose(r.Days[len(r.Days)-1].AddDays(1), calendar.Clock{}, r.Location)
}

// Materialize expands doc into concrete instances for the month containing
// anchor, in zone tz (empty means UTC). An unknown zone fails the whole
// call; malformed entries are skipped and reported in Result.Issues.
// doc is only read.
func Materialize(doc model.Document, tz string, anchor calendar.Day, opts Options) (Result, error) {
	loc, err := calendar.LoadLocation(tz)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Events:   make([]model.EventOutput, 0),
		Days:     calendar.VisibleDays(anchor),
		Location: loc,
	}

	if !opts.SkipEvents {
		out, issues := ExpandDated(EventRecords(doc.Events), loc, false)
		res.Events = append(res.Events, out...)
		res.Issues = append(res.Issues, issues...)
		res.Issues = append(res.Issues, undecodedIssues(doc, model.CategoryEvents)...)
	}
	if !opts.SkipExceptions {
		out, issues := ExpandDated(ExceptionRecords(doc.Exception), loc, true)
		res.Events = append(res.Events, out...)
		res.Issues = append(res.Issues, issues...)
		res.Issues = append(res.Issues, undecodedIssues(doc, model.CategoryException)...)
	}
	if !opts.SkipWeekly {
		out, issues := ExpandWeekly(doc.Weekly, res.Days, loc, opts)
		res.Events = append(res.Events, out...)
		res.Issues = append(res.Issues, issues...)
		res.Issues = append(res.Issues, undecodedIssues(doc, model.CategoryWeekly)...)
	}

	if opts.HidePayload {
		for i := range res.Events {
			res.Events[i].Value = ""
		}
	}

	for _, issue := range res.Issues {
		appLog.Error("materialize: skipped malformed entry", issue.Err,
			"category", issue.Category,
			"id", issue.ID,
			"index", issue.Index,
		)
	}
	appLog.Debug("materialize completed",
		"anchor", anchor.String(),
		"timezone", loc.String(),
		"days", len(res.Days),
		"events", len(res.Events),
		"issues", len(res.Issues),
	)
	return res, nil
}

func undecodedIssues(doc model.Document, cat model.Category) []RecordError {
	var issues []RecordError
	for _, id := range sortedKeys(doc.Undecoded(cat)) {
		issues = append(issues, RecordError{Category: cat, ID: id, Index: -1, Err: ErrUndecodable})
	}
	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
