package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownCategory  = errors.New("unknown category")
	ErrCategoryMismatch = errors.New("record type does not match category")
)

// Document is the persisted schedule: three categories, each keyed by
// record id.
//
// Entries are decoded one by one. An entry that does not decode into its
// record type (including a JSON null) is kept verbatim and written back
// unchanged by MarshalJSON, so a single corrupt entry never makes the
// document unreadable and is never lost by an unrelated write.
type Document struct {
	Events    map[string]Event
	Weekly    map[string]Weekly
	Exception map[string]Exception

	undecoded map[Category]map[string]json.RawMessage
}

// NewDocument returns an empty document with all categories allocated.
func NewDocument() Document {
	return Document{
		Events:    map[string]Event{},
		Weekly:    map[string]Weekly{},
		Exception: map[string]Exception{},
	}
}

type rawDocument struct {
	Events    map[string]json.RawMessage `json:"events"`
	Weekly    map[string]json.RawMessage `json:"weekly"`
	Exception map[string]json.RawMessage `json:"exception"`
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := NewDocument()
	out.Events = decodeEntries[Event](&out, CategoryEvents, raw.Events)
	out.Weekly = decodeEntries[Weekly](&out, CategoryWeekly, raw.Weekly)
	out.Exception = decodeEntries[Exception](&out, CategoryException, raw.Exception)
	*d = out
	return nil
}

func decodeEntries[T any](d *Document, cat Category, raw map[string]json.RawMessage) map[string]T {
	out := make(map[string]T, len(raw))
	for id, msg := range raw {
		var rec T
		if isNull(msg) || json.Unmarshal(msg, &rec) != nil {
			d.keepUndecoded(cat, id, msg)
			continue
		}
		out[id] = rec
	}
	return out
}

func isNull(msg json.RawMessage) bool {
	t := bytes.TrimSpace(msg)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func (d Document) MarshalJSON() ([]byte, error) {
	events, err := encodeEntries(d.Events, d.undecoded[CategoryEvents])
	if err != nil {
		return nil, err
	}
	weekly, err := encodeEntries(d.Weekly, d.undecoded[CategoryWeekly])
	if err != nil {
		return nil, err
	}
	exception, err := encodeEntries(d.Exception, d.undecoded[CategoryException])
	if err != nil {
		return nil, err
	}
	return json.Marshal(rawDocument{Events: events, Weekly: weekly, Exception: exception})
}

func encodeEntries[T any](typed map[string]T, undecoded map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(typed)+len(undecoded))
	for id, msg := range undecoded {
		if len(bytes.TrimSpace(msg)) == 0 {
			msg = json.RawMessage("null")
		}
		out[id] = msg
	}
	for id, rec := range typed {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", id, err)
		}
		out[id] = b
	}
	return out, nil
}

func (d *Document) keepUndecoded(cat Category, id string, msg json.RawMessage) {
	if d.undecoded == nil {
		d.undecoded = make(map[Category]map[string]json.RawMessage)
	}
	if d.undecoded[cat] == nil {
		d.undecoded[cat] = make(map[string]json.RawMessage)
	}
	d.undecoded[cat][id] = append(json.RawMessage(nil), msg...)
}

// Undecoded returns a copy of the entries of cat that could not be decoded,
// keyed by id.
func (d Document) Undecoded(cat Category) map[string]json.RawMessage {
	src := d.undecoded[cat]
	out := make(map[string]json.RawMessage, len(src))
	for id, msg := range src {
		out[id] = append(json.RawMessage(nil), msg...)
	}
	return out
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := NewDocument()
	for id, e := range d.Events {
		out.Events[id] = e.clone()
	}
	for id, w := range d.Weekly {
		out.Weekly[id] = w.clone()
	}
	for id, x := range d.Exception {
		out.Exception[id] = x.clone()
	}
	for cat, entries := range d.undecoded {
		for id, msg := range entries {
			out.keepUndecoded(cat, id, msg)
		}
	}
	return out
}

// Lookup returns the decoded record stored under cat/id.
func (d Document) Lookup(cat Category, id string) (Record, bool) {
	switch cat {
	case CategoryEvents:
		r, ok := d.Events[id]
		return r, ok
	case CategoryWeekly:
		r, ok := d.Weekly[id]
		return r, ok
	case CategoryException:
		r, ok := d.Exception[id]
		return r, ok
	}
	return nil, false
}

// IDs returns the sorted ids of cat, decoded and undecoded alike.
func (d Document) IDs(cat Category) []string {
	seen := make(map[string]struct{})
	switch cat {
	case CategoryEvents:
		for id := range d.Events {
			seen[id] = struct{}{}
		}
	case CategoryWeekly:
		for id := range d.Weekly {
			seen[id] = struct{}{}
		}
	case CategoryException:
		for id := range d.Exception {
			seen[id] = struct{}{}
		}
	}
	for id := range d.undecoded[cat] {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Put stores rec under cat/id in place, replacing any decoded or undecoded
// entry with that id. Callers that must not mutate a shared snapshot clone
// first.
func (d *Document) Put(cat Category, id string, rec Record) error {
	if _, err := ParseCategory(string(cat)); err != nil {
		return err
	}
	if isNilRecord(rec) || rec.Category() != cat {
		return fmt.Errorf("%w: %T for %s", ErrCategoryMismatch, rec, cat)
	}
	d.ensure()
	switch v := CloneRecord(rec).(type) {
	case Event:
		d.Events[id] = v
	case Weekly:
		d.Weekly[id] = v
	case Exception:
		d.Exception[id] = v
	default:
		return fmt.Errorf("%w: %T", ErrCategoryMismatch, rec)
	}
	delete(d.undecoded[cat], id)
	return nil
}

// Remove deletes cat/id in place. Removing an absent id does nothing.
func (d *Document) Remove(cat Category, id string) error {
	if _, err := ParseCategory(string(cat)); err != nil {
		return err
	}
	switch cat {
	case CategoryEvents:
		delete(d.Events, id)
	case CategoryWeekly:
		delete(d.Weekly, id)
	case CategoryException:
		delete(d.Exception, id)
	}
	delete(d.undecoded[cat], id)
	return nil
}

func (d *Document) ensure() {
	if d.Events == nil {
		d.Events = map[string]Event{}
	}
	if d.Weekly == nil {
		d.Weekly = map[string]Weekly{}
	}
	if d.Exception == nil {
		d.Exception = map[string]Exception{}
	}
}
