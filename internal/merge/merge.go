// Package merge folds one edited or deleted record back into a schedule
// document snapshot.
package merge

import (
	"errors"
	"strings"

	"schedcal/internal/model"
)

var ErrEmptyID = errors.New("record id is empty")

// ApplyUpsert returns a copy of doc with rec stored under cat/id. Nothing
// else differs from doc, and doc itself is left untouched. rec must belong
// to cat.
func ApplyUpsert(doc model.Document, cat model.Category, id string, rec model.Record) (model.Document, error) {
	if strings.TrimSpace(id) == "" {
		return doc, ErrEmptyID
	}
	next := doc.Clone()
	if err := next.Put(cat, id, rec); err != nil {
		return doc, err
	}
	return next, nil
}

// ApplyDelete returns a copy of doc without cat/id. Deleting an absent id
// is a no-op, not an error.
func ApplyDelete(doc model.Document, cat model.Category, id string) (model.Document, error) {
	if _, err := model.ParseCategory(string(cat)); err != nil {
		return doc, err
	}
	next := doc.Clone()
	if err := next.Remove(cat, id); err != nil {
		return doc, err
	}
	return next, nil
}
