package schedule

import (
	"errors"
	"fmt"

	"schedcal/internal/model"
)

var (
	// ErrMalformedRecord matches every RecordError via errors.Is.
	ErrMalformedRecord = errors.New("malformed record")

	ErrNoWeekdays  = errors.New("weekly record lists no weekdays")
	ErrUndecodable = errors.New("entry does not decode into its record type")
)

// RecordError describes one stored entry skipped during materialization.
// Index is the position in the record's dates, or -1 when the whole record
// was skipped.
type RecordError struct {
	Category model.Category
	ID       string
	Index    int
	Err      error
}

func (e RecordError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s: %s/%s dates[%d]: %v", ErrMalformedRecord, e.Category, e.ID, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %s/%s: %v", ErrMalformedRecord, e.Category, e.ID, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

func (e RecordError) Is(target error) bool { return target == ErrMalformedRecord }
