package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"schedcal/internal/calendar"
	appLog "schedcal/internal/log"
	"schedcal/internal/merge"
	"schedcal/internal/model"
)

const maxRecordBody = 1 << 20

// errInvalidRecord marks request bodies rejected before any merge.
var errInvalidRecord = errors.New("invalid record")

type recordResponse struct {
	Category model.Category `json:"category"`
	ID       string         `json:"id"`
	Record   model.Record   `json:"record,omitempty"`
	Deleted  bool           `json:"deleted,omitempty"`
}

// handleCreate stores a new record under a generated id.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.upsert(w, r, uuid.NewString())
}

// handleUpdate replaces the record at category/id, or creates it. The
// response is 201 when the id was new and 200 when it was replaced.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.upsert(w, r, r.PathValue("id"))
}

func (s *Server) upsert(w http.ResponseWriter, r *http.Request, id string) {
	cat, err := model.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	rec, err := s.decodeRecord(w, r, cat, id)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var existed bool
	err = s.write(r, func(ls *merge.Lease, doc model.Document) (model.Document, error) {
		existed = hasRecord(doc, cat, id)
		return ls.Upsert(doc, cat, id, rec)
	})
	if err != nil {
		s.writeFailure(w, err, cat, id)
		return
	}
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, recordResponse{Category: cat, ID: id, Record: rec})
}

// handleDelete removes category/id. Deleting an absent id succeeds with
// deleted=false.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	cat, err := model.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	id := r.PathValue("id")

	var existed bool
	err = s.write(r, func(ls *merge.Lease, doc model.Document) (model.Document, error) {
		existed = hasRecord(doc, cat, id)
		return ls.Delete(doc, cat, id)
	})
	if err != nil {
		s.writeFailure(w, err, cat, id)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Category: cat, ID: id, Deleted: existed})
}

// hasRecord reports whether doc holds id under cat, decoded or not.
func hasRecord(doc model.Document, cat model.Category, id string) bool {
	if _, ok := doc.Lookup(cat, id); ok {
		return true
	}
	_, ok := doc.Undecoded(cat)[id]
	return ok
}

type recordListResponse struct {
	Category model.Category `json:"category"`
	IDs      []string       `json:"ids"`
}

// handleList returns the ids stored under one category.
//
// GET /api/records/weekly
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	cat, err := model.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recordListResponse{Category: cat, IDs: s.Document().IDs(cat)})
}

// handleGet returns one decoded record.
//
// GET /api/records/events/e1
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	cat, err := model.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	id := r.PathValue("id")
	rec, ok := s.Document().Lookup(cat, id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no %s record %q", cat, id))
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Category: cat, ID: id, Record: rec})
}

// write runs one merge under the document's lease and commits it. The
// snapshot is adopted only when the store accepts it.
func (s *Server) write(r *http.Request, apply func(*merge.Lease, model.Document) (model.Document, error)) error {
	ls, err := s.leases.Acquire(s.cfg.DocumentID)
	if err != nil {
		return err
	}
	defer ls.Release()

	next, err := apply(ls, s.Document())
	if err != nil {
		return err
	}
	return ls.Commit(r.Context(), adoptingStore{s}, next)
}

func (s *Server) writeFailure(w http.ResponseWriter, err error, cat model.Category, id string) {
	var rejected *merge.WriteRejectedError
	switch {
	case errors.Is(err, merge.ErrBusy):
		writeError(w, http.StatusConflict, "a write is already in flight; retry shortly")
	case errors.As(err, &rejected):
		writeError(w, http.StatusBadGateway, "store rejected the write")
	case errors.Is(err, merge.ErrEmptyID), errors.Is(err, model.ErrCategoryMismatch):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		appLog.Error("record write failed", err, "category", string(cat), "id", id)
		writeError(w, http.StatusInternalServerError, "write failed")
	}
}

// decodeRecord reads the request body as a record of cat, fills defaults
// and validates it. Unknown fields are ignored.
func (s *Server) decodeRecord(w http.ResponseWriter, r *http.Request, cat model.Category, id string) (model.Record, error) {
	body := http.MaxBytesReader(w, r.Body, maxRecordBody)
	dec := json.NewDecoder(body)

	var rec model.Record
	var err error
	switch cat {
	case model.CategoryEvents:
		var ev model.Event
		err = dec.Decode(&ev)
		ev.ID = id
		ev.Name = s.defaultName(ev.Name)
		if err == nil {
			err = checkDates(ev.Dates)
		}
		rec = ev
	case model.CategoryException:
		var x model.Exception
		err = dec.Decode(&x)
		x.ID = id
		x.Name = s.defaultName(x.Name)
		if err == nil {
			err = checkDates(x.Dates)
		}
		rec = x
	case model.CategoryWeekly:
		var wk model.Weekly
		err = dec.Decode(&wk)
		wk.ID = id
		wk.Name = s.defaultName(wk.Name)
		for i, d := range wk.Days {
			wk.Days[i] = strings.ToLower(strings.TrimSpace(d))
		}
		if err == nil {
			err = checkWeekly(wk)
		}
		rec = wk
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidRecord, err)
	}

	if err := s.validate.Struct(rec); err != nil {
		return nil, fmt.Errorf("%w: %s", errInvalidRecord, describeValidation(err))
	}
	if err := s.checkValue(rec); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidRecord, err)
	}
	return rec, nil
}

func (s *Server) defaultName(name string) string {
	if strings.TrimSpace(name) == "" {
		return s.cfg.Panel.DefaultName
	}
	return name
}

func checkDates(dates []model.EventDate) error {
	for i, d := range dates {
		if _, err := calendar.ParseDateTime(d.Start); err != nil {
			return fmt.Errorf("dates[%d].start: %w", i, err)
		}
		if _, err := calendar.ParseDateTime(d.End); err != nil {
			return fmt.Errorf("dates[%d].end: %w", i, err)
		}
	}
	return nil
}

func checkWeekly(wk model.Weekly) error {
	if _, err := calendar.ParseClock(wk.Start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if _, err := calendar.ParseClock(wk.End); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

// checkValue enforces the panel's numeric range when both bounds are set.
func (s *Server) checkValue(rec model.Record) error {
	lo, hi := s.cfg.Panel.Min, s.cfg.Panel.Max
	if lo == nil || hi == nil {
		return nil
	}
	var v any
	switch r := rec.(type) {
	case model.Event:
		v = r.Value
	case model.Exception:
		v = r.Value
	case model.Weekly:
		v = r.Value
	}
	n, ok := v.(float64)
	if !ok {
		return nil
	}
	if n < *lo || n > *hi {
		return fmt.Errorf("value %v outside [%v, %v]", n, *lo, *hi)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
