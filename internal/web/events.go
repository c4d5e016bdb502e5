package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"schedcal/internal/calendar"
	"schedcal/internal/ics"
	appLog "schedcal/internal/log"
	"schedcal/internal/schedule"
)

// maxCachedMonths bounds the events cache; it is emptied when full.
const maxCachedMonths = 64

type cacheKey struct {
	month string
	zone  string
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Month      string                  `json:"month"`
	Timezone   string                  `json:"timezone"`
	RangeStart time.Time               `json:"range_start"`
	RangeEnd   time.Time               `json:"range_end"`
	Events     []schedule.DisplayEvent `json:"events"`
	Issues     []issueDTO              `json:"issues"`
}

type issueDTO struct {
	Category string `json:"category"`
	ID       string `json:"id"`
	Index    int    `json:"index"`
	Error    string `json:"error"`
}

// monthQuery resolves the month and zone query parameters. month is
// YYYY-MM and defaults to the current month in the zone; tz defaults to
// the configured timezone.
func (s *Server) monthQuery(r *http.Request) (calendar.Day, *time.Location, error) {
	q := r.URL.Query()
	zone := strings.TrimSpace(q.Get("tz"))
	if zone == "" {
		zone = s.cfg.Timezone
	}
	loc, err := calendar.LoadLocation(zone)
	if err != nil {
		return calendar.Day{}, nil, err
	}

	month := strings.TrimSpace(q.Get("month"))
	if month == "" {
		return calendar.DayOf(s.now().In(loc)).FirstOfMonth(), loc, nil
	}
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return calendar.Day{}, nil, errors.New("month must be YYYY-MM")
	}
	return calendar.DayOf(t), loc, nil
}

func (s *Server) options(loc *time.Location) schedule.Options {
	return schedule.Options{
		Now:            s.now(),
		ViewLocation:   loc,
		HidePayload:    !s.cfg.Panel.HasPayload,
		SkipEvents:     s.cfg.Panel.DisableEvent,
		SkipWeekly:     s.cfg.Panel.DisableWeekly,
		SkipExceptions: s.cfg.Panel.DisableException,
	}
}

func (s *Server) materialize(anchor calendar.Day, loc *time.Location) (schedule.Result, error) {
	return schedule.Materialize(s.Document(), loc.String(), anchor, s.options(loc))
}

// handleEvents returns the materialized instances of one month.
//
// GET /api/events?month=2026-02&tz=America/New_York
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	anchor, loc, err := s.monthQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := cacheKey{month: anchor.String()[:7], zone: loc.String()}

	s.eventsMu.RLock()
	cached, ok := s.eventsCache[key]
	gen := s.eventsGen
	s.eventsMu.RUnlock()
	if ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	res, err := s.materialize(anchor, loc)
	if err != nil {
		appLog.Error("api events: materialize failed", err, "month", key.month, "timezone", key.zone)
		writeError(w, http.StatusInternalServerError, "failed to materialize events")
		return
	}

	resp := eventsResponse{
		Month:      key.month,
		Timezone:   key.zone,
		RangeStart: res.RangeStart(),
		RangeEnd:   res.RangeEnd(),
		Events:     schedule.ToDisplayAll(res.Events, loc),
		Issues:     make([]issueDTO, 0, len(res.Issues)),
	}
	for _, is := range res.Issues {
		resp.Issues = append(resp.Issues, issueDTO{
			Category: string(is.Category),
			ID:       is.ID,
			Index:    is.Index,
			Error:    is.Err.Error(),
		})
	}

	s.cacheEvents(key, gen, resp)

	appLog.Info("api events request", "month", key.month, "timezone", key.zone, "events", len(resp.Events), "issues", len(resp.Issues))
	writeJSON(w, http.StatusOK, resp)
}

// cacheEvents stores resp unless a snapshot was adopted after gen was read.
func (s *Server) cacheEvents(key cacheKey, gen uint64, resp eventsResponse) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if gen != s.eventsGen {
		return
	}
	if len(s.eventsCache) >= maxCachedMonths {
		s.eventsCache = make(map[cacheKey]eventsResponse)
	}
	s.eventsCache[key] = resp
}

// handleICS exports one month as iCalendar. With recurring=1 weekly
// records are exported once each with an RRULE instead of per instance.
//
// GET /calendar.ics?month=2026-02[&tz=...][&recurring=1]
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	anchor, loc, err := s.monthQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := ics.ExportOptions{Name: s.cfg.Panel.DefaultName, Now: s.now()}

	var body string
	if r.URL.Query().Get("recurring") == "1" {
		body = ics.ExportRecurring(s.Document().Weekly, loc, calendar.VisibleDays(anchor)[0], opts)
	} else {
		res, err := s.materialize(anchor, loc)
		if err != nil {
			appLog.Error("calendar.ics: materialize failed", err)
			writeError(w, http.StatusInternalServerError, "failed to materialize events")
			return
		}
		body = ics.Export(res.Events, opts)
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
