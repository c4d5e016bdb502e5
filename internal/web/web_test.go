package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"schedcal/internal/config"
	"schedcal/internal/model"
)

type memStore struct {
	mu    sync.Mutex
	doc   model.Document
	err   error
	saves int
}

func (m *memStore) Load(context.Context) (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone(), nil
}

func (m *memStore) Save(_ context.Context, doc model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.doc = doc.Clone()
	m.saves++
	return nil
}

func shiftDoc() model.Document {
	doc := model.NewDocument()
	doc.Weekly["w1"] = model.Weekly{Name: "Shift", Value: 5.0, Color: "#fff", Days: []string{"monday", "wednesday"}, Start: "08:00", End: "10:00"}
	return doc
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *memStore) {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	store := &memStore{doc: shiftDoc()}
	s := NewServer(cfg, store)
	s.now = func() time.Time { return time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC) }
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return s, store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type eventsBody struct {
	Month      string    `json:"month"`
	Timezone   string    `json:"timezone"`
	RangeStart time.Time `json:"range_start"`
	Events     []struct {
		ID       string `json:"id"`
		Category string `json:"category"`
		Title    string `json:"title"`
		Value    any    `json:"value"`
		Start    string `json:"start"`
		End      string `json:"end"`
		IsWeekly bool   `json:"isWeekly"`
	} `json:"events"`
	Issues []issueDTO `json:"issues"`
}

func getEvents(t *testing.T, h http.Handler, query string) eventsBody {
	t.Helper()
	rec := do(t, h, http.MethodGet, "/api/events?"+query, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/events?%s: status %d body %s", query, rec.Code, rec.Body.String())
	}
	var body eventsBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	return body
}

func TestHealthAndBasicAuth(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("/health status %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/events", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/document", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", rec.Code)
	}
}

func TestEvents_Month(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	body := getEvents(t, s.Handler(), "month=2026-02")

	if body.Month != "2026-02" || body.Timezone != "UTC" {
		t.Fatalf("unexpected header fields: %+v", body)
	}
	if !body.RangeStart.Equal(time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("range_start = %v", body.RangeStart)
	}
	if len(body.Events) != 8 {
		t.Fatalf("expected 8 instances, got %d", len(body.Events))
	}
	first := body.Events[0]
	if first.Start != "2026-02-02T08:00" || first.End != "2026-02-02T10:00" || !first.IsWeekly || first.Category != "weekly" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if first.Value != 5.0 {
		t.Fatalf("value = %v", first.Value)
	}
}

func TestEvents_ViewZoneAndHiddenPayload(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, func(c *config.Config) { c.Panel.HasPayload = false })
	body := getEvents(t, s.Handler(), "month=2026-02&tz=Asia/Seoul")

	if body.Timezone != "Asia/Seoul" || len(body.Events) != 8 {
		t.Fatalf("unexpected response: tz=%s events=%d", body.Timezone, len(body.Events))
	}
	// Records are wall-clock literals, so 08:00 stays 08:00 in any zone.
	if body.Events[0].Start != "2026-02-02T08:00" {
		t.Fatalf("start = %q", body.Events[0].Start)
	}
	if body.Events[0].Value != "" {
		t.Fatalf("expected blanked value, got %v", body.Events[0].Value)
	}
}

func TestEvents_BadQuery(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	h := s.Handler()
	for _, q := range []string{"tz=Mars/Olympus", "month=2026-13", "month=feb"} {
		if rec := do(t, h, http.MethodGet, "/api/events?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestRecords_CreateUpdateDelete(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t, nil)
	h := s.Handler()

	// Warm the cache so the write has something to invalidate.
	if n := len(getEvents(t, h, "month=2026-02").Events); n != 8 {
		t.Fatalf("baseline events = %d", n)
	}

	rec := do(t, h, http.MethodPost, "/api/records/events", `{"value": 3, "dates": [{"start": "2026-02-03T10:00", "end": "2026-02-03T12:00"}], "extra": true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status %d body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Record struct {
			Name string `json:"name"`
		} `json:"record"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Record.Name != "Schedule" {
		t.Fatalf("expected generated id and default name, got %+v", created)
	}

	body := getEvents(t, h, "month=2026-02")
	if len(body.Events) != 9 || body.Events[0].ID != created.ID {
		t.Fatalf("new event not materialized first: %d events", len(body.Events))
	}

	rec = do(t, h, http.MethodPut, "/api/records/events/"+created.ID, `{"name": "Launch", "dates": [{"start": "2026-02-04T10:00", "end": "2026-02-04T12:00"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status %d body %s", rec.Code, rec.Body.String())
	}
	if got := s.Document().Events[created.ID]; got.Name != "Launch" || got.Dates[0].Start != "2026-02-04T10:00" {
		t.Fatalf("update not adopted: %+v", got)
	}

	rec = do(t, h, http.MethodDelete, "/api/records/events/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status %d", rec.Code)
	}
	var deleted recordResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &deleted); err != nil || !deleted.Deleted {
		t.Fatalf("expected deleted=true, got %s", rec.Body.String())
	}
	if n := len(getEvents(t, h, "month=2026-02").Events); n != 8 {
		t.Fatalf("expected 8 events after delete, got %d", n)
	}
	if store.saves != 3 {
		t.Fatalf("expected 3 saves, got %d", store.saves)
	}
	if _, ok := store.doc.Weekly["w1"]; !ok {
		t.Fatal("sibling weekly record lost")
	}
}

func TestRecords_Validation(t *testing.T) {
	t.Parallel()

	lo, hi := 0.0, 10.0
	s, store := newTestServer(t, func(c *config.Config) {
		c.Panel.Min = &lo
		c.Panel.Max = &hi
	})
	h := s.Handler()

	cases := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"no weekdays", http.MethodPut, "/api/records/weekly/w2", `{"name": "x", "days": [], "start": "08:00", "end": "09:00"}`, http.StatusUnprocessableEntity},
		{"unknown weekday", http.MethodPut, "/api/records/weekly/w2", `{"name": "x", "days": ["someday"], "start": "08:00", "end": "09:00"}`, http.StatusUnprocessableEntity},
		{"bad clock", http.MethodPut, "/api/records/weekly/w2", `{"name": "x", "days": ["monday"], "start": "25:00", "end": "09:00"}`, http.StatusUnprocessableEntity},
		{"no dates", http.MethodPost, "/api/records/exception", `{"name": "x", "dates": []}`, http.StatusUnprocessableEntity},
		{"bad date", http.MethodPost, "/api/records/events", `{"name": "x", "dates": [{"start": "tomorrow", "end": "2026-02-04T12:00"}]}`, http.StatusUnprocessableEntity},
		{"value out of range", http.MethodPut, "/api/records/weekly/w1", `{"name": "x", "value": 11, "days": ["monday"], "start": "08:00", "end": "09:00"}`, http.StatusUnprocessableEntity},
		{"not json", http.MethodPut, "/api/records/weekly/w1", `{`, http.StatusUnprocessableEntity},
		{"unknown category", http.MethodPut, "/api/records/holidays/h1", `{}`, http.StatusNotFound},
		{"mixed-case weekday", http.MethodPut, "/api/records/weekly/w3", `{"name": "x", "value": 4, "days": ["Monday"], "start": "08:00", "end": "09:00"}`, http.StatusOK},
	}
	for _, tc := range cases {
		if rec := do(t, h, tc.method, tc.target, tc.body); rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
	if store.saves != 1 {
		t.Fatalf("only the valid write should reach the store, got %d saves", store.saves)
	}
	if got := s.Document().Weekly["w3"].Days; len(got) != 1 || got[0] != "monday" {
		t.Fatalf("weekday not normalized: %v", got)
	}
}

func TestRecords_StoreRejectionKeepsSnapshot(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t, nil)
	store.err = errors.New("disk full")

	rec := do(t, s.Handler(), http.MethodDelete, "/api/records/weekly/w1", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if _, ok := s.Document().Weekly["w1"]; !ok {
		t.Fatal("rejected write was adopted")
	}
	if s.leases.Busy(s.cfg.DocumentID) {
		t.Fatal("lease held after rejected write")
	}
}

func TestRecords_BusyWhileWriteInFlight(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t, nil)
	h := s.Handler()

	ls, err := s.leases.Acquire(s.cfg.DocumentID)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if rec := do(t, h, http.MethodDelete, "/api/records/weekly/w1", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	var status statusResponse
	if err := json.Unmarshal(do(t, h, http.MethodGet, "/api/status", "").Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Busy {
		t.Fatal("status should report busy")
	}

	// Reload must not clobber a write in flight.
	store.mu.Lock()
	store.doc = model.NewDocument()
	store.mu.Unlock()
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := s.Document().Weekly["w1"]; !ok {
		t.Fatal("reload replaced the snapshot during a write")
	}

	ls.Release()
	if rec := do(t, h, http.MethodDelete, "/api/records/weekly/w1", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after release, got %d", rec.Code)
	}
}

func TestCalendarICS(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/calendar.ics?month=2026-02", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if n := strings.Count(rec.Body.String(), "BEGIN:VEVENT"); n != 8 {
		t.Fatalf("expected 8 vevents, got %d", n)
	}

	rec = do(t, h, http.MethodGet, "/calendar.ics?month=2026-02&recurring=1", "")
	if n := strings.Count(rec.Body.String(), "BEGIN:VEVENT"); n != 1 {
		t.Fatalf("expected 1 recurring vevent, got %d", n)
	}
	if !strings.Contains(rec.Body.String(), "RRULE:FREQ=WEEKLY") {
		t.Fatal("missing RRULE")
	}
}

func TestRecords_PutStatusAndAbsentDelete(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	h := s.Handler()

	body := `{"name": "x", "days": ["monday"], "start": "08:00", "end": "09:00"}`
	if rec := do(t, h, http.MethodPut, "/api/records/weekly/w9", body); rec.Code != http.StatusCreated {
		t.Fatalf("PUT new id: expected 201, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/records/weekly/w9", body); rec.Code != http.StatusOK {
		t.Fatalf("PUT existing id: expected 200, got %d", rec.Code)
	}

	rec := do(t, h, http.MethodDelete, "/api/records/events/missing", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE absent: status %d", rec.Code)
	}
	var resp recordResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Deleted {
		t.Fatal("absent id reported as deleted")
	}
}

func TestRecords_ListAndGet(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	h := s.Handler()
	if rec := do(t, h, http.MethodPut, "/api/records/weekly/a1", `{"name": "Early", "days": ["friday"], "start": "06:00", "end": "07:00"}`); rec.Code != http.StatusCreated {
		t.Fatalf("PUT status %d", rec.Code)
	}

	var list recordListResponse
	if err := json.Unmarshal(do(t, h, http.MethodGet, "/api/records/weekly", "").Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Category != model.CategoryWeekly || strings.Join(list.IDs, ",") != "a1,w1" {
		t.Fatalf("unexpected list: %+v", list)
	}

	rec := do(t, h, http.MethodGet, "/api/records/weekly/a1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET record status %d", rec.Code)
	}
	var got struct {
		Record model.Weekly `json:"record"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if got.Record.Name != "Early" || got.Record.Start != "06:00" {
		t.Fatalf("unexpected record: %+v", got.Record)
	}

	if rec := do(t, h, http.MethodGet, "/api/records/weekly/none", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing record: expected 404, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/records/holidays", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown category: expected 404, got %d", rec.Code)
	}
}

func TestStatusAndConfig(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	h := s.Handler()

	var status statusResponse
	if err := json.Unmarshal(do(t, h, http.MethodGet, "/api/status", "").Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Busy || status.Records[model.CategoryWeekly] != 1 || status.Records[model.CategoryEvents] != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(status.Records) != len(model.Categories()) {
		t.Fatalf("expected a count per category, got %v", status.Records)
	}

	var conf configResponse
	if err := json.Unmarshal(do(t, h, http.MethodGet, "/api/config", "").Body.Bytes(), &conf); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if conf.Timezone != "UTC" || len(conf.Weekdays) != 7 || conf.Weekdays[0] != "sunday" || conf.Weekdays[6] != "saturday" {
		t.Fatalf("unexpected config: %+v", conf)
	}
}

// gatedStore blocks Load until release is closed.
type gatedStore struct {
	*memStore
	loaded  chan struct{}
	release chan struct{}
}

func (g *gatedStore) Load(ctx context.Context) (model.Document, error) {
	doc, err := g.memStore.Load(ctx)
	g.loaded <- struct{}{}
	<-g.release
	return doc, err
}

func TestReload_HoldsLeaseUntilAdopted(t *testing.T) {
	t.Parallel()

	mem := &memStore{doc: shiftDoc()}
	store := &gatedStore{memStore: mem, loaded: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewServer(config.DefaultConfig(), store)
	h := s.Handler()

	done := make(chan error, 1)
	go func() { done <- s.Reload(context.Background()) }()
	<-store.loaded

	first := `{"name": "a", "dates": [{"start": "2026-02-03T10:00", "end": "2026-02-03T12:00"}]}`
	if rec := do(t, h, http.MethodPut, "/api/records/events/e1", first); rec.Code != http.StatusConflict {
		t.Fatalf("write during reload: expected 409, got %d", rec.Code)
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if s.leases.Busy(s.cfg.DocumentID) {
		t.Fatal("reload left the lease held")
	}

	second := `{"name": "b", "dates": [{"start": "2026-02-05T10:00", "end": "2026-02-05T12:00"}]}`
	if rec := do(t, h, http.MethodPut, "/api/records/events/e1", first); rec.Code != http.StatusCreated {
		t.Fatalf("PUT e1 status %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/records/events/e2", second); rec.Code != http.StatusCreated {
		t.Fatalf("PUT e2 status %d", rec.Code)
	}

	mem.mu.Lock()
	defer mem.mu.Unlock()
	for _, id := range []string{"e1", "e2"} {
		if _, ok := mem.doc.Events[id]; !ok {
			t.Fatalf("%s lost from the stored document", id)
		}
	}
	if _, ok := mem.doc.Weekly["w1"]; !ok {
		t.Fatal("reloaded weekly record lost")
	}
	if _, ok := s.Document().Events["e1"]; !ok {
		t.Fatal("e1 missing from the snapshot")
	}
}

func TestEventsCache_Bounded(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	h := s.Handler()
	for i := 0; i < maxCachedMonths+6; i++ {
		month := time.Date(2026+i/12, time.Month(i%12+1), 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
		getEvents(t, h, "month="+month)
	}
	s.eventsMu.RLock()
	n := len(s.eventsCache)
	s.eventsMu.RUnlock()
	if n == 0 || n > maxCachedMonths {
		t.Fatalf("cache holds %d months, limit %d", n, maxCachedMonths)
	}
}

func TestEventsCache_DropsFillFromOlderSnapshot(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	s.eventsMu.RLock()
	gen := s.eventsGen
	s.eventsMu.RUnlock()

	s.adopt(model.NewDocument())
	key := cacheKey{month: "2026-02", zone: "UTC"}
	s.cacheEvents(key, gen, eventsResponse{Month: "2026-02"})

	s.eventsMu.RLock()
	_, ok := s.eventsCache[key]
	s.eventsMu.RUnlock()
	if ok {
		t.Fatal("response built from a replaced snapshot was cached")
	}
	if n := len(getEvents(t, s.Handler(), "month=2026-02").Events); n != 0 {
		t.Fatalf("expected no events from the empty snapshot, got %d", n)
	}
}
