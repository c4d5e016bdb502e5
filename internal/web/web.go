// Package web serves the schedule over HTTP: materialized months for the
// calendar panel, the raw document, record edits and an iCalendar feed.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"schedcal/internal/calendar"
	"schedcal/internal/config"
	appLog "schedcal/internal/log"
	"schedcal/internal/merge"
	"schedcal/internal/model"
)

// DocumentStore is the backing store of the served document.
type DocumentStore interface {
	Load(ctx context.Context) (model.Document, error)
	merge.Persister
}

// Server provides the HTTP API. It holds the current document snapshot; a
// write replaces the snapshot only after the store accepted it.
type Server struct {
	cfg      *config.Config
	store    DocumentStore
	leases   *merge.Leases
	validate *validator.Validate
	mux      *http.ServeMux
	now      func() time.Time

	docMu sync.RWMutex
	doc   model.Document

	// Materialized /api/events responses per (month, zone), dropped
	// whenever a new snapshot is adopted. eventsGen counts adoptions.
	eventsMu    sync.RWMutex
	eventsCache map[cacheKey]eventsResponse
	eventsGen   uint64
}

// NewServer constructs a Server with an empty document; call Reload to
// read the store.
func NewServer(cfg *config.Config, store DocumentStore) *Server {
	s := &Server{
		cfg:         cfg,
		store:       store,
		leases:      merge.NewLeases(),
		validate:    validator.New(),
		mux:         http.NewServeMux(),
		now:         time.Now,
		doc:         model.NewDocument(),
		eventsCache: make(map[cacheKey]eventsResponse),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Reload replaces the snapshot with the store's current document. It holds
// the write lease while loading, so a write never commits between the load
// and the adopt. A write in flight wins: reload is skipped while the
// document is leased.
func (s *Server) Reload(ctx context.Context) error {
	ls, err := s.leases.Acquire(s.cfg.DocumentID)
	if errors.Is(err, merge.ErrBusy) {
		appLog.Debug("reload skipped; write in flight", "document", s.cfg.DocumentID)
		return nil
	}
	if err != nil {
		return err
	}
	defer ls.Release()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	s.adopt(doc)
	appLog.Debug("document reloaded", "document", s.cfg.DocumentID)
	return nil
}

// Document returns a copy of the current snapshot.
func (s *Server) Document() model.Document {
	s.docMu.RLock()
	defer s.docMu.RUnlock()
	return s.doc.Clone()
}

func (s *Server) adopt(doc model.Document) {
	s.docMu.Lock()
	s.doc = doc
	s.docMu.Unlock()

	s.eventsMu.Lock()
	s.eventsCache = make(map[cacheKey]eventsResponse)
	s.eventsGen++
	s.eventsMu.Unlock()
}

// adoptingStore persists through the store and adopts the saved document
// before the lease is released, so the next writer merges onto it.
type adoptingStore struct{ s *Server }

func (a adoptingStore) Save(ctx context.Context, doc model.Document) error {
	if err := a.s.store.Save(ctx, doc); err != nil {
		return err
	}
	a.s.adopt(doc)
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/config", s.handleConfig)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/document", s.handleDocument)
	s.mux.HandleFunc("GET /api/records/{category}", s.handleList)
	s.mux.HandleFunc("GET /api/records/{category}/{id}", s.handleGet)
	s.mux.HandleFunc("POST /api/records/{category}", s.handleCreate)
	s.mux.HandleFunc("PUT /api/records/{category}/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/records/{category}/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /calendar.ics", s.handleICS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusResponse struct {
	DocumentID string                 `json:"document_id"`
	Busy       bool                   `json:"busy"`
	Records    map[model.Category]int `json:"records"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	doc := s.Document()
	counts := make(map[model.Category]int)
	for _, cat := range model.Categories() {
		counts[cat] = len(doc.IDs(cat))
	}
	writeJSON(w, http.StatusOK, statusResponse{
		DocumentID: s.cfg.DocumentID,
		Busy:       s.leases.Busy(s.cfg.DocumentID),
		Records:    counts,
	})
}

// configResponse carries what the panel needs to lay out a month; weekdays
// are the accepted weekly day names, Sunday first.
type configResponse struct {
	Timezone string             `json:"timezone"`
	Weekdays []string           `json:"weekdays"`
	Panel    config.PanelConfig `json:"panel"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		Timezone: s.cfg.Timezone,
		Weekdays: calendar.WeekdayNames(),
		Panel:    s.cfg.Panel,
	})
}

func (s *Server) handleDocument(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Document())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
