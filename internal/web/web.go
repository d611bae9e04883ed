package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"calmirror/internal/config"
	appErr "calmirror/internal/errors"
	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/privacysync"
)

// Syncer is the part of the privacy sync engine the HTTP API drives.
type Syncer interface {
	ExecutePrivacySync(ctx context.Context) ([]privacysync.RunResult, error)
	ExecutePrivacySyncRule(ctx context.Context, ruleID string) (privacysync.RunResult, error)
	LastResults() []privacysync.RunResult
}

// Store is the read side of the calendar store used by the API.
type Store interface {
	ListSyncRules(ctx context.Context) ([]model.SyncRule, error)
	GetCalendar(ctx context.Context, id string) (*model.Calendar, error)
	GetEventsByCalendar(ctx context.Context, calendarID string, start, end *time.Time) ([]model.Event, error)
}

// Server provides the status API of the sync daemon.
type Server struct {
	cfg    *config.Config
	syncer Syncer
	store  Store
	mux    *http.ServeMux
	now    func() time.Time

	// Short-lived cache of /api/events responses keyed by query string.
	eventsMu    sync.RWMutex
	eventsCache map[string]eventsCache
}

type eventsCache struct {
	resp      eventsResponse
	updatedAt time.Time
}

const eventsCacheTTL = 30 * time.Second

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, syncer Syncer, store Store) *Server {
	s := &Server{
		cfg:         cfg,
		syncer:      syncer,
		store:       store,
		mux:         http.NewServeMux(),
		now:         time.Now,
		eventsCache: make(map[string]eventsCache),
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

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
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
			w.Header().Set("WWW-Authenticate", `Basic realm="calmirror", charset="UTF-8"`)
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

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, syncer Syncer, store Store) error {
	s := NewServer(cfg, syncer, store)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/rules", s.handleRules)
	s.mux.HandleFunc("/api/results", s.handleResults)
	s.mux.HandleFunc("/api/sync", s.handleSync)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.Handle("/published/", http.StripPrefix("/published/", s.publishedFileServer()))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type ruleDTO struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	Enabled           bool                  `json:"enabled"`
	Active            bool                  `json:"active"`
	SourceCalendarIDs []string              `json:"source_calendar_ids"`
	TargetCalendarID  string                `json:"target_calendar_id"`
	AdvancedMode      bool                  `json:"advanced_mode"`
	LastSyncAt        *time.Time            `json:"last_sync_at,omitempty"`
	LastRun           *privacysync.Snapshot `json:"last_run,omitempty"`
}

// GET /api/rules lists every rule with its persisted run status.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rules, err := s.store.ListSyncRules(r.Context())
	if err != nil {
		appLog.Error("api rules: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	out := make([]ruleDTO, 0, len(rules))
	for _, rule := range rules {
		dto := ruleDTO{
			ID:                rule.ID,
			Name:              rule.Name,
			Enabled:           rule.Enabled,
			Active:            rule.Active,
			SourceCalendarIDs: rule.SourceScope(),
			TargetCalendarID:  rule.TargetCalendarID,
			AdvancedMode:      rule.AdvancedMode,
			LastSyncAt:        rule.LastSyncAt,
		}
		snap, ok, err := privacysync.SnapshotOf(rule)
		if err != nil {
			appLog.Warn("api rules: unreadable run snapshot", "rule_id", rule.ID, "err", err.Error())
		} else if ok {
			dto.LastRun = &snap
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/results returns the results of the most recent pass.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.syncer.LastResults())
}

// POST /api/sync runs a pass now; ?rule=<id> runs a single rule.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	if id := r.URL.Query().Get("rule"); id != "" {
		res, err := s.syncer.ExecutePrivacySyncRule(ctx, id)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		s.invalidateEvents()
		writeJSON(w, http.StatusOK, res)
		return
	}

	results, err := s.syncer.ExecutePrivacySync(ctx)
	if err != nil {
		appLog.Error("api sync: pass failed", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.invalidateEvents()
	writeJSON(w, http.StatusOK, results)
}

type eventDTO struct {
	ID       string              `json:"id"`
	UID      string              `json:"uid,omitempty"`
	Title    string              `json:"title"`
	Start    time.Time           `json:"start"`
	End      time.Time           `json:"end"`
	AllDay   bool                `json:"all_day"`
	Timezone string              `json:"timezone,omitempty"`
	Mirror   *privacysync.Marker `json:"mirror,omitempty"`
}

type eventsResponse struct {
	CalendarID      string     `json:"calendar_id"`
	Events          []eventDTO `json:"events"`
	RangeStart      time.Time  `json:"range_start"`
	RangeEnd        time.Time  `json:"range_end"`
	DisplayTimeZone string     `json:"display_time_zone"`
}

// GET /api/events?calendar=<id>&days=7&backfill=1&tz=<zone>
//   - days:     how many days ahead to include (default 7)
//   - backfill: how many days back to include (default 1)
//   - tz:       display zone; invalid or empty means local time
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	q := r.URL.Query()
	calendarID := q.Get("calendar")
	if calendarID == "" {
		writeError(w, http.StatusBadRequest, "calendar is required")
		return
	}
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}
	loc := resolveLocationOrLocal(q.Get("tz"))

	key := r.URL.RawQuery
	cacheNow := s.now()
	s.eventsMu.RLock()
	ec, ok := s.eventsCache[key]
	s.eventsMu.RUnlock()
	if ok && cacheNow.Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	if _, err := s.store.GetCalendar(ctx, calendarID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	now := cacheNow.In(loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	events, err := s.store.GetEventsByCalendar(ctx, calendarID, &rangeStart, &rangeEnd)
	if err != nil {
		appLog.Error("api events: query failed", err, "calendar_id", calendarID)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dto := eventDTO{
			ID:       ev.ID,
			UID:      ev.UID,
			Title:    ev.Title,
			Start:    ev.Start.In(loc),
			End:      ev.End.In(loc),
			AllDay:   ev.AllDay,
			Timezone: ev.Timezone,
		}
		if m, ok := privacysync.ReadMarker(ev); ok {
			dto.Mirror = &m
		}
		dtos = append(dtos, dto)
	}

	resp := eventsResponse{
		CalendarID:      calendarID,
		Events:          dtos,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	}

	s.eventsMu.Lock()
	s.eventsCache[key] = eventsCache{resp: resp, updatedAt: cacheNow}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) invalidateEvents() {
	s.eventsMu.Lock()
	clear(s.eventsCache)
	s.eventsMu.Unlock()
}

// publishedFileServer serves the .ics files written by the ICS provider.
func (s *Server) publishedFileServer() http.Handler {
	dir := ""
	if s.cfg != nil {
		dir = s.cfg.PrivacySync.ICSPublishDir
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dir == "" {
			http.Error(w, "publishing not configured", http.StatusServiceUnavailable)
			return
		}
		if _, err := os.Stat(dir); err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.FileServer(http.Dir(dir)).ServeHTTP(w, r)
	})
}

// statusFor maps an application error to an HTTP status.
func statusFor(err error) int {
	switch {
	case appErr.Is(err, appErr.ErrNotFound):
		return http.StatusNotFound
	case appErr.Is(err, appErr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
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
