package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"schedexport/internal/config"
	"schedexport/internal/export"
	"schedexport/internal/layout"
	appLog "schedexport/internal/log"
	"schedexport/internal/model"
	"schedexport/internal/schedule"
)

// FeedSource provides the current schedule feed.
type FeedSource interface {
	Feed() (model.Feed, bool)
}

// Deps are the collaborators a Server dispatches to.
type Deps struct {
	Parser   schedule.DateParser
	Feeds    FeedSource
	Exports  *export.Orchestrator
	Renderer *layout.Renderer
	// Workspaces serves the pages of in-flight exports under
	// layout.PathPrefix.
	Workspaces http.Handler
}

// Server provides the schedule view, the JSON API and the export endpoint.
type Server struct {
	cfg  *config.Config
	deps Deps
	mux  *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	appLog.Info("HTTP server listening", "addr", BaseURL(ln.Addr()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	return nil
}

// BaseURL is the URL the local capture browser reaches addr at. Wildcard
// listen addresses map to loopback.
func BaseURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware protects everything except /health and the workspace
// pages, which the capture browser loads without credentials.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, layout.PathPrefix) {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedexport", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/schedule", s.handleSchedule)
	s.mux.HandleFunc("/api/export", s.handleExport)
	if s.deps.Workspaces != nil {
		s.mux.Handle(layout.PathPrefix, s.deps.Workspaces)
	}
	s.mux.HandleFunc("/", s.handleIndex)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) exporting() bool {
	return s.deps.Exports != nil && s.deps.Exports.Busy()
}

// view derives the schedule view for selection. ok is false until the
// first feed has loaded.
func (s *Server) view(selection string) (schedule.View, model.Feed, bool) {
	f, ok := s.deps.Feeds.Feed()
	v := schedule.Derive(s.deps.Parser, f.Events, selection)
	if v.Excluded > 0 {
		appLog.Debug("events without a valid date left out of the view", "excluded", v.Excluded, "selection", v.Selection)
	}
	return v, f, ok
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	v, f, _ := s.view(r.URL.Query().Get("tipo"))
	data := layout.NewViewData(s.deps.Parser, v, f.Period, s.cfg.Branding.Title, s.exporting())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.deps.Renderer.RenderSchedule(w, data); err != nil {
		appLog.Error("schedule render failed", err)
	}
}

type scheduleResponse struct {
	Period        string     `json:"period"`
	Selection     string     `json:"selection"`
	Categories    []string   `json:"categories"`
	Total         int        `json:"total"`
	Filtered      int        `json:"filtered"`
	Excluded      int        `json:"excluded"`
	ExportEnabled bool       `json:"export_enabled"`
	ExportState   string     `json:"export_state"`
	Months        []monthDTO `json:"months"`
}

type monthDTO struct {
	Key    string     `json:"key"`
	Label  string     `json:"label"`
	Events []eventDTO `json:"events"`
}

type eventDTO struct {
	Discipline string `json:"disciplina"`
	Category   string `json:"tipo"`
	Period     string `json:"periodo"`
	Time       string `json:"horario"`
	Location   string `json:"local"`
	Color      string `json:"color"`
}

// handleSchedule returns the grouped view as JSON.
//
// GET /api/schedule?tipo=Prova
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	v, f, ok := s.view(r.URL.Query().Get("tipo"))
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "schedule not loaded yet")
		return
	}

	state := export.Idle
	if s.deps.Exports != nil {
		state = s.deps.Exports.State()
	}
	resp := scheduleResponse{
		Period:        f.Period,
		Selection:     v.Selection,
		Categories:    v.Categories,
		Total:         v.Total,
		Filtered:      v.Filtered,
		Excluded:      v.Excluded,
		ExportEnabled: state == export.Idle && !v.Empty(),
		ExportState:   state.String(),
		Months:        make([]monthDTO, 0, len(v.Months)),
	}
	for _, m := range v.Months {
		md := monthDTO{Key: string(m.Key), Label: m.Label}
		for _, c := range export.CardsFor(s.deps.Parser, m.Events) {
			md.Events = append(md.Events, eventDTO{
				Discipline: c.Discipline,
				Category:   c.Category,
				Period:     c.Period,
				Time:       c.Time,
				Location:   c.Location,
				Color:      c.Color,
			})
		}
		resp.Months = append(resp.Months, md)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExport runs one export of the selected view and returns the PDF
// inline so the browser opens it in a viewer.
//
// POST /api/export?tipo=Prova
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Exports == nil {
		writeError(w, http.StatusServiceUnavailable, "export is not configured")
		return
	}

	selection := r.FormValue("tipo")
	if selection == "" {
		selection = schedule.AllCategories
	}

	req := export.Request{}
	if f, ok := s.deps.Feeds.Feed(); ok {
		if !schedule.ValidSelection(f.Events, selection) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type %q", selection))
			return
		}
		v, _, _ := s.view(selection)
		req = export.Request{View: &v, Period: f.Period}
	}

	ctx := r.Context()
	if secs := s.cfg.Export.TimeoutSeconds; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	res, err := s.deps.Exports.Export(ctx, req)
	if err != nil {
		writeError(w, exportStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", Filename(res.Selection)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.PDF)
}

func exportStatus(err error) int {
	var capErr *export.CaptureError
	switch {
	case errors.Is(err, export.ErrMissingLayoutRegion):
		return http.StatusServiceUnavailable
	case errors.Is(err, export.ErrExportInFlight):
		return http.StatusConflict
	case errors.Is(err, export.ErrNothingToExport):
		return http.StatusUnprocessableEntity
	case errors.As(err, &capErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Filename names the document for a selection, e.g. "cronograma-prova.pdf".
func Filename(selection string) string {
	if selection == "" || selection == schedule.AllCategories {
		return "cronograma.pdf"
	}
	folded, _, err := transform.String(foldAccents(), strings.ToLower(selection))
	if err != nil {
		folded = strings.ToLower(selection)
	}
	var b strings.Builder
	dash := false
	for _, r := range folded {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "cronograma.pdf"
	}
	return "cronograma-" + slug + ".pdf"
}

// foldAccents strips combining marks after canonical decomposition, so
// "ç" becomes "c" and "ü" becomes "u". Transformers are stateful; build one
// per use.
func foldAccents() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
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
