package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bubusync/internal/config"
	"bubusync/internal/crm"
	"bubusync/internal/ics"
	appLog "bubusync/internal/log"
	"bubusync/internal/model"
	"bubusync/internal/syncer"
)

// maxUpload bounds an uploaded calendar export.
const maxUpload = 8 << 20

// Syncer is the part of syncer.Service the upload endpoint needs.
type Syncer interface {
	Synchronize(ctx context.Context, calendar []byte, week ics.Week) (model.Report, error)
}

// Server exposes the sync entry point over HTTP so a calendar export can be
// uploaded from a phone or a bot instead of the CLI.
type Server struct {
	cfg    *config.Config
	syncer Syncer
	router chi.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, s Syncer) *Server {
	srv := &Server{
		cfg:    cfg,
		syncer: s,
		router: chi.NewRouter(),
	}
	srv.registerRoutes()
	return srv
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(s.router)
	}
	return s.router
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="bubusync", charset="UTF-8"`)
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

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- err
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-done:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)

	s.router.Get("/health", s.handleHealth)
	s.router.Post("/api/sync", s.handleSync)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// syncResponse is the JSON response shape for /api/sync.
type syncResponse struct {
	RunID      string      `json:"run_id"`
	Week       string      `json:"week"`
	WeekStart  string      `json:"week_start"`
	WeekEnd    string      `json:"week_end"`
	Extracted  int         `json:"extracted"`
	Duplicates int         `json:"duplicates"`
	Processed  int         `json:"processed"`
	Created    int         `json:"created"`
	Failed     []lessonDTO `json:"failed"`
	Results    []lessonDTO `json:"results"`
}

// lessonDTO is a JSON-friendly view of one sync result.
type lessonDTO struct {
	Phone   string `json:"phone"`
	Date    string `json:"date"`
	Created bool   `json:"created"`
	Reason  string `json:"reason,omitempty"`
}

// handleSync runs one sync with the uploaded calendar export.
//
// POST /api/sync?week=current|last
//   - body: the .ics file, either raw or as multipart field "file"
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	week, ok := ics.ParseWeek(r.URL.Query().Get("week"))
	if !ok {
		writeError(w, http.StatusBadRequest, "week must be current or last")
		return
	}

	calendar, err := readCalendar(w, r)
	if err != nil {
		appLog.Error("api sync: reading upload failed", err)
		writeError(w, http.StatusBadRequest, "calendar file is missing or unreadable")
		return
	}

	// A started run finishes even if the uploader goes away.
	report, err := s.syncer.Synchronize(context.WithoutCancel(r.Context()), calendar, week)
	if err != nil {
		status, msg := classify(err)
		appLog.Error("api sync failed", err, "run_id", report.RunID, "status", status)
		writeError(w, status, msg)
		return
	}

	resp := syncResponse{
		RunID:      report.RunID,
		Week:       week.String(),
		WeekStart:  report.WeekStart.Format(time.DateOnly),
		WeekEnd:    report.WeekEnd.Format(time.DateOnly),
		Extracted:  report.Extracted,
		Duplicates: report.Duplicates,
		Processed:  len(report.Results),
		Created:    report.Created(),
		Failed:     []lessonDTO{},
		Results:    make([]lessonDTO, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		dto := lessonDTO{
			Phone:   res.Candidate.Phone,
			Date:    res.Candidate.Key(),
			Created: res.Created,
			Reason:  res.Reason,
		}
		resp.Results = append(resp.Results, dto)
		if !res.Created {
			resp.Failed = append(resp.Failed, dto)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// readCalendar returns the uploaded export from a multipart "file" field or,
// for any other content type, the raw request body.
func readCalendar(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)

	var src io.Reader = r.Body
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mt == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			return nil, err
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer f.Close()
		src = f
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty upload")
	}
	return data, nil
}

// classify maps a fatal sync error to an HTTP status and a user message.
func classify(err error) (int, string) {
	var herr *crm.HTTPError
	switch {
	case errors.Is(err, syncer.ErrBusy):
		return http.StatusConflict, "a sync is already running"
	case errors.Is(err, ics.ErrInput):
		return http.StatusBadRequest, "calendar file could not be parsed: " + err.Error()
	case errors.Is(err, config.ErrInvalid):
		return http.StatusInternalServerError, "server is not configured: " + err.Error()
	case errors.Is(err, crm.ErrAuth):
		return http.StatusBadGateway, "CRM login failed"
	case errors.As(err, &herr):
		return http.StatusBadGateway, "CRM request failed: " + herr.Error()
	default:
		return http.StatusInternalServerError, "sync failed: " + err.Error()
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		appLog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"elapsed", appLog.Since(start),
		)
	})
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
