// Package crmtest provides an in-memory CRM backoffice for tests. It rotates
// the session tokens on every response and rejects any request that does not
// carry the most recently issued pair.
package crmtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	cookieXSRF    = "XSRF-TOKEN"
	cookieSession = "crm_session"

	// CSRFToken is the anti-forgery token embedded in the landing page.
	CSRFToken = "csrf0123456789"
)

// Server is a fake backoffice. Configure the exported fields before the
// first request; read them after the test via the accessor methods.
type Server struct {
	*httptest.Server

	Email    string
	Password string

	// Customers and Students are keyed by product id, in response order.
	Customers map[int64][]map[string]any
	Students  map[int64][]map[string]any

	// Events are the "start" values of existing events.
	Events []string

	// RejectPhones makes creation answer 200 with a null event id.
	RejectPhones map[string]bool

	// CreateStatus, when non-zero, is returned for every creation.
	CreateStatus int

	// HangUpOn closes the connection without a response for this path.
	HangUpOn string

	// FailStatus answers requests to FailPath with this status.
	FailPath   string
	FailStatus int

	// OmitTokensOn answers this path without Set-Cookie headers.
	OmitTokensOn string

	// OnRequest, if set, sees every request before it is handled.
	OnRequest func(r *http.Request)

	mu            sync.Mutex
	seq           int
	xsrf          string
	session       string
	authenticated bool
	loggedOut     bool
	staleUses     int
	requests      []string
	startedAfter  string
	created       []map[string]any
	nextID        int
}

// NewServer starts a fake backoffice accepting email/password.
func NewServer(t testing.TB, email, password string) *Server {
	t.Helper()
	s := &Server{
		Email:        email,
		Password:     password,
		Customers:    map[int64][]map[string]any{},
		Students:     map[int64][]map[string]any{},
		RejectPhones: map[string]bool{},
		nextID:       1000,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddCustomer registers a customer with one phone in productID.
func (s *Server) AddCustomer(productID, id int64, phone string) {
	s.Customers[productID] = append(s.Customers[productID], map[string]any{
		"id":     id,
		"name":   fmt.Sprintf("customer %d", id),
		"phones": []map[string]any{{"phone": phone}},
	})
}

// AddStudent registers a student of customerID in productID.
func (s *Server) AddStudent(productID, id, customerID int64) {
	s.Students[productID] = append(s.Students[productID], map[string]any{
		"id":          id,
		"customer_id": customerID,
		"name":        fmt.Sprintf("student %d", id),
	})
}

// Tokens returns the pair most recently issued to the client.
func (s *Server) Tokens() (xsrf, session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xsrf, s.session
}

// Created returns the decoded payloads of successfully created events.
func (s *Server) Created() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.created...)
}

// Requests returns "METHOD /path" for every request in arrival order.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// LoggedOut reports whether /logout was called with a valid session.
func (s *Server) LoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut
}

// StaleUses counts requests that carried outdated tokens.
func (s *Server) StaleUses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staleUses
}

// StartedAfter returns the filter[started_after] of the last events listing.
func (s *Server) StartedAfter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAfter
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	if s.OnRequest != nil {
		s.OnRequest(r)
	}

	if s.HangUpOn != "" && r.URL.Path == s.HangUpOn {
		hj, ok := w.(http.Hijacker)
		if ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		http.Error(w, "hang up unsupported", http.StatusInternalServerError)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/" {
		s.rotate(w)
		fmt.Fprintf(w, `<html><head><meta name="csrf-token" content="%s"></head></html>`, CSRFToken)
		return
	}

	// Everything else needs the current pair.
	if !s.validTokens(r) {
		s.staleUses++
		s.rotate(w)
		http.Error(w, "page expired", 419)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/login" {
		s.login(w, r)
		return
	}

	if !s.authenticated {
		s.rotate(w)
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	if r.Method != http.MethodGet && r.Header.Get("X-XSRF-TOKEN") != strings.ReplaceAll(s.xsrf, "%3D", "=") {
		s.staleUses++
		s.rotate(w)
		http.Error(w, "csrf mismatch", 419)
		return
	}

	if s.OmitTokensOn != "" && r.URL.Path == s.OmitTokensOn {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}, "data": []any{}, "students": []any{}})
		return
	}

	s.rotate(w)

	if s.FailPath != "" && r.URL.Path == s.FailPath {
		writeJSON(w, s.FailStatus, map[string]any{"message": "server error"})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/logout":
		s.loggedOut = true
		s.authenticated = false
		w.Header().Set("Location", "/")
		w.WriteHeader(http.StatusFound)
	case r.Method == http.MethodGet && r.URL.Path == "/api/calendars/events":
		s.startedAfter = r.URL.Query().Get("filter[started_after]")
		events := make([]map[string]any, 0, len(s.Events))
		for i, start := range s.Events {
			events = append(events, map[string]any{"id": i + 1, "start": start})
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	case r.Method == http.MethodGet && r.URL.Path == "/api/customers":
		pid, ok := productFilter(r)
		if !ok || r.URL.Query().Get("include") != "phones" {
			http.Error(w, "bad filter", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": orEmpty(s.Customers[pid])})
	case r.Method == http.MethodGet && r.URL.Path == "/api/students":
		pid, ok := productFilter(r)
		if !ok {
			http.Error(w, "bad filter", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"students": orEmpty(s.Students[pid])})
	case r.Method == http.MethodPost && r.URL.Path == "/api/calendars/events/add":
		s.createEvent(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("_token") != CSRFToken {
		s.rotate(w)
		http.Error(w, "page expired", 419)
		return
	}
	s.rotate(w)
	if r.PostForm.Get("email") != s.Email || r.PostForm.Get("password") != s.Password {
		w.Header().Set("Location", s.URL+"/login")
		w.WriteHeader(http.StatusFound)
		return
	}
	s.authenticated = true
	w.Header().Set("Location", s.URL+"/home")
	w.WriteHeader(http.StatusFound)
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if s.CreateStatus != 0 {
		writeJSON(w, s.CreateStatus, map[string]any{"message": "rejected"})
		return
	}
	customer, _ := payload["customer"].(map[string]any)
	phone, _ := customer["phone"].(string)
	if s.RejectPhones[phone] {
		writeJSON(w, http.StatusOK, map[string]any{"event": map[string]any{"id": nil}})
		return
	}
	s.nextID++
	s.created = append(s.created, payload)
	writeJSON(w, http.StatusOK, map[string]any{"event": map[string]any{"id": s.nextID}})
}

func (s *Server) validTokens(r *http.Request) bool {
	x, err := r.Cookie(cookieXSRF)
	if err != nil {
		return false
	}
	sess, err := r.Cookie(cookieSession)
	if err != nil {
		return false
	}
	return x.Value == s.xsrf && sess.Value == s.session
}

// rotate issues a fresh token pair; the previous pair stops working.
func (s *Server) rotate(w http.ResponseWriter) {
	s.seq++
	s.xsrf = fmt.Sprintf("xsrf%d%%3D", s.seq)
	s.session = fmt.Sprintf("sess%d", s.seq)
	http.SetCookie(w, &http.Cookie{Name: cookieXSRF, Value: s.xsrf, Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: cookieSession, Value: s.session, Path: "/", HttpOnly: true})
}

func productFilter(r *http.Request) (int64, bool) {
	parts := strings.Split(r.URL.Query().Get("filter[has_user]"), ",")
	if len(parts) != 2 {
		return 0, false
	}
	pid, err := strconv.ParseInt(parts[1], 10, 64)
	return pid, err == nil
}

func orEmpty(v []map[string]any) []map[string]any {
	if v == nil {
		return []map[string]any{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
