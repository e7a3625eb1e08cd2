// Package upstreamtest runs a scripted upstream API for package tests.
package upstreamtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ehr/pmsync/internal/domain/practice"
	"github.com/ehr/pmsync/internal/upstream"
)

// APIKey is the only key the server accepts.
const APIKey = "test-api-key"

// Request is one recorded non-auth call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

type response struct {
	status int
	body   string
}

// Server answers GET collections from scripted pages keyed by path and
// mutations from scripted responses keyed by "METHOD /path". Unscripted
// collections return one empty page.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	pages      map[string][]string
	failures   map[string]int
	failAll    int
	authStatus int
	delay      time.Duration
	responses  map[string]response
	requests   []Request
	authCalls  int
}

func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		pages:     make(map[string][]string),
		failures:  make(map[string]int),
		responses: make(map[string]response),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// SetPages scripts a collection. Each page is a JSON array literal.
func (s *Server) SetPages(path string, pages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = pages
}

// SetPatientPages scripts a collection filtered by patient_id.
func (s *Server) SetPatientPages(path, patientID string, pages ...string) {
	s.SetPages(path+"?patient_id="+patientID, pages...)
}

// Fail makes every request to path answer with status.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// FailAll makes every non-auth request answer with status.
func (s *Server) FailAll(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = status
}

// FailAuth makes the token exchange answer with status.
func (s *Server) FailAuth(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authStatus = status
}

// SetDelay delays every non-auth response.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Respond scripts a mutation, e.g. Respond("POST /appointments", 200, `{"id":9}`).
// A 2xx body is wrapped in the success envelope.
func (s *Server) Respond(route string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[route] = response{status: status, body: body}
}

// Requests returns recorded calls to path.
func (s *Server) Requests(path string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) AuthCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCalls
}

// Options returns client options pointed at the server with millisecond
// backoff.
func (s *Server) Options() upstream.Options {
	return upstream.Options{
		BaseURL:       s.URL,
		APIKey:        APIKey,
		Subdomain:     "test",
		LocationID:    "1",
		BaseDelay:     time.Millisecond,
		RateLimitWait: time.Millisecond,
	}
}

// Factory returns a client factory that sends both environments here.
func (s *Server) Factory() *upstream.Factory {
	return upstream.NewFactory(s.Options(), s.URL, s.URL)
}

// Practice returns a configured sandbox practice for subdomain.
func Practice(subdomain string) *practice.Practice {
	return &practice.Practice{
		Name:        subdomain,
		Subdomain:   subdomain,
		LocationID:  "1",
		Environment: practice.EnvSandbox,
		APIKey:      APIKey,
		Status:      practice.StatusConnected,
		Active:      true,
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/authenticates" {
		s.mu.Lock()
		s.authCalls++
		status := s.authStatus
		s.mu.Unlock()
		if status == 0 && r.Header.Get("Authorization") != APIKey {
			status = http.StatusUnauthorized
		}
		if status != 0 {
			writeJSON(w, status, `{"code":false,"error":["authentication failed"]}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"code":true,"data":{"token":"test-token"}}`)
		return
	}

	body, _ := io.ReadAll(r.Body)
	q := r.URL.Query()
	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Query: q, Body: body})
	status := s.failAll
	if st, ok := s.failures[r.URL.Path]; ok {
		status = st
	}
	delay := s.delay
	key := r.URL.Path
	if pid := q.Get("patient_id"); pid != "" {
		key += "?patient_id=" + pid
	}
	pages := s.pages[key]
	resp, scripted := s.responses[r.Method+" "+r.URL.Path]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		writeJSON(w, status, fmt.Sprintf(`{"code":false,"error":[%q]}`, http.StatusText(status)))
		return
	}

	if r.Method != http.MethodGet {
		if !scripted {
			writeJSON(w, http.StatusNotFound, `{"code":false,"error":["no route"]}`)
			return
		}
		if resp.status >= 300 {
			writeJSON(w, resp.status, resp.body)
			return
		}
		writeJSON(w, resp.status, `{"code":true,"data":`+resp.body+`}`)
		return
	}

	idx := 0
	if c := q.Get("end_cursor"); c != "" {
		idx, _ = strconv.Atoi(strings.TrimPrefix(c, "c"))
	}
	data := "[]"
	if idx < len(pages) {
		data = pages[idx]
	}
	info, _ := json.Marshal(map[string]any{
		"has_next_page": idx+1 < len(pages),
		"end_cursor":    "c" + strconv.Itoa(idx+1),
	})
	writeJSON(w, http.StatusOK, `{"code":true,"data":`+data+`,"page_info":`+string(info)+`}`)
}
