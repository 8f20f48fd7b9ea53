package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// Endpoint paths served by MockServer.
const (
	PathStart      = "/api/chat/start"
	PathSignedURL  = "/files/signed_url"
	PathUpload     = "/upload/"
	PathPreprocess = "/files/preprocess_file"
	PathSources    = "/api/chat/sources"
	PathMessage    = "/api/chat/message"
)

// Call is one request received by MockServer.
type Call struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// JSON decodes the request body into a generic map.
func (c Call) JSON(t testing.TB) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(c.Body, &m); err != nil {
		t.Fatalf("request body of %s is not JSON: %v (%s)", c.Path, err, c.Body)
	}
	return m
}

// MockServer is an in-process stand-in for the chat API. It records every
// request, can fail any endpoint with a status code, and streams configurable
// chunks from the message endpoint, flushing after each one.
type MockServer struct {
	*httptest.Server

	mu        sync.Mutex
	calls     []Call
	sessionID string
	failures  map[string]int
	chunks    []string
	hold      bool
	blocked   map[string]bool
	released  chan struct{}
}

// NewMockServer starts a server that is closed when the test ends.
func NewMockServer(t testing.TB) *MockServer {
	t.Helper()
	s := &MockServer{
		sessionID: "conv-123",
		failures:  make(map[string]int),
		blocked:   make(map[string]bool),
		chunks:    []string{`{"content":"ok"}`},
		released:  make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.Release()
		s.Close()
	})
	return s
}

// SetSessionID changes the id returned by the start endpoint. An empty id
// simulates a response without one.
func (s *MockServer) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

// Fail makes the endpoint answer with status. Use PathUpload for transfers.
func (s *MockServer) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// SetStream sets the chunks written by the message endpoint.
func (s *MockServer) SetStream(chunks ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = chunks
}

// Hold keeps the message stream open after the last chunk until the client
// goes away or Release is called.
func (s *MockServer) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = true
}

// Block makes requests to path wait without an answer until the client goes
// away or Release is called. The request is still recorded.
func (s *MockServer) Block(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[path] = true
}

// Release ends held streams and blocked requests. Safe to call more than once.
func (s *MockServer) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.released:
	default:
		close(s.released)
	}
}

// Calls returns every recorded request whose path starts with prefix.
// An empty prefix returns all of them.
func (s *MockServer) Calls(prefix string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if strings.HasPrefix(c.Path, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Paths returns the path of every recorded request in arrival order.
func (s *MockServer) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		p := c.Path
		if strings.HasPrefix(p, PathUpload) {
			p = PathUpload
		}
		out[i] = p
	}
	return out
}

func (s *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	key := r.URL.Path
	if strings.HasPrefix(key, PathUpload) {
		key = PathUpload
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
	status, failing := s.failures[key]
	sessionID := s.sessionID
	chunks := append([]string(nil), s.chunks...)
	hold := s.hold
	blocked := s.blocked[key]
	s.mu.Unlock()

	if blocked {
		select {
		case <-r.Context().Done():
		case <-s.released:
			http.Error(w, "released", http.StatusServiceUnavailable)
		}
		return
	}

	if failing {
		http.Error(w, "injected failure for "+key, status)
		return
	}

	switch key {
	case PathStart:
		writeJSON(w, map[string]any{"id": sessionID})
	case PathSignedURL:
		var req struct {
			Filename string `json:"filename"`
		}
		_ = json.Unmarshal(body, &req)
		writeJSON(w, map[string]any{"signedUrl": s.URL + PathUpload + url.PathEscape(req.Filename)})
	case PathUpload:
		if r.Method != http.MethodPut {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	case PathPreprocess, PathSources:
		writeJSON(w, map[string]any{"ok": true})
	case PathMessage:
		s.stream(w, r, chunks, hold)
	default:
		http.NotFound(w, r)
	}
}

func (s *MockServer) stream(w http.ResponseWriter, r *http.Request, chunks []string, hold bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, c := range chunks {
		if _, err := io.WriteString(w, c); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if hold {
		select {
		case <-r.Context().Done():
		case <-s.released:
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
