package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

const ContentType = "application/x-ndjson"

// ResponseWriter re-encodes events as NDJSON on an HTTP response, flushing
// after every record. Headers are written lazily on the first event so the
// handler can still answer with a plain error status before streaming starts.
type ResponseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	written int
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *ResponseWriter) Emit(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode stream record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	s.start()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write stream record: %w", err)
	}
	s.written++

	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flush stream record: %w", err)
	}

	return nil
}

// Start commits the streaming headers without writing a record.
func (s *ResponseWriter) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start()
}

func (s *ResponseWriter) start() {
	if s.started {
		return
	}
	s.started = true

	h := s.w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	s.w.WriteHeader(http.StatusOK)
}

// Started reports whether the status line has been sent.
func (s *ResponseWriter) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *ResponseWriter) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
