// Package nlptest provides an in-process stand-in for the external entity
// recogniser, for wiring pipeline and client tests without a real service.
package nlptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/docmask/docmask/internal/nlp"
)

// Entity is a canned recognition: every occurrence of Literal in submitted
// content is reported with the given category and confidence.
type Entity struct {
	Literal    string
	Category   string
	Confidence float64
	Method     string
}

// Server is the fake recogniser.
type Server struct {
	ts *httptest.Server

	mu       sync.Mutex
	entities []Entity
	failNext int
	latency  time.Duration
	requests []nlp.AnalyzeRequest
}

// NewServer starts the fake recogniser on a local listener.
func NewServer() *Server {
	s := &Server{}

	r := mux.NewRouter()
	r.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.ts = httptest.NewServer(r)
	return s
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.ts.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.ts.Close()
}

// AddEntity registers a literal the recogniser should report.
func (s *Server) AddEntity(literal, category string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = append(s.entities, Entity{
		Literal:    literal,
		Category:   category,
		Confidence: confidence,
		Method:     "spacy_ner",
	})
}

// FailNext makes the next n analyze calls answer 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// SetLatency delays every analyze response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Requests returns the analyze request bodies received so far.
func (s *Server) Requests() []nlp.AnalyzeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]nlp.AnalyzeRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req nlp.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	entities := make([]Entity, len(s.entities))
	copy(entities, s.entities)
	latency := s.latency
	fail := s.failNext > 0
	if fail {
		s.failNext--
	}
	s.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	if fail {
		http.Error(w, "recogniser unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := nlp.AnalyzeResponse{Success: true, BlocksProcessed: len(req.Blocks)}
	for _, block := range req.Blocks {
		for _, e := range entities {
			for _, span := range findAll(block.Content, e.Literal) {
				resp.Detections = append(resp.Detections, nlp.DetectionPayload{
					Category:   e.Category,
					Value:      e.Literal,
					Confidence: e.Confidence,
					Position:   nlp.PositionPayload{Start: span[0], End: span[1]},
					Method:     e.Method,
					BlockID:    block.BlockID,
				})
			}
		}
	}
	resp.TotalDetections = len(resp.Detections)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// findAll returns the rune intervals of every occurrence of literal.
func findAll(content, literal string) [][2]int {
	if literal == "" {
		return nil
	}

	var out [][2]int
	litLen := len([]rune(literal))
	offset := 0
	rest := content
	for {
		i := strings.Index(rest, literal)
		if i == -1 {
			break
		}
		start := offset + len([]rune(rest[:i]))
		out = append(out, [2]int{start, start + litLen})
		advance := i + len(literal)
		offset += len([]rune(rest[:advance]))
		rest = rest[advance:]
	}
	return out
}
