// Package review provides the HTTP API that the out-of-scope desktop UI
// uses to drive detection, human review, and finalization.
//
// Endpoints:
//
//	GET  /status                     - engine health and configuration
//	POST /sessions                   - ingest text, run detection {"text":"..."}
//	GET  /sessions/{id}/candidates   - review items for a session
//	POST /sessions/{id}/decision     - {"id":0,"status":"rejected"} or {"status":"edited","replacement":"..."}
//	POST /sessions/{id}/entities     - inject a manual entity {"type":"PERSON","text":"..."}
//	POST /sessions/{id}/finalize     - substitute, export and persist the mapping artifact
//
// Responses carry entity text only where the review boundary requires it
// (candidate listings, artifacts); log lines never do.
package review

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ch8ri0s/pii-anonymizer/internal/config"
	"github.com/ch8ri0s/pii-anonymizer/internal/entity"
	"github.com/ch8ri0s/pii-anonymizer/internal/logger"
	"github.com/ch8ri0s/pii-anonymizer/internal/pipeline"
	"github.com/ch8ri0s/pii-anonymizer/internal/session"
	"github.com/ch8ri0s/pii-anonymizer/internal/store"
)

// Detector runs detection over one document. *pipeline.Pipeline implements it.
type Detector interface {
	Detect(ctx context.Context, text string) (*pipeline.Result, error)
}

// Server is the review API server.
type Server struct {
	cfg       *config.Config
	detector  Detector
	artifacts store.Store
	modelID   string
	token     string // bearer token for auth; empty = no auth
	startTime time.Time
	log       *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New creates a review server.
func New(cfg *config.Config, detector Detector, artifacts store.Store, modelID string, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		detector:  detector,
		artifacts: artifacts,
		modelID:   modelID,
		token:     cfg.ReviewToken,
		startTime: time.Now(),
		log:       log,
		sessions:  make(map[string]*session.Session),
	}
	if s.token != "" && log != nil {
		log.Info("auth", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the review API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}/candidates", s.handleCandidates)
	mux.HandleFunc("POST /sessions/{id}/decision", s.handleDecision)
	mux.HandleFunc("POST /sessions/{id}/entities", s.handleAddEntity)
	mux.HandleFunc("POST /sessions/{id}/finalize", s.handleFinalize)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			if s.log != nil {
				s.log.Warnf("auth", "unauthorized request from %s to %s", r.RemoteAddr, r.URL.Path)
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) lookup(id string) (*session.Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	count := len(s.sessions)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "running",
		"uptime":   time.Since(s.startTime).Round(time.Second).String(),
		"model":    s.modelID,
		"sessions": count,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	const maxDocument = 20 << 20 // 20 MB of text
	r.Body = http.MaxBytesReader(w, r.Body, maxDocument)
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request: need {\"text\":\"...\"}", http.StatusBadRequest)
		return
	}

	res, err := s.detector.Detect(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return // client went away; nothing to answer
		}
		http.Error(w, "detection failed", http.StatusInternalServerError)
		return
	}

	sess := session.New(req.Text, s.cfg.NeedsReviewBelow)
	methods := []string{"RULE", "ML"}
	if res.RecognizerSkipped {
		methods = []string{"RULE"}
	}
	if err := sess.SetDetection(res.Candidates, s.modelID, methods); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	if s.log != nil {
		s.log.WithSession(sess.ID()).Infof("session_create", "%d candidates, %d passes, recognizerSkipped=%v",
			len(res.Candidates), len(res.Passes), res.RecognizerSkipped)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId":         sess.ID(),
		"state":             sess.State().String(),
		"candidates":        sess.Items(),
		"passes":            res.Passes,
		"recognizerSkipped": res.RecognizerSkipped,
		"skipReason":        res.SkipReason,
	})
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r.PathValue("id"))
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":      sess.State().String(),
		"candidates": sess.Items(),
	})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r.PathValue("id"))
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	var req struct {
		ID          int              `json:"id"`
		Status      session.Decision `json:"status"`
		Replacement string           `json:"replacement"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Status {
	case session.Approved:
		err = sess.Approve(req.ID)
	case session.Rejected:
		err = sess.Reject(req.ID)
	case session.Edited:
		err = sess.Edit(req.ID, req.Replacement)
	default:
		http.Error(w, fmt.Sprintf("unknown status %q", req.Status), http.StatusBadRequest)
		return
	}
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": sess.State().String()})
}

func (s *Server) handleAddEntity(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r.PathValue("id"))
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	var req struct {
		Type entity.Type `json:"type"`
		Text string      `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "invalid request: need {\"type\":\"...\",\"text\":\"...\"}", http.StatusBadRequest)
		return
	}
	item, err := sess.AddManual(req.Type, req.Text)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r.PathValue("id"))
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	redacted := sess.Substitute()
	artifact, err := sess.Finalize()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if err := s.artifacts.Save(sess.ID(), artifact); err != nil {
		if s.log != nil {
			s.log.WithSession(sess.ID()).Errorf("artifact_save", "%v", err)
		}
		http.Error(w, "artifact persistence failed", http.StatusInternalServerError)
		return
	}
	if s.log != nil {
		s.log.WithSession(sess.ID()).Infof("session_finalize", "%d mapping entries exported", len(artifact.Entities))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":        sess.State().String(),
		"redactedText": redacted,
		"artifact":     artifact,
	})
}

// writeSessionError maps session lifecycle errors to HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrFinalized):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrNoCandidate), errors.Is(err, session.ErrNotDetected):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the review HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ReviewBindAddress, s.cfg.ReviewPort)
	if s.log != nil {
		s.log.Infof("listen", "review API on %s", addr)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
