/*
File: server_api.go
Version: 1.0.0
Description: HTTP handlers for the host shell: classify, per-session results, engine status and model reload.
             Every response carries an X-Request-ID; requests pass through the per-client rate limiter.
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type APIServer struct {
	engine    *Engine
	store     ResultStore
	limiter   *LimiterManager
	modelPath string
	timeout   time.Duration
	maxBody   int64
}

type classifyRequest struct {
	URL     string `json:"url"`
	Session string `json:"session,omitempty"`
}

type classifyResponse struct {
	Classification
	Threshold float64 `json:"threshold"`
	Stored    *bool   `json:"stored,omitempty"`
}

type statusResponse struct {
	Phase     string     `json:"phase"`
	Ready     bool       `json:"ready"`
	Threshold float64    `json:"threshold"`
	Schema    string     `json:"schema,omitempty"`
	Digest    string     `json:"digest,omitempty"`
	Source    string     `json:"source,omitempty"`
	Trees     int        `json:"trees,omitempty"`
	LoadedAt  *time.Time `json:"loaded_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func NewAPIServer(engine *Engine, store ResultStore, limiter *LimiterManager, cfg *Config) *APIServer {
	s := &APIServer{
		engine:    engine,
		store:     store,
		limiter:   limiter,
		modelPath: cfg.Engine.ModelFile,
		timeout:   cfg.Server.parsedTimeout,
		maxBody:   cfg.Server.MaxBodySize,
	}
	if s.timeout == 0 {
		s.timeout = DefaultServerTimeout
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodySize
	}
	return s
}

// Handler returns the routed API wrapped in request-id and rate limiting middleware.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/classify", s.handleClassify)
	mux.HandleFunc("POST /v1/classify", s.handleClassify)
	mux.HandleFunc("GET /v1/results/{session}", s.handleGetResult)
	mux.HandleFunc("DELETE /v1/results/{session}", s.handleDeleteResult)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/model/reload", s.handleReload)
	mux.HandleFunc("GET /robots.txt", handleRobotsTxt)

	return s.withRequestID(s.withRateLimit(mux))
}

func handleRobotsTxt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("User-agent: *\nDisallow: /\n"))
}

type ctxKeyRequestID struct{}

func (s *APIServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

func (s *APIServer) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action, delay, reason := s.limiter.Check(clientKey(r.RemoteAddr))
		switch action {
		case ActionDrop:
			LogWarn("[API] %s", reason)
			w.Header().Set("Retry-After", "1")
			s.writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		case ActionDelay:
			if IsDebugEnabled() {
				LogDebug("[API] %s", reason)
			}
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest

	switch r.Method {
	case http.MethodGet:
		req.URL = r.URL.Query().Get("url")
		req.Session = r.URL.Query().Get("session")
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				s.writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			s.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if strings.TrimSpace(req.URL) == "" {
		s.writeError(w, r, http.StatusBadRequest, "missing url")
		return
	}

	c, ok := s.engine.Classify(req.URL)
	if !ok {
		s.writeError(w, r, http.StatusUnprocessableEntity, "url skipped: not classifiable")
		return
	}

	resp := classifyResponse{Classification: c, Threshold: s.engine.Threshold()}

	if req.Session != "" && s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		err := s.store.Put(ctx, req.Session, c.ClassificationResult)
		cancel()

		stored := err == nil
		resp.Stored = &stored
		if err != nil {
			LogWarn("[API] Failed to store result for session %s (ID: %s): %v", req.Session, requestID(r.Context()), err)
		}
	}

	if IsDebugEnabled() {
		LogDebug("[API] Classified %s | Score: %.4f | Source: %s | Suspicious: %t (ID: %s)",
			c.URL, c.Score, c.Source, c.Suspicious, requestID(r.Context()))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, r, http.StatusNotFound, "result store disabled")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, found, err := s.store.Get(ctx, r.PathValue("session"))
	if err != nil {
		LogWarn("[API] Result store read failed: %v", err)
		s.writeError(w, r, http.StatusServiceUnavailable, "result store unavailable")
		return
	}
	if !found {
		s.writeError(w, r, http.StatusNotFound, "no result for session")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *APIServer) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := s.store.Delete(ctx, r.PathValue("session")); err != nil {
		LogWarn("[API] Result store delete failed: %v", err)
		s.writeError(w, r, http.StatusServiceUnavailable, "result store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *APIServer) status() statusResponse {
	st := s.engine.State()
	resp := statusResponse{
		Phase:     st.Phase.String(),
		Ready:     st.Phase == EngineLoaded,
		Threshold: s.engine.Threshold(),
	}
	if st.Model != nil {
		loaded := st.Model.LoadedAt
		resp.Schema = st.Model.Schema
		resp.Digest = st.Model.Digest
		resp.Source = st.Model.Source
		resp.Trees = st.Model.Ensemble.Len()
		resp.LoadedAt = &loaded
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

func (s *APIServer) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.modelPath == "" {
		s.writeError(w, r, http.StatusConflict, "no model file configured")
		return
	}

	LogInfo("[API] Model reload requested from %s (ID: %s)", clientKey(r.RemoteAddr), requestID(r.Context()))
	if err := s.engine.LoadModelFile(s.modelPath); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, s.status())
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *APIServer) writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, RequestID: requestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		LogDebug("[API] Failed to write response: %v", err)
	}
}
