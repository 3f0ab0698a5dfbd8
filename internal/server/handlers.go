package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
)

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	s.track("store")
	var req models.StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.service.Store(r.Context(), &req)
	if err != nil {
		s.logger.Error("store failed", zap.Error(err))
		s.respondError(w, storeStatus(err), err.Error())
		return
	}
	s.tracker.RecordStore(req.Type, resp.Status == "duplicate")
	s.respondJSON(w, http.StatusOK, resp)
}

// storeStatus maps the error taxonomy to HTTP codes: validation is a client
// error, embedding failures mean the service is unavailable, anything else
// is internal.
func storeStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	s.track("recall")
	var req models.RecallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("recall request", zap.String("query", req.Query))
	resp := s.service.Recall(r.Context(), &req)
	s.tracker.RecordRecall(req.Query, len(resp.Memories))
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.track("list")
	typ := r.URL.Query().Get("type")
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	resp, err := s.service.List(r.Context(), typ, limit, offset)
	if err != nil {
		s.logger.Error("list failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.track("delete")
	id := chi.URLParam(r, "id")
	resp, err := s.service.Delete(r.Context(), id)
	if err != nil {
		s.logger.Error("delete failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.track("stats")
	resp, err := s.service.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.track("health")
	s.respondJSON(w, http.StatusOK, s.service.Health(r.Context()))
}

// track counts the request and, when the report interval is reached, emits
// the diagnostics report off the request path.
func (s *Server) track(endpoint string) {
	s.tracker.RecordRequest(endpoint)
	if s.tracker.ShouldReport() {
		go s.tracker.EmitReport(context.Background())
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
