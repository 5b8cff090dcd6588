package proxy

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "tokentap",
	})
}

func (s *Server) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tracker.Summary(r.Context())
	if err != nil {
		slog.Error("summary query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatsByModel(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tracker.ByModel(r.Context())
	if err != nil {
		slog.Error("by-model query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": stats})
}

func (s *Server) handleStatsRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	reqs, err := s.tracker.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("recent query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}
