package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/SiriusScan/patch-intel/patchintel/patch"
	"github.com/SiriusScan/patch-intel/patchintel/runs"
	"github.com/gorilla/mux"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := patch.NewRepository(s.db).Ping(r.Context()); err != nil {
		slog.Warn("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "service": "patch-intel"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "patch-intel"})
}

func (s *Server) handleListPatches(w http.ResponseWriter, r *http.Request) {
	patches, err := s.patches.GetAllPatches(r.Context())
	if err != nil {
		slog.Error("Failed to list patches", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list patches")
		return
	}
	writeJSON(w, http.StatusOK, patches)
}

func (s *Server) handleGetPatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusNotFound, "patch not found")
		return
	}

	p, err := s.patches.GetPatch(r.Context(), uint(id))
	if errors.Is(err, patch.ErrNotFound) {
		writeError(w, http.StatusNotFound, "patch not found")
		return
	}
	if err != nil {
		slog.Error("Failed to get patch", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get patch")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSearchPatches(w http.ResponseWriter, r *http.Request) {
	patches, err := s.patches.SearchPatches(r.Context(), r.URL.Query().Get("q"))
	if errors.Is(err, patch.ErrEmptySearchTerm) {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	if err != nil {
		slog.Error("Failed to search patches", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to search patches")
		return
	}
	writeJSON(w, http.StatusOK, patches)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := patch.GetStatisticsCached(r.Context(), s.db, s.kv)
	if err != nil {
		slog.Error("Failed to compute statistics", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	limit := runs.MaxRuns
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l < limit {
			limit = l
		}
	}

	list, err := s.runs.List(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	summary, err := s.runs.Latest(r.Context())
	if errors.Is(err, runs.ErrNoRuns) {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	if err != nil {
		slog.Error("Failed to get latest run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get latest run")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	summary, err := s.runs.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, runs.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		slog.Error("Failed to get run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
