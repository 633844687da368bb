package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/scalesync/internal/history"
	"github.com/nerrad567/scalesync/internal/scale"
)

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	scales := 0
	if src := s.getScales(); src != nil {
		scales = len(src.Snapshots())
	}
	var (
		clients int
		dropped uint64
	)
	if s.hub != nil {
		clients = s.hub.ClientCount()
		dropped = s.hub.Dropped()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"scales":     scales,
		"ws_clients": clients,
		"ws_dropped": dropped,
	})
}

// scaleView is the JSON form of a scale record.
type scaleView struct {
	scale.Snapshot
	Status  string `json:"status"`
	Percent int    `json:"percent"`
}

// handleListScales returns every registered scale. Before a sync has
// built the registry the list is empty.
func (s *Server) handleListScales(w http.ResponseWriter, _ *http.Request) {
	views := []scaleView{}
	if src := s.getScales(); src != nil {
		for _, snap := range src.Snapshots() {
			views = append(views, scaleView{
				Snapshot: snap,
				Status:   snap.Status(),
				Percent:  snap.Percent(),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scales": views,
		"count":  len(views),
	})
}

// handleListRuns returns recent sync runs. ?limit=N caps the count; the
// repository applies its own default and maximum.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "sync history is not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing sync runs", "error", err)
		writeInternalError(w, "failed to list sync runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetRun returns one run with its corrections and scale results.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "sync history is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.history.GetRun(r.Context(), id)
	switch {
	case errors.Is(err, history.ErrRunNotFound):
		writeNotFound(w, "sync run not found")
	case errors.Is(err, history.ErrInvalidRunID):
		writeBadRequest(w, "invalid run id")
	case err != nil:
		s.logger.Error("getting sync run", "run_id", id, "error", err)
		writeInternalError(w, "failed to get sync run")
	default:
		writeJSON(w, http.StatusOK, run)
	}
}
