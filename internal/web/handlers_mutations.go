package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/shopsheet/internal/web/templates"
)

// handlePurge deletes every record in chunks. chunk_size (form or query)
// overrides the configured default.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	chunkSize := parseIntParam(r, "chunk_size", s.cfg.Purge.ChunkSize)

	ctx := r.Context()
	if s.cfg.Purge.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Purge.Timeout)
		defer cancel()
	}

	result, err := s.service.Purge(ctx, chunkSize)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	if wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.PurgeResult(result.Deleted, result.Batches).Render(r.Context(), w)
		return
	}

	writeJSON(w, r, http.StatusOK, PurgeResponse{Deleted: result.Deleted, Batches: result.Batches})
}

// handleHealth reports liveness and, when a store is attached, database
// reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"imports": s.service.LimiterStatus(),
	}

	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			status["status"] = "unavailable"
			status["database"] = "unreachable"
			writeJSON(w, r, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}

	writeJSON(w, r, http.StatusOK, status)
}
