package http

import (
	"net/http"
	"strconv"

	"github.com/melon-hub/melon-rank/config"
	"github.com/melon-hub/melon-rank/internal/application/query"
	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
	"github.com/melon-hub/melon-rank/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "melon-rank",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":      "/health",
			"ready":       "/ready",
			"leaderboard": "/api/v1/leaderboard?kind=chat|voice&limit=10",
			"progress":    "/api/v1/members/{id}/progress",
			"card":        "/api/v1/members/{id}/card.png",
		},
	}, nil)
}

// handleHealth answers 503 only when a critical check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status, nil)
}

// handleReady answers 503 when any check fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		}, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"}, nil)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLeaderboard handles GET /api/v1/leaderboard
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leaderboard == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Leaderboard handler not configured")
		return
	}

	kind := progression.KindChat
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, err := progression.ParseKind(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_kind", "kind must be chat or voice")
			return
		}
		kind = k
	}

	limit, err := getQueryParamInt(r, "limit", 10)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	result, err := s.deps.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{
		Kind:        kind,
		Limit:       limit,
		OnlyPresent: getQueryParamBool(r, "present", true),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result, &ResponseMeta{TotalCount: result.TotalMembers})
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMBER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetMemberProgress handles GET /api/v1/members/{id}/progress
func (s *Server) handleGetMemberProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.Progress == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Progress handler not configured")
		return
	}

	dto, err := s.deps.Progress.Handle(r.Context(), query.GetMemberProgressQuery{
		MemberID:    r.PathValue("id"),
		IncludeRank: getQueryParamBool(r, "rank", true),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto, nil)
}

// handleGetMemberCard handles GET /api/v1/members/{id}/card.png
func (s *Server) handleGetMemberCard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cards == nil || (s.deps.Features != nil && !s.deps.Features.IsEnabled(config.FeatureHTTPCardEndpoint)) {
		writeJSONError(w, http.StatusNotFound, "not_found", "Card endpoint is disabled")
		return
	}

	png, err := s.deps.Cards.PNG(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsInvalidArgument(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsUnavailable(err):
		logger.FromContext(r.Context()).Warn("dependency unavailable", logger.Err(err))
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "A dependency is unavailable, try again later")
	default:
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
