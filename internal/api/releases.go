package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"release_notifier/internal/domain"
)

type followedReleasesResponse struct {
	Releases []domain.FeedRelease `json:"releases"`
}

type ReleasesHandler struct {
	feed   FeedService
	logger *slog.Logger
}

func NewReleasesHandler(feed FeedService, logger *slog.Logger) *ReleasesHandler {
	return &ReleasesHandler{
		feed:   feed,
		logger: logger.With("component", "releases_api"),
	}
}

// HandleFollowed serves GET /api/releases/followed?user_id=.
func (h *ReleasesHandler) HandleFollowed(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id is invalid")
		return
	}

	releases, err := h.feed.ForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load followed releases", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load releases")
		return
	}

	writeJSON(w, http.StatusOK, followedReleasesResponse{Releases: releases})
}
