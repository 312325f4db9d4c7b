package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"release_notifier/internal/domain"
)

type listRequest struct {
	UserID     string `json:"userId" validate:"required,uuid"`
	Limit      int    `json:"limit" validate:"gte=0"`
	Offset     int    `json:"offset" validate:"gte=0"`
	UnreadOnly bool   `json:"unreadOnly"`
}

type listResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unreadCount"`
	Total         int                   `json:"total"`
}

type markReadRequest struct {
	NotificationID string `json:"notificationId" validate:"required,uuid"`
	UserID         string `json:"userId" validate:"required,uuid"`
}

type markReadResponse struct {
	Success      bool                 `json:"success"`
	Notification *domain.Notification `json:"notification"`
	UnreadCount  int                  `json:"unreadCount"`
}

type markAllReadRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
}

type markAllReadResponse struct {
	Success     bool  `json:"success"`
	MarkedCount int64 `json:"markedCount"`
	UnreadCount int   `json:"unreadCount"`
}

type NotificationHandler struct {
	service  NotificationService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewNotificationHandler(svc NotificationService, validate *validator.Validate, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service:  svc,
		validate: validate,
		logger:   logger.With("component", "notifications_api"),
	}
}

func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/list", h.HandleList)
	r.Post("/mark-read", h.HandleMarkRead)
	r.Post("/mark-all-read", h.HandleMarkAllRead)
}

func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !h.bind(w, r, &req) {
		return
	}

	page, err := h.service.List(r.Context(), domain.NotificationFilter{
		UserID:     uuid.MustParse(req.UserID),
		Limit:      req.Limit,
		Offset:     req.Offset,
		UnreadOnly: req.UnreadOnly,
	})
	if err != nil {
		h.logger.Error("failed to list notifications", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch notifications")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Notifications: page.Notifications,
		UnreadCount:   page.UnreadCount,
		Total:         len(page.Notifications),
	})
}

func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if !h.bind(w, r, &req) {
		return
	}

	n, unread, err := h.service.MarkRead(r.Context(), uuid.MustParse(req.UserID), uuid.MustParse(req.NotificationID))
	if errors.Is(err, domain.ErrNotificationNotFound) {
		writeError(w, http.StatusNotFound, "Notification not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to mark notification read", "notification_id", req.NotificationID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to mark notification as read")
		return
	}

	writeJSON(w, http.StatusOK, markReadResponse{Success: true, Notification: n, UnreadCount: unread})
}

func (h *NotificationHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	var req markAllReadRequest
	if !h.bind(w, r, &req) {
		return
	}

	marked, err := h.service.MarkAllRead(r.Context(), uuid.MustParse(req.UserID))
	if err != nil {
		h.logger.Error("failed to mark all notifications read", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to mark all notifications as read")
		return
	}

	writeJSON(w, http.StatusOK, markAllReadResponse{Success: true, MarkedCount: marked})
}

// bind decodes and validates the request body, answering 400 on failure.
// UUID fields are guaranteed parseable once it returns true.
func (h *NotificationHandler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return fe.Field() + " is required"
		}
		return fe.Field() + " is invalid"
	}
	return "Invalid request"
}
