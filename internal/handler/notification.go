package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 100
)

// NotificationHandler отдаёт уведомления текущего пользователя и его настройку уведомлений.
type NotificationHandler struct {
	notifications storage.Notifications
	preferences   storage.Preferences
}

func NewNotificationHandler(notifications storage.Notifications, preferences storage.Preferences) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, preferences: preferences}
}

// List — GET /api/notifications?limit=&offset=&unread=
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("notification.List", time.Now())()
	userID := middleware.GetUserID(r.Context())
	limit := clamp(queryInt(r, "limit", defaultNotificationLimit), 1, maxNotificationLimit)
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	unread := r.URL.Query().Get("unread")
	unreadOnly := unread == "1" || unread == "true"

	list, err := h.notifications.ListByUser(r.Context(), userID, unreadOnly, limit, offset)
	if err != nil {
		logger.Errorf("notification.List user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkRead — POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}
	if err := h.notifications.MarkRead(r.Context(), id, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		logger.Errorf("notification.MarkRead id=%s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type preferenceBody struct {
	Type model.PreferenceType `json:"type"`
}

// GetPreference — GET /api/notifications/preference
func (h *NotificationHandler) GetPreference(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	p, err := h.preferences.Get(r.Context(), userID)
	if err != nil {
		logger.Errorf("notification.GetPreference user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, preferenceBody{Type: p})
}

// SetPreference — PUT /api/notifications/preference {"type":"all|direct_mentions_keywords|nothing"}
func (h *NotificationHandler) SetPreference(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var body preferenceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	switch body.Type {
	case model.PreferenceAll, model.PreferenceDirectMentions, model.PreferenceNothing:
	default:
		writeError(w, http.StatusBadRequest, "unknown preference type")
		return
	}
	if err := h.preferences.Set(r.Context(), userID, body.Type); err != nil {
		logger.Errorf("notification.SetPreference user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, body)
}
