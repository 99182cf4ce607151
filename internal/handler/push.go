package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/push"
)

// Subscriber — часть push.Client, нужная обработчику подписок.
type Subscriber interface {
	Enabled() bool
	Subscribe(ctx context.Context, userID string, sub push.PushSubscription) error
	Unsubscribe(ctx context.Context, userID, endpoint string) error
}

// PushHandler проксирует подписки браузера на push-сервис.
type PushHandler struct {
	client Subscriber
}

func NewPushHandler(client Subscriber) *PushHandler {
	return &PushHandler{client: client}
}

// Subscribe — POST /api/push/subscribe, тело: {"subscription": PushManager.getSubscription()}.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if !h.client.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "push disabled")
		return
	}
	userID := middleware.GetUserID(r.Context())
	var req push.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	sub := req.Subscription
	if !strings.HasPrefix(sub.Endpoint, "https://") || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription.endpoint (https) and subscription.keys required")
		return
	}
	if err := h.client.Subscribe(r.Context(), userID, sub); err != nil {
		logger.Errorf("push.Subscribe user=%s: %v", userID, err)
		writeError(w, http.StatusBadGateway, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unsubscribe — POST /api/push/unsubscribe {"endpoint": "..."}.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if !h.client.Enabled() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	userID := middleware.GetUserID(r.Context())
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.client.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		logger.Errorf("push.Unsubscribe user=%s: %v", userID, err)
		writeError(w, http.StatusBadGateway, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
