package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/push"
)

type subscriptionStore interface {
	AddSubscription(ctx context.Context, userID string, sub push.PushSubscription) error
	Subscriptions(ctx context.Context, userID string) ([]push.PushSubscription, error)
	RemoveSubscription(ctx context.Context, userID, endpoint string) error
}

// Server хранит подписки и рассылает Web Push. При vapid == nil подписки принимаются, отправка не выполняется.
type Server struct {
	store     subscriptionStore
	vapid     *webpush.Options
	publicKey string
}

func (s *Server) handleVAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if s.vapid == nil {
		http.Error(w, "push not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(s.publicKey))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req push.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Subscription.Endpoint == "" || req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
		http.Error(w, "user_id and subscription (endpoint, keys.p256dh, keys.auth) required", http.StatusBadRequest)
		return
	}
	if err := s.store.AddSubscription(r.Context(), req.UserID, req.Subscription); err != nil {
		logger.Errorf("subscribe user=%s: %v", req.UserID, err)
		http.Error(w, "failed to save subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Endpoint == "" {
		http.Error(w, "user_id and endpoint required", http.StatusBadRequest)
		return
	}
	if err := s.store.RemoveSubscription(r.Context(), req.UserID, req.Endpoint); err != nil {
		logger.Errorf("unsubscribe user=%s: %v", req.UserID, err)
		http.Error(w, "failed to remove subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNotify шлёт пуш на все подписки пользователя. Подписки, на которые
// push-сервис браузера ответил 404/410, удаляются.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req push.NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	if s.vapid == nil {
		logger.Debugf("notify user=%s: vapid not configured, skipped", req.UserID)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	subs, err := s.store.Subscriptions(ctx, req.UserID)
	if err != nil {
		logger.Errorf("notify user=%s: %v", req.UserID, err)
		http.Error(w, "failed to get subscriptions", http.StatusInternalServerError)
		return
	}
	payload, _ := json.Marshal(map[string]any{"title": req.Title, "body": req.Body, "data": req.Data})
	for _, sub := range subs {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}, s.vapid)
		if err != nil {
			logger.Errorf("send %s: %v", shortEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			if err := s.store.RemoveSubscription(ctx, req.UserID, sub.Endpoint); err != nil {
				logger.Errorf("drop expired subscription user=%s: %v", req.UserID, err)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func shortEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return e
}
