package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins string
	upgrader       websocket.Upgrader
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins — как в CORS (через запятую или "*").
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS поднимает соединение для пользователя из контекста и регистрирует его в хабе.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade user=%s: %v", userID, err)
		return
	}

	client := h.hub.NewClient(conn, userID)
	// Connect закрывает соединение сам, если клиент не принят.
	if err := h.hub.Connect(client); err != nil {
		if !errors.Is(err, ws.ErrTooManyConnections) {
			logger.Warnf("ws connect user=%s: %v", userID, err)
		}
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx, cancel)
}
