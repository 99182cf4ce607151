package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/teamchat/internal/model"
)

// Client вызывает микросервис пуш-уведомлений. Если URL пустой — методы no-op.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. baseURL пустой — пуши отключены.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled — задан ли URL push-сервиса.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// SubscribeRequest — тело запроса подписки.
type SubscribeRequest struct {
	UserID       string           `json:"user_id"`
	Subscription PushSubscription `json:"subscription"`
}

// PushSubscription — подписка из браузера.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (c *Client) send(ctx context.Context, method, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("push %s %s: %d", method, path, resp.StatusCode)
	}
	return nil
}

// Subscribe сохраняет подписку для user_id на push-сервисе.
func (c *Client) Subscribe(ctx context.Context, userID string, sub PushSubscription) error {
	if c.baseURL == "" {
		return nil
	}
	return c.send(ctx, http.MethodPost, "/api/subscribe", SubscribeRequest{UserID: userID, Subscription: sub})
}

// Unsubscribe удаляет подписку по endpoint.
func (c *Client) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if c.baseURL == "" {
		return nil
	}
	return c.send(ctx, http.MethodDelete, "/api/subscribe", map[string]string{"user_id": userID, "endpoint": endpoint})
}

// NotifyRequest — запрос на отправку уведомления.
type NotifyRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Notify отправляет пуш пользователю без живого соединения.
func (c *Client) Notify(ctx context.Context, req NotifyRequest) error {
	if c.baseURL == "" {
		return nil
	}
	return c.send(ctx, http.MethodPost, "/api/notify", req)
}

const maxPreview = 120

// FromNotification собирает пуш из сохранённого уведомления: заголовок по типу, тело — превью текста.
func FromNotification(n *model.Notification, senderName, text string) NotifyRequest {
	room := ""
	switch {
	case n.Detail.Mention != nil:
		room = n.Detail.Mention.RoomName
	case n.Detail.ChannelMention != nil:
		room = n.Detail.ChannelMention.RoomName
	case n.Detail.DirectMessage != nil:
		room = n.Detail.DirectMessage.RoomName
	case n.Detail.ThreadReply != nil:
		room = n.Detail.ThreadReply.RoomName
	}

	var title string
	switch n.Type {
	case model.NotificationMention:
		title = senderName + " mentioned you"
	case model.NotificationChannelMention:
		title = senderName + " notified the channel"
	case model.NotificationThreadReply:
		title = senderName + " replied in a thread"
	default:
		title = senderName
	}
	if room != "" && n.Type != model.NotificationDirectMessage {
		title += " in " + room
	}

	if r := []rune(text); len(r) > maxPreview {
		text = string(r[:maxPreview]) + "…"
	}
	data := map[string]string{
		"notification_id": n.ID,
		"message_id":      n.MessageID,
		"type":            string(n.Type),
	}
	if n.ChannelID != "" {
		data["channel_id"] = n.ChannelID
	}
	if n.ConversationID != "" {
		data["conversation_id"] = n.ConversationID
	}
	return NotifyRequest{UserID: n.UserID, Title: title, Body: text, Data: data}
}
