package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/push"
	"github.com/teamchat/internal/service"
	"github.com/teamchat/internal/storage/memory"
	"github.com/teamchat/internal/ws"
)

func asUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.WithUserID(r.Context(), userID))
}

func seedNotifications(t *testing.T, st *memory.Store) {
	t.Helper()
	ns := st.Stores().Notifications
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, ns.Create(context.Background(), &model.Notification{
			ID: id, UserID: "u1", Type: model.NotificationMention, MessageID: "m" + id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, ns.Create(context.Background(), &model.Notification{ID: "other", UserID: "u2", CreatedAt: base}))
}

func notificationRouter(h *NotificationHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/notifications", h.List)
	r.Post("/api/notifications/{id}/read", h.MarkRead)
	r.Get("/api/notifications/preference", h.GetPreference)
	r.Put("/api/notifications/preference", h.SetPreference)
	return r
}

func TestNotificationListAndMarkRead(t *testing.T) {
	st := memory.New()
	seedNotifications(t, st)
	stores := st.Stores()
	router := notificationRouter(NewNotificationHandler(stores.Notifications, stores.Preferences))

	list := func(query string) []model.Notification {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/notifications"+query, nil), "u1"))
		require.Equal(t, http.StatusOK, rec.Code)
		var out []model.Notification
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	all := list("")
	require.Len(t, all, 3)
	assert.Equal(t, "n3", all[0].ID, "newest first")

	page := list("?limit=1&offset=1")
	require.Len(t, page, 1)
	assert.Equal(t, "n2", page[0].ID)
	assert.Len(t, list("?limit=0"), 1, "limit is clamped to at least one")
	assert.Len(t, list("?limit=100000"), 3)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/notifications/n2/read", nil), "u1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	unread := list("?unread=true")
	require.Len(t, unread, 2)
	for _, n := range unread {
		assert.NotEqual(t, "n2", n.ID)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/notifications/other/read", nil), "u1"))
	assert.Equal(t, http.StatusNotFound, rec.Code, "cannot mark another user's notification")

	assert.Empty(t, list("?offset=50"))
}

func TestNotificationPreference(t *testing.T) {
	stores := memory.New().Stores()
	router := notificationRouter(NewNotificationHandler(stores.Notifications, stores.Preferences))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/notifications/preference", nil), "u1"))
	assert.JSONEq(t, `{"type":"all"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPut, "/api/notifications/preference", strings.NewReader(`{"type":"nothing"}`)), "u1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	p, err := stores.Preferences.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.PreferenceNothing, p)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPut, "/api/notifications/preference", strings.NewReader(`{"type":"loud"}`)), "u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type subscriberMock struct {
	mock.Mock
	enabled bool
}

func (m *subscriberMock) Enabled() bool { return m.enabled }

func (m *subscriberMock) Subscribe(ctx context.Context, userID string, sub push.PushSubscription) error {
	return m.Called(userID, sub.Endpoint).Error(0)
}

func (m *subscriberMock) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return m.Called(userID, endpoint).Error(0)
}

func TestPushSubscribe(t *testing.T) {
	sub := &subscriberMock{enabled: true}
	sub.On("Subscribe", "u1", "https://push.example/abc").Return(nil).Once()
	sub.On("Unsubscribe", "u1", "https://push.example/abc").Return(errors.New("down")).Once()
	h := NewPushHandler(sub)

	body := `{"subscription":{"endpoint":"https://push.example/abc","keys":{"p256dh":"k","auth":"a"}}}`
	rec := httptest.NewRecorder()
	h.Subscribe(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader(body)), "u1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.Subscribe(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader(`{"subscription":{"endpoint":"http://x"}}`)), "u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Unsubscribe(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/push/unsubscribe", strings.NewReader(`{"endpoint":"https://push.example/abc"}`)), "u1"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	sub.AssertExpectations(t)

	off := NewPushHandler(&subscriberMock{})
	rec = httptest.NewRecorder()
	off.Subscribe(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader(body)), "u1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckOrigin(t *testing.T) {
	h := NewWSHandler(nil, "https://app.example, https://admin.example")
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, h.checkOrigin(req), "no origin header")
	req.Header.Set("Origin", "https://admin.example")
	assert.True(t, h.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))
	assert.True(t, NewWSHandler(nil, "*").checkOrigin(req))
}

func TestServeWSRoundTrip(t *testing.T) {
	st := memory.New()
	st.AddUser(model.User{ID: "a", Username: "alice"})
	st.AddOrgMember("org", "a")
	st.AddChannel(model.Channel{ID: "c1", OrganisationID: "org", Name: "general", Members: []string{"a"}})
	stores := st.Stores()
	hub := ws.NewHub(ws.NewRegistry(10, nil), service.NewMessenger(stores), nil, nil, ws.ClientConfig{})

	srv := httptest.NewServer(middleware.DevAuth(http.HandlerFunc(NewWSHandler(hub, "*").ServeWS)))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?user_id=a", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "channel-open",
		"ack_id":  "1",
		"payload": map[string]string{"id": "c1", "userId": "a"},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var seen []string
	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		seen = append(seen, msg.Type)
		if msg.Type == "ack" {
			assert.JSONEq(t, `{"ack_id":"1","ok":true}`, string(msg.Payload))
			break
		}
	}
	assert.Contains(t, seen, "channel-updated")
	u, err := stores.Users.GetByID(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
}

func TestServeWSRequiresUser(t *testing.T) {
	rec := httptest.NewRecorder()
	NewWSHandler(nil, "*").ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
