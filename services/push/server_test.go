package main

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/push"
)

type memSubs struct {
	mu   sync.Mutex
	subs map[string][]push.PushSubscription
}

func newMemSubs() *memSubs { return &memSubs{subs: map[string][]push.PushSubscription{}} }

func (m *memSubs) AddSubscription(ctx context.Context, userID string, sub push.PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[userID] = append(m.subs[userID], sub)
	return nil
}

func (m *memSubs) Subscriptions(ctx context.Context, userID string) ([]push.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]push.PushSubscription(nil), m.subs[userID]...), nil
}

func (m *memSubs) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.subs[userID][:0]
	for _, s := range m.subs[userID] {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	m.subs[userID] = kept
	return nil
}

func browserSubscription(t *testing.T, endpoint string) push.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	var sub push.PushSubscription
	sub.Endpoint = endpoint
	sub.Keys.P256dh = base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
	sub.Keys.Auth = base64.RawURLEncoding.EncodeToString(secret)
	return sub
}

func do(t *testing.T, h http.Handler, method, path, body string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	store := newMemSubs()
	h := newRouter(&Server{store: store}, "")

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/subscribe",
		`{"user_id":"u1","subscription":{"endpoint":"https://push.example/1","keys":{"p256dh":"k","auth":"a"}}}`))
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/subscribe", `{"user_id":"u1"}`))
	subs, _ := store.Subscriptions(context.Background(), "u1")
	require.Len(t, subs, 1)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/subscribe", `{"user_id":"u1","endpoint":"https://push.example/1"}`))
	subs, _ = store.Subscriptions(context.Background(), "u1")
	assert.Empty(t, subs)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/vapid-public", ""))
}

func TestAPIIsInternalOnly(t *testing.T) {
	h := newRouter(&Server{store: newMemSubs()}, "")
	req := httptest.NewRequest(http.MethodPost, "/api/notify", strings.NewReader(`{"user_id":"u1"}`))
	req.RemoteAddr = "203.0.113.10:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNotifyWithoutVAPIDIsNoop(t *testing.T) {
	h := newRouter(&Server{store: newMemSubs()}, "")
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/notify", `{"user_id":"u1","title":"t"}`))
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/notify", `{"title":"t"}`))
}

func TestNotifySendsAndDropsGoneSubscriptions(t *testing.T) {
	var live, gone atomic.Int32
	browser := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/gone") {
			gone.Add(1)
			w.WriteHeader(http.StatusGone)
			return
		}
		live.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer browser.Close()

	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	keys := &push.VAPIDKeys{PublicKey: pub, PrivateKey: priv}

	store := newMemSubs()
	ctx := context.Background()
	require.NoError(t, store.AddSubscription(ctx, "u1", browserSubscription(t, browser.URL+"/live")))
	require.NoError(t, store.AddSubscription(ctx, "u1", browserSubscription(t, browser.URL+"/gone")))

	h := newRouter(&Server{store: store, vapid: keys.Options("mailto:ops@teamchat.local", 30), publicKey: pub}, "")
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/notify", `{"user_id":"u1","title":"Sam mentioned you","body":"hi"}`))

	assert.Equal(t, int32(1), live.Load())
	assert.Equal(t, int32(1), gone.Load())
	subs, _ := store.Subscriptions(ctx, "u1")
	require.Len(t, subs, 1)
	assert.True(t, strings.HasSuffix(subs[0].Endpoint, "/live"))
}
