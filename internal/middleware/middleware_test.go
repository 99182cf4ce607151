package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, GetUserID(r.Context()))
	})
}

func TestDevAuth(t *testing.T) {
	h := DevAuth(echoUser())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set("X-User-Id", "u1")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?user_id=u2", nil))
	assert.Equal(t, "u2", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
}

func TestAuthServiceValidate(t *testing.T) {
	var got map[string]string
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/validate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got["signature"] != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"user_id":"u9"}`)
	}))
	defer auth.Close()

	h := AuthServiceValidate(auth.URL+"/", auth.Client())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = io.WriteString(w, GetUserID(r.Context())+":"+string(body))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/n1/read?x=1", strings.NewReader("payload"))
	req.Header.Set("X-Session-Id", "sess-123456")
	req.Header.Set("X-Timestamp", "1700000000")
	req.Header.Set("X-Signature", "good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u9:payload", rec.Body.String(), "body is restored for the handler")
	assert.Equal(t, "/api/notifications/n1/read", got["path"])
	assert.Equal(t, "payload", got["body"])

	req = httptest.NewRequest(http.MethodGet, "/ws?session_id=s1&timestamp=1&signature=bad", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMaskSessionID(t *testing.T) {
	assert.Equal(t, "****", MaskSessionID("abc"))
	assert.Equal(t, "abcd***", MaskSessionID(" abcdef "))
}

func TestRateLimitAPI(t *testing.T) {
	h := RateLimitAPI(1, 2)(echoUser())
	call := func(ip, user string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		req.RemoteAddr = ip + ":5555"
		if user != "" {
			req = req.WithContext(WithUserID(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1", "u1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1", "u1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1", "u1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1", "u2"), "limits are per user")

	for i := 0; i < 8; i++ {
		call("10.0.0.2", "")
	}
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.2", ""))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	assert.Equal(t, "192.0.2.7", clientIP(req))
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	assert.Equal(t, "198.51.100.1", clientIP(req))
	req.Header.Set("X-Real-Ip", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())

	h = RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly("s3cret")(echoUser())
	call := func(remote, secret string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/notify", nil)
		req.RemoteAddr = remote
		if secret != "" {
			req.Header.Set("X-Internal-Secret", secret)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, call("127.0.0.1:1", ""))
	assert.Equal(t, http.StatusOK, call("10.1.2.3:1", ""))
	assert.Equal(t, http.StatusForbidden, call("203.0.113.9:1", ""))
	assert.Equal(t, http.StatusForbidden, call("203.0.113.9:1", "wrong"))
	assert.Equal(t, http.StatusOK, call("203.0.113.9:1", "s3cret"))
}

func TestRequestLogKeepsStatus(t *testing.T) {
	h := RequestLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
