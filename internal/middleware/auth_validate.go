package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teamchat/internal/logger"
)

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// MaskSessionID маскирует session_id в логах (в prod не светить полный id).
func MaskSessionID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}

// credential берёт значение из заголовка, а для WebSocket (браузер не шлёт заголовки) из query.
func credential(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}

// AuthServiceValidate вызывает микросервис авторизации для проверки сессии (X-Session-Id, X-Timestamp, X-Signature).
// Сессии выдаёт auth-сервис; middleware только проверяет подпись и кладёт user_id в контекст.
func AuthServiceValidate(authServiceURL string, client *http.Client) func(http.Handler) http.Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	authServiceURL = strings.TrimSuffix(authServiceURL, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := credential(r, "X-Session-Id", "session_id")
			timestamp := credential(r, "X-Timestamp", "timestamp")
			signature := credential(r, "X-Signature", "signature")
			if sessionID == "" || timestamp == "" || signature == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(r.Body)
				if err != nil {
					writeJSONError(w, http.StatusBadRequest, "bad request")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			// Путь для подписи: только pathname (r.URL.Path), без query.
			jsonBody, _ := json.Marshal(map[string]string{
				"session_id": sessionID,
				"timestamp":  timestamp,
				"signature":  signature,
				"method":     r.Method,
				"path":       r.URL.Path,
				"body":       string(body),
			})
			req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, authServiceURL+"/internal/validate", bytes.NewReader(jsonBody))
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "internal")
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				logger.Errorf("auth validate session=%s: %v", MaskSessionID(sessionID), err)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				logger.Debugf("auth validate session=%s: status %d", MaskSessionID(sessionID), resp.StatusCode)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			var result struct {
				UserID string `json:"user_id"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.UserID == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), result.UserID)))
		})
	}
}

// DevAuth доверяет заголовку X-User-Id (или ?user_id= для WebSocket). Только для локального запуска.
func DevAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(credential(r, "X-User-Id", "user_id"))
		if userID == "" {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
