package middleware

import (
	"net"
	"net/http"
	"strings"
)

// InternalOnly разрешает запрос только с приватных IP или при заголовке X-Internal-Secret == secret.
// Используется на push-сервисе: /api/notify зовёт только api в той же сети.
func InternalOnly(secret string) func(http.Handler) http.Handler {
	secret = strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && r.Header.Get("X-Internal-Secret") == secret {
				next.ServeHTTP(w, r)
				return
			}
			if ip := clientIP(r); ip != "" && isPrivateIP(ip) {
				next.ServeHTTP(w, r)
				return
			}
			writeJSONError(w, http.StatusForbidden, "forbidden")
		})
	}
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
