// Package middleware содержит HTTP middleware операторского API бота автомойки.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// TokenAuth пропускает запросы с заголовком Authorization: Bearer <token>.
type TokenAuth struct {
	token []byte
}

// NewTokenAuth создаёт проверку токена. Пустой токен запрещает все защищённые запросы.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: []byte(token)}
}

// Enabled сообщает, задан ли токен оператора.
func (a *TokenAuth) Enabled() bool {
	return len(a.token) > 0
}

// Middleware проверяет токен оператора перед вызовом next.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), a.token) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="carwash"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
