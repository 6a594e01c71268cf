// Package middleware содержит HTTP middleware хоста движка витрины.
package middleware

import (
	"context"
	"net/http"

	"github.com/mmeshcher/storefront-sync/internal/model"
)

type contextKey string

const sessionKey contextKey = "session"

// SessionSource отдаёт текущую сессию контекста.
type SessionSource interface {
	Current() (model.Session, bool)
}

// AuthMiddleware пропускает запрос, только если в контексте движка есть сессия.
type AuthMiddleware struct {
	sessions SessionSource
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware над кэшем сессии.
func NewAuthMiddleware(sessions SessionSource) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions}
}

// Middleware проверяет наличие сессии и добавляет её снимок в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := a.sessions.Current()
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает только администраторов. Используется после Middleware.
func (a *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := SessionFromContext(r.Context())
		if !ok || s.Role != model.RoleAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionFromContext извлекает снимок сессии из контекста запроса.
func SessionFromContext(ctx context.Context) (model.Session, bool) {
	s, ok := ctx.Value(sessionKey).(model.Session)
	return s, ok
}
