package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmeshcher/storefront-sync/internal/model"
)

type stubSessions struct {
	session *model.Session
}

func (s stubSessions) Current() (model.Session, bool) {
	if s.session == nil {
		return model.Session{}, false
	}
	return *s.session, true
}

func TestAuthMiddleware_WithSession(t *testing.T) {
	m := NewAuthMiddleware(stubSessions{session: &model.Session{PrincipalID: 42, Role: model.RoleUser}})

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		s, ok := SessionFromContext(r.Context())
		if !ok {
			t.Fatalf("session not in context")
		}
		if s.PrincipalID != 42 {
			t.Fatalf("principal from context = %d, want 42", s.PrincipalID)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutSession(t *testing.T) {
	m := NewAuthMiddleware(stubSessions{})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	m.Middleware(next).ServeHTTP(w, r)

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name string
		role model.Role
		want int
	}{
		{name: "admin", role: model.RoleAdmin, want: http.StatusOK},
		{name: "user", role: model.RoleUser, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewAuthMiddleware(stubSessions{session: &model.Session{PrincipalID: 1, Role: tt.role}})
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/admin", nil)
			m.Middleware(m.RequireAdmin(next)).ServeHTTP(w, r)

			res := w.Result()
			defer res.Body.Close()
			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}
