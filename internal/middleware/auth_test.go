package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/cafesns/internal/model"
	"github.com/hitoshi/cafesns/internal/token"
)

// mockClock はテスト用の可変時計。
type mockClock struct{ now time.Time }

func (c *mockClock) Now() time.Time { return c.now }

func newTestTokenManager(t *testing.T) (*token.Manager, *mockClock) {
	t.Helper()
	clock := &mockClock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	m, err := token.NewManager(token.Config{
		Secret:    []byte("middleware-test-secret-32-bytes!!"),
		Issuer:    "cafesns",
		AccessTTL: 30 * time.Minute,
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m, clock
}

// TestBearerAuth_ValidToken_InjectsUserAndRole は有効なトークンでユーザーIDと役割が注入されることを検証する。
func TestBearerAuth_ValidToken_InjectsUserAndRole(t *testing.T) {
	manager, _ := newTestTokenManager(t)
	access, err := manager.IssueAccessToken("user-chain-test", model.RoleBusiness)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	var capturedUserID string
	var capturedRole model.Role
	handler := NewBearerAuthMiddleware(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUserID, _ = UserIDFromContext(r.Context())
		capturedRole, _ = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	for _, header := range []string{"Bearer " + access, access} {
		req := httptest.NewRequest(http.MethodPost, "/signout", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if capturedUserID != "user-chain-test" {
			t.Errorf("userID = %q, want %q", capturedUserID, "user-chain-test")
		}
		if capturedRole != model.RoleBusiness {
			t.Errorf("role = %q, want %q", capturedRole, model.RoleBusiness)
		}
	}
}

// TestBearerAuth_Rejects は不正・期限切れ・欠落したトークンで401が返ることを検証する。
func TestBearerAuth_Rejects(t *testing.T) {
	manager, clock := newTestTokenManager(t)
	expired, err := manager.IssueAccessToken("user-1", model.RoleConsumer)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	clock.now = clock.now.Add(time.Hour)

	handler := NewBearerAuthMiddleware(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	tests := map[string]string{
		"missing":   "",
		"garbage":   "Bearer not-a-jwt",
		"expired":   "Bearer " + expired,
		"no bearer": "Basic dXNlcjpwYXNz",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/signout", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if got := w.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q", got)
			}
		})
	}
}

// TestUserIDFromContext_Missing はユーザーIDがない場合にエラーとなることを検証する。
func TestUserIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := UserIDFromContext(req.Context()); err == nil {
		t.Error("expected error for missing user ID")
	}
	if _, ok := RoleFromContext(req.Context()); ok {
		t.Error("expected no role in empty context")
	}

	ctx := ContextWithUserID(req.Context(), "user-9")
	if got, err := UserIDFromContext(ctx); err != nil || got != "user-9" {
		t.Errorf("UserIDFromContext() = (%q, %v)", got, err)
	}
}
