package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveCORS(t *testing.T, origins []string, req *http.Request) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	h := NewCORSMiddleware(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, called
}

func preflightRequest(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/reissue", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, RefreshToken")
	return req
}

func TestCORS_Preflight_AllowedOrigin(t *testing.T) {
	origins := []string{"https://app.cafesns.example", "http://localhost:3000/"}

	w, called := serveCORS(t, origins, preflightRequest("http://localhost:3000"))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if called {
		t.Error("preflight must not reach the route handler")
	}

	want := map[string]string{
		"Access-Control-Allow-Origin":  "http://localhost:3000",
		"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization, RefreshToken",
		"Access-Control-Max-Age":       "86400",
		"Vary":                         "Origin",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestCORS_Preflight_UnknownOrigin_Forbidden(t *testing.T) {
	w, called := serveCORS(t, []string{"https://app.cafesns.example"}, preflightRequest("https://evil.example"))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if called {
		t.Error("rejected preflight must not reach the route handler")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORS_SimpleRequest_EchoesOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/signin", nil)
	req.Header.Set("Origin", "https://app.cafesns.example")

	w, called := serveCORS(t, []string{"https://app.cafesns.example"}, req)

	if !called || w.Code != http.StatusOK {
		t.Fatalf("called = %v, status = %d", called, w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.cafesns.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	// プリフライト専用のヘッダーは付かない
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "" {
		t.Errorf("Access-Control-Allow-Methods = %q, want empty", got)
	}
}

func TestCORS_SimpleRequest_UnknownOrigin_PassesWithoutHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Origin", "https://evil.example")

	w, called := serveCORS(t, []string{"https://app.cafesns.example"}, req)

	if !called {
		t.Error("same-origin policy is enforced by the browser; the handler still runs")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORS_NoOriginsConfigured_Disabled(t *testing.T) {
	w, called := serveCORS(t, []string{" ", ""}, preflightRequest("https://app.cafesns.example"))

	if !called {
		t.Error("OPTIONS should reach the handler when CORS is disabled")
	}
	if got := w.Header().Get("Vary"); got != "" {
		t.Errorf("Vary = %q, want empty", got)
	}
}
