package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsMaxAge       = 24 * 60 * 60

	// refreshTokenHeader はリフレッシュトークンを運ぶリクエストヘッダー名。
	refreshTokenHeader = "RefreshToken"
)

// corsAllowHeaders はクライアントが送るトークン系ヘッダーを含む。
var corsAllowHeaders = strings.Join([]string{"Content-Type", "Authorization", refreshTokenHeader}, ", ")

// NewCORSMiddleware は許可オリジンの一覧に一致するリクエストにCORSヘッダーを付与するミドルウェアを返す。
//
// 一致したOriginをそのままAccess-Control-Allow-Originに返す。一覧が空ならCORSを無効にする。
// 許可されていないOriginからのプリフライトには403で応答する。
func NewCORSMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if _, ok := allowed[origin]; !ok {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
