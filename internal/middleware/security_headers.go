package middleware

import (
	"fmt"
	"net/http"
	"time"
)

// SecurityHeadersConfig はセキュリティヘッダーの設定。
type SecurityHeadersConfig struct {
	// HSTSMaxAge が0以下ならStrict-Transport-Securityを送らない。
	// TLS終端の手前で動かす開発環境向け。
	HSTSMaxAge time.Duration
}

// JSON APIのためスクリプトやフレーム埋め込みは一切許可しない
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はAPIレスポンス共通のセキュリティヘッダーを付与するミドルウェアを返す。
// レスポンスにはトークンが含まれるため、キャッシュは常に禁止する。
func NewSecurityHeadersMiddleware(cfg SecurityHeadersConfig) func(next http.Handler) http.Handler {
	headers := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": apiContentSecurityPolicy,
		"Cache-Control":           "no-store",
		"Pragma":                  "no-cache",
	}
	if cfg.HSTSMaxAge > 0 {
		headers["Strict-Transport-Security"] = fmt.Sprintf("max-age=%d; includeSubDomains", int64(cfg.HSTSMaxAge/time.Second))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range headers {
				h.Set(k, v)
			}
			next.ServeHTTP(w, r)
		})
	}
}
