package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/cafesns/internal/metrics"
)

// NewMetricsMiddleware はステータスコードとルートごとのレイテンシを記録するミドルウェアを返す。
// ラベルの増加を防ぐため、パスではなくchiのルートパターンを使う。
func NewMetricsMiddleware(collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := routePattern(r)
			if route == "" {
				route = "unmatched"
			}

			collector.RecordHTTPStatus(rec.statusCode)
			collector.RecordRequestLatency(route, time.Since(start))
		})
	}
}

// routePattern はマッチしたchiのルートパターンを返す。ルーティング後に呼ぶこと。
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
