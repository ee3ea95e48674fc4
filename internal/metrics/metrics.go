// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome は認証操作の結果ラベル。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// OAuthStage はOAuth連携で失敗した段階のラベル。
const (
	OAuthStageState    = "state"
	OAuthStageExchange = "exchange"
	OAuthStageProfile  = "profile"
	OAuthStageAccount  = "account"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスとHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordSignup(role string)
	RecordSignin(outcome string)
	RecordReissue(outcome string)
	RecordSignout(revoked bool)
	RecordOAuthLogin(outcome string)
	RecordOAuthFailure(stage string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(route string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signups        *prometheus.CounterVec
	signins        *prometheus.CounterVec
	reissues       *prometheus.CounterVec
	signouts       *prometheus.CounterVec
	oauthLogins    *prometheus.CounterVec
	oauthFailures  *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cafesns_signup_total",
			Help: "役割別のサインアップ成功数",
		}, []string{"role"}),
		signins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cafesns_signin_total",
			Help: "結果別のサインイン試行数",
		}, []string{"outcome"}),
		reissues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cafesns_reissue_total",
			Help: "結果別のトークン再発行数（失敗はエラーコード）",
		}, []string{"outcome"}),
		signouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cafesns_signout_total",
			Help: "サインアウト数（revoked=falseは既にサインアウト済み）",
		}, []string{"revoked"}),
		oauthLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cafesns_oauth_login_total",
			Help: "結果別のOAuthログイン数",
		}, []string{"outcome"}),
		oauthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cafesns_oauth_failure_total",
			Help: "段階別のOAuth失敗数",
		}, []string{"stage"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cafesns_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cafesns_http_request_duration_seconds",
			Help:    "ルート別のリクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.signups,
		c.signins,
		c.reissues,
		c.signouts,
		c.oauthLogins,
		c.oauthFailures,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordSignup はサインアップ成功を記録する。
func (c *Collector) RecordSignup(role string) {
	c.signups.WithLabelValues(role).Inc()
}

// RecordSignin はサインイン結果を記録する。
func (c *Collector) RecordSignin(outcome string) {
	c.signins.WithLabelValues(outcome).Inc()
}

// RecordReissue はトークン再発行の結果を記録する。
func (c *Collector) RecordReissue(outcome string) {
	c.reissues.WithLabelValues(outcome).Inc()
}

// RecordSignout はサインアウトを記録する。
func (c *Collector) RecordSignout(revoked bool) {
	c.signouts.WithLabelValues(strconv.FormatBool(revoked)).Inc()
}

// RecordOAuthLogin はOAuthログインの結果を記録する。
func (c *Collector) RecordOAuthLogin(outcome string) {
	c.oauthLogins.WithLabelValues(outcome).Inc()
}

// RecordOAuthFailure はOAuth連携の失敗段階を記録する。
func (c *Collector) RecordOAuthFailure(stage string) {
	c.oauthFailures.WithLabelValues(stage).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はルートパターン単位で処理時間を記録する。
// ラベルの濃度を抑えるため、実パスではなくルートパターンを渡すこと。
func (c *Collector) RecordRequestLatency(route string, duration time.Duration) {
	c.requestLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// nopCollector は何も記録しないMetricsCollector。
type nopCollector struct{}

// Nop は何も記録しないMetricsCollectorを返す。メトリクス不要なテストやツールで使う。
func Nop() MetricsCollector {
	return nopCollector{}
}

func (nopCollector) RecordSignup(string)                        {}
func (nopCollector) RecordSignin(string)                        {}
func (nopCollector) RecordReissue(string)                       {}
func (nopCollector) RecordSignout(bool)                         {}
func (nopCollector) RecordOAuthLogin(string)                    {}
func (nopCollector) RecordOAuthFailure(string)                  {}
func (nopCollector) RecordHTTPStatus(int)                       {}
func (nopCollector) RecordRequestLatency(string, time.Duration) {}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
