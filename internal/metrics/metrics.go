// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// CODEFクライアント、外部サービスクライアント、HTTPミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordTokenIssued(reason string)
	RecordTokenIssueFailure(reason string)
	RecordUpstreamCall(service, operation, outcome string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordSessionsExpired(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokenIssued     *prometheus.CounterVec
	tokenIssueFail  *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	httpStatus      *prometheus.CounterVec
	sessionsExpired prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finsight_codef_token_issued_total",
			Help: "CODEFアクセストークン発行の合計数（理由別）",
		}, []string{"reason"}),
		tokenIssueFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finsight_codef_token_issue_fail_total",
			Help: "CODEFアクセストークン発行失敗の合計数（理由別）",
		}, []string{"reason"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finsight_upstream_calls_total",
			Help: "外部サービス呼び出しの合計数",
		}, []string{"service", "operation", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finsight_upstream_latency_seconds",
			Help:    "外部サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finsight_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finsight_sessions_expired_total",
			Help: "期限切れで削除されたセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.tokenIssued,
		c.tokenIssueFail,
		c.upstreamCalls,
		c.upstreamLatency,
		c.httpStatus,
		c.sessionsExpired,
	)

	return c
}

// RecordTokenIssued はトークン発行を記録する。
func (c *Collector) RecordTokenIssued(reason string) {
	c.tokenIssued.WithLabelValues(reason).Inc()
}

// RecordTokenIssueFailure はトークン発行失敗を記録する。
func (c *Collector) RecordTokenIssueFailure(reason string) {
	c.tokenIssueFail.WithLabelValues(reason).Inc()
}

// RecordUpstreamCall は外部サービス呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordUpstreamCall(service, operation, outcome string, duration time.Duration) {
	c.upstreamCalls.WithLabelValues(service, operation, outcome).Inc()
	c.upstreamLatency.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsExpired は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsExpired(count int64) {
	if count <= 0 {
		return
	}
	c.sessionsExpired.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
