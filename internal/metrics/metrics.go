// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証操作の結果ラベル
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// メール送信結果ラベル
const (
	ResultSent   = "sent"
	ResultFailed = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・メール送信・ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthOperation(operation, outcome string)
	RecordMailDispatch(kind, result string, duration time.Duration)
	RecordVerificationRequestsReaped(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authOperations *prometheus.CounterVec
	mailDispatch   *prometheus.HistogramVec
	reaped         prometheus.Counter
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_auth_operations_total",
			Help: "認証操作の結果別件数",
		}, []string{"operation", "outcome"}),
		mailDispatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atelier_mail_dispatch_seconds",
			Help:    "確認コードメール送信の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "result"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atelier_verification_requests_reaped_total",
			Help: "クリーンアップで削除された失効済み確認コードの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authOperations,
		c.mailDispatch,
		c.reaped,
		c.httpStatus,
	)

	return c
}

// RecordAuthOperation は認証操作の結果を記録する。
func (c *Collector) RecordAuthOperation(operation, outcome string) {
	c.authOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordMailDispatch はメール送信の結果と所要時間を記録する。
func (c *Collector) RecordMailDispatch(kind, result string, duration time.Duration) {
	c.mailDispatch.WithLabelValues(kind, result).Observe(duration.Seconds())
}

// RecordVerificationRequestsReaped はクリーンアップで削除された件数を記録する。
func (c *Collector) RecordVerificationRequestsReaped(count int64) {
	c.reaped.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// workerモードでメトリクスのみを公開する場合に使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
