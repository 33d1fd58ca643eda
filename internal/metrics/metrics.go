// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordLogin(provider string, outcome string)
	RecordOTPIssued()
	RecordOTPVerified(success bool)
	RecordClaimsRefreshed(reason string)
	RecordLivenessCheck()
	RecordForcedLogout()
	RecordHistoryQueryLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins              *prometheus.CounterVec
	otpIssued           prometheus.Counter
	otpVerified         *prometheus.CounterVec
	claimsRefreshed     *prometheus.CounterVec
	livenessChecks      prometheus.Counter
	forcedLogouts       prometheus.Counter
	historyQueryLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_logins_total",
			Help: "プロバイダー・結果別のログイン試行の合計数",
		}, []string{"provider", "outcome"}),
		otpIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passport_otp_issued_total",
			Help: "発行されたワンタイムコードの合計数",
		}),
		otpVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_otp_verified_total",
			Help: "結果別のワンタイムコード検証の合計数",
		}, []string{"result"}),
		claimsRefreshed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_claims_refreshed_total",
			Help: "契機別のクレーム再発行の合計数",
		}, []string{"reason"}),
		livenessChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passport_liveness_checks_total",
			Help: "アカウント有効状態確認の合計数",
		}),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passport_forced_logouts_total",
			Help: "無効化検出による強制ログアウトの合計数",
		}),
		historyQueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "passport_history_query_latency_seconds",
			Help:    "ログイン履歴照会のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.otpIssued,
		c.otpVerified,
		c.claimsRefreshed,
		c.livenessChecks,
		c.forcedLogouts,
		c.historyQueryLatency,
	)

	return c
}

// RecordLogin はログイン試行をプロバイダー・結果別に記録する。
func (c *Collector) RecordLogin(provider string, outcome string) {
	c.logins.WithLabelValues(provider, outcome).Inc()
}

// RecordOTPIssued はワンタイムコードの発行を記録する。
func (c *Collector) RecordOTPIssued() {
	c.otpIssued.Inc()
}

// RecordOTPVerified はワンタイムコードの検証結果を記録する。
func (c *Collector) RecordOTPVerified(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.otpVerified.WithLabelValues(result).Inc()
}

// RecordClaimsRefreshed はクレーム再発行を契機別に記録する。
func (c *Collector) RecordClaimsRefreshed(reason string) {
	c.claimsRefreshed.WithLabelValues(reason).Inc()
}

// RecordLivenessCheck は有効状態の確認を記録する。
func (c *Collector) RecordLivenessCheck() {
	c.livenessChecks.Inc()
}

// RecordForcedLogout は強制ログアウトを記録する。
func (c *Collector) RecordForcedLogout() {
	c.forcedLogouts.Inc()
}

// RecordHistoryQueryLatency は履歴照会のレイテンシを記録する。
func (c *Collector) RecordHistoryQueryLatency(duration time.Duration) {
	c.historyQueryLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
