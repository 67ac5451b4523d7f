// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期エンジンやAPIクライアントから利用する。
type MetricsCollector interface {
	RecordAPICall(method string)
	RecordSyncSuccess(mode string)
	RecordSyncFailure(mode string, reason string)
	RecordSyncLatency(mode string, duration time.Duration)
	RecordRowsReplaced(class string, count int)
	RecordIncrementsApplied(count int)
	SetQueueDepth(depth int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiCalls     *prometheus.CounterVec
	syncSuccess  *prometheus.CounterVec
	syncFail     *prometheus.CounterVec
	syncLatency  *prometheus.HistogramVec
	rowsReplaced *prometheus.CounterVec
	increments   prometheus.Counter
	queueDepth   prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartman_api_calls_total",
			Help: "外部スクロブルAPI呼び出しの合計数（メソッド別）",
		}, []string{"method"}),
		syncSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartman_sync_success_total",
			Help: "同期ジョブ成功の合計数（モード別）",
		}, []string{"mode"}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartman_sync_fail_total",
			Help: "同期ジョブ失敗の合計数（モード・理由別）",
		}, []string{"mode", "reason"}),
		syncLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartman_sync_latency_seconds",
			Help:    "同期ジョブのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		rowsReplaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartman_rows_replaced_total",
			Help: "リインデックスで置き換えられた集計行の合計数（エンティティ種別別）",
		}, []string{"class"}),
		increments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartman_increments_applied_total",
			Help: "差分同期で適用された加算の合計数",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartman_sync_queue_depth",
			Help: "同期ジョブキューの現在の深さ",
		}),
	}

	reg.MustRegister(
		c.apiCalls,
		c.syncSuccess,
		c.syncFail,
		c.syncLatency,
		c.rowsReplaced,
		c.increments,
		c.queueDepth,
	)

	return c
}

// RecordAPICall は外部API呼び出しを記録する。
func (c *Collector) RecordAPICall(method string) {
	c.apiCalls.WithLabelValues(method).Inc()
}

// RecordSyncSuccess は同期ジョブの成功を記録する。
func (c *Collector) RecordSyncSuccess(mode string) {
	c.syncSuccess.WithLabelValues(mode).Inc()
}

// RecordSyncFailure は同期ジョブの失敗を記録する。
func (c *Collector) RecordSyncFailure(mode string, reason string) {
	c.syncFail.WithLabelValues(mode, reason).Inc()
}

// RecordSyncLatency は同期ジョブのレイテンシを記録する。
func (c *Collector) RecordSyncLatency(mode string, duration time.Duration) {
	c.syncLatency.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordRowsReplaced はリインデックスで置き換えられた行数を記録する。
func (c *Collector) RecordRowsReplaced(class string, count int) {
	c.rowsReplaced.WithLabelValues(class).Add(float64(count))
}

// RecordIncrementsApplied は差分同期で適用された加算数を記録する。
func (c *Collector) RecordIncrementsApplied(count int) {
	c.increments.Add(float64(count))
}

// SetQueueDepth は同期キューの現在の深さを記録する。
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
