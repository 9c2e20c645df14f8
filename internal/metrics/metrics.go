// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordPublished(partial bool)
	RecordFailed()
	RecordSkipped()
	RecordRetried()
	RecordChannelPost(provider string, success bool)
	RecordDispatchLatency(duration time.Duration)
	RecordItemsSynced(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	published       prometheus.Counter
	partial         prometheus.Counter
	failed          prometheus.Counter
	skipped         prometheus.Counter
	retried         prometheus.Counter
	channelPost     *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
	itemsSynced     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "multipost_post_published_total",
			Help: "投稿成功（全チャンネル成功）の合計数",
		}),
		partial: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "multipost_post_partial_total",
			Help: "部分成功（一部チャンネルのみ成功）の合計数",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "multipost_post_failed_total",
			Help: "投稿失敗（終端）の合計数",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "multipost_post_skipped_total",
			Help: "空ペイロードによるスキップの合計数",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "multipost_post_retried_total",
			Help: "リトライが予約された試行の合計数",
		}),
		channelPost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multipost_channel_post_total",
			Help: "プロバイダー別・結果別のチャンネル投稿数",
		}, []string{"provider", "result"}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "multipost_dispatch_latency_seconds",
			Help:    "1アイテムのディスパッチ試行のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "multipost_items_synced_total",
			Help: "コンテンツソース同期で作成されたアイテムの合計数",
		}),
	}

	reg.MustRegister(
		c.published,
		c.partial,
		c.failed,
		c.skipped,
		c.retried,
		c.channelPost,
		c.dispatchLatency,
		c.itemsSynced,
	)

	return c
}

// RecordPublished は投稿成功を記録する。partial=trueの場合は部分成功として数える。
func (c *Collector) RecordPublished(partial bool) {
	if partial {
		c.partial.Inc()
		return
	}
	c.published.Inc()
}

// RecordFailed は終端失敗を記録する。
func (c *Collector) RecordFailed() {
	c.failed.Inc()
}

// RecordSkipped はスキップを記録する。
func (c *Collector) RecordSkipped() {
	c.skipped.Inc()
}

// RecordRetried はリトライ予約を記録する。
func (c *Collector) RecordRetried() {
	c.retried.Inc()
}

// RecordChannelPost はチャンネル単位の投稿結果を記録する。
func (c *Collector) RecordChannelPost(provider string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.channelPost.WithLabelValues(provider, result).Inc()
}

// RecordDispatchLatency はディスパッチ試行のレイテンシを記録する。
func (c *Collector) RecordDispatchLatency(duration time.Duration) {
	c.dispatchLatency.Observe(duration.Seconds())
}

// RecordItemsSynced は同期で作成されたアイテム数を記録する。
func (c *Collector) RecordItemsSynced(count int) {
	c.itemsSynced.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
