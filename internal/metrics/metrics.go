// Package metrics exposes the Prometheus series the relay updates during
// operation: package-level CounterVec/GaugeVec registered in init(),
// small typed helper functions, served via promhttp on the ambient HTTP
// router.
//
//   - relay_intents_total{status,reason} – CopyIntents by recorded status: PENDING at dispatch, then SKIPPED, COMPLETED or FAILED
//   - relay_queue_depth                  – jobs currently ready or in-flight (registered, but nothing in the relay calls SetQueueDepth, so it stays 0)
//   - relay_worker_jobs_total{outcome}   – reserved jobs by ack/retry outcome
//   - relay_ingest_leader_trades_total{mode} – leader trades ingested by stream|poll
//   - relay_detector_leaders_gauge       – current size of the monitored leader set
//   - relay_exchange_submit_seconds      – latency of Exchange.Submit calls
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	intentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_intents_total",
			Help: "CopyIntents recorded as pending at dispatch or reaching a terminal state, by status and reason.",
		},
		[]string{"status", "reason"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Approximate number of jobs ready or in-flight on the queue.",
		},
	)

	workerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_worker_jobs_total",
			Help: "Reserved jobs by outcome (ack|retry).",
		},
		[]string{"outcome"},
	)

	ingestTradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ingest_leader_trades_total",
			Help: "Leader trades ingested, by delivery mode (stream|poll).",
		},
		[]string{"mode"},
	)

	detectorLeadersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_detector_leaders_gauge",
			Help: "Current size of the monitored leader set.",
		},
	)

	exchangeSubmitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_exchange_submit_seconds",
			Help:    "Latency of Exchange.Submit calls.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(intentsTotal, queueDepth, workerJobsTotal)
	prometheus.MustRegister(ingestTradesTotal, detectorLeadersGauge, exchangeSubmitSeconds)
}

func ObserveIntent(status, reason string) { intentsTotal.WithLabelValues(status, reason).Inc() }
func SetQueueDepth(n float64)             { queueDepth.Set(n) }
func ObserveWorkerJob(outcome string)     { workerJobsTotal.WithLabelValues(outcome).Inc() }
func ObserveIngestTrade(mode string)      { ingestTradesTotal.WithLabelValues(mode).Inc() }
func SetDetectorLeaders(n int)            { detectorLeadersGauge.Set(float64(n)) }
func ObserveExchangeSubmit(d time.Duration) {
	exchangeSubmitSeconds.Observe(d.Seconds())
}
