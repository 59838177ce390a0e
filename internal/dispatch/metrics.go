package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomePrepared   = "prepared"
	outcomeExecuted   = "executed"
	outcomeFailed     = "failed"
	outcomeSkipped    = "skipped"
	outcomeRiskDenied = "risk_denied"
)

// RecordsProcessed 按结果统计处理过的计划记录数量。
var RecordsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fxpilot",
		Subsystem: "dispatch",
		Name:      "records_processed_total",
		Help:      "Total number of schedule records processed by outcome",
	},
	[]string{"outcome"},
)

// RemainingRecords 记录尚未进入终态的计划记录数量。
var RemainingRecords = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "fxpilot",
		Subsystem: "dispatch",
		Name:      "remaining_records",
		Help:      "Number of schedule records still pending or prepared",
	},
)

// TickDuration 观察单轮调度的耗时分布。
var TickDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "fxpilot",
		Subsystem: "dispatch",
		Name:      "tick_duration_seconds",
		Help:      "Duration of a dispatch tick in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	},
)

func recordOutcome(outcome string) {
	RecordsProcessed.WithLabelValues(outcome).Inc()
}
