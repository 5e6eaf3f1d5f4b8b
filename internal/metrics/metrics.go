package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dataquality",
		Subsystem: "validation",
		Name:      "runs_total",
		Help:      "Total number of validation runs broken down by table and completion.",
	}, []string{"table", "complete"})

	validationRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dataquality",
		Subsystem: "validation",
		Name:      "records_total",
		Help:      "Total number of validated records broken down by table and outcome.",
	}, []string{"table", "outcome"})

	findingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dataquality",
		Subsystem: "validation",
		Name:      "findings_total",
		Help:      "Total number of findings broken down by table and severity.",
	}, []string{"table", "severity"})

	qualityScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dataquality",
		Subsystem: "validation",
		Name:      "score",
		Help:      "Distribution of per-run quality scores.",
		Buckets:   []float64{50, 60, 70, 80, 90, 95, 100},
	}, []string{"table"})

	historyLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dataquality",
		Subsystem: "history",
		Name:      "lookups_total",
		Help:      "Total number of history lookups broken down by call and result.",
	}, []string{"call", "result"})
)

// RecordRun records the outcome of one validation run
func RecordRun(table string, complete bool, valid, invalid int, score float64) {
	if table == "" {
		table = "unknown"
	}
	validationRuns.WithLabelValues(table, strconv.FormatBool(complete)).Inc()
	validationRecords.WithLabelValues(table, "valid").Add(float64(valid))
	validationRecords.WithLabelValues(table, "invalid").Add(float64(invalid))
	qualityScore.WithLabelValues(table).Observe(score)
}

// RecordFinding counts a single finding
func RecordFinding(table, severity string) {
	if table == "" {
		table = "unknown"
	}
	findingsTotal.WithLabelValues(table, severity).Inc()
}

// RecordHistoryLookup counts a history call; result is "hit", "miss", "error" or "timeout"
func RecordHistoryLookup(call, result string) {
	historyLookups.WithLabelValues(call, result).Inc()
}
