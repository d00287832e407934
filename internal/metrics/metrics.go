// Package metrics holds the prometheus collectors for the queues and imports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeRequeued  = "requeued"
	OutcomeDeleted   = "deleted"
)

var (
	SyncItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "budgetcore_sync_items_total",
		Help: "Queued transactions processed by the sync queue",
	}, []string{"outcome"})

	DeleteItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "budgetcore_delete_items_total",
		Help: "Remote documents processed by the delete queue",
	}, []string{"outcome"})

	ImportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "budgetcore_import_rows_total",
		Help: "CSV rows seen by the importer",
	}, []string{"result"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "budgetcore_queue_depth",
		Help: "Sync queue items by status",
	}, []string{"status"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "budgetcore_queue_run_duration_seconds",
		Help:    "Wall time of a queue run",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"queue"})
)

var queueStatuses = []string{"pending", "syncing", "completed", "failed"}

// ObserveSync adds n items with the given outcome.
func ObserveSync(outcome string, n int) {
	if n > 0 {
		SyncItems.WithLabelValues(outcome).Add(float64(n))
	}
}

func ObserveDelete(outcome string, n int) {
	if n > 0 {
		DeleteItems.WithLabelValues(outcome).Add(float64(n))
	}
}

func ObserveImport(result string, n int) {
	if n > 0 {
		ImportRows.WithLabelValues(result).Add(float64(n))
	}
}

// SetQueueDepth publishes counts per status; missing statuses read as zero.
func SetQueueDepth(counts map[string]int) {
	for _, s := range queueStatuses {
		QueueDepth.WithLabelValues(s).Set(float64(counts[s]))
	}
}
