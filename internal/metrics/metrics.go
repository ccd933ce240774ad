// Package metrics exposes prometheus counters for ingestion activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes.
const (
	ResultOK        = "ok"
	ResultTransport = "transport_error"
	ResultStore     = "store_error"
	ResultEmpty     = "empty"
	ResultDuplicate = "duplicate"
)

// Metrics holds the counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer   prometheus.Gatherer
	uploads    *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	deletions  prometheus.Counter
}

// New registers the counters with reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lsattracker_uploads_total",
			Help: "Uploads and imports by outcome.",
		}, []string{"result"}),
		reconciled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lsattracker_reconciled_records_total",
			Help: "Records written by reconciliation, by kind.",
		}, []string{"kind"}),
		deletions: f.NewCounter(prometheus.CounterOpts{
			Name: "lsattracker_exam_deletions_total",
			Help: "Exams deleted.",
		}),
	}
}

// Upload counts one upload attempt with the given result.
func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

// Reconciled counts rows and metadata rows written by one batch.
func (m *Metrics) Reconciled(rows, metas int) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues("row").Add(float64(rows))
	m.reconciled.WithLabelValues("meta").Add(float64(metas))
}

// ExamDeleted counts one delete-by-exam.
func (m *Metrics) ExamDeleted() {
	if m == nil {
		return
	}
	m.deletions.Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
