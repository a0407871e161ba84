// Package metrics registers the application's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	RequestDuration     *prometheus.HistogramVec
	CertificatesIssued  *prometheus.CounterVec
	IssuanceConflicts   prometheus.Counter
	BulkTargets         *prometheus.CounterVec
	RenderDuration      prometheus.Histogram
	RenderFailures      prometheus.Counter
	DeliveryOutcomes    *prometheus.CounterVec
	VerificationLookups *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "constancia_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		CertificatesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "constancia_certificates_issued_total",
			Help: "Certificates issued, by recipient kind.",
		}, []string{"recipient"}),
		IssuanceConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "constancia_issuance_conflicts_total",
			Help: "Issuance attempts rejected because a certificate already existed.",
		}),
		BulkTargets: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "constancia_bulk_targets_total",
			Help: "Bulk issuance targets, by outcome (issued, resent, failed).",
		}, []string{"outcome"}),
		RenderDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "constancia_document_render_duration_seconds",
			Help:    "PDF render latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RenderFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "constancia_document_render_failures_total",
			Help: "Document generation failures.",
		}),
		DeliveryOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "constancia_deliveries_total",
			Help: "Certificate email deliveries, by outcome.",
		}, []string{"outcome"}),
		VerificationLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "constancia_verification_lookups_total",
			Help: "Public folio verifications, by result (hit, miss).",
		}, []string{"result"}),
	}
}

// ObserveRender records one document render attempt.
func (m *Metrics) ObserveRender(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RenderDuration.Observe(d.Seconds())
	if err != nil {
		m.RenderFailures.Inc()
	}
}
