package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration observes request latency by route template.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invoicehub_http_request_duration_seconds",
		Help:    "HTTP request latency by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// AuthEventsTotal counts credential lifecycle outcomes (signup, verify_otp, login, reset_request, reset_consume).
	AuthEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicehub_auth_events_total",
		Help: "Authentication events by type and result.",
	}, []string{"event", "result"})

	// EmailsTotal counts outgoing messages by kind and result.
	EmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicehub_emails_total",
		Help: "Outgoing emails by kind and result.",
	}, []string{"kind", "result"})

	// InvoiceOpsTotal counts ledger mutations by operation and result.
	InvoiceOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicehub_invoice_ops_total",
		Help: "Invoice ledger operations by operation and result.",
	}, []string{"op", "result"})

	// InvoicesMarkedOverdueTotal counts pending invoices moved to overdue.
	InvoicesMarkedOverdueTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoicehub_invoices_marked_overdue_total",
		Help: "Invoices transitioned from pending to overdue.",
	})

	// RateLimitRejectedTotal counts requests rejected by the limiter.
	RateLimitRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoicehub_ratelimit_rejected_total",
		Help: "Requests rejected by the rate limiter.",
	})

	// QueueJobsTotal counts background job outcomes (succeeded, failed, dropped, panic).
	QueueJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicehub_queue_jobs_total",
		Help: "Background queue jobs by outcome.",
	}, []string{"outcome"})

	// QueueDepth reports jobs waiting in the background queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "invoicehub_queue_depth",
		Help: "Jobs currently waiting in the background queue.",
	})
)

// Result returns "ok" for a nil error and "error" otherwise.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
