package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_transactions_created_total",
		Help: "Total number of settled sales",
	}, []string{"payment_method"})

	TransactionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_transactions_failed_total",
		Help: "Total number of rejected settlement attempts",
	}, []string{"reason"})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_settlement_latency_seconds",
		Help:    "Latency of the settlement unit of work",
		Buckets: prometheus.DefBuckets,
	})

	DebtRepaymentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_debt_repayments_total",
		Help: "Total number of recorded debt repayments",
	})

	DebtRepaymentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_debt_repayments_rejected_total",
		Help: "Total number of rejected debt repayments",
	}, []string{"reason"})

	PaymentChargesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_payment_charges_total",
		Help: "Total number of gateway charges initiated",
	}, []string{"type"})

	PaymentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_payment_transitions_total",
		Help: "Total number of applied payment record transitions",
	}, []string{"status", "source"})

	PaymentSignalsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_payment_signals_dropped_total",
		Help: "Total number of payment signals discarded by the transition guard",
	}, []string{"source"})

	WebhookRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_webhook_rejected_total",
		Help: "Total number of rejected webhook notifications",
	}, []string{"reason"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_gateway_request_latency_seconds",
		Help:    "Latency of outbound payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
