package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"payment_method"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order submissions",
	}, []string{"reason"})

	OrderStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of order status changes",
	}, []string{"to"})

	OrderCreateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_create_latency_seconds",
		Help:    "Latency of the order creation transaction",
		Buckets: prometheus.DefBuckets,
	})

	TicketCollisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_collisions_total",
		Help: "Ticket candidates rejected before commit",
	}, []string{"stage"})

	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intents_total",
		Help: "Payment intents requested from providers",
	}, []string{"provider", "result"})

	PaymentSuccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of payments marked successful",
	}, []string{"method"})

	PaymentFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of payments reported failed by providers",
	})

	PaymentReplaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_replays_total",
		Help: "Callbacks and webhooks for already settled transactions",
	}, []string{"source"})

	PaymentProviderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_provider_latency_seconds",
		Help:    "Latency of outbound payment provider calls",
		Buckets: prometheus.DefBuckets,
	})

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
