package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UsersRegisteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "users_registered_total",
		Help: "Total number of registered users",
	})

	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logins_total",
		Help: "Total number of login attempts by result",
	}, []string{"result"})

	ProductsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "products_created_total",
		Help: "Total number of products listed",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of order status transitions by target status",
	}, []string{"status"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed orders",
	}, []string{"reason"})

	StockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_conflicts_total",
		Help: "Total number of checkouts that lost a race for stock",
	})

	OrderCreateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_create_latency_seconds",
		Help:    "Latency of the order creation transaction",
		Buckets: prometheus.DefBuckets,
	})

	PaymentsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Total number of recorded payment outcomes",
	}, []string{"status"})

	DisputesOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disputes_opened_total",
		Help: "Total number of disputes opened",
	})

	DisputesClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disputes_closed_total",
		Help: "Total number of disputes closed by outcome",
	}, []string{"status"})

	ReviewsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reviews_created_total",
		Help: "Total number of reviews created",
	})

	CartCheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_checkouts_total",
		Help: "Total number of cart checkouts by result",
	}, []string{"result"})

	ViewsFlushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "product_views_flushed_total",
		Help: "Total number of buffered product views written to the database",
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Total number of events written to Kafka",
	}, []string{"event_type"})

	EventsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_failed_total",
		Help: "Total number of consumed events dropped after exhausting retries",
	}, []string{"group"})

	EventsProjectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_projected_total",
		Help: "Total number of events applied to aggregate counters",
	}, []string{"event_type"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of notifications handed to the notifier",
	}, []string{"kind"})

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
