// Package metrics 提供 Prometheus 指标采集功能
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "resto_ops"
)

var (
	// HTTP 请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	// 连接路由指标
	RouteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "route_total",
			Help:      "Total number of tenant route resolutions",
		},
		[]string{"strategy", "result"}, // result: hit/miss/error
	)

	HandlesOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "handles_open",
			Help:      "Currently cached connection handles",
		},
		[]string{"strategy"},
	)

	HandleEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "handle_evictions_total",
			Help:      "Connection handles evicted from the router cache",
		},
		[]string{"strategy", "reason"}, // reason: idle/manual
	)

	ConnBorrowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "borrow_duration_seconds",
			Help:      "Time a connection borrow was held",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"strategy"},
	)

	// 隔离安全指标
	LeakRowsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "leak_rows_detected_total",
			Help:      "Rows observed under the wrong tenant context by diagnostics",
		},
		[]string{"table"},
	)

	ForceModeApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "force_mode_applied_total",
			Help:      "Row security force-mode enforcement runs per table",
		},
		[]string{"table", "status"},
	)

	// 供给指标
	ProvisioningTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioner",
			Name:      "provisioning_total",
			Help:      "Tenant provisioning operations",
		},
		[]string{"strategy", "status"},
	)

	// 活动采集指标
	ActivityLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "logged_total",
			Help:      "Activity records written",
		},
		[]string{"activity_type"},
	)

	ActivityDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "dropped_total",
			Help:      "Activity records dropped (full buffer or write failure)",
		},
		[]string{"reason"},
	)
)
