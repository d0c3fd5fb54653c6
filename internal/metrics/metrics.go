package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "endpoint_responses_total",
		Help: "The total number of endpoint responses",
	}, []string{"endpoint", "status_code"})

	// Matrix Multiplication Dispatch Metrics
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matmul_dispatch_duration_ms",
		Help:    "Duration of one matrix multiplication dispatch in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1ms to ~32s
	}, []string{"strategy"})

	DispatchMFLOPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matmul_dispatch_mflops",
		Help: "Performance of the last dispatch of a strategy in MFLOPS",
	}, []string{"strategy"})

	VerificationErrorSquared = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matmul_verification_error_squared",
		Help: "Accumulated squared error of the last verified result of a strategy",
	}, []string{"strategy"})

	DispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matmul_dispatch_failures_total",
		Help: "Total number of failed dispatches by strategy and error kind",
	}, []string{"strategy", "kind"})

	MatrixOrder = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matmul_matrix_order",
		Help: "Order of the matrices used in the last benchmark run",
	})

	// Device Metrics
	DeviceMemoryUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "device_memory_used_bytes",
		Help: "Device memory held by live buffers in bytes",
	})
)
