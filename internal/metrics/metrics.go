package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hgemm_endpoint_responses_total",
		Help: "The total number of metrics endpoint responses",
	}, []string{"endpoint", "status_code"})

	// Kernel metrics
	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hgemm_kernel_duration_ms",
		Help:    "Duration of one profiled kernel launch in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 18), // 0.1ms to ~13s
	}, []string{"kernel", "shape"})

	KernelTFLOPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hgemm_kernel_tflops",
		Help: "Throughput of the last benchmark case in TFLOPS",
	}, []string{"kernel", "shape"})

	KernelMaxDiff = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hgemm_kernel_max_diff",
		Help: "Maximum absolute difference against the reference in the last case",
	}, []string{"kernel", "shape"})

	KernelAvgDiff = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hgemm_kernel_avg_diff",
		Help: "Mean absolute difference against the reference in the last case",
	}, []string{"kernel", "shape"})

	BenchmarkCases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hgemm_benchmark_cases_total",
		Help: "Total number of benchmark cases by kernel and result",
	}, []string{"kernel", "result"})

	// Device metrics
	DeviceMemoryUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hgemm_device_memory_used_bytes",
		Help: "Device memory currently in use in bytes",
	})
)
