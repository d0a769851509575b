package monitoring

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainsight_request_duration_seconds",
		Help:    "Time taken to serve analytics requests",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})

	ErrorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsight_request_errors_total",
		Help: "Total request errors by type",
	}, []string{"type"})

	MemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainsight_memory_bytes",
		Help: "Current memory usage in bytes",
	})

	GoroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainsight_goroutines",
		Help: "Current number of goroutines",
	})
)

// StartMetricsCollection samples runtime stats on a fixed interval.
func StartMetricsCollection() {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			collectSystemMetrics()
		}
	}()
}

func collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsage.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}
