package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsight_rpc_requests_total",
		Help: "RPC operations by chain, provider and result",
	}, []string{"chain", "provider", "result"})

	rpcLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainsight_rpc_latency_seconds",
		Help:    "RPC operation latency per provider",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8},
	}, []string{"chain", "provider"})

	providerHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainsight_provider_healthy",
		Help: "1 when the provider is eligible for selection",
	}, []string{"chain", "provider"})

	scanChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsight_scan_chunks_total",
		Help: "Log-scan chunk fetches by outcome",
	}, []string{"outcome"})

	scanChunkSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainsight_scan_chunk_size_blocks",
		Help: "Current adaptive chunk size of the most recent scan step",
	})

	scanCoverage = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainsight_scan_coverage_percent",
		Help:    "Final coverage of completed scans",
		Buckets: []float64{10, 25, 50, 75, 90, 99, 100},
	})

	// Internal counters for the plain-text stats endpoint
	scansCompleted uint64
	scanErrors     uint64
	lastScanTime   atomic.Int64
	startTime      = time.Now()
)

func ObserveRPC(chain, provider, result string, latency time.Duration) {
	rpcRequests.WithLabelValues(chain, provider, result).Inc()
	if result == "success" {
		rpcLatency.WithLabelValues(chain, provider).Observe(latency.Seconds())
	}
}

func SetProviderHealth(chain, provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	providerHealthy.WithLabelValues(chain, provider).Set(v)
}

func ObserveChunk(outcome string, chunkSize uint64) {
	scanChunks.WithLabelValues(outcome).Inc()
	scanChunkSize.Set(float64(chunkSize))
}

func ObserveScanDone(coveragePercent int, degraded bool) {
	scanCoverage.Observe(float64(coveragePercent))
	atomic.AddUint64(&scansCompleted, 1)
	lastScanTime.Store(time.Now().Unix())
	if degraded {
		atomic.AddUint64(&scanErrors, 1)
	}
}

func GetStats() (uint64, uint64, int64, time.Duration) {
	return atomic.LoadUint64(&scansCompleted),
		atomic.LoadUint64(&scanErrors),
		lastScanTime.Load(),
		time.Since(startTime)
}
