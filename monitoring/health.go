package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"chainsight/rpcpool"
)

type HealthStatus struct {
	Status          string                             `json:"status"`
	Uptime          string                             `json:"uptime"`
	StartTime       time.Time                          `json:"start_time"`
	MemoryUsage     uint64                             `json:"memory_usage"`
	GoroutineCount  int                                `json:"goroutine_count"`
	ComponentStatus map[string]string                  `json:"component_status"`
	Providers       map[string][]rpcpool.ProviderStatus `json:"providers,omitempty"`
}

var (
	startTime    = time.Now()
	checksMu     sync.RWMutex
	healthChecks = make(map[string]func() bool)
)

func RegisterHealthCheck(name string, check func() bool) {
	checksMu.Lock()
	defer checksMu.Unlock()
	healthChecks[name] = check
}

// HealthHandler reports process health plus a per-chain provider snapshot
// from the pool manager.
func HealthHandler(pools *rpcpool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		status := HealthStatus{
			Status:          "ok",
			Uptime:          time.Since(startTime).String(),
			StartTime:       startTime,
			MemoryUsage:     m.Alloc,
			GoroutineCount:  runtime.NumGoroutine(),
			ComponentStatus: make(map[string]string),
		}

		checksMu.RLock()
		for name, check := range healthChecks {
			if check() {
				status.ComponentStatus[name] = "healthy"
			} else {
				status.ComponentStatus[name] = "unhealthy"
				status.Status = "degraded"
			}
		}
		checksMu.RUnlock()

		if pools != nil {
			status.Providers = make(map[string][]rpcpool.ProviderStatus)
			for _, chain := range pools.Chains() {
				snapshot := pools.Pool(chain).Snapshot()
				status.Providers[chain] = snapshot
				healthy := 0
				for _, p := range snapshot {
					if p.Healthy {
						healthy++
					}
				}
				if healthy == 0 && len(snapshot) > 0 {
					status.ComponentStatus["pool:"+chain] = "unhealthy"
					status.Status = "degraded"
				} else {
					status.ComponentStatus["pool:"+chain] = "healthy"
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}
