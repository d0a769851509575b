package rpcpool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"chainsight/config"
	"chainsight/metrics"
	"chainsight/utils"
)

// Provider is one RPC endpoint tracked by its chain's pool. All mutable
// fields are owned by the Pool and guarded by its mutex.
type Provider struct {
	URL      string
	Name     string
	Priority int

	healthy             bool
	consecutiveFailures int
	lastFailureTime     time.Time
	avgLatencyMs        float64
}

// ProviderStatus is a read-only snapshot for health endpoints.
type ProviderStatus struct {
	URL          string  `json:"url"`
	Name         string  `json:"name"`
	Priority     int     `json:"priority"`
	Healthy      bool    `json:"healthy"`
	Failures     int     `json:"consecutive_failures"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Pool owns the provider set for a single chain. Selection prefers the
// lowest-priority-number healthy provider; when every provider is unhealthy
// the pool resets all of them to healthy so callers keep making progress.
type Pool struct {
	mu        sync.Mutex
	chain     string
	providers []*Provider

	maxFailures   int
	cooldown      time.Duration
	latencyWeight float64
	now           func() time.Time
}

func newPool(chain string, cc config.ChainConfig, maxFailures int, cooldown time.Duration, latencyWeight float64) *Pool {
	p := &Pool{
		chain:         chain,
		maxFailures:   maxFailures,
		cooldown:      cooldown,
		latencyWeight: latencyWeight,
		now:           time.Now,
	}
	for _, ep := range cc.Endpoints {
		p.providers = append(p.providers, &Provider{
			URL:      ep.URL,
			Name:     ep.Name,
			Priority: ep.Priority,
			healthy:  true,
		})
	}
	sort.SliceStable(p.providers, func(i, j int) bool {
		return p.providers[i].Priority < p.providers[j].Priority
	})
	for _, pr := range p.providers {
		metrics.SetProviderHealth(chain, pr.Name, true)
	}
	return p
}

// Select returns the preferred healthy provider. Providers whose cooldown
// has elapsed are recovered first. With no healthy provider left, every
// provider is reset to healthy and the top-priority one is returned; this
// retries known-bad endpoints but never strands the caller.
func (p *Pool) Select() (*Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.providers) == 0 {
		return nil, fmt.Errorf("no rpc endpoints configured for chain %s", p.chain)
	}

	now := p.now()
	for _, pr := range p.providers {
		if !pr.healthy && now.Sub(pr.lastFailureTime) >= p.cooldown {
			pr.healthy = true
			pr.consecutiveFailures = 0
			metrics.SetProviderHealth(p.chain, pr.Name, true)
		}
	}

	for _, pr := range p.providers {
		if pr.healthy {
			return pr, nil
		}
	}

	// Pool-wide outage: recovery by exhaustion.
	for _, pr := range p.providers {
		pr.healthy = true
		pr.consecutiveFailures = 0
		metrics.SetProviderHealth(p.chain, pr.Name, true)
	}
	if utils.Logger != nil {
		utils.Logger.Warnw("All providers unhealthy, resetting pool",
			"chain", p.chain, "providers", len(p.providers))
	}
	return p.providers[0], nil
}

// ReportFailure records a failed call against the provider at url. Crossing
// the failure threshold marks it unhealthy and schedules recovery after the
// cooldown.
func (p *Pool) ReportFailure(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr := p.findLocked(url)
	if pr == nil {
		return
	}
	pr.consecutiveFailures++
	pr.lastFailureTime = p.now()
	if pr.healthy && pr.consecutiveFailures >= p.maxFailures {
		pr.healthy = false
		metrics.SetProviderHealth(p.chain, pr.Name, false)
		if utils.Logger != nil {
			utils.Logger.Warnw("Provider marked unhealthy",
				"chain", p.chain, "provider", pr.Name,
				"failures", pr.consecutiveFailures,
				"cooldown", p.cooldown.String())
		}
		name := pr.Name
		time.AfterFunc(p.cooldown, func() { p.recover(url, name) })
	}
}

// ReportSuccess records a successful call and folds the observed latency
// into the provider's moving average (0.3 new / 0.7 old).
func (p *Pool) ReportSuccess(url string, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr := p.findLocked(url)
	if pr == nil {
		return
	}
	if pr.consecutiveFailures > 0 {
		pr.consecutiveFailures--
	}
	ms := float64(latency.Milliseconds())
	if pr.avgLatencyMs == 0 {
		pr.avgLatencyMs = ms
	} else {
		pr.avgLatencyMs = p.latencyWeight*ms + (1-p.latencyWeight)*pr.avgLatencyMs
	}
}

func (p *Pool) recover(url, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr := p.findLocked(url)
	if pr == nil || pr.healthy {
		return
	}
	// A fresh failure may have pushed lastFailureTime forward; only recover
	// once the full cooldown has passed since the last one.
	if p.now().Sub(pr.lastFailureTime) < p.cooldown {
		return
	}
	pr.healthy = true
	pr.consecutiveFailures = 0
	metrics.SetProviderHealth(p.chain, name, true)
	if utils.Logger != nil {
		utils.Logger.Infow("Provider recovered after cooldown",
			"chain", p.chain, "provider", name)
	}
}

func (p *Pool) findLocked(url string) *Provider {
	for _, pr := range p.providers {
		if pr.URL == url {
			return pr
		}
	}
	return nil
}

// Snapshot returns provider states for the health endpoint.
func (p *Pool) Snapshot() []ProviderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProviderStatus, 0, len(p.providers))
	for _, pr := range p.providers {
		out = append(out, ProviderStatus{
			URL:          pr.URL,
			Name:         pr.Name,
			Priority:     pr.Priority,
			Healthy:      pr.healthy,
			Failures:     pr.consecutiveFailures,
			AvgLatencyMs: pr.avgLatencyMs,
		})
	}
	return out
}

// Manager holds one pool per configured chain.
type Manager struct {
	pools map[string]*Pool
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{pools: make(map[string]*Pool)}
	for name, cc := range cfg.Chains {
		m.pools[name] = newPool(name, cc, cfg.Pool.MaxFailures, cfg.Pool.Cooldown, cfg.Pool.LatencyWeight)
	}
	return m
}

// Pool returns the pool for chain, or nil when the chain is not configured.
func (m *Manager) Pool(chain string) *Pool {
	return m.pools[chain]
}

// Chains lists the configured chain names.
func (m *Manager) Chains() []string {
	out := make([]string, 0, len(m.pools))
	for name := range m.pools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
