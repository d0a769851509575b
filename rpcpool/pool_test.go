package rpcpool

import (
	"testing"
	"time"

	"chainsight/config"
)

func testPool(t *testing.T, urls ...string) *Pool {
	t.Helper()
	cc := config.ChainConfig{Name: "testchain"}
	for i, u := range urls {
		cc.Endpoints = append(cc.Endpoints, config.Endpoint{URL: u, Name: u, Priority: i})
	}
	return newPool("testchain", cc, 3, 5*time.Minute, 0.3)
}

func TestSelectPrefersPriorityOrder(t *testing.T) {
	p := testPool(t, "a", "b", "c")
	pr, err := p.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if pr.URL != "a" {
		t.Fatalf("expected top-priority provider a, got %s", pr.URL)
	}
}

func TestSelectEmptyPool(t *testing.T) {
	p := testPool(t)
	if _, err := p.Select(); err == nil {
		t.Fatal("expected error for empty pool")
	}
}

func TestFailureThresholdMarksUnhealthy(t *testing.T) {
	p := testPool(t, "a", "b")

	p.ReportFailure("a")
	p.ReportFailure("a")
	if pr, _ := p.Select(); pr.URL != "a" {
		t.Fatalf("provider a should stay eligible below the threshold, got %s", pr.URL)
	}

	p.ReportFailure("a")
	pr, err := p.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if pr.URL != "b" {
		t.Fatalf("expected failover to b after 3 failures, got %s", pr.URL)
	}
}

func TestSuccessDecrementsFailures(t *testing.T) {
	p := testPool(t, "a")
	p.ReportFailure("a")
	p.ReportFailure("a")
	p.ReportSuccess("a", 100*time.Millisecond)
	// 2 failures - 1 success leaves one; one more failure must not trip.
	p.ReportFailure("a")
	if !p.providers[0].healthy {
		t.Fatal("provider should still be healthy at 2 consecutive failures")
	}
	p.ReportFailure("a")
	if p.providers[0].healthy {
		t.Fatal("provider should be unhealthy at 3 consecutive failures")
	}
}

func TestSuccessFloorsAtZero(t *testing.T) {
	p := testPool(t, "a")
	p.ReportSuccess("a", time.Millisecond)
	p.ReportSuccess("a", time.Millisecond)
	if got := p.providers[0].consecutiveFailures; got != 0 {
		t.Fatalf("consecutiveFailures floor broken: %d", got)
	}
}

func TestLatencyMovingAverage(t *testing.T) {
	p := testPool(t, "a")
	p.ReportSuccess("a", 100*time.Millisecond)
	if got := p.providers[0].avgLatencyMs; got != 100 {
		t.Fatalf("first observation should seed the average, got %v", got)
	}
	p.ReportSuccess("a", 200*time.Millisecond)
	// 0.3*200 + 0.7*100 = 130
	if got := p.providers[0].avgLatencyMs; got != 130 {
		t.Fatalf("EMA mismatch: got %v want 130", got)
	}
}

func TestCooldownRecovery(t *testing.T) {
	p := testPool(t, "a", "b")
	now := time.Now()
	p.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		p.ReportFailure("a")
	}
	if pr, _ := p.Select(); pr.URL != "b" {
		t.Fatalf("expected b while a cools down, got %s", pr.URL)
	}

	now = now.Add(5*time.Minute + time.Second)
	pr, _ := p.Select()
	if pr.URL != "a" {
		t.Fatalf("expected a to recover after cooldown, got %s", pr.URL)
	}
}

func TestRecoveryByExhaustion(t *testing.T) {
	p := testPool(t, "a", "b")
	for i := 0; i < 3; i++ {
		p.ReportFailure("a")
		p.ReportFailure("b")
	}

	pr, err := p.Select()
	if err != nil {
		t.Fatalf("Select must make progress under pool-wide outage: %v", err)
	}
	if pr.URL != "a" {
		t.Fatalf("expected reset pool to hand back top priority a, got %s", pr.URL)
	}
	for _, provider := range p.providers {
		if !provider.healthy {
			t.Fatalf("provider %s should be reset to healthy", provider.URL)
		}
	}
}

func TestSkipsEmptyURLEndpoints(t *testing.T) {
	// Empty URLs are filtered at config load; the pool never sees them.
	cc := config.ChainConfig{Name: "x", Endpoints: []config.Endpoint{
		{URL: "https://rpc.example", Name: "rpc", Priority: 0},
	}}
	p := newPool("x", cc, 3, time.Minute, 0.3)
	if len(p.providers) != 1 {
		t.Fatalf("unexpected provider count %d", len(p.providers))
	}
}
