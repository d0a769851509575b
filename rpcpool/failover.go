package rpcpool

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"chainsight/metrics"
	"chainsight/utils"
)

// DialFunc opens a connection to one endpoint. Swappable in tests.
type DialFunc func(ctx context.Context, url string) (*ethclient.Client, error)

// Op is one logical RPC operation run against a live connection.
type Op func(ctx context.Context, client *ethclient.Client) error

// ExhaustedError is returned when every attempt across the pool failed.
// It wraps the last underlying cause.
type ExhaustedError struct {
	Chain    string
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted for chain %s after %d attempts: %v",
		e.Chain, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

// Executor is the single integration point between the aggregators and the
// network: every RPC call in the system goes through Execute.
type Executor struct {
	pools       *Manager
	dial        DialFunc
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewExecutor(pools *Manager, maxAttempts int) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Executor{
		pools:       pools,
		dial:        defaultDial,
		maxAttempts: maxAttempts,
		sleep:       utils.Sleep,
	}
}

// WithDial overrides the dialer; used by tests to avoid the network.
func (e *Executor) WithDial(dial DialFunc) *Executor {
	e.dial = dial
	return e
}

func defaultDial(ctx context.Context, url string) (*ethclient.Client, error) {
	return ethclient.DialContext(ctx, url)
}

// Execute runs op with provider selection, per-attempt timeout, failure
// reporting and exponential backoff between attempts. Success and failure
// are reported against the provider used for that specific attempt.
func (e *Executor) Execute(ctx context.Context, chain string, timeout time.Duration, op Op) error {
	pool := e.pools.Pool(chain)
	if pool == nil {
		return fmt.Errorf("chain %s is not configured", chain)
	}

	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		provider, err := pool.Select()
		if err != nil {
			return err
		}

		err = e.runAttempt(ctx, chain, pool, provider, timeout, op)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < e.maxAttempts-1 {
			if serr := e.sleep(ctx, utils.FailoverWait(attempt)); serr != nil {
				return serr
			}
		}
	}
	return &ExhaustedError{Chain: chain, Attempts: e.maxAttempts, Cause: lastErr}
}

func (e *Executor) runAttempt(ctx context.Context, chain string, pool *Pool, provider *Provider, timeout time.Duration, op Op) error {
	opCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	client, err := e.dial(opCtx, provider.URL)
	if err != nil {
		pool.ReportFailure(provider.URL)
		metrics.ObserveRPC(chain, provider.Name, "dial_error", 0)
		return fmt.Errorf("dial %s: %w", provider.Name, err)
	}
	if client != nil {
		defer client.Close()
	}

	if err := op(opCtx, client); err != nil {
		pool.ReportFailure(provider.URL)
		metrics.ObserveRPC(chain, provider.Name, "error", 0)
		return fmt.Errorf("provider %s: %w", provider.Name, err)
	}

	latency := time.Since(start)
	pool.ReportSuccess(provider.URL, latency)
	metrics.ObserveRPC(chain, provider.Name, "success", latency)
	return nil
}

// Call runs a result-returning operation through the executor.
func Call[T any](ctx context.Context, e *Executor, chain string, timeout time.Duration, fn func(ctx context.Context, client *ethclient.Client) (T, error)) (T, error) {
	var out T
	err := e.Execute(ctx, chain, timeout, func(ctx context.Context, client *ethclient.Client) error {
		v, err := fn(ctx, client)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
