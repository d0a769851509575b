package holders

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"

	"chainsight/rpcpool"
	"chainsight/utils"
)

const erc20JSON = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI = mustABI(erc20JSON)

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// CallFunc performs one eth_call against the token contract. Production
// routes through the failover executor; tests inject fakes.
type CallFunc func(ctx context.Context, data []byte) ([]byte, error)

// Verifier re-queries authoritative balances for accurate-mode scans.
// Batches and a worker cap bound the concurrent RPC load, and a circuit
// breaker cuts the remaining batches short when a token's balanceOf keeps
// failing.
type Verifier struct {
	call      CallFunc
	batchSize int
	workers   int
	breaker   *gobreaker.CircuitBreaker
}

func NewVerifier(call CallFunc, batchSize, workers int) *Verifier {
	if batchSize <= 0 {
		batchSize = 50
	}
	if workers <= 0 {
		workers = 5
	}
	return &Verifier{
		call:      call,
		batchSize: batchSize,
		workers:   workers,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "balance-verifier",
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				if utils.Logger != nil {
					utils.Logger.Infow("Circuit breaker state changed",
						"name", name, "from", from.String(), "to", to.String())
				}
			},
		}),
	}
}

// ExecutorCall builds a CallFunc that eth_calls the token through the
// failover executor.
func ExecutorCall(exec *rpcpool.Executor, chain string, token common.Address, timeout time.Duration) CallFunc {
	return func(ctx context.Context, data []byte) ([]byte, error) {
		return rpcpool.Call(ctx, exec, chain, timeout,
			func(ctx context.Context, client *ethclient.Client) ([]byte, error) {
				return client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
			})
	}
}

// TotalSupply reads the token's reported supply.
func (v *Verifier) TotalSupply(ctx context.Context) (*big.Int, error) {
	data, err := erc20ABI.Pack("totalSupply")
	if err != nil {
		return nil, err
	}
	raw, err := v.call(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("totalSupply: %w", err)
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("totalSupply: short return (%d bytes)", len(raw))
	}
	return new(big.Int).SetBytes(raw[:32]), nil
}

// VerifyBalances replaces deltas with live balances for every address in
// addrs. Individual lookup failures leave that address out of the result;
// the caller falls back to the delta. Returns the verified subset.
func (v *Verifier) VerifyBalances(ctx context.Context, addrs []common.Address) map[common.Address]*big.Int {
	verified := make(map[common.Address]*big.Int, len(addrs))
	var mu sync.Mutex

	for start := 0; start < len(addrs); start += v.batchSize {
		end := start + v.batchSize
		if end > len(addrs) {
			end = len(addrs)
		}
		batch := addrs[start:end]

		_, err := v.breaker.Execute(func() (interface{}, error) {
			return nil, v.verifyBatch(ctx, batch, &mu, verified)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				if utils.Logger != nil {
					utils.Logger.Warnw("Balance verification short-circuited",
						"remaining", len(addrs)-start)
				}
				break
			}
			// Batch-level failure: keep going, later batches may succeed.
		}
		if ctx.Err() != nil {
			break
		}
	}
	return verified
}

func (v *Verifier) verifyBatch(ctx context.Context, batch []common.Address, mu *sync.Mutex, out map[common.Address]*big.Int) error {
	var wg sync.WaitGroup
	failures := 0
	sem := make(chan struct{}, v.workers)
	for _, addr := range batch {
		addr := addr
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			bal, err := v.balanceOf(ctx, addr)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				return
			}
			out[addr] = bal
		}()
	}
	wg.Wait()
	if failures == len(batch) && len(batch) > 0 {
		return fmt.Errorf("balance batch failed for all %d addresses", len(batch))
	}
	return nil
}

func (v *Verifier) balanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", addr)
	if err != nil {
		return nil, err
	}
	raw, err := v.call(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("balanceOf: short return")
	}
	return new(big.Int).SetBytes(raw[:32]), nil
}
