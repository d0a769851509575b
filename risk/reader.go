package risk

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"chainsight/rpcpool"
)

// ChainReader is the minimal RPC surface the risk checks need. The
// production reader routes everything through the failover executor;
// tests supply fakes.
type ChainReader interface {
	CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, addr common.Address, slot common.Hash) ([]byte, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

type executorReader struct {
	exec    *rpcpool.Executor
	chain   string
	timeout time.Duration
}

// NewExecutorReader binds a ChainReader to one chain through the executor.
func NewExecutorReader(exec *rpcpool.Executor, chain string, callTimeout time.Duration) ChainReader {
	return &executorReader{exec: exec, chain: chain, timeout: callTimeout}
}

func (r *executorReader) CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error) {
	return rpcpool.Call(ctx, r.exec, r.chain, r.timeout,
		func(ctx context.Context, client *ethclient.Client) ([]byte, error) {
			return client.CodeAt(ctx, addr, block)
		})
}

func (r *executorReader) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) ([]byte, error) {
	return rpcpool.Call(ctx, r.exec, r.chain, r.timeout,
		func(ctx context.Context, client *ethclient.Client) ([]byte, error) {
			return client.StorageAt(ctx, addr, slot, nil)
		})
}

func (r *executorReader) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return rpcpool.Call(ctx, r.exec, r.chain, r.timeout,
		func(ctx context.Context, client *ethclient.Client) ([]byte, error) {
			return client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		})
}

func (r *executorReader) LatestBlock(ctx context.Context) (uint64, error) {
	return rpcpool.Call(ctx, r.exec, r.chain, r.timeout,
		func(ctx context.Context, client *ethclient.Client) (uint64, error) {
			return client.BlockNumber(ctx)
		})
}
