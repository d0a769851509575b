package scanner

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"chainsight/config"
	"chainsight/rpcpool"
)

// ProgressObserver receives chunk-level progress for every scan routed
// through the service (websocket hub, telemetry).
type ProgressObserver func(chain string, token common.Address, p Progress)

// Service binds the adaptive scanner to the failover executor so every
// chunk fetch goes through provider selection and retry.
type Service struct {
	exec       *rpcpool.Executor
	cfg        *config.Config
	classifier *Classifier
	observer   ProgressObserver
}

func NewService(exec *rpcpool.Executor, cfg *config.Config) *Service {
	return &Service{
		exec:       exec,
		cfg:        cfg,
		classifier: NewClassifier(),
	}
}

// SetObserver installs the global progress observer.
func (s *Service) SetObserver(obs ProgressObserver) {
	s.observer = obs
}

// ScanLogs fetches logs for the given contract and topics over [from, to],
// adapting chunk sizes per the options.
func (s *Service) ScanLogs(ctx context.Context, chain string, addresses []common.Address, topics [][]common.Hash, from, to uint64, opts Options) (*Result, error) {
	if opts.Classifier == nil {
		opts.Classifier = s.classifier
	}
	if opts.MinChunk == 0 {
		opts.MinChunk = s.cfg.Scan.MinChunk
	}
	if opts.MaxChunk == 0 {
		opts.MaxChunk = s.cfg.Scan.MaxChunk
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = s.cfg.Scan.MaxChunkFailures
	}
	if opts.RateLimitBackoff == 0 {
		opts.RateLimitBackoff = s.cfg.Scan.RateLimitBackoff
	}
	if opts.TransientBackoff == 0 {
		opts.TransientBackoff = s.cfg.Scan.TransientBackoff
	}
	if opts.OnProgress == nil && s.observer != nil && len(addresses) > 0 {
		token := addresses[0]
		opts.OnProgress = func(p Progress) { s.observer(chain, token, p) }
	}

	fetch := func(ctx context.Context, chunkFrom, chunkTo uint64) ([]types.Log, error) {
		return rpcpool.Call(ctx, s.exec, chain, s.cfg.Scan.LogTimeout,
			func(ctx context.Context, client *ethclient.Client) ([]types.Log, error) {
				return client.FilterLogs(ctx, ethereum.FilterQuery{
					FromBlock: new(big.Int).SetUint64(chunkFrom),
					ToBlock:   new(big.Int).SetUint64(chunkTo),
					Addresses: addresses,
					Topics:    topics,
				})
			})
	}
	return Scan(ctx, from, to, fetch, opts)
}

// LatestHeader returns the chain head, used to anchor scan windows.
func (s *Service) LatestHeader(ctx context.Context, chain string) (*types.Header, error) {
	return rpcpool.Call(ctx, s.exec, chain, s.cfg.Scan.CallTimeout,
		func(ctx context.Context, client *ethclient.Client) (*types.Header, error) {
			return client.HeaderByNumber(ctx, nil)
		})
}

// Executor exposes the underlying failover primitive for callers that make
// direct contract calls (risk checks, balance verification).
func (s *Service) Executor() *rpcpool.Executor { return s.exec }

// Config returns the loaded scan configuration.
func (s *Service) Config() *config.Config { return s.cfg }
