package activity

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"chainsight/decoder"
	"chainsight/models"
	"chainsight/rpcpool"
	"chainsight/scanner"
)

const topN = 10

// TxInfo is the slice of a transaction the ranker needs: the contract the
// sender actually invoked (which for router trades differs from the token)
// and the gas it burned.
type TxInfo struct {
	To          *common.Address
	GasUsed     uint64
	EffGasPrice *big.Int
}

// TxFetcher loads TxInfo for one transaction hash.
type TxFetcher interface {
	Fetch(ctx context.Context, chain string, txHash common.Hash) (TxInfo, error)
}

// Service ranks the contracts a token's traffic flows through.
type Service struct {
	scan     *scanner.Service
	registry Registry
	fetcher  TxFetcher
}

func NewService(scan *scanner.Service, registry Registry) *Service {
	s := &Service{scan: scan, registry: registry}
	s.fetcher = &executorFetcher{scan: scan}
	return s
}

// WithFetcher overrides the transaction fetcher; used by tests.
func (s *Service) WithFetcher(f TxFetcher) *Service {
	s.fetcher = f
	return s
}

// Analyze scans recent token logs, groups the unique transactions by
// invoked contract and returns the top interactions by count.
func (s *Service) Analyze(ctx context.Context, chain string, token common.Address, depth uint64) (*models.ActivityReport, error) {
	cfg := s.scan.Config()
	if depth == 0 {
		depth = cfg.Scan.DAppDepthBlocks
	}

	head, err := s.scan.LatestHeader(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("activity analysis: %w", err)
	}
	to := head.Number.Uint64()
	from := uint64(0)
	if to > depth {
		from = to - depth + 1
	}

	res, err := s.scan.ScanLogs(ctx, chain,
		[]common.Address{token},
		[][]common.Hash{{decoder.TransferTopic}},
		from, to,
		scanner.Options{
			SeedChunk: cfg.Scan.ActivitySeedChunk,
			Policy:    scanner.LinearBackoff,
		})
	if err != nil {
		return nil, err
	}

	hashes := uniqueTxHashes(res.Logs, cfg.Scan.ActivityTxCap)
	entries := s.rank(ctx, chain, hashes)

	report := &models.ActivityReport{
		Entries:     entries,
		Coverage:    res.Coverage,
		RateLimited: res.Coverage.RateLimited,
	}
	if len(entries) == 0 {
		if res.Coverage.Degraded {
			report.Message = "Limited data - RPC constraints prevented a full scan"
		} else {
			report.Message = "No DApp interactions found in the scanned window"
		}
	}
	return report, nil
}

// uniqueTxHashes dedups log transactions preserving first-seen order, with
// a hard cap to bound receipt-fetch latency.
func uniqueTxHashes(logs []types.Log, limit int) []common.Hash {
	seen := make(map[common.Hash]struct{}, len(logs))
	out := make([]common.Hash, 0, len(logs))
	for _, lg := range logs {
		if _, ok := seen[lg.TxHash]; ok {
			continue
		}
		seen[lg.TxHash] = struct{}{}
		out = append(out, lg.TxHash)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Service) rank(ctx context.Context, chain string, hashes []common.Hash) []models.DAppActivityEntry {
	type bucket struct {
		count int
		gas   *big.Int
		seq   int
	}
	buckets := make(map[common.Address]*bucket)
	seq := 0

	for _, h := range hashes {
		if ctx.Err() != nil {
			break
		}
		info, err := s.fetcher.Fetch(ctx, chain, h)
		if err != nil || info.To == nil {
			// Contract creations and failed lookups contribute nothing.
			continue
		}
		b, ok := buckets[*info.To]
		if !ok {
			b = &bucket{gas: new(big.Int), seq: seq}
			buckets[*info.To] = b
			seq++
		}
		b.count++
		if info.EffGasPrice != nil {
			spent := new(big.Int).Mul(new(big.Int).SetUint64(info.GasUsed), info.EffGasPrice)
			b.gas.Add(b.gas, spent)
		}
	}

	type row struct {
		addr common.Address
		b    *bucket
	}
	rows := make([]row, 0, len(buckets))
	for addr, b := range buckets {
		rows = append(rows, row{addr, b})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].b.count != rows[j].b.count {
			return rows[i].b.count > rows[j].b.count
		}
		return rows[i].b.seq < rows[j].b.seq
	})
	if len(rows) > topN {
		rows = rows[:topN]
	}

	out := make([]models.DAppActivityEntry, 0, len(rows))
	for _, r := range rows {
		entry := models.DAppActivityEntry{
			Address:  r.addr,
			TxCount:  r.b.count,
			GasSpent: r.b.gas.String(),
		}
		if s.registry != nil {
			if name, ok := s.registry.Lookup(r.addr); ok {
				entry.Name = name
			}
		}
		out = append(out, entry)
	}
	return out
}

type executorFetcher struct {
	scan *scanner.Service
}

func (f *executorFetcher) Fetch(ctx context.Context, chain string, txHash common.Hash) (TxInfo, error) {
	exec := f.scan.Executor()
	timeout := f.scan.Config().Scan.CallTimeout

	tx, err := rpcpool.Call(ctx, exec, chain, timeout,
		func(ctx context.Context, client *ethclient.Client) (*types.Transaction, error) {
			tx, _, err := client.TransactionByHash(ctx, txHash)
			return tx, err
		})
	if err != nil {
		return TxInfo{}, err
	}

	receipt, err := rpcpool.Call(ctx, exec, chain, timeout,
		func(ctx context.Context, client *ethclient.Client) (*types.Receipt, error) {
			return client.TransactionReceipt(ctx, txHash)
		})
	if err != nil {
		return TxInfo{}, err
	}

	return TxInfo{
		To:          tx.To(),
		GasUsed:     receipt.GasUsed,
		EffGasPrice: receipt.EffectiveGasPrice,
	}, nil
}
