package holders

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"chainsight/decoder"
	"chainsight/models"
	"chainsight/scanner"
	"chainsight/utils"
)

// Mode selects the fidelity of a holder scan. Approximate trusts the delta
// ledger; Accurate re-queries live balances for every touched address.
type Mode string

const (
	ModeApproximate Mode = "approximate"
	ModeAccurate    Mode = "accurate"
)

// Service runs windowed holder scans over the adaptive log scanner.
type Service struct {
	scan *scanner.Service
}

func NewService(scan *scanner.Service) *Service {
	return &Service{scan: scan}
}

// Scan builds the ranked holder table for token over the most recent depth
// blocks. Degraded scans still return the holders found so far; only a
// fully failed pipeline is an error.
func (s *Service) Scan(ctx context.Context, chain string, token common.Address, depth uint64, mode Mode) (*models.HolderReport, error) {
	cfg := s.scan.Config()
	if depth == 0 {
		depth = cfg.Scan.HolderDepthBlocks
	}

	head, err := s.scan.LatestHeader(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("holder scan: %w", err)
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
			SeedChunk: cfg.Scan.HolderSeedChunk,
			Policy:    scanner.BinarySplit,
		})
	if err != nil {
		return nil, err
	}

	ledger := NewLedger()
	for _, ev := range decoder.DecodeLogs(res.Logs, token) {
		ledger.Apply(ev)
	}

	verifier := NewVerifier(
		ExecutorCall(s.scan.Executor(), chain, token, cfg.Scan.CallTimeout),
		cfg.Scan.BalanceBatchSize, cfg.App.NumWorkers)

	balances := ledger.Positive()
	if mode == ModeAccurate {
		touched := addressesOf(ledger.Deltas())
		verified := verifier.VerifyBalances(ctx, touched)
		for addr, bal := range verified {
			if bal.Sign() > 0 {
				balances[addr] = bal
			} else {
				delete(balances, addr)
			}
		}
	}

	totalSupply, err := verifier.TotalSupply(ctx)
	if err != nil {
		utils.Error(err, "Total supply lookup failed, percentages omitted",
			"chain", chain, "token", token.Hex())
		totalSupply = nil
	}

	report := &models.HolderReport{
		Holders:  ledger.Rank(balances, totalSupply),
		Coverage: res.Coverage,
	}
	if res.SuccessChunks > res.FailedChunks && len(report.Holders) > 0 {
		report.Completeness = "recent"
	} else {
		report.Completeness = "partial"
	}
	if len(report.Holders) == 0 {
		if res.Coverage.Degraded {
			report.Message = "Limited data - RPC constraints prevented a full scan"
		} else {
			report.Message = "No holders found in the scanned window"
		}
	}
	return report, nil
}

func addressesOf(deltas map[common.Address]*big.Int) []common.Address {
	out := make([]common.Address, 0, len(deltas))
	for addr := range deltas {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}
