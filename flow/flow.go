package flow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"chainsight/decoder"
	"chainsight/models"
	"chainsight/scanner"
)

// WindowsHours are the three fixed flow windows.
var WindowsHours = []int{4, 12, 24}

// Service computes time-windowed transfer flow from one scanned log stream.
type Service struct {
	scan *scanner.Service
}

func NewService(scan *scanner.Service) *Service {
	return &Service{scan: scan}
}

// Analyze scans the last 24 hours of transfers (in blocks, derived from the
// chain's block rate) and aggregates each window from the same event set.
func (s *Service) Analyze(ctx context.Context, chain string, token common.Address) (*models.FlowReport, error) {
	cfg := s.scan.Config()
	chainCfg, ok := cfg.Chains[chain]
	if !ok {
		return nil, fmt.Errorf("chain %s is not configured", chain)
	}
	bph := chainCfg.BlocksPerHour

	head, err := s.scan.LatestHeader(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("flow analysis: %w", err)
	}
	headBlock := head.Number.Uint64()

	depth := uint64(WindowsHours[len(WindowsHours)-1]) * bph
	from := uint64(0)
	if headBlock > depth {
		from = headBlock - depth + 1
	}

	res, err := s.scan.ScanLogs(ctx, chain,
		[]common.Address{token},
		[][]common.Hash{{decoder.TransferTopic}},
		from, headBlock,
		scanner.Options{
			SeedChunk: cfg.Scan.FlowSeedChunk,
			Policy:    scanner.LinearBackoff,
		})
	if err != nil {
		return nil, err
	}

	events := decoder.DecodeLogs(res.Logs, token)
	return &models.FlowReport{
		Periods:  ComputePeriods(events, headBlock, bph, WindowsHours),
		Coverage: res.Coverage,
	}, nil
}

// ComputePeriods aggregates one decoded event set into per-window flow.
// Mint and burn legs are excluded; every remaining transfer is counted as
// both an outflow from its sender and an inflow to its receiver, so token-
// wide net flow stays zero by construction. The Net field is kept for
// per-address extensions rather than removed.
func ComputePeriods(events []models.DecodedEvent, headBlock, blocksPerHour uint64, windowsHours []int) []models.FlowPeriod {
	periods := make([]models.FlowPeriod, 0, len(windowsHours))
	for _, hours := range windowsHours {
		span := uint64(hours) * blocksPerHour
		cutoff := uint64(0)
		if headBlock > span {
			cutoff = headBlock - span + 1
		}

		p := models.FlowPeriod{
			WindowHours: hours,
			Inflow:      new(big.Int),
			Outflow:     new(big.Int),
			Net:         new(big.Int),
		}
		unique := make(map[common.Address]struct{})

		for _, ev := range events {
			if ev.Kind != models.EventTransfer || ev.Value == nil {
				continue
			}
			if ev.IsMint() || ev.IsBurn() {
				continue
			}
			if ev.BlockNumber < cutoff {
				continue
			}
			p.Inflow.Add(p.Inflow, ev.Value)
			p.Outflow.Add(p.Outflow, ev.Value)
			p.TransferCount++
			unique[ev.From] = struct{}{}
			unique[ev.To] = struct{}{}
		}

		p.Net.Sub(p.Inflow, p.Outflow)
		p.UniqueAddrs = len(unique)
		p.InflowStr = p.Inflow.String()
		p.OutflowStr = p.Outflow.String()
		p.NetStr = p.Net.String()
		periods = append(periods, p)
	}
	return periods
}

// ApplyUSD annotates periods with USD totals given a unit price and the
// token's decimals. Left unset when no price source is available.
func ApplyUSD(periods []models.FlowPeriod, price decimal.Decimal, decimals int32) {
	for i := range periods {
		in := decimal.NewFromBigInt(periods[i].Inflow, -decimals).Mul(price)
		out := decimal.NewFromBigInt(periods[i].Outflow, -decimals).Mul(price)
		periods[i].InflowUSD = &in
		periods[i].OutflowUSD = &out
	}
}
