package risk

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"chainsight/models"
)

// DeploymentBlock binary-searches getCode over block numbers for the first
// block at which the contract had bytecode.
func (e *Engine) DeploymentBlock(ctx context.Context, token common.Address, latest uint64) (uint64, error) {
	code, err := e.reader.CodeAt(ctx, token, new(big.Int).SetUint64(latest))
	if err != nil {
		return 0, err
	}
	if len(code) == 0 {
		return 0, fmt.Errorf("no bytecode at latest block; not a contract")
	}

	lo, hi := uint64(0), latest
	for lo < hi {
		mid := lo + (hi-lo)/2
		code, err := e.reader.CodeAt(ctx, token, new(big.Int).SetUint64(mid))
		if err != nil {
			return 0, err
		}
		if len(code) > 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return hi, nil
}

func (e *Engine) ageFinding(ctx context.Context, token common.Address) (*models.RiskFinding, int) {
	latest, err := e.reader.LatestBlock(ctx)
	if err != nil {
		return nil, 0
	}
	deployed, err := e.DeploymentBlock(ctx, token, latest)
	if err != nil {
		return nil, 0
	}

	blocksPerDay := e.blocksPerHour * 24
	if blocksPerDay == 0 {
		return nil, 0
	}
	ageDays := (latest - deployed) / blocksPerDay

	if ageDays < 7 {
		return &models.RiskFinding{
			Category:    "age",
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("Contract deployed %d day(s) ago", ageDays),
		}, -30
	}
	if ageDays > 365 {
		return &models.RiskFinding{
			Category:    "age",
			Severity:    models.SeverityLow,
			Description: "Contract has been live for over a year",
		}, +5
	}
	return nil, 0
}
