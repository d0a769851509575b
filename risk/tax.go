package risk

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"chainsight/models"
)

// taxProbes is the declarative table of fee getters seen on taxed tokens.
// Extend the table, not the logic.
var taxProbes = []string{
	"buyTax()",
	"sellTax()",
	"totalFee()",
	"totalFees()",
	"buyFee()",
	"sellFee()",
	"taxFee()",
	"totalTax()",
	"_buyTax()",
	"_sellTax()",
}

// TaxResult is the outcome of fee probing for one contract.
type TaxResult struct {
	Status models.TaxStatus
	// MaxPercent is the largest normalized fee seen, meaningful only for
	// TaxKnown.
	MaxPercent float64
}

// DetectTax probes the fee table. The tri-state matters: a verified zero
// and "no fee functions at all" are benign; TaxUnknown is reserved for
// provider-level failure and is scored as elevated risk.
func (e *Engine) DetectTax(ctx context.Context, token common.Address) TaxResult {
	sawValue := false
	sawZeroRead := false
	sawProviderFailure := false
	maxPercent := 0.0

	for _, sig := range taxProbes {
		raw, err := e.reader.CallContract(ctx, token, selector(sig))
		if err != nil {
			if isMissingFunction(err) {
				continue
			}
			sawProviderFailure = true
			continue
		}
		if len(raw) < 32 {
			// Empty return: the function does not exist on this contract.
			continue
		}
		v := new(big.Int).SetBytes(raw[:32])
		if v.Sign() == 0 {
			sawZeroRead = true
			continue
		}
		sawValue = true
		if p := NormalizeTaxValue(v); p > maxPercent {
			maxPercent = p
		}
	}

	// A verified zero only counts when every probe that reached the
	// contract actually answered; with a provider failure in the mix the
	// zero could be hiding a fee function we never got to read.
	switch {
	case sawValue:
		return TaxResult{Status: models.TaxKnown, MaxPercent: maxPercent}
	case sawProviderFailure:
		return TaxResult{Status: models.TaxUnknown}
	case sawZeroRead:
		return TaxResult{Status: models.TaxZero}
	default:
		return TaxResult{Status: models.TaxNone}
	}
}

// isMissingFunction separates "the contract has no such function" from a
// provider-side failure. Reverts and ABI misses fall in the first bucket.
func isMissingFunction(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "invalid opcode") ||
		strings.Contains(msg, "out of gas") ||
		strings.Contains(msg, "abi:")
}

// NormalizeTaxValue maps a raw fee value to a percentage by magnitude:
// parts-per-million for values of a million or more, basis-point-like
// scales above 100, direct percentages below that.
func NormalizeTaxValue(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	switch {
	case f >= 1_000_000:
		return f / 10_000
	case f > 10_000:
		return f / 100
	case f > 100:
		return f / 100
	default:
		return f
	}
}

func taxFinding(res TaxResult) (*models.RiskFinding, int) {
	switch res.Status {
	case models.TaxKnown:
		if res.MaxPercent > 10 {
			return &models.RiskFinding{
				Category:    "tax",
				Severity:    models.SeverityHigh,
				Description: "High transfer tax detected",
			}, -25
		}
		return &models.RiskFinding{
			Category:    "tax",
			Severity:    models.SeverityMedium,
			Description: "Transfer tax detected",
		}, -10
	case models.TaxUnknown:
		return &models.RiskFinding{
			Category:    "tax",
			Severity:    models.SeverityMedium,
			Description: "Tax could not be verified due to provider failures",
		}, -15
	}
	// Verified zero and no-fee-functions both contribute nothing.
	return nil, 0
}
