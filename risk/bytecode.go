package risk

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"chainsight/models"
)

// selector derives the 4-byte function selector from a canonical signature.
func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// eip1967Slot derives the storage slot keccak(label) - 1 per the standard.
func eip1967Slot(label string) common.Hash {
	n := new(big.Int).SetBytes(crypto.Keccak256([]byte(label)))
	n.Sub(n, big.NewInt(1))
	return common.BigToHash(n)
}

var (
	implementationSlot = eip1967Slot("eip1967.proxy.implementation")
	adminSlot          = eip1967Slot("eip1967.proxy.admin")

	implementationSel = selector("implementation()")

	upgradeSelectors = [][]byte{
		selector("upgradeTo(address)"),
		selector("upgradeToAndCall(address,bytes)"),
		implementationSel,
		selector("admin()"),
	}

	// Functions honeypot deployers lean on. Standard ownership selectors
	// are deliberately absent: owner()/transferOwnership()/
	// renounceOwnership() appear in legitimate contracts everywhere.
	suspiciousSignatures = []string{
		"blacklist(address)",
		"addToBlacklist(address)",
		"removeFromBlacklist(address)",
		"isBlacklisted(address)",
		"setBots(address[])",
		"delBot(address)",
		"openTrading()",
		"enableTrading()",
		"setTrading(bool)",
		"setMaxTxAmount(uint256)",
		"setCooldownEnabled(bool)",
	}

	tradingStateSelectors = [][]byte{
		selector("tradingOpen()"),
		selector("tradingEnabled()"),
	}
)

const (
	selectorWeight     = 30
	tinyBytecodeWeight = 20
	comboWeight        = 25
	honeypotThreshold  = 50

	tinyBytecodeLen  = 3000
	comboBytecodeLen = 2000
)

// detectProxy flags upgradeable contracts: an EIP-1967 slot constant in the
// bytecode, two or more upgrade selectors, or a live implementation() call
// returning a non-zero address.
func (e *Engine) detectProxy(ctx context.Context, token common.Address, code []byte) (*models.RiskFinding, int) {
	if bytes.Contains(code, implementationSlot.Bytes()) || bytes.Contains(code, adminSlot.Bytes()) {
		return &models.RiskFinding{
			Category:    "proxy",
			Severity:    models.SeverityMedium,
			Description: "EIP-1967 proxy storage slot found in bytecode; implementation can change",
		}, -10
	}

	matched := 0
	for _, sel := range upgradeSelectors {
		if bytes.Contains(code, sel) {
			matched++
		}
	}
	if matched >= 2 {
		return &models.RiskFinding{
			Category:    "proxy",
			Severity:    models.SeverityMedium,
			Description: "Multiple upgrade function selectors present; contract is likely upgradeable",
		}, -10
	}

	if raw, err := e.reader.StorageAt(ctx, token, implementationSlot); err == nil && len(raw) >= 32 {
		if common.BytesToAddress(raw[12:32]) != (common.Address{}) {
			return &models.RiskFinding{
				Category:    "proxy",
				Severity:    models.SeverityMedium,
				Description: "EIP-1967 implementation slot holds a live address; contract is a proxy",
			}, -10
		}
	}

	if raw, err := e.reader.CallContract(ctx, token, implementationSel); err == nil && len(raw) >= 32 {
		if common.BytesToAddress(raw[12:32]) != (common.Address{}) {
			return &models.RiskFinding{
				Category:    "proxy",
				Severity:    models.SeverityMedium,
				Description: "implementation() returned a live address; contract is a proxy",
			}, -10
		}
	}
	return nil, 0
}

// scoreHoneypot runs the weighted selector heuristic and, above the
// threshold, probes the trading toggle live. An explicit false from
// tradingOpen()/tradingEnabled() is the strongest signal available.
func (e *Engine) scoreHoneypot(ctx context.Context, token common.Address, code []byte) (*models.RiskFinding, int) {
	score := 0
	matchedSelectors := 0
	for _, sig := range suspiciousSignatures {
		if bytes.Contains(code, selector(sig)) {
			matchedSelectors++
			score += selectorWeight
		}
	}
	if len(code) < tinyBytecodeLen {
		score += tinyBytecodeWeight
	}
	if len(code) < comboBytecodeLen && matchedSelectors > 0 {
		score += comboWeight
	}
	if score < honeypotThreshold {
		return nil, 0
	}

	for _, sel := range tradingStateSelectors {
		raw, err := e.reader.CallContract(ctx, token, sel)
		if err != nil || len(raw) < 32 {
			continue
		}
		if new(big.Int).SetBytes(raw[:32]).Sign() == 0 {
			return &models.RiskFinding{
				Category:    "honeypot",
				Severity:    models.SeverityHigh,
				Description: "Trading toggle reports closed while honeypot heuristics matched",
			}, -60
		}
	}

	return &models.RiskFinding{
		Category:    "honeypot",
		Severity:    models.SeverityHigh,
		Description: "Bytecode matches honeypot heuristics (blacklist/trading-toggle selectors)",
	}, -40
}
