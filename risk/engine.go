package risk

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"chainsight/models"
	"chainsight/utils"
)

// Engine runs the independent contract-risk checks. Each check tolerates
// its own failure: a check that cannot complete contributes no finding
// instead of aborting the report.
type Engine struct {
	reader        ChainReader
	blocksPerHour uint64
}

func NewEngine(reader ChainReader, blocksPerHour uint64) *Engine {
	return &Engine{reader: reader, blocksPerHour: blocksPerHour}
}

// Assess builds the full risk report for token. The score starts at 100
// and every finding applies its delta before the final clamp to [1,100].
func (e *Engine) Assess(ctx context.Context, token common.Address) *models.RiskReport {
	report := &models.RiskReport{Score: 100, Findings: []models.RiskFinding{}}

	code, err := e.reader.CodeAt(ctx, token, nil)
	if err != nil {
		if utils.Logger != nil {
			utils.Error(err, "Bytecode fetch failed, skipping bytecode checks",
				"token", token.Hex())
		}
		code = nil
	}

	if len(code) > 0 {
		if f, delta := e.detectProxy(ctx, token, code); f != nil {
			report.Findings = append(report.Findings, *f)
			report.Score += delta
		}
		if f, delta := e.scoreHoneypot(ctx, token, code); f != nil {
			report.Findings = append(report.Findings, *f)
			report.Score += delta
		}
	}

	if f, delta := taxFinding(e.DetectTax(ctx, token)); f != nil {
		report.Findings = append(report.Findings, *f)
		report.Score += delta
	}

	if f, delta := e.ageFinding(ctx, token); f != nil {
		report.Findings = append(report.Findings, *f)
		report.Score += delta
	}

	report.Clamp()
	return report
}
