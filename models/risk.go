package models

// Severity grades a single risk finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// TaxStatus is the tri-state outcome of fee probing. TaxZero means every
// probe succeeded and returned zero; NoTax means no fee function existed at
// all; TaxUnknown is reserved for provider-level failure and scores worse
// than a verified zero.
type TaxStatus string

const (
	TaxNone    TaxStatus = "no_tax"
	TaxZero    TaxStatus = "tax_zero"
	TaxKnown   TaxStatus = "tax_known"
	TaxUnknown TaxStatus = "tax_unknown"
)

// RiskFinding is one observation contributing to the report score.
type RiskFinding struct {
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// RiskReport accumulates findings into a 1..100 score (100 = cleanest).
type RiskReport struct {
	Score    int           `json:"score"`
	Findings []RiskFinding `json:"findings"`
}

// Clamp pins the score into [1,100] after all deductions and bonuses.
func (r *RiskReport) Clamp() {
	if r.Score > 100 {
		r.Score = 100
	}
	if r.Score < 1 {
		r.Score = 1
	}
}
