package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Coverage describes how much of a requested block range a scan actually
// walked. Degraded is true only when coverage ended below 100%; a scan that
// was throttled mid-way but still finished the whole range is not degraded.
type Coverage struct {
	RequestedBlocks uint64 `json:"requested_blocks"`
	ScannedBlocks   uint64 `json:"scanned_blocks"`
	Degraded        bool   `json:"degraded"`
	RateLimited     bool   `json:"rate_limited"`
}

// Percent returns scanned/requested as a whole percentage, capped at 100.
// The division floors, so any gap at all keeps the value below 100 and
// Degraded always agrees with Percent() < 100.
func (c Coverage) Percent() int {
	if c.RequestedBlocks == 0 {
		return 100
	}
	p := int(c.ScannedBlocks * 100 / c.RequestedBlocks)
	if p > 100 {
		p = 100
	}
	return p
}

// HolderRecord is one ranked row of the holder table. Balance is kept as a
// string of the raw integer amount; PercentBps is the share of supply in
// basis points so the numerator never touches floating point.
type HolderRecord struct {
	Address    common.Address `json:"address"`
	Balance    string         `json:"balance"`
	PercentBps int64          `json:"percent_bps"`
	Percent    float64        `json:"percent"`
}

// HolderReport bundles ranked holders with coverage metadata.
// Completeness is "recent" when the scan held together (more successful
// chunks than failed ones and at least one holder), otherwise "partial".
type HolderReport struct {
	Holders      []HolderRecord `json:"holders"`
	Coverage     Coverage       `json:"coverage"`
	Completeness string         `json:"completeness"`
	Message      string         `json:"message,omitempty"`
}

// FlowPeriod is the aggregate transfer flow over one time window.
// Net flow is inflow minus outflow over the whole token, which is zero by
// construction; the field exists for per-address extensions.
type FlowPeriod struct {
	WindowHours   int              `json:"window_hours"`
	Inflow        *big.Int         `json:"-"`
	Outflow       *big.Int         `json:"-"`
	Net           *big.Int         `json:"-"`
	InflowStr     string           `json:"inflow"`
	OutflowStr    string           `json:"outflow"`
	NetStr        string           `json:"net"`
	TransferCount int              `json:"transfer_count"`
	UniqueAddrs   int              `json:"unique_addresses"`
	InflowUSD     *decimal.Decimal `json:"inflow_usd,omitempty"`
	OutflowUSD    *decimal.Decimal `json:"outflow_usd,omitempty"`
}

// FlowReport carries the three fixed windows plus coverage.
type FlowReport struct {
	Periods  []FlowPeriod `json:"periods"`
	Coverage Coverage     `json:"coverage"`
}

// DAppActivityEntry ranks one invoked contract by interaction count.
type DAppActivityEntry struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name,omitempty"`
	TxCount  int            `json:"tx_count"`
	GasSpent string         `json:"gas_spent"`
}

// ActivityReport is the top-N interaction ranking plus scan health flags.
type ActivityReport struct {
	Entries     []DAppActivityEntry `json:"entries"`
	Coverage    Coverage            `json:"coverage"`
	RateLimited bool                `json:"rate_limited"`
	Message     string              `json:"message,omitempty"`
}
