package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifies which log signature a raw log decoded against.
type EventKind string

const (
	EventTransfer EventKind = "transfer"
	EventApproval EventKind = "approval"
	EventMint     EventKind = "mint"
	EventBurn     EventKind = "burn"
)

// TxKind is the transaction-level classification derived from the set of
// events a single transaction emitted. Precedence when several kinds are
// present: Swap > Mint > Burn > Approval > Transfer > Other.
type TxKind string

const (
	TxSwap     TxKind = "swap"
	TxMint     TxKind = "mint"
	TxBurn     TxKind = "burn"
	TxApproval TxKind = "approval"
	TxTransfer TxKind = "transfer"
	TxOther    TxKind = "other"
)

// DecodedEvent is a typed view over one raw log. Value is nil for events
// whose data field did not carry an amount.
type DecodedEvent struct {
	Kind        EventKind
	Contract    common.Address
	From        common.Address
	To          common.Address
	Value       *big.Int
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// IsMint reports whether the event credits supply (transfer from the zero
// address, or an explicit Mint log).
func (e *DecodedEvent) IsMint() bool {
	return e.Kind == EventMint || (e.Kind == EventTransfer && e.From == (common.Address{}))
}

// IsBurn reports whether the event debits supply.
func (e *DecodedEvent) IsBurn() bool {
	return e.Kind == EventBurn || (e.Kind == EventTransfer && e.To == (common.Address{}))
}
