package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"chainsight/models"
)

// Topic hashes are derived from the canonical event signatures at init so
// the constants can never drift from the strings.
var (
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	ApprovalTopic = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
	MintTopic     = crypto.Keccak256Hash([]byte("Mint(address,uint256)"))
	BurnTopic     = crypto.Keccak256Hash([]byte("Burn(address,uint256)"))

	// Pair-style events, used only for transaction classification.
	SwapTopic     = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	PairMintTopic = crypto.Keccak256Hash([]byte("Mint(address,uint256,uint256)"))
	PairBurnTopic = crypto.Keccak256Hash([]byte("Burn(address,uint256,uint256,address)"))
)

// DecodeLog interprets one raw log against the signature table. The second
// return is false for unknown signatures or malformed payloads; callers
// skip those and continue, a bad log never aborts a batch.
func DecodeLog(lg types.Log) (models.DecodedEvent, bool) {
	if len(lg.Topics) == 0 {
		return models.DecodedEvent{}, false
	}

	ev := models.DecodedEvent{
		Contract:    lg.Address,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}

	switch lg.Topics[0] {
	case TransferTopic, ApprovalTopic:
		if len(lg.Topics) < 3 || len(lg.Data) < 32 {
			return models.DecodedEvent{}, false
		}
		ev.Kind = models.EventTransfer
		if lg.Topics[0] == ApprovalTopic {
			ev.Kind = models.EventApproval
		}
		ev.From = topicAddress(lg.Topics[1])
		ev.To = topicAddress(lg.Topics[2])
		ev.Value = new(big.Int).SetBytes(lg.Data[:32])
		return ev, true
	case MintTopic:
		return decodeSupplyEvent(lg, ev, models.EventMint)
	case BurnTopic:
		return decodeSupplyEvent(lg, ev, models.EventBurn)
	}
	return models.DecodedEvent{}, false
}

func decodeSupplyEvent(lg types.Log, ev models.DecodedEvent, kind models.EventKind) (models.DecodedEvent, bool) {
	if len(lg.Data) < 32 {
		return models.DecodedEvent{}, false
	}
	ev.Kind = kind
	if len(lg.Topics) >= 2 {
		addr := topicAddress(lg.Topics[1])
		if kind == models.EventMint {
			ev.To = addr
		} else {
			ev.From = addr
		}
	}
	ev.Value = new(big.Int).SetBytes(lg.Data[:32])
	return ev, true
}

// DecodeLogs decodes every log emitted by the given token contract,
// silently dropping anything non-standard.
func DecodeLogs(logs []types.Log, token common.Address) []models.DecodedEvent {
	out := make([]models.DecodedEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Address != token {
			continue
		}
		if ev, ok := DecodeLog(lg); ok {
			out = append(out, ev)
		}
	}
	return out
}

// ClassifyTx labels a transaction from the full set of logs it emitted.
// Precedence is fixed: Swap > Mint > Burn > Approval > Transfer > Other.
// A swap transaction also emits Transfer events, so the swap signature must
// win even when transfers are present.
func ClassifyTx(logs []types.Log) models.TxKind {
	var hasMint, hasBurn, hasApproval, hasTransfer bool
	for _, lg := range logs {
		if len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case SwapTopic:
			return models.TxSwap
		case MintTopic, PairMintTopic:
			hasMint = true
		case BurnTopic, PairBurnTopic:
			hasBurn = true
		case ApprovalTopic:
			hasApproval = true
		case TransferTopic:
			hasTransfer = true
			if len(lg.Topics) >= 3 {
				if topicAddress(lg.Topics[1]) == (common.Address{}) {
					hasMint = true
				}
				if topicAddress(lg.Topics[2]) == (common.Address{}) {
					hasBurn = true
				}
			}
		}
	}
	switch {
	case hasMint:
		return models.TxMint
	case hasBurn:
		return models.TxBurn
	case hasApproval:
		return models.TxApproval
	case hasTransfer:
		return models.TxTransfer
	}
	return models.TxOther
}

func topicAddress(t common.Hash) common.Address {
	return common.BytesToAddress(t.Bytes()[12:])
}
