package holders

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"chainsight/models"
)

// Ledger accumulates signed balance deltas from a decoded transfer stream.
// The zero address is the mint/burn sentinel and never becomes a holder;
// transfers touching it update only the non-zero side.
type Ledger struct {
	deltas map[common.Address]*big.Int
	order  map[common.Address]int
	seq    int
}

func NewLedger() *Ledger {
	return &Ledger{
		deltas: make(map[common.Address]*big.Int),
		order:  make(map[common.Address]int),
	}
}

// Apply folds one decoded event into the ledger. Approvals are ignored.
func (l *Ledger) Apply(ev models.DecodedEvent) {
	if ev.Value == nil {
		return
	}
	switch ev.Kind {
	case models.EventTransfer:
		l.add(ev.From, new(big.Int).Neg(ev.Value))
		l.add(ev.To, ev.Value)
	case models.EventMint:
		l.add(ev.To, ev.Value)
	case models.EventBurn:
		l.add(ev.From, new(big.Int).Neg(ev.Value))
	}
}

func (l *Ledger) add(addr common.Address, amount *big.Int) {
	if addr == (common.Address{}) {
		return
	}
	cur, ok := l.deltas[addr]
	if !ok {
		cur = new(big.Int)
		l.deltas[addr] = cur
		l.order[addr] = l.seq
		l.seq++
	}
	cur.Add(cur, amount)
}

// Deltas returns every address with a non-zero delta, for verification.
func (l *Ledger) Deltas() map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(l.deltas))
	for addr, d := range l.deltas {
		if d.Sign() != 0 {
			out[addr] = d
		}
	}
	return out
}

// Positive returns addresses whose accumulated delta is strictly positive,
// the approximate-mode holder set.
func (l *Ledger) Positive() map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(l.deltas))
	for addr, d := range l.deltas {
		if d.Sign() > 0 {
			out[addr] = d
		}
	}
	return out
}

// Sum returns the net of all deltas; zero for any closed transfer set once
// sentinel transfers are accounted one-sided.
func (l *Ledger) Sum() *big.Int {
	sum := new(big.Int)
	for _, d := range l.deltas {
		sum.Add(sum, d)
	}
	return sum
}

// Rank turns balances into sorted holder records. Percentage is computed in
// basis points with the multiply done before the divide, so tiny shares of
// huge supplies never round through a float. Ties keep insertion order.
func (l *Ledger) Rank(balances map[common.Address]*big.Int, totalSupply *big.Int) []models.HolderRecord {
	type row struct {
		addr    common.Address
		balance *big.Int
		seq     int
	}
	rows := make([]row, 0, len(balances))
	for addr, b := range balances {
		if b.Sign() <= 0 {
			continue
		}
		rows = append(rows, row{addr: addr, balance: b, seq: l.order[addr]})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		cmp := rows[i].balance.Cmp(rows[j].balance)
		if cmp != 0 {
			return cmp > 0
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]models.HolderRecord, 0, len(rows))
	for _, r := range rows {
		rec := models.HolderRecord{
			Address: r.addr,
			Balance: r.balance.String(),
		}
		if totalSupply != nil && totalSupply.Sign() > 0 {
			bps := new(big.Int).Mul(r.balance, big.NewInt(10000))
			bps.Div(bps, totalSupply)
			rec.PercentBps = bps.Int64()
			rec.Percent = float64(rec.PercentBps) / 100
		}
		out = append(out, rec)
	}
	return out
}
