package activity

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	router = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	vault  = common.HexToAddress("0x00000000000000000000000000000000000000d2")
)

type fakeFetcher struct {
	infos map[common.Hash]TxInfo
	errs  map[common.Hash]error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, chain string, h common.Hash) (TxInfo, error) {
	f.calls++
	if err, ok := f.errs[h]; ok {
		return TxInfo{}, err
	}
	return f.infos[h], nil
}

func hash(i int) common.Hash {
	return common.BigToHash(big.NewInt(int64(i)))
}

func TestUniqueTxHashesDedupsAndCaps(t *testing.T) {
	logs := []types.Log{
		{TxHash: hash(1)},
		{TxHash: hash(2)},
		{TxHash: hash(1)}, // duplicate
		{TxHash: hash(3)},
		{TxHash: hash(4)},
	}

	got := uniqueTxHashes(logs, 0)
	if len(got) != 4 {
		t.Fatalf("expected 4 unique hashes, got %d", len(got))
	}
	if got[0] != hash(1) || got[1] != hash(2) {
		t.Fatal("first-seen order must be preserved")
	}

	capped := uniqueTxHashes(logs, 3)
	if len(capped) != 3 {
		t.Fatalf("cap ignored: got %d", len(capped))
	}
}

func TestRankGroupsByInvokedContract(t *testing.T) {
	ff := &fakeFetcher{infos: map[common.Hash]TxInfo{
		hash(1): {To: &router, GasUsed: 100, EffGasPrice: big.NewInt(10)},
		hash(2): {To: &router, GasUsed: 200, EffGasPrice: big.NewInt(10)},
		hash(3): {To: &vault, GasUsed: 50, EffGasPrice: big.NewInt(20)},
	}}
	reg := NewStaticRegistry(map[string]string{router.Hex(): "DEX Router"})
	s := &Service{registry: reg, fetcher: ff}

	entries := s.rank(context.Background(), "ethereum", []common.Hash{hash(1), hash(2), hash(3)})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	top := entries[0]
	if top.Address != router || top.TxCount != 2 {
		t.Fatalf("top entry = %+v", top)
	}
	if top.GasSpent != "3000" { // 100*10 + 200*10
		t.Fatalf("gas spent = %s", top.GasSpent)
	}
	if top.Name != "DEX Router" {
		t.Fatalf("registry name missing: %q", top.Name)
	}
	if entries[1].Address != vault || entries[1].Name != "" {
		t.Fatalf("second entry = %+v", entries[1])
	}
}

func TestRankSkipsCreationsAndFailures(t *testing.T) {
	ff := &fakeFetcher{
		infos: map[common.Hash]TxInfo{
			hash(1): {To: nil, GasUsed: 100, EffGasPrice: big.NewInt(1)}, // contract creation
			hash(3): {To: &vault, GasUsed: 1, EffGasPrice: big.NewInt(1)},
		},
		errs: map[common.Hash]error{hash(2): errors.New("not found")},
	}
	s := &Service{fetcher: ff}

	entries := s.rank(context.Background(), "ethereum", []common.Hash{hash(1), hash(2), hash(3)})
	if len(entries) != 1 || entries[0].Address != vault {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestRankTruncatesToTopTen(t *testing.T) {
	infos := make(map[common.Hash]TxInfo)
	hashes := make([]common.Hash, 0, 15)
	// 15 distinct contracts, one tx each, plus extra txs for contract 0.
	for i := 0; i < 15; i++ {
		addr := common.BigToAddress(big.NewInt(int64(1000 + i)))
		h := hash(100 + i)
		infos[h] = TxInfo{To: &addr, GasUsed: 1, EffGasPrice: big.NewInt(1)}
		hashes = append(hashes, h)
	}
	busy := common.BigToAddress(big.NewInt(1000))
	for i := 0; i < 3; i++ {
		h := hash(900 + i)
		infos[h] = TxInfo{To: &busy, GasUsed: 1, EffGasPrice: big.NewInt(1)}
		hashes = append(hashes, h)
	}

	s := &Service{fetcher: &fakeFetcher{infos: infos}}
	entries := s.rank(context.Background(), "ethereum", hashes)
	if len(entries) != 10 {
		t.Fatalf("expected top 10, got %d", len(entries))
	}
	if entries[0].Address != busy || entries[0].TxCount != 4 {
		t.Fatalf("busiest contract first: %+v", entries[0])
	}
	// Ties at count 1 keep first-seen order.
	for i := 1; i < len(entries); i++ {
		want := common.BigToAddress(big.NewInt(int64(1000 + i)))
		if entries[i].Address != want {
			t.Fatalf("entry %d = %s, want %s", i, entries[i].Address, want)
		}
	}
}

func TestRankHandlesMissingGasPrice(t *testing.T) {
	ff := &fakeFetcher{infos: map[common.Hash]TxInfo{
		hash(1): {To: &vault, GasUsed: 100}, // pre-EIP-1559 receipt shape
	}}
	s := &Service{fetcher: ff}
	entries := s.rank(context.Background(), "ethereum", []common.Hash{hash(1)})
	if entries[0].GasSpent != "0" {
		t.Fatalf("gas spent = %s, want 0", entries[0].GasSpent)
	}
}

func TestRankStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ff := &fakeFetcher{infos: map[common.Hash]TxInfo{}}
	s := &Service{fetcher: ff}
	entries := s.rank(ctx, "ethereum", []common.Hash{hash(1), hash(2)})
	if len(entries) != 0 || ff.calls != 0 {
		t.Fatalf("rank kept working after cancellation: entries=%d calls=%d", len(entries), ff.calls)
	}
}

func TestStaticRegistryFiltersBadAddresses(t *testing.T) {
	reg := NewStaticRegistry(map[string]string{
		router.Hex():  "Router",
		"not-an-addr": "Bogus",
	})
	if _, ok := reg.Lookup(common.HexToAddress(fmt.Sprintf("0x%040x", 0xdead))); ok {
		t.Fatal("unknown address resolved")
	}
	if name, ok := reg.Lookup(router); !ok || name != "Router" {
		t.Fatalf("lookup = %q, %v", name, ok)
	}
}
