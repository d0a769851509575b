package risk

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"chainsight/models"
)

var token = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// fakeReader serves bytecode, storage and eth_call responses from tables.
type fakeReader struct {
	code        []byte
	codeAtBlock func(block uint64) []byte
	codeErr     error
	storage     map[common.Hash][]byte
	calls       map[string][]byte // keyed by hex of 4-byte selector
	callErrs    map[string]error
	latest      uint64
	latestErr   error
	codeCalls   int
}

func (f *fakeReader) CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error) {
	f.codeCalls++
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	if block != nil && f.codeAtBlock != nil {
		return f.codeAtBlock(block.Uint64()), nil
	}
	return f.code, nil
}

func (f *fakeReader) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) ([]byte, error) {
	return f.storage[slot], nil
}

func (f *fakeReader) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	key := common.Bytes2Hex(data[:4])
	if err, ok := f.callErrs[key]; ok {
		return nil, err
	}
	if out, ok := f.calls[key]; ok {
		return out, nil
	}
	return nil, errors.New("execution reverted")
}

func (f *fakeReader) LatestBlock(ctx context.Context) (uint64, error) {
	return f.latest, f.latestErr
}

func selKey(sig string) string {
	return common.Bytes2Hex(selector(sig))
}

func word(v int64) []byte {
	return common.BigToHash(big.NewInt(v)).Bytes()
}

// codeWith builds bytecode of the given length embedding the byte chunks.
func codeWith(length int, chunks ...[]byte) []byte {
	code := bytes.Repeat([]byte{0x5b}, length)
	off := 8
	for _, c := range chunks {
		copy(code[off:], c)
		off += len(c) + 4
	}
	return code
}

func newTestEngine(r ChainReader) *Engine {
	return NewEngine(r, 300) // mainnet block rate: 7200 blocks per day
}

func TestDetectProxyFromStorageSlotConstant(t *testing.T) {
	fr := &fakeReader{code: codeWith(4000, implementationSlot.Bytes())}
	e := newTestEngine(fr)
	f, delta := e.detectProxy(context.Background(), token, fr.code)
	if f == nil || f.Category != "proxy" {
		t.Fatalf("finding = %+v", f)
	}
	if delta != -10 {
		t.Fatalf("delta = %d", delta)
	}
}

func TestDetectProxyFromUpgradeSelectors(t *testing.T) {
	fr := &fakeReader{code: codeWith(4000, selector("upgradeTo(address)"), selector("admin()"))}
	e := newTestEngine(fr)
	f, _ := e.detectProxy(context.Background(), token, fr.code)
	if f == nil {
		t.Fatal("two upgrade selectors must flag a proxy")
	}
}

func TestDetectProxyFromImplementationSlot(t *testing.T) {
	impl := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	fr := &fakeReader{
		code: codeWith(4000),
		storage: map[common.Hash][]byte{
			implementationSlot: common.BytesToHash(impl.Bytes()).Bytes(),
		},
	}
	e := newTestEngine(fr)
	f, _ := e.detectProxy(context.Background(), token, fr.code)
	if f == nil {
		t.Fatal("populated implementation slot must flag a proxy")
	}

	// An empty slot on its own proves nothing.
	fr.storage[implementationSlot] = make([]byte, 32)
	if f, _ := e.detectProxy(context.Background(), token, fr.code); f != nil {
		t.Fatal("empty slot flagged")
	}
}

func TestDetectProxyFromLiveImplementationCall(t *testing.T) {
	impl := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	fr := &fakeReader{
		code: codeWith(4000),
		calls: map[string][]byte{
			selKey("implementation()"): common.BytesToHash(impl.Bytes()).Bytes(),
		},
	}
	e := newTestEngine(fr)
	f, _ := e.detectProxy(context.Background(), token, fr.code)
	if f == nil {
		t.Fatal("live implementation() must flag a proxy")
	}

	// A zero implementation address is not a proxy signal.
	fr.calls[selKey("implementation()")] = word(0)
	if f, _ := e.detectProxy(context.Background(), token, fr.code); f != nil {
		t.Fatal("zero implementation address flagged")
	}
}

func TestHoneypotScoring(t *testing.T) {
	tests := []struct {
		name     string
		code     []byte
		expected bool
	}{
		{
			// 30 < 50: one selector in normal-sized code is not enough.
			"single selector large code",
			codeWith(5000, selector("blacklist(address)")),
			false,
		},
		{
			// 30 + 30 = 60.
			"two selectors",
			codeWith(5000, selector("blacklist(address)"), selector("setBots(address[])")),
			true,
		},
		{
			// 30 + 20 = 50: selector plus tiny bytecode hits the threshold.
			"selector in tiny code",
			codeWith(2500, selector("openTrading()")),
			true,
		},
		{
			// 30 + 20 + 25 = 75: sub-2000 bytecode with a match.
			"selector in minimal code",
			codeWith(1500, selector("enableTrading()")),
			true,
		},
		{
			// 20 < 50: small contracts alone are fine.
			"tiny clean code",
			codeWith(1500),
			false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(&fakeReader{code: tc.code})
			f, delta := e.scoreHoneypot(context.Background(), token, tc.code)
			if (f != nil) != tc.expected {
				t.Fatalf("finding = %+v, expected match=%v", f, tc.expected)
			}
			if f != nil && delta != -40 {
				t.Fatalf("heuristic-only match delta = %d", delta)
			}
		})
	}
}

func TestHoneypotTradingToggleClosed(t *testing.T) {
	code := codeWith(5000, selector("blacklist(address)"), selector("setBots(address[])"))
	fr := &fakeReader{
		code:  code,
		calls: map[string][]byte{selKey("tradingOpen()"): word(0)},
	}
	e := newTestEngine(fr)
	f, delta := e.scoreHoneypot(context.Background(), token, code)
	if f == nil || delta != -60 {
		t.Fatalf("closed trading toggle: finding=%+v delta=%d", f, delta)
	}

	// Toggle reporting open falls back to the heuristic penalty.
	fr.calls[selKey("tradingOpen()")] = word(1)
	_, delta = e.scoreHoneypot(context.Background(), token, code)
	if delta != -40 {
		t.Fatalf("open trading toggle delta = %d", delta)
	}
}

func TestDetectTaxTriState(t *testing.T) {
	t.Run("no fee functions", func(t *testing.T) {
		e := newTestEngine(&fakeReader{}) // every call reverts
		res := e.DetectTax(context.Background(), token)
		if res.Status != models.TaxNone {
			t.Fatalf("status = %s", res.Status)
		}
		// Idempotent: a second run over the same contract agrees.
		if again := e.DetectTax(context.Background(), token); again.Status != res.Status {
			t.Fatalf("second run disagreed: %s", again.Status)
		}
	})

	t.Run("verified zero", func(t *testing.T) {
		e := newTestEngine(&fakeReader{calls: map[string][]byte{selKey("buyTax()"): word(0)}})
		if res := e.DetectTax(context.Background(), token); res.Status != models.TaxZero {
			t.Fatalf("status = %s", res.Status)
		}
	})

	t.Run("known tax", func(t *testing.T) {
		e := newTestEngine(&fakeReader{calls: map[string][]byte{
			selKey("buyTax()"):  word(5),
			selKey("sellTax()"): word(8),
		}})
		res := e.DetectTax(context.Background(), token)
		if res.Status != models.TaxKnown || res.MaxPercent != 8 {
			t.Fatalf("res = %+v", res)
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		errs := make(map[string]error)
		for _, sig := range taxProbes {
			errs[selKey(sig)] = errors.New("connection refused")
		}
		e := newTestEngine(&fakeReader{callErrs: errs})
		if res := e.DetectTax(context.Background(), token); res.Status != models.TaxUnknown {
			t.Fatalf("status = %s", res.Status)
		}
	})

	t.Run("failure beats zero", func(t *testing.T) {
		// One probe read a genuine zero but another never reached the
		// contract; the zero is no longer verifiable.
		e := newTestEngine(&fakeReader{
			calls:    map[string][]byte{selKey("buyTax()"): word(0)},
			callErrs: map[string]error{selKey("sellTax()"): errors.New("connection refused")},
		})
		if res := e.DetectTax(context.Background(), token); res.Status != models.TaxUnknown {
			t.Fatalf("status = %s", res.Status)
		}
	})

	t.Run("value beats failure", func(t *testing.T) {
		errs := make(map[string]error)
		for _, sig := range taxProbes {
			errs[selKey(sig)] = errors.New("connection refused")
		}
		delete(errs, selKey("sellFee()"))
		e := newTestEngine(&fakeReader{
			callErrs: errs,
			calls:    map[string][]byte{selKey("sellFee()"): word(3)},
		})
		if res := e.DetectTax(context.Background(), token); res.Status != models.TaxKnown {
			t.Fatalf("status = %s", res.Status)
		}
	})
}

func TestIsMissingFunction(t *testing.T) {
	missing := []error{
		errors.New("execution reverted"),
		errors.New("Execution reverted: no data"),
		errors.New("invalid opcode: INVALID"),
		errors.New("out of gas"),
		errors.New("abi: cannot unmarshal"),
	}
	for _, err := range missing {
		if !isMissingFunction(err) {
			t.Fatalf("%q should read as a missing function", err)
		}
	}
	provider := []error{
		errors.New("connection refused"),
		errors.New("context deadline exceeded"),
		errors.New("502 bad gateway"),
	}
	for _, err := range provider {
		if isMissingFunction(err) {
			t.Fatalf("%q is a provider failure", err)
		}
	}
}

func TestNormalizeTaxValue(t *testing.T) {
	tests := []struct {
		raw  int64
		want float64
	}{
		{5, 5},         // direct percentage
		{100, 100},     // boundary stays direct
		{500, 5},       // basis points
		{10000, 100},   // boundary of the bps scale
		{50000, 500},   // still treated as a scaled value
		{50000000, 5000}, // parts-per-million
	}
	for _, tc := range tests {
		if got := NormalizeTaxValue(big.NewInt(tc.raw)); got != tc.want {
			t.Fatalf("NormalizeTaxValue(%d) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestTaxFindingScores(t *testing.T) {
	tests := []struct {
		name  string
		res   TaxResult
		delta int
		sev   models.Severity
	}{
		{"high tax", TaxResult{Status: models.TaxKnown, MaxPercent: 12}, -25, models.SeverityHigh},
		{"moderate tax", TaxResult{Status: models.TaxKnown, MaxPercent: 5}, -10, models.SeverityMedium},
		{"unverifiable", TaxResult{Status: models.TaxUnknown}, -15, models.SeverityMedium},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, delta := taxFinding(tc.res)
			if f == nil || delta != tc.delta || f.Severity != tc.sev {
				t.Fatalf("finding=%+v delta=%d", f, delta)
			}
		})
	}

	for _, status := range []models.TaxStatus{models.TaxZero, models.TaxNone} {
		if f, delta := taxFinding(TaxResult{Status: status}); f != nil || delta != 0 {
			t.Fatalf("%s must contribute nothing", status)
		}
	}
}

func TestDeploymentBlockBinarySearch(t *testing.T) {
	const deployedAt = uint64(730000)
	fr := &fakeReader{
		latest: 1_000_000,
		codeAtBlock: func(block uint64) []byte {
			if block >= deployedAt {
				return []byte{0x60, 0x80}
			}
			return nil
		},
	}
	e := newTestEngine(fr)
	got, err := e.DeploymentBlock(context.Background(), token, fr.latest)
	if err != nil {
		t.Fatalf("DeploymentBlock: %v", err)
	}
	if got != deployedAt {
		t.Fatalf("deployment block = %d, want %d", got, deployedAt)
	}
	// log2(1e6) is about 20; linear scans would need hundreds of thousands.
	if fr.codeCalls > 30 {
		t.Fatalf("binary search made %d lookups", fr.codeCalls)
	}
}

func TestDeploymentBlockNotAContract(t *testing.T) {
	fr := &fakeReader{latest: 100, codeAtBlock: func(uint64) []byte { return nil }}
	e := newTestEngine(fr)
	if _, err := e.DeploymentBlock(context.Background(), token, 100); err == nil {
		t.Fatal("expected error for address without bytecode")
	}
}

func TestAgeFinding(t *testing.T) {
	const blocksPerDay = uint64(300 * 24)
	tests := []struct {
		name     string
		ageDays  uint64
		delta    int
		expected bool
	}{
		{"brand new", 2, -30, true},
		{"established", 30, 0, false},
		{"veteran", 400, +5, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			latest := uint64(10_000_000)
			deployed := latest - tc.ageDays*blocksPerDay
			fr := &fakeReader{
				latest: latest,
				codeAtBlock: func(block uint64) []byte {
					if block >= deployed {
						return []byte{0x60}
					}
					return nil
				},
			}
			e := newTestEngine(fr)
			f, delta := e.ageFinding(context.Background(), token)
			if (f != nil) != tc.expected {
				t.Fatalf("finding = %+v", f)
			}
			if tc.expected && delta != tc.delta {
				t.Fatalf("delta = %d, want %d", delta, tc.delta)
			}
		})
	}
}

func TestAgeFindingToleratesFailures(t *testing.T) {
	e := newTestEngine(&fakeReader{latestErr: errors.New("all providers down")})
	if f, delta := e.ageFinding(context.Background(), token); f != nil || delta != 0 {
		t.Fatal("failed age check must contribute nothing")
	}
}

func TestAssessCleanContract(t *testing.T) {
	const deployed = uint64(1000)
	fr := &fakeReader{
		code:   codeWith(5000),
		latest: deployed + 300*24*30, // 30 days old
		codeAtBlock: func(block uint64) []byte {
			if block >= deployed {
				return []byte{0x60}
			}
			return nil
		},
	}
	e := newTestEngine(fr)
	report := e.Assess(context.Background(), token)
	if report.Score != 100 {
		t.Fatalf("clean contract score = %d, findings = %+v", report.Score, report.Findings)
	}
	if len(report.Findings) != 0 {
		t.Fatalf("unexpected findings: %+v", report.Findings)
	}
}

func TestAssessClampsFloor(t *testing.T) {
	// Proxy slot, honeypot selectors in tiny code, closed trading toggle,
	// unverifiable tax, fresh deployment: the raw score goes far below 1.
	const deployed = uint64(9_999_000)
	code := codeWith(1500,
		implementationSlot.Bytes(),
		selector("blacklist(address)"),
		selector("setBots(address[])"))

	errs := make(map[string]error)
	for _, sig := range taxProbes {
		errs[selKey(sig)] = errors.New("connection refused")
	}
	fr := &fakeReader{
		code:     code,
		latest:   10_000_000,
		callErrs: errs,
		calls:    map[string][]byte{selKey("tradingOpen()"): word(0)},
		codeAtBlock: func(block uint64) []byte {
			if block >= deployed {
				return code
			}
			return nil
		},
	}
	e := newTestEngine(fr)
	report := e.Assess(context.Background(), token)
	if report.Score != 1 {
		t.Fatalf("score = %d, want clamped 1", report.Score)
	}
	if len(report.Findings) != 4 {
		t.Fatalf("expected 4 findings, got %+v", report.Findings)
	}
}

func TestAssessSurvivesBytecodeFailure(t *testing.T) {
	errs := make(map[string]error)
	for _, sig := range taxProbes {
		errs[selKey(sig)] = errors.New("provider down")
	}
	fr := &fakeReader{
		codeErr:   errors.New("provider down"),
		latestErr: errors.New("provider down"),
		callErrs:  errs,
	}
	e := newTestEngine(fr)
	report := e.Assess(context.Background(), token)
	// Bytecode and age checks skipped; only the unverifiable-tax finding
	// contributes.
	if report.Score != 100-15 {
		t.Fatalf("score = %d", report.Score)
	}
}
