package liquidation

import (
	"testing"

	"predcore/crypto"
	"predcore/internal/amm"
	"predcore/internal/coreerrors"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
	"predcore/internal/position"
)

func makeKeeper(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[0] = b
	addr, err := crypto.NewAddress(crypto.CorePrefix, buf)
	if err != nil {
		panic(err)
	}
	return addr
}

// --- position.Store stubs, mirroring the position package's own test stubs ---

type stubMarkets struct {
	engine       amm.Engine
	outcomeCount int
	fundingIndex fixedpoint.Fixed
	halted       bool
}

func (s *stubMarkets) Engine(ids.MarketID) (amm.Engine, error)            { return s.engine, nil }
func (s *stubMarkets) OutcomeCount(ids.MarketID) (int, error)             { return s.outcomeCount, nil }
func (s *stubMarkets) FundingIndex(ids.MarketID) (fixedpoint.Fixed, error) { return s.fundingIndex, nil }
func (s *stubMarkets) Halted(ids.MarketID) (bool, error)                  { return s.halted, nil }

type stubLeverage struct {
	liquidationPrice fixedpoint.Fixed
}

func (s *stubLeverage) Resolve(req position.LeverageRequest) (position.LeverageResult, error) {
	// A high effective leverage keeps collateral small relative to
	// notional, so a move to zero reliably crosses the extreme-drawdown
	// threshold regardless of exactly where the AMM quotes entry price.
	return position.LeverageResult{EffectiveLeverage: fixedpoint.FromInt64(10), LiquidationPrice: s.liquidationPrice}, nil
}

func (s *stubLeverage) Adjust(entryPrice, currentEffectiveLeverage, pnlPct fixedpoint.Fixed, direction amm.Direction) (position.LeverageResult, error) {
	return position.LeverageResult{EffectiveLeverage: currentEffectiveLeverage, LiquidationPrice: s.liquidationPrice}, nil
}

type stubVault struct {
	balance      fixedpoint.Fixed
	openInterest fixedpoint.Fixed
	coverage     fixedpoint.Fixed
}

func (s *stubVault) Deposit(amount fixedpoint.Fixed) error {
	next, err := s.balance.Add(amount)
	if err != nil {
		return err
	}
	s.balance = next
	return nil
}

func (s *stubVault) Withdraw(amount fixedpoint.Fixed) error {
	next, err := s.balance.Sub(amount)
	if err != nil {
		return err
	}
	s.balance = next
	return nil
}

func (s *stubVault) AdjustOpenInterest(delta fixedpoint.Fixed) error {
	next, err := s.openInterest.Add(delta)
	if err != nil {
		return err
	}
	s.openInterest = next
	return nil
}

func (s *stubVault) CoverageRatio() (fixedpoint.Fixed, error) { return s.coverage, nil }
func (s *stubVault) SweepRounding(fixedpoint.Fixed) error     { return nil }

// --- liquidation engine dependency stubs ---

type fakePrices struct {
	price fixedpoint.Fixed
}

func (f *fakePrices) CurrentPrice(ids.MarketID) (fixedpoint.Fixed, error) { return f.price, nil }

type fakeChains struct {
	unwound []ids.ChainID
}

func (f *fakeChains) UnwindChain(chain ids.ChainID) error {
	f.unwound = append(f.unwound, chain)
	return nil
}

type fakeTreasury struct {
	bountyPaid fixedpoint.Fixed
	swept      fixedpoint.Fixed
}

func (f *fakeTreasury) PayKeeperBounty(keeper crypto.Address, amount fixedpoint.Fixed) error {
	next, err := f.bountyPaid.Add(amount)
	if err != nil {
		return err
	}
	f.bountyPaid = next
	return nil
}

func (f *fakeTreasury) SweepRounding(amount fixedpoint.Fixed) error {
	next, err := f.swept.Add(amount)
	if err != nil {
		return err
	}
	f.swept = next
	return nil
}

type fakeDepth struct {
	depth fixedpoint.Fixed
}

func (f *fakeDepth) AggregateDepth(ids.MarketID) (fixedpoint.Fixed, error) { return f.depth, nil }

// setup opens a single long position against a real position.Store (so
// Seize exercises the real graduated-collateral arithmetic) with a fixed
// liquidation price, and wires a liquidation.Engine around it.
func setup(t *testing.T, liquidationPrice fixedpoint.Fixed, depth fixedpoint.Fixed) (*position.Store, *Engine, *fakePrices, *fakeChains, *fakeTreasury, position.Position) {
	t.Helper()
	engine := amm.NewLMSR(fixedpoint.FromInt64(1000), func() (fixedpoint.Fixed, error) { return fixedpoint.Zero(), nil })
	markets := &stubMarkets{engine: engine, outcomeCount: 2, fundingIndex: fixedpoint.Zero()}
	leverage := &stubLeverage{liquidationPrice: liquidationPrice}
	vault := &stubVault{balance: fixedpoint.Zero(), openInterest: fixedpoint.Zero(), coverage: fixedpoint.One()}
	store := position.New(markets, leverage, vault, nil)

	opened, err := store.Open(position.OpenRequest{
		Owner:        makeKeeper(1),
		Market:       ids.NewMarketID(),
		Outcome:      0,
		Direction:    amm.Buy,
		Size:         fixedpoint.FromInt64(100),
		BaseLeverage: fixedpoint.FromInt64(5),
		Tick:         1,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	prices := &fakePrices{}
	chains := &fakeChains{}
	treasury := &fakeTreasury{}
	marketDepth := &fakeDepth{depth: depth}

	liq := NewEngine(store, prices, chains, treasury, marketDepth, DefaultParams(), nil)
	return store, liq, prices, chains, treasury, opened.Position
}

// currentPriceForScore returns the price at which HealthScore(entry, liq,
// price, Buy) evaluates to approximately the target score (0-100):
// price = liqPrice + (entryPrice-liqPrice)*(100-targetScore)/100.
func currentPriceForScore(t *testing.T, entryPrice, liquidationPrice fixedpoint.Fixed, targetScore int64) fixedpoint.Fixed {
	t.Helper()
	total, err := entryPrice.Sub(liquidationPrice)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	remainingRatio, err := fixedpoint.FromInt64(100 - targetScore).Div(fixedpoint.FromInt64(100))
	if err != nil {
		t.Fatalf("div: %v", err)
	}
	remaining, err := total.Mul(remainingRatio)
	if err != nil {
		t.Fatalf("mul: %v", err)
	}
	price, err := liquidationPrice.Add(remaining)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return price
}

func TestHealthScoreZeroAtEntry(t *testing.T) {
	entryPrice, err := fixedpoint.FromFraction(1, 2)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	liqPrice, err := fixedpoint.FromFraction(1, 10)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	score, err := HealthScore(entryPrice, liqPrice, entryPrice, amm.Buy)
	if err != nil {
		t.Fatalf("health score: %v", err)
	}
	if score.Sign() != 0 {
		t.Fatalf("expected score 0 at entry price, got %s", score)
	}
}

func TestHealthScorePastLiquidationReturns100(t *testing.T) {
	entryPrice, _ := fixedpoint.FromFraction(1, 2)
	liqPrice, _ := fixedpoint.FromFraction(1, 10)
	current, _ := fixedpoint.FromFraction(1, 20)
	score, err := HealthScore(entryPrice, liqPrice, current, amm.Buy)
	if err != nil {
		t.Fatalf("health score: %v", err)
	}
	if score.Cmp(fixedpoint.FromInt64(100)) != 0 {
		t.Fatalf("expected score 100 past liquidation, got %s", score)
	}
}

func TestSeizureFractionLadderRungs(t *testing.T) {
	cases := []struct {
		score    int64
		expected fixedpoint.Fixed
	}{
		{79, fixedpoint.Zero()},
		{80, mustFraction(1, 10)},
		{89, mustFraction(1, 10)},
		{90, mustFraction(1, 4)},
		{95, mustFraction(1, 2)},
		{100, fixedpoint.One()},
	}
	for _, c := range cases {
		got := SeizureFraction(fixedpoint.FromInt64(c.score))
		if got.Cmp(c.expected) != 0 {
			t.Fatalf("score %d: expected fraction %s, got %s", c.score, c.expected, got)
		}
	}
}

func TestKeeperIncentiveFloorsAtMinimum(t *testing.T) {
	tinyNotional, err := fixedpoint.FromFraction(1, 1000)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	bounty, err := KeeperIncentive(tinyNotional)
	if err != nil {
		t.Fatalf("keeper incentive: %v", err)
	}
	if bounty.Cmp(KeeperBountyMinimum) != 0 {
		t.Fatalf("expected floor at minimum, got %s", bounty)
	}
}

func TestScanEnqueuesUnhealthyPosition(t *testing.T) {
	liqPrice := mustFraction(1, 10)
	_, liq, prices, _, _, p := setup(t, liqPrice, fixedpoint.FromInt64(1_000_000))
	prices.price = currentPriceForScore(t, p.EntryPrice, liqPrice, 85)

	touched, err := liq.Scan(10)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if touched != 1 {
		t.Fatalf("expected 1 position touched, got %d", touched)
	}
	if liq.QueueLen() != 1 {
		t.Fatalf("expected 1 queued position, got %d", liq.QueueLen())
	}
}

func TestScanSkipsHealthyPosition(t *testing.T) {
	liqPrice := mustFraction(1, 10)
	_, liq, prices, _, _, p := setup(t, liqPrice, fixedpoint.FromInt64(1_000_000))
	prices.price = p.EntryPrice

	if _, err := liq.Scan(10); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if liq.QueueLen() != 0 {
		t.Fatalf("expected 0 queued positions, got %d", liq.QueueLen())
	}
}

func TestProcessNextAppliesLadderRungAndPaysKeeperBounty(t *testing.T) {
	liqPrice := mustFraction(1, 10)
	store, liq, prices, _, treasury, p := setup(t, liqPrice, fixedpoint.FromInt64(1_000_000))
	prices.price = currentPriceForScore(t, p.EntryPrice, liqPrice, 85)

	if _, err := liq.Scan(10); err != nil {
		t.Fatalf("scan: %v", err)
	}
	outcome, err := liq.ProcessNext(10, makeKeeper(2))
	if err != nil {
		t.Fatalf("process next: %v", err)
	}
	if outcome.FullyLiquidated {
		t.Fatalf("expected ladder rung, not full liquidation")
	}
	if outcome.SeizedFraction.Cmp(mustFraction(1, 10)) != 0 {
		t.Fatalf("expected 10%% ladder rung, got %s", outcome.SeizedFraction)
	}
	if treasury.bountyPaid.Sign() <= 0 {
		t.Fatalf("expected a positive keeper bounty, got %s", treasury.bountyPaid)
	}

	got, err := store.Get(p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != position.StatusOpen {
		t.Fatalf("expected position still open after a ladder rung, got %s", got.Status)
	}
	if got.Size.Cmp(p.Size) >= 0 {
		t.Fatalf("expected size reduced by the seizure, before=%s after=%s", p.Size, got.Size)
	}
}

func TestSetKeeperBountyMinimumRaisesTheFloor(t *testing.T) {
	// At the stub's 10x effective leverage a liquidation price of 0.3 keeps
	// the score-85 price above the extreme-drawdown line, so the 10% rung
	// seizes 10, whose 0.05 bounty share sits below the raised floor.
	liqPrice := mustFraction(3, 10)
	_, liq, prices, _, treasury, p := setup(t, liqPrice, fixedpoint.FromInt64(1_000_000))
	prices.price = currentPriceForScore(t, p.EntryPrice, liqPrice, 85)

	raisedFloor := mustFraction(1, 2)
	liq.SetKeeperBountyMinimum(raisedFloor)

	if _, err := liq.Scan(10); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := liq.ProcessNext(10, makeKeeper(2)); err != nil {
		t.Fatalf("process next: %v", err)
	}
	if treasury.bountyPaid.Cmp(raisedFloor) != 0 {
		t.Fatalf("expected bounty floored at the overridden minimum %s, got %s", raisedFloor, treasury.bountyPaid)
	}
}

func TestProcessNextExtremeDrawdownFullyLiquidates(t *testing.T) {
	liqPrice := mustFraction(1, 10)
	store, liq, prices, _, _, p := setup(t, liqPrice, fixedpoint.FromInt64(1_000_000))
	// A price far enough below entry to put unrealized PnL past -297% of
	// collateral for a long at the stub's 10x effective leverage.
	prices.price = fixedpoint.Zero()

	if _, err := liq.Scan(10); err != nil {
		t.Fatalf("scan: %v", err)
	}
	outcome, err := liq.ProcessNext(10, makeKeeper(2))
	if err != nil {
		t.Fatalf("process next: %v", err)
	}
	if !outcome.Extreme {
		t.Fatalf("expected extreme drawdown path")
	}
	if !outcome.FullyLiquidated {
		t.Fatalf("expected full liquidation on extreme drawdown")
	}

	got, err := store.Get(p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != position.StatusClosed {
		t.Fatalf("expected position closed, got %s", got.Status)
	}
}

func TestProcessNextReturnsErrorWhenQueueEmpty(t *testing.T) {
	_, liq, _, _, _, _ := setup(t, mustFraction(1, 10), fixedpoint.FromInt64(1_000_000))
	_, err := liq.ProcessNext(10, makeKeeper(2))
	if err != coreerrors.ErrLiquidationQueueEmpty {
		t.Fatalf("expected ErrLiquidationQueueEmpty, got %v", err)
	}
}

func TestCascadeHaltBlocksProcessingUntilReleaseTick(t *testing.T) {
	liqPrice := mustFraction(1, 10)
	// A tiny aggregate depth makes even one seizure exceed the cascade
	// threshold; with a liquidation price of 0.1 at 10x, the score-85 price
	// is past the extreme-drawdown line, so that seizure is a full one.
	_, liq, prices, _, _, p := setup(t, liqPrice, fixedpoint.FromInt64(1))
	prices.price = currentPriceForScore(t, p.EntryPrice, liqPrice, 85)

	if _, err := liq.Scan(10); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := liq.ProcessNext(10, makeKeeper(2)); err != nil {
		t.Fatalf("process next: %v", err)
	}
	if !liq.CascadeHalted() {
		t.Fatalf("expected cascade halt to trip")
	}

	_, err := liq.ProcessNext(11, makeKeeper(2))
	if err != coreerrors.ErrCongestion {
		t.Fatalf("expected ErrCongestion while halted, got %v", err)
	}

	liq.ShortenCascadeHalt(11, 12)
	_, err = liq.ProcessNext(12, makeKeeper(2))
	if err != nil && err != coreerrors.ErrLiquidationQueueEmpty {
		t.Fatalf("expected halt released by tick 12, got %v", err)
	}
	if liq.CascadeHalted() {
		t.Fatalf("expected cascade halt cleared after release tick")
	}
}

func TestShortenCascadeHaltCannotExtend(t *testing.T) {
	liqPrice := mustFraction(1, 10)
	_, liq, prices, _, _, p := setup(t, liqPrice, fixedpoint.FromInt64(1))
	prices.price = currentPriceForScore(t, p.EntryPrice, liqPrice, 85)

	if _, err := liq.Scan(10); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := liq.ProcessNext(10, makeKeeper(2)); err != nil {
		t.Fatalf("process next: %v", err)
	}
	before := liq.cascade.releaseTick
	liq.ShortenCascadeHalt(10, before+1000)
	if liq.cascade.releaseTick != before {
		t.Fatalf("expected shorten to reject an extension, before=%d after=%d", before, liq.cascade.releaseTick)
	}
}
