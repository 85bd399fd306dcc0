package settlement

import (
	"testing"

	"predcore/crypto"
	"predcore/internal/amm"
	"predcore/internal/coreerrors"
	"predcore/internal/events"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
	"predcore/internal/position"
)

func makeOwner(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[0] = b
	addr, err := crypto.NewAddress(crypto.CorePrefix, buf)
	if err != nil {
		panic(err)
	}
	return addr
}

type stubMarkets struct {
	engine       amm.Engine
	outcomeCount int
}

func (s *stubMarkets) Engine(ids.MarketID) (amm.Engine, error)            { return s.engine, nil }
func (s *stubMarkets) OutcomeCount(ids.MarketID) (int, error)             { return s.outcomeCount, nil }
func (s *stubMarkets) FundingIndex(ids.MarketID) (fixedpoint.Fixed, error) { return fixedpoint.Zero(), nil }
func (s *stubMarkets) Halted(ids.MarketID) (bool, error)                  { return false, nil }

type stubLeverage struct {
	result position.LeverageResult
}

func (s *stubLeverage) Resolve(req position.LeverageRequest) (position.LeverageResult, error) {
	return s.result, nil
}

func (s *stubLeverage) Adjust(entryPrice, currentEffectiveLeverage, pnlPct fixedpoint.Fixed, direction amm.Direction) (position.LeverageResult, error) {
	return s.result, nil
}

type stubVault struct {
	balance      fixedpoint.Fixed
	openInterest fixedpoint.Fixed
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
	if next.Sign() < 0 {
		return coreerrors.ErrCoverageInvariant
	}
	s.balance = next
	return nil
}

func (s *stubVault) AdjustOpenInterest(delta fixedpoint.Fixed) error {
	next, err := s.openInterest.Add(delta)
	if err != nil {
		return err
	}
	if next.Sign() < 0 {
		next = fixedpoint.Zero()
	}
	s.openInterest = next
	return nil
}

func (s *stubVault) CoverageRatio() (fixedpoint.Fixed, error) { return fixedpoint.One(), nil }
func (s *stubVault) SweepRounding(fixedpoint.Fixed) error     { return nil }

type stubChains struct {
	unwound []ids.ChainID
	fail    bool
}

func (s *stubChains) UnwindChain(chain ids.ChainID) error {
	if s.fail {
		return coreerrors.ErrChainCycle
	}
	s.unwound = append(s.unwound, chain)
	return nil
}

func newTestStore(t *testing.T) (*position.Store, *stubVault) {
	t.Helper()
	engine := amm.NewLMSR(fixedpoint.FromInt64(1000), func() (fixedpoint.Fixed, error) { return fixedpoint.Zero(), nil })
	markets := &stubMarkets{engine: engine, outcomeCount: 2}
	leverage := &stubLeverage{result: position.LeverageResult{EffectiveLeverage: fixedpoint.FromInt64(5), LiquidationPrice: fixedpoint.Zero()}}
	// Seeded with backing beyond any single position's own collateral: in
	// production the vault is funded by deposits and accrued fees across
	// every market, not just the positions a given settlement touches, so a
	// leveraged winner's payout can exceed its own locked collateral.
	vault := &stubVault{balance: fixedpoint.FromInt64(1000), openInterest: fixedpoint.Zero()}
	store := position.New(markets, leverage, vault, nil)
	return store, vault
}

func openPosition(t *testing.T, store *position.Store, market ids.MarketID, outcome int, direction amm.Direction, chainID ids.ChainID) position.Position {
	t.Helper()
	result, err := store.Open(position.OpenRequest{
		Owner:        makeOwner(1),
		Market:       market,
		Outcome:      outcome,
		Direction:    direction,
		Size:         fixedpoint.FromInt64(10),
		BaseLeverage: fixedpoint.FromInt64(5),
		Tick:         1,
		ChainID:      chainID,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return result.Position
}

func TestSettlePaysWinnerAndForfeitsLoser(t *testing.T) {
	store, vault := newTestStore(t)
	market := ids.NewMarketID()
	winner := openPosition(t, store, market, 0, amm.Buy, ids.ChainID{})
	loser := openPosition(t, store, market, 1, amm.Buy, ids.ChainID{})

	balanceBeforeSettle := vault.balance

	log := events.NewLog(0)
	engine := New(store, nil, log)
	result, err := engine.Settle(Resolution{MarketID: market, WinningOutcome: 0}, 5)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.Positions != 2 {
		t.Fatalf("expected 2 positions settled, got %d", result.Positions)
	}
	if result.Payout.Sign() <= 0 {
		t.Fatalf("expected positive payout to winner, got %s", result.Payout)
	}

	gotWinner, err := store.Get(winner.ID)
	if err != nil {
		t.Fatalf("get winner: %v", err)
	}
	if gotWinner.Status != position.StatusClosed {
		t.Fatalf("expected winner closed, got %s", gotWinner.Status)
	}

	gotLoser, err := store.Get(loser.ID)
	if err != nil {
		t.Fatalf("get loser: %v", err)
	}
	if gotLoser.Status != position.StatusClosed {
		t.Fatalf("expected loser closed, got %s", gotLoser.Status)
	}
	if gotLoser.RealizedPnL.Sign() >= 0 {
		t.Fatalf("expected loser to realize a loss, got %s", gotLoser.RealizedPnL)
	}

	if vault.balance.Cmp(balanceBeforeSettle) >= 0 {
		t.Fatalf("expected vault balance to decrease paying out the winner, got %s vs %s", vault.balance, balanceBeforeSettle)
	}

	found := false
	for _, e := range log.ByType("settlement.market_resolved") {
		if mr, ok := e.(MarketResolved); ok && mr.Positions == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected settlement.market_resolved event")
	}
}

func TestSettleIsIdempotentOnReplay(t *testing.T) {
	store, vault := newTestStore(t)
	market := ids.NewMarketID()
	openPosition(t, store, market, 0, amm.Buy, ids.ChainID{})

	engine := New(store, nil, nil)
	if _, err := engine.Settle(Resolution{MarketID: market, WinningOutcome: 0}, 5); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	balanceAfterFirst := vault.balance

	result, err := engine.Settle(Resolution{MarketID: market, WinningOutcome: 0}, 6)
	if err != nil {
		t.Fatalf("replay settle: %v", err)
	}
	if result.Positions != 0 {
		t.Fatalf("expected no-op replay to touch no positions, got %d", result.Positions)
	}
	if vault.balance.Cmp(balanceAfterFirst) != 0 {
		t.Fatalf("expected replay to leave vault balance unchanged, got %s vs %s", vault.balance, balanceAfterFirst)
	}
}

func TestSettleConflictingOutcomeReportsResolutionConflict(t *testing.T) {
	store, _ := newTestStore(t)
	market := ids.NewMarketID()
	openPosition(t, store, market, 0, amm.Buy, ids.ChainID{})

	engine := New(store, nil, nil)
	if _, err := engine.Settle(Resolution{MarketID: market, WinningOutcome: 0}, 5); err != nil {
		t.Fatalf("first settle: %v", err)
	}

	_, err := engine.Settle(Resolution{MarketID: market, WinningOutcome: 1}, 6)
	if err == nil {
		t.Fatalf("expected ResolutionConflict for a different outcome on replay")
	}
	if _, ok := err.(*coreerrors.ResolutionConflict); !ok {
		t.Fatalf("expected *coreerrors.ResolutionConflict, got %T: %v", err, err)
	}
}

func TestSettleUnwindsChainLegAfterLeafCloses(t *testing.T) {
	store, _ := newTestStore(t)
	market := ids.NewMarketID()
	chainID := ids.NewChainID()
	openPosition(t, store, market, 0, amm.Buy, chainID)

	chains := &stubChains{}
	engine := New(store, chains, nil)
	if _, err := engine.Settle(Resolution{MarketID: market, WinningOutcome: 0}, 5); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if len(chains.unwound) != 1 || chains.unwound[0] != chainID {
		t.Fatalf("expected chain %s unwound once, got %v", chainID, chains.unwound)
	}
}

func TestSettleChainUnwindFailureStillClosesLeaf(t *testing.T) {
	store, _ := newTestStore(t)
	market := ids.NewMarketID()
	chainID := ids.NewChainID()
	opened := openPosition(t, store, market, 0, amm.Buy, chainID)

	chains := &stubChains{fail: true}
	log := events.NewLog(0)
	engine := New(store, chains, log)
	if _, err := engine.Settle(Resolution{MarketID: market, WinningOutcome: 0}, 5); err != nil {
		t.Fatalf("settle: %v", err)
	}

	got, err := store.Get(opened.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != position.StatusClosed {
		t.Fatalf("expected leaf closed even though chain unwind failed, got %s", got.Status)
	}

	alerts := log.ByType("operator.alert")
	if len(alerts) != 1 {
		t.Fatalf("expected one operator alert for the failed unwind, got %d", len(alerts))
	}
}
