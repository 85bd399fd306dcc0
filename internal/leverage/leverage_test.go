package leverage

import (
	"testing"

	"predcore/internal/amm"
	"predcore/internal/coreerrors"
	"predcore/internal/fixedpoint"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultParams())
}

func half(t *testing.T) fixedpoint.Fixed {
	t.Helper()
	f, err := fixedpoint.FromFraction(1, 2)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	return f
}

func TestResolveBinaryMarketCapsAtTierHundred(t *testing.T) {
	e := newTestEngine()
	result, err := e.Resolve(Request{
		BaseLeverage: fixedpoint.FromInt64(100),
		OutcomeCount: 1,
		Coverage:     fixedpoint.One(),
		EntryPrice:   fixedpoint.FromInt64(1),
		Direction:    amm.Buy,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.EffectiveLeverage.Cmp(fixedpoint.FromInt64(100)) != 0 {
		t.Fatalf("expected effective leverage 100, got %s", result.EffectiveLeverage)
	}
}

func TestResolveScalesEffectiveLeverageByBootstrapFactor(t *testing.T) {
	e := newTestEngine()
	half, err := fixedpoint.FromFraction(1, 2)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	result, err := e.Resolve(Request{
		BaseLeverage:    fixedpoint.FromInt64(100),
		OutcomeCount:    1,
		Coverage:        fixedpoint.One(),
		EntryPrice:      fixedpoint.FromInt64(1),
		Direction:       amm.Buy,
		BootstrapFactor: half,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.EffectiveLeverage.Cmp(fixedpoint.FromInt64(50)) != 0 {
		t.Fatalf("expected tier cap of 100 halved by bootstrap factor to 50, got %s", result.EffectiveLeverage)
	}
}

func TestResolveFourOutcomesCapsAtTwentyFive(t *testing.T) {
	e := newTestEngine()
	full := fixedpoint.FromInt64(1)
	result, err := e.Resolve(Request{
		BaseLeverage: fixedpoint.FromInt64(100),
		OutcomeCount: 4,
		Coverage:     full,
		EntryPrice:   fixedpoint.FromInt64(1),
		Direction:    amm.Buy,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.EffectiveLeverage.Cmp(fixedpoint.FromInt64(25)) != 0 {
		t.Fatalf("expected tier cap of 25 for N=4, got %s", result.EffectiveLeverage)
	}
}

func TestResolveLowCoverageLimitsLeverage(t *testing.T) {
	e := newTestEngine()
	lowCoverage, err := fixedpoint.FromFraction(1, 2) // coverage 0.5 -> limit 0.5*100/sqrt(1) = 50
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	result, err := e.Resolve(Request{
		BaseLeverage: fixedpoint.FromInt64(100),
		OutcomeCount: 1,
		Coverage:     lowCoverage,
		EntryPrice:   fixedpoint.FromInt64(1),
		Direction:    amm.Buy,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.EffectiveLeverage.Cmp(fixedpoint.FromInt64(50)) != 0 {
		t.Fatalf("expected coverage-limited leverage of 50, got %s", result.EffectiveLeverage)
	}
}

func TestResolveRejectsUnqualifiedQuiz(t *testing.T) {
	e := newTestEngine()
	_, err := e.Resolve(Request{
		BaseLeverage: fixedpoint.FromInt64(20),
		OutcomeCount: 1,
		Coverage:     fixedpoint.One(),
		EntryPrice:   fixedpoint.FromInt64(1),
		Direction:    amm.Buy,
		QuizPassed:   false,
	})
	if err != coreerrors.ErrLeverageNotQualified {
		t.Fatalf("expected ErrLeverageNotQualified, got %v", err)
	}
}

func TestResolveAllowsHighLeverageWithQuizPassed(t *testing.T) {
	e := newTestEngine()
	_, err := e.Resolve(Request{
		BaseLeverage: fixedpoint.FromInt64(20),
		OutcomeCount: 1,
		Coverage:     fixedpoint.One(),
		EntryPrice:   fixedpoint.FromInt64(1),
		Direction:    amm.Buy,
		QuizPassed:   true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func TestResolveCapsAtAbsoluteFiveHundred(t *testing.T) {
	e := newTestEngine()
	huge := fixedpoint.FromInt64(10000)
	result, err := e.Resolve(Request{
		BaseLeverage: huge,
		OutcomeCount: 1,
		Coverage:     huge,
		EntryPrice:   fixedpoint.FromInt64(1),
		Direction:    amm.Buy,
		QuizPassed:   true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.EffectiveLeverage.Cmp(fixedpoint.FromInt64(500)) != 0 {
		t.Fatalf("expected absolute cap of 500, got %s", result.EffectiveLeverage)
	}
}

func TestLiquidationPriceBelowEntryForLong(t *testing.T) {
	e := newTestEngine()
	result, err := e.Resolve(Request{
		BaseLeverage: fixedpoint.FromInt64(10),
		OutcomeCount: 1,
		Coverage:     fixedpoint.One(),
		EntryPrice:   half(t),
		Direction:    amm.Buy,
		QuizPassed:   true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	entry := half(t)
	if result.LiquidationPrice.Cmp(entry) >= 0 {
		t.Fatalf("expected long liquidation price below entry, entry=%s liq=%s", entry, result.LiquidationPrice)
	}
}

func TestSetMaintenanceMarginWidensLiquidationBand(t *testing.T) {
	e := newTestEngine()
	req := Request{
		BaseLeverage: fixedpoint.FromInt64(10),
		OutcomeCount: 1,
		Coverage:     fixedpoint.One(),
		EntryPrice:   half(t),
		Direction:    amm.Buy,
		QuizPassed:   true,
	}
	before, err := e.Resolve(req)
	if err != nil {
		t.Fatalf("resolve before: %v", err)
	}

	wider, err := fixedpoint.FromFraction(1, 10) // 10% maintenance margin, up from the 1% default
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	e.SetMaintenanceMargin(wider)

	after, err := e.Resolve(req)
	if err != nil {
		t.Fatalf("resolve after: %v", err)
	}
	if after.LiquidationPrice.Cmp(before.LiquidationPrice) <= 0 {
		t.Fatalf("expected a wider maintenance margin to raise a long's liquidation price, before=%s after=%s", before.LiquidationPrice, after.LiquidationPrice)
	}
}

func TestLiquidationPriceAboveEntryForShort(t *testing.T) {
	e := newTestEngine()
	entry := half(t)
	result, err := e.Resolve(Request{
		BaseLeverage: fixedpoint.FromInt64(10),
		OutcomeCount: 1,
		Coverage:     fixedpoint.One(),
		EntryPrice:   entry,
		Direction:    amm.Sell,
		QuizPassed:   true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.LiquidationPrice.Cmp(entry) <= 0 {
		t.Fatalf("expected short liquidation price above entry, entry=%s liq=%s", entry, result.LiquidationPrice)
	}
}

func TestLiquidationPriceResolvesWithoutErrorAtUnitLeverage(t *testing.T) {
	e := newTestEngine()
	entry := half(t)
	result, err := e.Resolve(Request{
		BaseLeverage: fixedpoint.FromInt64(1),
		OutcomeCount: 1,
		Coverage:     fixedpoint.One(),
		EntryPrice:   entry,
		Direction:    amm.Buy,
		QuizPassed:   true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_ = result // L=1 gives a wide, non-degenerate band; this asserts no error rather than clamping.
}

func TestAdjustShrinksLeverageOnGainAndGrowsOnLoss(t *testing.T) {
	e := newTestEngine()
	entry := half(t)
	base := fixedpoint.FromInt64(10)

	gainPct, err := fixedpoint.FromFraction(1, 10)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	gainResult, err := e.Adjust(entry, base, gainPct, amm.Buy)
	if err != nil {
		t.Fatalf("adjust (gain): %v", err)
	}
	if gainResult.EffectiveLeverage.Cmp(base) >= 0 {
		t.Fatalf("expected leverage to shrink on a gain, base=%s adjusted=%s", base, gainResult.EffectiveLeverage)
	}

	lossPct := gainPct.Neg()
	lossResult, err := e.Adjust(entry, base, lossPct, amm.Buy)
	if err != nil {
		t.Fatalf("adjust (loss): %v", err)
	}
	if lossResult.EffectiveLeverage.Cmp(base) <= 0 {
		t.Fatalf("expected leverage to grow on a loss, base=%s adjusted=%s", base, lossResult.EffectiveLeverage)
	}
}

func TestAdjustFloorsAtOne(t *testing.T) {
	e := newTestEngine()
	entry := half(t)
	base := fixedpoint.FromInt64(2)
	bigGain := fixedpoint.FromInt64(2) // pnl_pct=2 -> shrink factor -1, would go negative without the floor

	result, err := e.Adjust(entry, base, bigGain, amm.Buy)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if result.EffectiveLeverage.Cmp(fixedpoint.One()) != 0 {
		t.Fatalf("expected leverage floored at 1, got %s", result.EffectiveLeverage)
	}
}

func TestResolveRejectsZeroOutcomeCount(t *testing.T) {
	e := newTestEngine()
	_, err := e.Resolve(Request{
		BaseLeverage: fixedpoint.FromInt64(5),
		OutcomeCount: 0,
		Coverage:     fixedpoint.One(),
		EntryPrice:   fixedpoint.FromInt64(1),
		Direction:    amm.Buy,
	})
	if err != coreerrors.ErrInvalidOutcome {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}
