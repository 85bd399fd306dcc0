package amm

import (
	"testing"

	"predcore/internal/coreerrors"
	"predcore/internal/fixedpoint"
)

func zeroFee() (fixedpoint.Fixed, error) { return fixedpoint.Zero(), nil }

func TestSelectVariantBoundaries(t *testing.T) {
	cases := []struct {
		outcomes   int
		continuous bool
		want       Variant
	}{
		{1, false, VariantLMSR},
		{2, false, VariantPMAMM},
		{64, false, VariantPMAMM},
		{65, false, VariantL2AMM},
		{3, true, VariantL2AMM},
	}
	for _, c := range cases {
		got := SelectVariant(c.outcomes, c.continuous)
		if got != c.want {
			t.Fatalf("SelectVariant(%d, %v) = %s, want %s", c.outcomes, c.continuous, got, c.want)
		}
	}
}

func TestRequireVariantRejectsOverride(t *testing.T) {
	if err := RequireVariant(VariantLMSR, 10, false); err != coreerrors.ErrAMMOverrideRejected {
		t.Fatalf("expected override rejection, got %v", err)
	}
	if err := RequireVariant(VariantPMAMM, 10, false); err != nil {
		t.Fatalf("expected no error for matching variant, got %v", err)
	}
}

func TestLMSRInitialPricesAreEven(t *testing.T) {
	l := NewLMSR(fixedpoint.FromInt64(100), zeroFee)
	prices, err := l.Prices()
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	half, _ := fixedpoint.FromFraction(1, 2)
	for i, p := range prices {
		if p.Cmp(half) != 0 {
			t.Fatalf("price[%d] = %s, want 0.5", i, p)
		}
	}
}

func TestLMSRBuyIncreasesPriceOfBoughtOutcome(t *testing.T) {
	l := NewLMSR(fixedpoint.FromInt64(100), zeroFee)
	before, err := l.Prices()
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	result, err := l.Trade(TradeRequest{Outcome: 0, Direction: Buy, Size: fixedpoint.FromInt64(10)})
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	after, err := l.Prices()
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if after[0].Cmp(before[0]) <= 0 {
		t.Fatalf("expected outcome 0 price to rise, before=%s after=%s", before[0], after[0])
	}
	if result.FeeAmount.Sign() != 0 {
		t.Fatalf("expected zero fee with zero fee rate, got %s", result.FeeAmount)
	}
}

func TestLMSRSlippageGuardRejectsLargeTrade(t *testing.T) {
	l := NewLMSR(fixedpoint.FromInt64(1), zeroFee) // thin liquidity, large price impact
	_, err := l.Trade(TradeRequest{Outcome: 0, Direction: Buy, Size: fixedpoint.FromInt64(10), MaxSlippageBps: 1})
	if err != coreerrors.ErrSlippageExceeded {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
}

func TestLMSRInvalidOutcomeRejected(t *testing.T) {
	l := NewLMSR(fixedpoint.FromInt64(100), zeroFee)
	_, err := l.Quote(TradeRequest{Outcome: 2, Direction: Buy, Size: fixedpoint.FromInt64(1)})
	if err != coreerrors.ErrInvalidOutcome {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestPMAMMInitialPricesAreEqual(t *testing.T) {
	p, err := NewPMAMM(4, fixedpoint.FromInt64(10), PMAMMLVRModeFlat, zeroFee, nil)
	if err != nil {
		t.Fatalf("new pm-amm: %v", err)
	}
	prices, err := p.Prices()
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	quarter, _ := fixedpoint.FromFraction(1, 4)
	for i, pr := range prices {
		if pr.Cmp(quarter) != 0 {
			t.Fatalf("price[%d] = %s, want 0.25", i, pr)
		}
	}
}

func TestPMAMMOutcomeCountBounds(t *testing.T) {
	if _, err := NewPMAMM(1, fixedpoint.FromInt64(10), PMAMMLVRModeFlat, zeroFee, nil); err != coreerrors.ErrInvalidOutcome {
		t.Fatalf("expected ErrInvalidOutcome for N=1, got %v", err)
	}
	if _, err := NewPMAMM(65, fixedpoint.FromInt64(10), PMAMMLVRModeFlat, zeroFee, nil); err != coreerrors.ErrInvalidOutcome {
		t.Fatalf("expected ErrInvalidOutcome for N=65, got %v", err)
	}
}

func TestPMAMMBuyIncreasesPriceAndChargesLVR(t *testing.T) {
	p, err := NewPMAMM(2, fixedpoint.FromInt64(100), PMAMMLVRModeFlat, zeroFee, nil)
	if err != nil {
		t.Fatalf("new pm-amm: %v", err)
	}
	before, err := p.Prices()
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	result, err := p.Trade(TradeRequest{Outcome: 0, Direction: Buy, Size: fixedpoint.FromInt64(5)})
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	after, err := p.Prices()
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if after[0].Cmp(before[0]) <= 0 {
		t.Fatalf("expected outcome 0 price to rise, before=%s after=%s", before[0], after[0])
	}
	if result.LVRAmount.Sign() <= 0 {
		t.Fatalf("expected positive LVR charge, got %s", result.LVRAmount)
	}
}

func TestPMAMMReservesPreserveSumOfSquares(t *testing.T) {
	p, err := NewPMAMM(3, fixedpoint.FromInt64(60), PMAMMLVRModeFlat, zeroFee, nil)
	if err != nil {
		t.Fatalf("new pm-amm: %v", err)
	}
	if _, err := p.Trade(TradeRequest{Outcome: 1, Direction: Buy, Size: fixedpoint.FromInt64(3)}); err != nil {
		t.Fatalf("trade: %v", err)
	}
	sum, err := sumOfSquares(p.reserves)
	if err != nil {
		t.Fatalf("sum of squares: %v", err)
	}
	lSquared, err := p.liquidityL.Mul(p.liquidityL)
	if err != nil {
		t.Fatalf("l^2: %v", err)
	}
	delta, err := sum.Sub(lSquared)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	tolerance, _ := fixedpoint.FromFraction(1, 1000)
	if delta.Abs().Cmp(tolerance) > 0 {
		t.Fatalf("sum of squares drifted from L^2: sum=%s L^2=%s", sum, lSquared)
	}
}

func TestL2AMMInitialDensityMeetsNormAndBound(t *testing.T) {
	k := fixedpoint.FromInt64(10)
	bMax := fixedpoint.FromInt64(100)
	l2, err := NewL2AMM(8, k, bMax, zeroFee)
	if err != nil {
		t.Fatalf("new l2-amm: %v", err)
	}
	norm, err := l2.l2Norm(l2.density)
	if err != nil {
		t.Fatalf("l2 norm: %v", err)
	}
	tolerance, _ := fixedpoint.FromFraction(1, 1000)
	delta, err := norm.Sub(k)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if delta.Abs().Cmp(tolerance) > 0 {
		t.Fatalf("expected norm ~= k, got norm=%s k=%s", norm, k)
	}
}

func TestL2AMMRejectsConstructionAboveBucketCap(t *testing.T) {
	_, err := NewL2AMM(MaxL2AMMBuckets+1, fixedpoint.FromInt64(10), fixedpoint.FromInt64(100), zeroFee)
	if err != coreerrors.ErrInvalidOutcome {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestL2AMMTradeRenormalizesToK(t *testing.T) {
	k := fixedpoint.FromInt64(10)
	bMax := fixedpoint.FromInt64(100)
	l2, err := NewL2AMM(8, k, bMax, zeroFee)
	if err != nil {
		t.Fatalf("new l2-amm: %v", err)
	}
	half, _ := fixedpoint.FromFraction(1, 2)
	if _, err := l2.Trade(TradeRequest{Outcome: 0, Direction: Buy, Size: half}); err != nil {
		t.Fatalf("trade: %v", err)
	}
	norm, err := l2.l2Norm(l2.density)
	if err != nil {
		t.Fatalf("l2 norm: %v", err)
	}
	tolerance, _ := fixedpoint.FromFraction(1, 1000)
	delta, err := norm.Sub(k)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if delta.Abs().Cmp(tolerance) > 0 {
		t.Fatalf("expected norm preserved at k after trade, got norm=%s k=%s", norm, k)
	}
}

func TestL2AMMRejectsTradeBreachingBound(t *testing.T) {
	k := fixedpoint.FromInt64(10)
	bMax := fixedpoint.FromInt64(6) // just above the equal-weight starting bucket value (5)
	l2, err := NewL2AMM(4, k, bMax, zeroFee)
	if err != nil {
		t.Fatalf("new l2-amm: %v", err)
	}
	_, err = l2.Trade(TradeRequest{Outcome: 0, Direction: Buy, Size: fixedpoint.FromInt64(50)})
	if err != coreerrors.ErrNormViolation && err != coreerrors.ErrInsufficientLiquidity {
		t.Fatalf("expected a bound-rejection error, got %v", err)
	}
}

func TestEnginesAreDeterministicGivenSameInputs(t *testing.T) {
	a := NewLMSR(fixedpoint.FromInt64(100), zeroFee)
	b := NewLMSR(fixedpoint.FromInt64(100), zeroFee)
	req := TradeRequest{Outcome: 0, Direction: Buy, Size: fixedpoint.FromInt64(7)}
	ra, err := a.Trade(req)
	if err != nil {
		t.Fatalf("trade a: %v", err)
	}
	rb, err := b.Trade(req)
	if err != nil {
		t.Fatalf("trade b: %v", err)
	}
	if ra.EntryPrice.Cmp(rb.EntryPrice) != 0 {
		t.Fatalf("expected deterministic entry price, got %s vs %s", ra.EntryPrice, rb.EntryPrice)
	}
}
