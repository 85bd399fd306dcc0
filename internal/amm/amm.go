// Package amm implements the three pricing engines the core selects
// between based on market shape — LMSR for binary markets, PM-AMM for
// small discrete outcome sets, and L2-AMM for large discrete or
// continuous ones — behind one common trade contract. The multi-step
// guarded-mutation shape (validate, quote, apply, report) follows the swap
// module's Engine, generalized from a currency swap to an outcome trade.
package amm

import (
	"predcore/internal/coreerrors"
	"predcore/internal/fixedpoint"
)

// Variant identifies which pricing engine backs a market. It is derived
// from the market's shape at creation time and never chosen by the user.
type Variant int

const (
	VariantLMSR Variant = iota
	VariantPMAMM
	VariantL2AMM
)

func (v Variant) String() string {
	switch v {
	case VariantLMSR:
		return "lmsr"
	case VariantPMAMM:
		return "pm-amm"
	case VariantL2AMM:
		return "l2-amm"
	default:
		return "unknown"
	}
}

// MaxPMAMMOutcomes is the outcome-count boundary above which L2-AMM is
// used instead of PM-AMM.
const MaxPMAMMOutcomes = 64

// SelectVariant derives the AMM variant for a market shape. continuous
// markets (bucketed, not discrete-outcome) always select L2-AMM regardless
// of bucket count.
func SelectVariant(outcomeCount int, continuous bool) Variant {
	if continuous {
		return VariantL2AMM
	}
	switch {
	case outcomeCount <= 1:
		return VariantLMSR
	case outcomeCount <= MaxPMAMMOutcomes:
		return VariantPMAMM
	default:
		return VariantL2AMM
	}
}

// RequireVariant validates that a caller-declared variant matches the
// variant SelectVariant would have derived, rejecting any attempt to
// override the deterministic selection.
func RequireVariant(want Variant, outcomeCount int, continuous bool) error {
	if SelectVariant(outcomeCount, continuous) != want {
		return coreerrors.ErrAMMOverrideRejected
	}
	return nil
}

// Direction is the side of a trade.
type Direction int

const (
	Buy Direction = iota
	Sell
)

// TradeRequest is the common input to every engine's Trade method.
type TradeRequest struct {
	Outcome       int
	Direction     Direction
	Size          fixedpoint.Fixed // micro-units of notional
	MaxSlippageBps uint64
}

// TradeResult is the common output of every engine's Trade method.
type TradeResult struct {
	ExecutedSize fixedpoint.Fixed
	EntryPrice   fixedpoint.Fixed
	FeeAmount    fixedpoint.Fixed
	LVRAmount    fixedpoint.Fixed
}

// Engine is implemented by each of the three pricing engines.
type Engine interface {
	Variant() Variant
	// Prices returns the current per-outcome probability vector; it sums
	// to 1 within 2 ULP.
	Prices() ([]fixedpoint.Fixed, error)
	// Quote computes the trade's effect without mutating engine state.
	Quote(req TradeRequest) (TradeResult, error)
	// Trade applies the quoted trade, mutating engine state, and fails
	// with ErrSlippageExceeded if the realized price moved beyond
	// req.MaxSlippageBps from the pre-trade price.
	Trade(req TradeRequest) (TradeResult, error)
}

func validateOutcome(outcome, count int) error {
	if outcome < 0 || outcome >= count {
		return coreerrors.ErrInvalidOutcome
	}
	return nil
}

// slippageBps computes the basis-point move from before to after, always
// non-negative.
func slippageBps(before, after fixedpoint.Fixed) (uint64, error) {
	if before.IsZero() {
		return 0, nil
	}
	diff, err := after.Sub(before)
	if err != nil {
		return 0, err
	}
	ratio, err := diff.Abs().Div(before)
	if err != nil {
		return 0, err
	}
	bps, err := ratio.Mul(fixedpoint.FromInt64(10000))
	if err != nil {
		return 0, err
	}
	whole := bps.Bits()
	whole.Rsh(whole, fixedpoint.FractionalBits)
	return whole.Uint64(), nil
}

func checkSlippage(before, after fixedpoint.Fixed, maxBps uint64) error {
	if maxBps == 0 {
		return nil
	}
	moved, err := slippageBps(before, after)
	if err != nil {
		return err
	}
	if moved > maxBps {
		return coreerrors.ErrSlippageExceeded
	}
	return nil
}
