// Package leverage derives effective leverage and liquidation price for a
// position from its base leverage, the market's chain depth/multiplier,
// vault coverage, and outcome count. The tier-cap table and min-of-three-caps
// formula mirror the lending module's RiskParameters: a small struct of
// governance-controlled limits consulted by an otherwise pure calculation,
// adjustable at runtime only through the admin control surface.
package leverage

import (
	"sync"

	"predcore/internal/amm"
	"predcore/internal/coreerrors"
	"predcore/internal/fixedpoint"
	"predcore/internal/position"
)

// Request and Result alias the position store's LeverageRequest/
// LeverageResult: Go requires identical method signatures for interface
// satisfaction, so this package imports those types directly rather than
// mirroring them, even though position never imports leverage.
type Request = position.LeverageRequest

// Result is Resolve's output.
type Result = position.LeverageResult

// Params groups the governance-controlled limits the leverage calculation
// consults: the maintenance margin used in the liquidation price formula,
// the quiz-gating threshold, and the absolute cap.
type Params struct {
	// MaintenanceMargin is m_m in the liquidation price formula. Default 1%.
	MaintenanceMargin fixedpoint.Fixed
	// QuizThreshold is the base leverage above which QuizPassed is required.
	// Default 10x.
	QuizThreshold fixedpoint.Fixed
	// AbsoluteCap bounds effective leverage regardless of any other input.
	// Default 500x.
	AbsoluteCap fixedpoint.Fixed
	// PriceEpsilon is the minimum distance a liquidation price may sit from
	// zero or from one, clamping a degenerate solve to a safe boundary.
	PriceEpsilon fixedpoint.Fixed
}

// DefaultParams returns the SPEC_FULL §4.6 defaults: 1% maintenance margin,
// a 10x quiz-gating threshold, a 500x absolute cap, and a 1/10000 price
// epsilon.
func DefaultParams() Params {
	mm, err := fixedpoint.FromFraction(1, 100)
	if err != nil {
		panic(err)
	}
	eps, err := fixedpoint.FromFraction(1, 10000)
	if err != nil {
		panic(err)
	}
	return Params{
		MaintenanceMargin: mm,
		QuizThreshold:     fixedpoint.FromInt64(10),
		AbsoluteCap:       fixedpoint.FromInt64(500),
		PriceEpsilon:      eps,
	}
}

// Engine computes effective leverage and liquidation price from its
// governance Params and the Request it's given; the only mutable state is
// Params itself, adjustable at runtime via SetMaintenanceMargin.
type Engine struct {
	mu     sync.RWMutex
	params Params
}

// NewEngine constructs a leverage Engine with the given governance params.
func NewEngine(params Params) *Engine {
	return &Engine{params: params}
}

// currentParams returns a snapshot of the engine's governance params.
func (e *Engine) currentParams() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

// SetMaintenanceMargin updates m_m, the maintenance margin the liquidation
// price formula consults, per an admin AdjustParameters command.
func (e *Engine) SetMaintenanceMargin(margin fixedpoint.Fixed) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.MaintenanceMargin = margin
}

// tierCap returns L_tier(N), the outcome-count-indexed absolute cap from
// SPEC_FULL §4.6: 1->100, 2->70, 3-4->25, 5-8->15, 9-16->12, 17-64->10,
// >64->5.
func tierCap(outcomeCount int) fixedpoint.Fixed {
	switch {
	case outcomeCount <= 1:
		return fixedpoint.FromInt64(100)
	case outcomeCount == 2:
		return fixedpoint.FromInt64(70)
	case outcomeCount <= 4:
		return fixedpoint.FromInt64(25)
	case outcomeCount <= 8:
		return fixedpoint.FromInt64(15)
	case outcomeCount <= 16:
		return fixedpoint.FromInt64(12)
	case outcomeCount <= 64:
		return fixedpoint.FromInt64(10)
	default:
		return fixedpoint.FromInt64(5)
	}
}

// coverageLimit returns L_cov(N) = coverage * 100 / sqrt(N).
func coverageLimit(coverage fixedpoint.Fixed, outcomeCount int) (fixedpoint.Fixed, error) {
	n := fixedpoint.FromInt64(int64(outcomeCount))
	sqrtN, err := n.Sqrt()
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if sqrtN.IsZero() {
		sqrtN = fixedpoint.One()
	}
	numerator, err := coverage.Mul(fixedpoint.FromInt64(100))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return numerator.Div(sqrtN)
}

// depthBoosted returns L_b * (1 + 0.1*d) * m_c, the base leverage boosted by
// chain depth and the chain's cumulative multiplier. A zero ChainMultiplier
// (the common case: a standalone, unchained position) is treated as 1 so
// callers don't have to special-case it.
func depthBoosted(base fixedpoint.Fixed, depth int, chainMultiplier fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	depthFactor, err := fixedpoint.FromFraction(int64(depth), 10)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	boost, err := fixedpoint.One().Add(depthFactor)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	boosted, err := base.Mul(boost)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	multiplier := chainMultiplier
	if multiplier.IsZero() {
		multiplier = fixedpoint.One()
	}
	return boosted.Mul(multiplier)
}

// minOfThree returns the smallest of a, b, c.
func minOfThree(a, b, c fixedpoint.Fixed) fixedpoint.Fixed {
	m := a
	if b.Cmp(m) < 0 {
		m = b
	}
	if c.Cmp(m) < 0 {
		m = c
	}
	return m
}

// Resolve computes effective leverage as
// min(L_b*(1+0.1*d)*m_c, coverage*100/sqrt(N), L_tier(N)) * BootstrapFactor,
// capped at AbsoluteCap, then derives the liquidation price from it. Base
// leverages above QuizThreshold require QuizPassed. req.BootstrapFactor
// carries C9's Gate.LeverageCapFactor (1 once bootstrap mode has exited, a
// configured fraction below 1 while the vault is still undercapitalized).
func (e *Engine) Resolve(req Request) (Result, error) {
	params := e.currentParams()

	if req.BaseLeverage.Sign() <= 0 {
		return Result{}, coreerrors.ErrInvalidLeverage
	}
	if req.OutcomeCount < 1 {
		return Result{}, coreerrors.ErrInvalidOutcome
	}
	if req.BaseLeverage.Cmp(params.QuizThreshold) > 0 && !req.QuizPassed {
		return Result{}, coreerrors.ErrLeverageNotQualified
	}

	boosted, err := depthBoosted(req.BaseLeverage, req.ChainDepth, req.ChainMultiplier)
	if err != nil {
		return Result{}, err
	}
	covLimit, err := coverageLimit(req.Coverage, req.OutcomeCount)
	if err != nil {
		return Result{}, err
	}
	tier := tierCap(req.OutcomeCount)

	bootstrapFactor := req.BootstrapFactor
	if bootstrapFactor.IsZero() {
		bootstrapFactor = fixedpoint.One()
	}

	effective := minOfThree(boosted, covLimit, tier)
	effective, err = effective.Mul(bootstrapFactor)
	if err != nil {
		return Result{}, err
	}
	if effective.Cmp(params.AbsoluteCap) > 0 {
		effective = params.AbsoluteCap
	}
	if effective.Sign() <= 0 {
		return Result{}, coreerrors.ErrInvalidLeverage
	}

	liqPrice, clamped, err := e.liquidationPrice(req.EntryPrice, effective, req.Direction)
	if err != nil {
		return Result{}, err
	}

	return Result{
		EffectiveLeverage: effective,
		LiquidationPrice:  liqPrice,
		Clamped:           clamped,
	}, nil
}

// liquidationPrice computes p_liq = p_e*(1-(1-m_m)/L_eff) for a long and
// p_e*(1+(1-m_m)/L_eff) for a short, then reclamps the result into
// [epsilon, 1-epsilon]. clamped reports whether the raw solve fell outside
// that band, which the caller uses to flag the position as immediately
// liquidatable.
func (e *Engine) liquidationPrice(entryPrice, effectiveLeverage fixedpoint.Fixed, direction amm.Direction) (price fixedpoint.Fixed, clamped bool, err error) {
	params := e.currentParams()
	marginFactor, err := fixedpoint.One().Sub(params.MaintenanceMargin)
	if err != nil {
		return fixedpoint.Fixed{}, false, err
	}
	offset, err := marginFactor.Div(effectiveLeverage)
	if err != nil {
		return fixedpoint.Fixed{}, false, err
	}

	var factor fixedpoint.Fixed
	if direction == amm.Sell {
		factor, err = fixedpoint.One().Add(offset)
	} else {
		factor, err = fixedpoint.One().Sub(offset)
	}
	if err != nil {
		return fixedpoint.Fixed{}, false, err
	}

	raw, err := entryPrice.Mul(factor)
	if err != nil {
		return fixedpoint.Fixed{}, false, err
	}

	eps := params.PriceEpsilon
	upperBound, err := fixedpoint.One().Sub(eps)
	if err != nil {
		return fixedpoint.Fixed{}, false, err
	}
	switch {
	case raw.Cmp(eps) < 0:
		return eps, true, nil
	case raw.Cmp(upperBound) > 0:
		return upperBound, true, nil
	default:
		return raw, false, nil
	}
}

// Adjust recomputes effective leverage on a mark-to-market tick as
// L_eff' = L_eff*(1-pnl_pct), bounded to [1, AbsoluteCap], and re-derives the
// liquidation price from the new effective leverage. pnlPct is the
// position's unrealized PnL as a fraction of its collateral (positive for a
// gain, negative for a loss); a loss raises effective leverage (tightening
// the liquidation band), a gain lowers it.
func (e *Engine) Adjust(entryPrice, currentEffectiveLeverage, pnlPct fixedpoint.Fixed, direction amm.Direction) (Result, error) {
	params := e.currentParams()
	shrink, err := fixedpoint.One().Sub(pnlPct)
	if err != nil {
		return Result{}, err
	}
	adjusted, err := currentEffectiveLeverage.Mul(shrink)
	if err != nil {
		return Result{}, err
	}
	if adjusted.Cmp(fixedpoint.One()) < 0 {
		adjusted = fixedpoint.One()
	}
	if adjusted.Cmp(params.AbsoluteCap) > 0 {
		adjusted = params.AbsoluteCap
	}

	liqPrice, clamped, err := e.liquidationPrice(entryPrice, adjusted, direction)
	if err != nil {
		return Result{}, err
	}
	return Result{EffectiveLeverage: adjusted, LiquidationPrice: liqPrice, Clamped: clamped}, nil
}
