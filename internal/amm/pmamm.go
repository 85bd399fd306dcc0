package amm

import (
	"sync"

	"predcore/internal/coreerrors"
	"predcore/internal/fixedpoint"
)

// LVR modes for the PM-AMM's uniform loss-versus-rebalancing charge (Open
// Question #1 in the specification, resolved to Flat by default).
const (
	PMAMMLVRModeFlat = iota
	PMAMMLVRModeDepthScaled
)

// DefaultPMAMMLVRBps is the flat uniform LVR charge, 500 basis points.
var DefaultPMAMMLVRBps = fixedpoint.FromInt64(500)

const (
	// pmammMaxIterations caps the Newton-Raphson solve; convergence target
	// is 1e-8, checked directly against the tolerance computed in solveReserve.
	pmammMaxIterations  = 10
	pmammDecayThreshold = 9 // tenths: t > 0.9 triggers time-decay scaling
)

// PMAMM implements the constant-L2-norm reserves AMM used for 2-64
// outcome discrete markets. Reserves R_i give price p_i = R_i^2 / sum(R_j^2);
// a trade redistributes reserves along a gradient so that sum(R_j^2) = L^2
// is preserved, solved by Newton-Raphson.
type PMAMM struct {
	mu sync.Mutex

	reserves   []fixedpoint.Fixed
	liquidityL fixedpoint.Fixed // L, pinned sum-of-squares target sqrt
	lvrMode    int
	feeRate    FeeRateFunc
	expiryFrac func() (fixedpoint.Fixed, error) // t in [0,1], host-supplied
}

// NewPMAMM constructs a PM-AMM with N outcomes, equal initial reserves
// summing in quadrature to liquidityL, and the given LVR mode.
func NewPMAMM(outcomeCount int, liquidityL fixedpoint.Fixed, lvrMode int, feeRate FeeRateFunc, expiryFrac func() (fixedpoint.Fixed, error)) (*PMAMM, error) {
	if outcomeCount < 2 || outcomeCount > MaxPMAMMOutcomes {
		return nil, coreerrors.ErrInvalidOutcome
	}
	n := fixedpoint.FromInt64(int64(outcomeCount))
	lSquared, err := liquidityL.Mul(liquidityL)
	if err != nil {
		return nil, err
	}
	perOutcomeSquare, err := lSquared.Div(n)
	if err != nil {
		return nil, err
	}
	perOutcome, err := perOutcomeSquare.Sqrt()
	if err != nil {
		return nil, err
	}
	reserves := make([]fixedpoint.Fixed, outcomeCount)
	for i := range reserves {
		reserves[i] = perOutcome
	}
	if feeRate == nil {
		feeRate = func() (fixedpoint.Fixed, error) { return fixedpoint.Zero(), nil }
	}
	if expiryFrac == nil {
		expiryFrac = func() (fixedpoint.Fixed, error) { return fixedpoint.Zero(), nil }
	}
	return &PMAMM{reserves: reserves, liquidityL: liquidityL, lvrMode: lvrMode, feeRate: feeRate, expiryFrac: expiryFrac}, nil
}

func (p *PMAMM) Variant() Variant { return VariantPMAMM }

func sumOfSquares(rs []fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	sum := fixedpoint.Zero()
	for _, r := range rs {
		sq, err := r.Mul(r)
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
		sum, err = sum.Add(sq)
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
	}
	return sum, nil
}

func (p *PMAMM) pricesFrom(rs []fixedpoint.Fixed) ([]fixedpoint.Fixed, error) {
	sum, err := sumOfSquares(rs)
	if err != nil {
		return nil, err
	}
	if sum.IsZero() {
		return nil, coreerrors.ErrNormViolation
	}
	out := make([]fixedpoint.Fixed, len(rs))
	for i, r := range rs {
		sq, err := r.Mul(r)
		if err != nil {
			return nil, err
		}
		p, err := sq.Div(sum)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func (p *PMAMM) Prices() ([]fixedpoint.Fixed, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pricesFrom(p.reserves)
}

// solveReserve finds the new reserve value for the traded outcome such
// that sum(R_j^2) = L^2 holds once the other reserves absorb -delta/(N-1)
// each (the gradient redistribution the specification describes), via
// Newton-Raphson on g(x) = x^2 + otherSquares - L^2.
func (p *PMAMM) solveReserve(outcome int, delta fixedpoint.Fixed) ([]fixedpoint.Fixed, error) {
	n := len(p.reserves)
	lSquared, err := p.liquidityL.Mul(p.liquidityL)
	if err != nil {
		return nil, err
	}

	next := make([]fixedpoint.Fixed, n)
	copy(next, p.reserves)

	spread, err := delta.Div(fixedpoint.FromInt64(int64(n - 1)))
	if err != nil {
		return nil, err
	}
	for i := range next {
		if i == outcome {
			continue
		}
		adjusted, err := next[i].Sub(spread)
		if err != nil {
			return nil, err
		}
		if adjusted.Sign() < 0 {
			return nil, coreerrors.ErrInsufficientLiquidity
		}
		next[i] = adjusted
	}

	otherSquares, err := sumOfSquares(removeIndex(next, outcome))
	if err != nil {
		return nil, err
	}

	x := next[outcome]
	tolerance, err := fixedpoint.FromFraction(1, 100_000_000) // 1e-8
	if err != nil {
		return nil, err
	}
	two := fixedpoint.FromInt64(2)
	converged := false
	for iter := 0; iter < pmammMaxIterations; iter++ {
		xSquared, err := x.Mul(x)
		if err != nil {
			return nil, err
		}
		gx, err := xSquared.Add(otherSquares)
		if err != nil {
			return nil, err
		}
		gx, err = gx.Sub(lSquared)
		if err != nil {
			return nil, err
		}
		if gx.Abs().Cmp(tolerance) <= 0 {
			converged = true
			break
		}
		gPrime, err := two.Mul(x)
		if err != nil {
			return nil, err
		}
		if gPrime.IsZero() {
			return nil, coreerrors.ErrConvergenceFailed
		}
		step, err := gx.Div(gPrime)
		if err != nil {
			return nil, err
		}
		x, err = x.Sub(step)
		if err != nil {
			return nil, err
		}
		if x.Sign() < 0 {
			return nil, coreerrors.ErrInsufficientLiquidity
		}
	}
	if !converged {
		return nil, coreerrors.ErrConvergenceFailed
	}
	next[outcome] = x
	return next, nil
}

func removeIndex(rs []fixedpoint.Fixed, idx int) []fixedpoint.Fixed {
	out := make([]fixedpoint.Fixed, 0, len(rs)-1)
	for i, r := range rs {
		if i == idx {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (p *PMAMM) lvrAmount(notional fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	base := DefaultPMAMMLVRBps
	fraction, err := base.Div(fixedpoint.FromInt64(10000))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if p.lvrMode == PMAMMLVRModeDepthScaled {
		// Reserved for a future depth-scaled variant; not selected by
		// default (see Open Question resolution).
	}
	t, err := p.expiryFrac()
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	threshold, err := fixedpoint.FromFraction(int64(pmammDecayThreshold), 10)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if t.Cmp(threshold) > 0 {
		one := fixedpoint.One()
		remaining, err := one.Sub(t)
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
		if !remaining.IsZero() {
			scaled, err := fraction.Div(remaining)
			if err != nil {
				return fixedpoint.Fixed{}, err
			}
			fraction = scaled
		}
	}
	return notional.MulTrunc(fraction)
}

func (p *PMAMM) Quote(req TradeRequest) (TradeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quoteLocked(req)
}

func (p *PMAMM) quoteLocked(req TradeRequest) (TradeResult, error) {
	if err := validateOutcome(req.Outcome, len(p.reserves)); err != nil {
		return TradeResult{}, err
	}
	pricesBefore, err := p.pricesFrom(p.reserves)
	if err != nil {
		return TradeResult{}, err
	}

	signedDelta := req.Size
	if req.Direction == Sell {
		signedDelta = req.Size.Neg()
	}
	next, err := p.solveReserve(req.Outcome, signedDelta)
	if err != nil {
		return TradeResult{}, err
	}
	pricesAfter, err := p.pricesFrom(next)
	if err != nil {
		return TradeResult{}, err
	}
	if err := checkSlippage(pricesBefore[req.Outcome], pricesAfter[req.Outcome], req.MaxSlippageBps); err != nil {
		return TradeResult{}, err
	}

	feeBps, err := p.feeRate()
	if err != nil {
		return TradeResult{}, err
	}
	fee, err := feeFromBps(req.Size, feeBps)
	if err != nil {
		return TradeResult{}, err
	}
	lvr, err := p.lvrAmount(req.Size)
	if err != nil {
		return TradeResult{}, err
	}

	return TradeResult{
		ExecutedSize: req.Size,
		EntryPrice:   pricesAfter[req.Outcome],
		FeeAmount:    fee,
		LVRAmount:    lvr,
	}, nil
}

func (p *PMAMM) Trade(req TradeRequest) (TradeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result, err := p.quoteLocked(req)
	if err != nil {
		return TradeResult{}, err
	}
	signedDelta := req.Size
	if req.Direction == Sell {
		signedDelta = req.Size.Neg()
	}
	next, err := p.solveReserve(req.Outcome, signedDelta)
	if err != nil {
		return TradeResult{}, err
	}
	p.reserves = next
	return result, nil
}
