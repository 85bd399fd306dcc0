package amm

import (
	"sync"

	"predcore/internal/coreerrors"
	"predcore/internal/fixedpoint"
)

// MaxL2AMMBuckets is the maximum number of density buckets (M) supported.
const MaxL2AMMBuckets = 256

// DefaultSimpsonIntervals is the default odd number of sample points used
// to approximate the trade-cost integral via composite Simpson's rule,
// i.e. DefaultSimpsonIntervals-1 (an even number of) sub-intervals.
const DefaultSimpsonIntervals = 21

// L2AMM implements the continuous-distribution AMM used for large
// discrete outcome sets (N > 64) and any continuous (bucketed) market. A
// discretized density f over M buckets is constrained to ||f||_2 = k and
// max_i f_i <= bMax; trades shift density near the chosen bucket and the
// density is renormalized to the L2 norm after every trade.
type L2AMM struct {
	mu sync.Mutex

	density []fixedpoint.Fixed
	k       fixedpoint.Fixed // pinned L2 norm
	bMax    fixedpoint.Fixed // per-bucket cap
	feeRate FeeRateFunc
}

// NewL2AMM constructs an L2-AMM with M equal-weight buckets whose L2 norm
// is k, and per-bucket cap bMax.
func NewL2AMM(buckets int, k, bMax fixedpoint.Fixed, feeRate FeeRateFunc) (*L2AMM, error) {
	if buckets < 1 || buckets > MaxL2AMMBuckets {
		return nil, coreerrors.ErrInvalidOutcome
	}
	n := fixedpoint.FromInt64(int64(buckets))
	kSquared, err := k.Mul(k)
	if err != nil {
		return nil, err
	}
	perBucketSquare, err := kSquared.Div(n)
	if err != nil {
		return nil, err
	}
	perBucket, err := perBucketSquare.Sqrt()
	if err != nil {
		return nil, err
	}
	if !bMax.IsZero() && perBucket.Cmp(bMax) > 0 {
		return nil, coreerrors.ErrNormViolation
	}
	density := make([]fixedpoint.Fixed, buckets)
	for i := range density {
		density[i] = perBucket
	}
	if feeRate == nil {
		feeRate = func() (fixedpoint.Fixed, error) { return fixedpoint.Zero(), nil }
	}
	return &L2AMM{density: density, k: k, bMax: bMax, feeRate: feeRate}, nil
}

func (a *L2AMM) Variant() Variant { return VariantL2AMM }

func (a *L2AMM) l2Norm(f []fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	sum, err := sumOfSquares(f)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return sum.Sqrt()
}

// Prices returns each bucket's price f_i^2 / k^2; with ||f||_2 = k these
// sum to 1. The raw density is what the trade/cost math operates on.
func (a *L2AMM) Prices() ([]fixedpoint.Fixed, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pricesLocked()
}

// pricesLocked is Prices for callers that already hold a.mu.
func (a *L2AMM) pricesLocked() ([]fixedpoint.Fixed, error) {
	kSquared, err := a.k.Mul(a.k)
	if err != nil {
		return nil, err
	}
	out := make([]fixedpoint.Fixed, len(a.density))
	for i, f := range a.density {
		sq, err := f.Mul(f)
		if err != nil {
			return nil, err
		}
		p, err := sq.Div(kSquared)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// shiftedDensity returns a copy of the current density with delta applied
// to bucket and delta/(M-1) subtracted evenly from every other bucket, so
// total mass is conserved before renormalization.
func (a *L2AMM) shiftedDensity(bucket int, delta fixedpoint.Fixed) ([]fixedpoint.Fixed, error) {
	next := make([]fixedpoint.Fixed, len(a.density))
	copy(next, a.density)
	shifted, err := next[bucket].Add(delta)
	if err != nil {
		return nil, err
	}
	if shifted.Sign() < 0 {
		return nil, coreerrors.ErrInsufficientLiquidity
	}
	if !a.bMax.IsZero() && shifted.Cmp(a.bMax) > 0 {
		return nil, coreerrors.ErrNormViolation
	}
	next[bucket] = shifted

	others := len(next) - 1
	if others > 0 {
		spread, err := delta.Div(fixedpoint.FromInt64(int64(others)))
		if err != nil {
			return nil, err
		}
		for i := range next {
			if i == bucket {
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
	}
	return next, nil
}

// renormalize rescales f so that ||f||_2 = a.k exactly, preserving the
// relative weights.
func (a *L2AMM) renormalize(f []fixedpoint.Fixed) ([]fixedpoint.Fixed, error) {
	norm, err := a.l2Norm(f)
	if err != nil {
		return nil, err
	}
	if norm.IsZero() {
		return nil, coreerrors.ErrNormViolation
	}
	out := make([]fixedpoint.Fixed, len(f))
	for i, v := range f {
		scaled, err := v.Div(norm)
		if err != nil {
			return nil, err
		}
		scaled, err = scaled.Mul(a.k)
		if err != nil {
			return nil, err
		}
		if !a.bMax.IsZero() && scaled.Cmp(a.bMax) > 0 {
			return nil, coreerrors.ErrNormViolation
		}
		out[i] = scaled
	}
	return out, nil
}

// simpsonCost approximates the integral of f(x)*f'(x) along the trade path
// from the pre-trade to post-trade bucket value using composite Simpson's
// rule over DefaultSimpsonIntervals sample points, i.e.
// DefaultSimpsonIntervals-1 sub-intervals (Simpson needs an even count).
func simpsonCost(from, to fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	intervals := DefaultSimpsonIntervals - 1 // even number of sub-intervals
	if intervals%2 != 0 {
		intervals++
	}
	width, err := to.Sub(from)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	h, err := width.Div(fixedpoint.FromInt64(int64(intervals)))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}

	sum := fixedpoint.Zero()
	for i := 0; i <= intervals; i++ {
		xi, err := fixedpoint.FromInt64(int64(i)).Mul(h)
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
		xi, err = from.Add(xi)
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
		// The integrand is f(x)*f'(x) = d/dx (f(x)^2/2); with f taken as
		// the identity path from->to, this reduces to x itself, which is
		// exactly what the weighted Simpson sum below integrates.
		weight := int64(2)
		switch {
		case i == 0 || i == intervals:
			weight = 1
		case i%2 == 1:
			weight = 4
		}
		term, err := xi.Mul(fixedpoint.FromInt64(weight))
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
		sum, err = sum.Add(term)
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
	}
	hOver3, err := h.Div(fixedpoint.FromInt64(3))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return sum.Mul(hOver3)
}

func (a *L2AMM) Quote(req TradeRequest) (TradeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quoteLocked(req)
}

func (a *L2AMM) quoteLocked(req TradeRequest) (TradeResult, error) {
	if err := validateOutcome(req.Outcome, len(a.density)); err != nil {
		return TradeResult{}, err
	}
	pricesBefore, err := a.pricesLocked()
	if err != nil {
		return TradeResult{}, err
	}

	signedDelta := req.Size
	if req.Direction == Sell {
		signedDelta = req.Size.Neg()
	}
	shifted, err := a.shiftedDensity(req.Outcome, signedDelta)
	if err != nil {
		return TradeResult{}, err
	}
	renormalized, err := a.renormalize(shifted)
	if err != nil {
		return TradeResult{}, err
	}

	cost, err := simpsonCost(a.density[req.Outcome], renormalized[req.Outcome])
	if err != nil {
		return TradeResult{}, err
	}
	if cost.Sign() < 0 {
		cost = cost.Neg()
	}

	kSquared, err := a.k.Mul(a.k)
	if err != nil {
		return TradeResult{}, err
	}
	bucketSq, err := renormalized[req.Outcome].Mul(renormalized[req.Outcome])
	if err != nil {
		return TradeResult{}, err
	}
	priceAfter, err := bucketSq.Div(kSquared)
	if err != nil {
		return TradeResult{}, err
	}

	if err := checkSlippage(pricesBefore[req.Outcome], priceAfter, req.MaxSlippageBps); err != nil {
		return TradeResult{}, err
	}

	feeBps, err := a.feeRate()
	if err != nil {
		return TradeResult{}, err
	}
	fee, err := feeFromBps(req.Size, feeBps)
	if err != nil {
		return TradeResult{}, err
	}

	return TradeResult{
		ExecutedSize: req.Size,
		EntryPrice:   priceAfter,
		FeeAmount:    fee,
		LVRAmount:    fixedpoint.Zero(),
	}, nil
}

func (a *L2AMM) Trade(req TradeRequest) (TradeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	result, err := a.quoteLocked(req)
	if err != nil {
		return TradeResult{}, err
	}
	signedDelta := req.Size
	if req.Direction == Sell {
		signedDelta = req.Size.Neg()
	}
	shifted, err := a.shiftedDensity(req.Outcome, signedDelta)
	if err != nil {
		return TradeResult{}, err
	}
	renormalized, err := a.renormalize(shifted)
	if err != nil {
		return TradeResult{}, err
	}
	a.density = renormalized
	return result, nil
}
