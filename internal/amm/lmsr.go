package amm

import (
	"sync"

	"predcore/internal/coreerrors"
	"predcore/internal/fixedpoint"
)

// FeeRateFunc returns the current elastic fee rate in basis points (a
// Fixed value like 3 meaning 3bp = 0.0003), as published by the vault
// (C3). Engines call it at trade time so the fee always reflects the
// vault's live coverage ratio.
type FeeRateFunc func() (fixedpoint.Fixed, error)

func feeFromBps(notional, bps fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	fraction, err := bps.Div(fixedpoint.FromInt64(10000))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return notional.MulTrunc(fraction)
}

// LMSR implements the binary-market logarithmic scoring rule engine.
// Shares q = (q_yes, q_no) are tracked directly; the cost function
// C(q) = b*ln(exp(q_yes/b) + exp(q_no/b)) is evaluated with a max-shift
// for numerical stability, matching the standard LMSR stabilization
// identity.
type LMSR struct {
	mu sync.Mutex

	b       fixedpoint.Fixed // liquidity parameter
	q       [2]fixedpoint.Fixed
	feeRate FeeRateFunc
}

// NewLMSR constructs an LMSR engine with liquidity parameter b and zero
// initial shares (q_yes = q_no = 0, giving an initial 50/50 price).
func NewLMSR(b fixedpoint.Fixed, feeRate FeeRateFunc) *LMSR {
	if feeRate == nil {
		feeRate = func() (fixedpoint.Fixed, error) { return fixedpoint.Zero(), nil }
	}
	return &LMSR{b: b, feeRate: feeRate}
}

func (l *LMSR) Variant() Variant { return VariantLMSR }

// cost evaluates C(q) for the supplied shares using the max-shift
// identity: C(q) = m + b*ln(sum_i exp((q_i-m)/b)) where m = max_i q_i.
func (l *LMSR) cost(q [2]fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	m := q[0]
	if q[1].Cmp(m) > 0 {
		m = q[1]
	}
	sum := fixedpoint.Zero()
	for _, qi := range q {
		shifted, err := qi.Sub(m)
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
		scaled, err := shifted.Div(l.b)
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
		e, err := scaled.Exp()
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
		sum, err = sum.Add(e)
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
	}
	lnSum, err := sum.Ln()
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	bLnSum, err := l.b.Mul(lnSum)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return m.Add(bLnSum)
}

func (l *LMSR) pricesLocked() ([]fixedpoint.Fixed, error) {
	m := l.q[0]
	if l.q[1].Cmp(m) > 0 {
		m = l.q[1]
	}
	exps := make([]fixedpoint.Fixed, 2)
	sum := fixedpoint.Zero()
	for i, qi := range l.q {
		shifted, err := qi.Sub(m)
		if err != nil {
			return nil, err
		}
		scaled, err := shifted.Div(l.b)
		if err != nil {
			return nil, err
		}
		e, err := scaled.Exp()
		if err != nil {
			return nil, err
		}
		exps[i] = e
		sum, err = sum.Add(e)
		if err != nil {
			return nil, err
		}
	}
	out := make([]fixedpoint.Fixed, 2)
	for i, e := range exps {
		p, err := e.Div(sum)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func (l *LMSR) Prices() ([]fixedpoint.Fixed, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pricesLocked()
}

func (l *LMSR) Quote(req TradeRequest) (TradeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quoteLocked(req)
}

func (l *LMSR) quoteLocked(req TradeRequest) (TradeResult, error) {
	if err := validateOutcome(req.Outcome, 2); err != nil {
		return TradeResult{}, err
	}
	pricesBefore, err := l.pricesLocked()
	if err != nil {
		return TradeResult{}, err
	}

	before, err := l.cost(l.q)
	if err != nil {
		return TradeResult{}, err
	}

	signedSize := req.Size
	if req.Direction == Sell {
		signedSize = req.Size.Neg()
	}
	next := l.q
	shifted, err := next[req.Outcome].Add(signedSize)
	if err != nil {
		return TradeResult{}, err
	}
	next[req.Outcome] = shifted

	after, err := l.cost(next)
	if err != nil {
		return TradeResult{}, err
	}
	tradeCost, err := after.Sub(before)
	if err != nil {
		return TradeResult{}, err
	}
	if req.Direction == Sell {
		tradeCost = tradeCost.Neg()
	}
	if tradeCost.Sign() < 0 {
		return TradeResult{}, coreerrors.ErrInsufficientLiquidity
	}

	feeBps, err := l.feeRate()
	if err != nil {
		return TradeResult{}, err
	}
	fee, err := feeFromBps(tradeCost, feeBps)
	if err != nil {
		return TradeResult{}, err
	}

	pricesAfter, err := func() ([]fixedpoint.Fixed, error) {
		saved := l.q
		l.q = next
		defer func() { l.q = saved }()
		return l.pricesLocked()
	}()
	if err != nil {
		return TradeResult{}, err
	}

	if err := checkSlippage(pricesBefore[req.Outcome], pricesAfter[req.Outcome], req.MaxSlippageBps); err != nil {
		return TradeResult{}, err
	}

	return TradeResult{
		ExecutedSize: req.Size,
		EntryPrice:   pricesAfter[req.Outcome],
		FeeAmount:    fee,
		LVRAmount:    fixedpoint.Zero(),
	}, nil
}

func (l *LMSR) Trade(req TradeRequest) (TradeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	result, err := l.quoteLocked(req)
	if err != nil {
		return TradeResult{}, err
	}
	signedSize := req.Size
	if req.Direction == Sell {
		signedSize = req.Size.Neg()
	}
	next, err := l.q[req.Outcome].Add(signedSize)
	if err != nil {
		return TradeResult{}, err
	}
	l.q[req.Outcome] = next
	return result, nil
}
