// Package vault maintains the protocol's collateral balance and open
// interest, deriving the coverage ratio, elastic fee rate, and
// coverage-based leverage cap consumed by the rest of the engine. Its
// field layout follows the Market struct's running-totals idiom
// (TotalNHBSupplied/TotalNHBBorrowed) from the lending module, generalized
// from a two-asset money market to a single collateral pool backing every
// open position.
package vault

import (
	"sync"

	"predcore/internal/coreerrors"
	"predcore/internal/events"
	"predcore/internal/fixedpoint"
)

// DefaultTau is the tail-loss parameter: half of open interest is assumed
// to be the worst-case simultaneous loss the vault must cover.
var DefaultTau = mustFraction(1, 2)

// Coverage ratio thresholds below which trading is progressively halted.
var (
	OpenHaltThreshold = mustFraction(1, 4)  // r < 0.25 halts new opens
	FullHaltThreshold = mustFraction(1, 10) // r < 0.10 halts all trading
)

// Elastic fee curve parameters: f(r) = clamp(baseBps + spanBps*exp(-3r), minBps, maxBps).
var (
	feeBaseBps   = fixedpoint.FromInt64(3)
	feeSpanBps   = fixedpoint.FromInt64(25)
	feeMinBps    = fixedpoint.FromInt64(3)
	feeMaxBps    = fixedpoint.FromInt64(28)
	feeExpFactor = fixedpoint.FromInt64(3)
)

func mustFraction(num, den int64) fixedpoint.Fixed {
	f, err := fixedpoint.FromFraction(num, den)
	if err != nil {
		panic(err)
	}
	return f
}

// CoverageHalted is emitted when a mutation pushes the coverage ratio
// across one of the halt thresholds (in either direction).
type CoverageHalted struct {
	Level string // "open" or "full"
	Ratio fixedpoint.Fixed
}

func (CoverageHalted) EventType() string { return "vault.coverage_halted" }

// CoverageResumed is emitted when the coverage ratio recovers above a halt
// threshold it had previously crossed.
type CoverageResumed struct {
	Level string
	Ratio fixedpoint.Fixed
}

func (CoverageResumed) EventType() string { return "vault.coverage_resumed" }

// Vault tracks the protocol's collateral balance and aggregate open
// interest, both in micro-units, and the three fee accumulators their
// mutation feeds.
type Vault struct {
	mu sync.Mutex

	balance      fixedpoint.Fixed
	openInterest fixedpoint.Fixed
	tau          fixedpoint.Fixed

	protocolFees fixedpoint.Fixed
	rewardsPool  fixedpoint.Fixed
	burn         fixedpoint.Fixed

	// RoundingBucket accumulates sub-micro-unit settlement remainders;
	// rounding never favors the user (Open Question #3).
	roundingBucket fixedpoint.Fixed

	openHalted bool
	fullHalted bool

	// feeMinBps/feeMaxBpsOverride narrow the elastic fee curve's clamp
	// bounds below the package defaults when set by an admin
	// AdjustParameters command; zero means "use the package default".
	feeMinBpsOverride fixedpoint.Fixed
	feeMaxBpsOverride fixedpoint.Fixed

	emit events.Emitter
}

// New constructs an empty Vault. tau defaults to DefaultTau when zero.
func New(tau fixedpoint.Fixed, emit events.Emitter) *Vault {
	if tau.IsZero() {
		tau = DefaultTau
	}
	if emit == nil {
		emit = events.NoopEmitter{}
	}
	return &Vault{
		balance:      fixedpoint.Zero(),
		openInterest: fixedpoint.Zero(),
		tau:          tau,
		protocolFees: fixedpoint.Zero(),
		rewardsPool:  fixedpoint.Zero(),
		burn:         fixedpoint.Zero(),
		roundingBucket: fixedpoint.Zero(),
		emit:         emit,
	}
}

// Balance returns the current collateral balance.
func (v *Vault) Balance() fixedpoint.Fixed {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance
}

// OpenInterest returns the current aggregate open interest.
func (v *Vault) OpenInterest() fixedpoint.Fixed {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.openInterest
}

// Deposit adds amount to the vault balance (e.g. collateral posted when a
// position opens).
func (v *Vault) Deposit(amount fixedpoint.Fixed) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mutate(func() error {
		next, err := v.balance.Add(amount)
		if err != nil {
			return err
		}
		v.balance = next
		return nil
	})
}

// Withdraw removes amount from the vault balance (e.g. collateral returned
// when a position closes).
func (v *Vault) Withdraw(amount fixedpoint.Fixed) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mutate(func() error {
		next, err := v.balance.Sub(amount)
		if err != nil {
			return err
		}
		if next.Sign() < 0 {
			return coreerrors.ErrCoverageInvariant
		}
		v.balance = next
		return nil
	})
}

// AdjustOpenInterest changes the aggregate open interest by delta (positive
// on position open/increase, negative on close/decrease).
func (v *Vault) AdjustOpenInterest(delta fixedpoint.Fixed) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mutate(func() error {
		next, err := v.openInterest.Add(delta)
		if err != nil {
			return err
		}
		if next.Sign() < 0 {
			next = fixedpoint.Zero()
		}
		v.openInterest = next
		return nil
	})
}

// AccrueFee splits a collected fee amount across the protocol, rewards
// pool, and burn accumulators according to the supplied basis-point split
// (must sum to 10000).
func (v *Vault) AccrueFee(amount fixedpoint.Fixed, protocolBps, rewardsBps, burnBps uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	protocolShare, err := bpsShare(amount, protocolBps)
	if err != nil {
		return err
	}
	rewardsShare, err := bpsShare(amount, rewardsBps)
	if err != nil {
		return err
	}
	burnShare, err := bpsShare(amount, burnBps)
	if err != nil {
		return err
	}
	remainder, err := amount.Sub(protocolShare)
	if err != nil {
		return err
	}
	remainder, err = remainder.Sub(rewardsShare)
	if err != nil {
		return err
	}
	remainder, err = remainder.Sub(burnShare)
	if err != nil {
		return err
	}

	v.protocolFees, err = v.protocolFees.Add(protocolShare)
	if err != nil {
		return err
	}
	v.rewardsPool, err = v.rewardsPool.Add(rewardsShare)
	if err != nil {
		return err
	}
	v.burn, err = v.burn.Add(burnShare)
	if err != nil {
		return err
	}
	// Any residual from basis-point truncation is swept into the rounding
	// bucket rather than left unaccounted for or handed back to a party.
	v.roundingBucket, err = v.roundingBucket.Add(remainder)
	if err != nil {
		return err
	}
	return nil
}

func bpsShare(amount fixedpoint.Fixed, bps uint64) (fixedpoint.Fixed, error) {
	numerator, err := amount.MulTrunc(fixedpoint.FromInt64(int64(bps)))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return numerator.Div(fixedpoint.FromInt64(10000))
}

// SweepRounding adds amount to the rounding bucket directly. Used by
// settlement and position-close paths per Open Question #3.
func (v *Vault) SweepRounding(amount fixedpoint.Fixed) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	next, err := v.roundingBucket.Add(amount)
	if err != nil {
		return err
	}
	v.roundingBucket = next
	return nil
}

// RoundingBucket returns the accumulated rounding remainder.
func (v *Vault) RoundingBucket() fixedpoint.Fixed {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.roundingBucket
}

// CoverageRatio returns r = balance / (tau * openInterest). Returns One()
// when open interest is zero (fully covered, vacuously).
func (v *Vault) CoverageRatio() (fixedpoint.Fixed, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.coverageRatioLocked()
}

func (v *Vault) coverageRatioLocked() (fixedpoint.Fixed, error) {
	if v.openInterest.IsZero() {
		return fixedpoint.One(), nil
	}
	denominator, err := v.tau.Mul(v.openInterest)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if denominator.IsZero() {
		return fixedpoint.One(), nil
	}
	return v.balance.Div(denominator)
}

// ElasticFeeRate returns f(r) = clamp(3bp + 25*exp(-3r) bp, 3bp, 28bp),
// expressed as a fixed-point basis-point count (i.e. 3 means 3bp = 0.0003).
func (v *Vault) ElasticFeeRate() (fixedpoint.Fixed, error) {
	r, err := v.CoverageRatio()
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	raw, err := ElasticFeeRateAt(r)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}

	v.mu.Lock()
	lower, upper := v.feeMinBpsOverride, v.feeMaxBpsOverride
	v.mu.Unlock()
	if !lower.IsZero() && raw.Cmp(lower) < 0 {
		raw = lower
	}
	if !upper.IsZero() && raw.Cmp(upper) > 0 {
		raw = upper
	}
	return raw, nil
}

// SetElasticFeeBounds narrows the elastic fee curve's clamp bounds to
// [minBps, maxBps] (in whole basis points), below the package-wide
// defaults ElasticFeeRateAt enforces. A zero bound leaves that side at the
// package default.
func (v *Vault) SetElasticFeeBounds(minBps, maxBps uint64) error {
	lower := fixedpoint.FromInt64(int64(minBps))
	upper := fixedpoint.FromInt64(int64(maxBps))
	if !upper.IsZero() && !lower.IsZero() && upper.Cmp(lower) < 0 {
		return coreerrors.ErrInvalidLeverage
	}
	v.mu.Lock()
	v.feeMinBpsOverride = lower
	v.feeMaxBpsOverride = upper
	v.mu.Unlock()
	return nil
}

// SetTau updates the tail-loss parameter the coverage ratio is computed
// against.
func (v *Vault) SetTau(tau fixedpoint.Fixed) {
	v.mu.Lock()
	v.tau = tau
	v.mu.Unlock()
}

// MinFeeRate returns the fee rate bootstrap mode pins every trade to: the
// vault's configured fee-floor override if an admin has narrowed it via
// SetElasticFeeBounds, otherwise the package-wide elastic curve floor.
func (v *Vault) MinFeeRate() fixedpoint.Fixed {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.feeMinBpsOverride.IsZero() {
		return v.feeMinBpsOverride
	}
	return feeMinBps
}

// ElasticFeeRateAt evaluates the elastic fee curve for an arbitrary
// coverage ratio, exposed standalone so C9 can evaluate it without holding
// the vault lock during a chain-step simulation.
func ElasticFeeRateAt(r fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	exponent, err := feeExpFactor.Mul(r)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	decay, err := exponent.Neg().Exp()
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	span, err := feeSpanBps.Mul(decay)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	raw, err := feeBaseBps.Add(span)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if raw.Cmp(feeMinBps) < 0 {
		return feeMinBps, nil
	}
	if raw.Cmp(feeMaxBps) > 0 {
		return feeMaxBps, nil
	}
	return raw, nil
}

// MaxBaseLeverageFromCoverage returns L_cov(N) = r * 100 / sqrt(N).
func (v *Vault) MaxBaseLeverageFromCoverage(outcomeCount int) (fixedpoint.Fixed, error) {
	r, err := v.CoverageRatio()
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return MaxBaseLeverageFromCoverageAt(r, outcomeCount)
}

// MaxBaseLeverageFromCoverageAt evaluates the coverage-based leverage cap
// for an arbitrary ratio, standalone for the same reason as
// ElasticFeeRateAt.
func MaxBaseLeverageFromCoverageAt(r fixedpoint.Fixed, outcomeCount int) (fixedpoint.Fixed, error) {
	if outcomeCount < 1 {
		outcomeCount = 1
	}
	scaled, err := r.Mul(fixedpoint.FromInt64(100))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	root, err := fixedpoint.FromInt64(int64(outcomeCount)).Sqrt()
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return scaled.Div(root)
}

// mutate runs fn, then re-evaluates the halt thresholds and emits
// CoverageHalted/CoverageResumed transitions. Must be called with mu held.
func (v *Vault) mutate(fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	r, err := v.coverageRatioLocked()
	if err != nil {
		return err
	}

	if r.Cmp(FullHaltThreshold) < 0 {
		if !v.fullHalted {
			v.fullHalted = true
			v.emit.Emit(CoverageHalted{Level: "full", Ratio: r})
		}
	} else if v.fullHalted {
		v.fullHalted = false
		v.emit.Emit(CoverageResumed{Level: "full", Ratio: r})
	}

	if r.Cmp(OpenHaltThreshold) < 0 {
		if !v.openHalted {
			v.openHalted = true
			v.emit.Emit(CoverageHalted{Level: "open", Ratio: r})
		}
	} else if v.openHalted {
		v.openHalted = false
		v.emit.Emit(CoverageResumed{Level: "open", Ratio: r})
	}
	return nil
}

// OpensHalted reports whether new position opens are currently halted.
func (v *Vault) OpensHalted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.openHalted
}

// FullyHalted reports whether all trading (except rate-limited
// liquidations) is currently halted.
func (v *Vault) FullyHalted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fullHalted
}
