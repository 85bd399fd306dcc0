// Package verse implements the auxiliary borrow/liquidity/stake pools the
// chain executor (internal/chain) targets. A verse is capital moved out of
// the vault for the duration of a chain leg and returned on unwind; the
// load-validate-mutate-persist shape and idempotent-inverse contract follow
// native/lending's Borrow/Repay pair, generalized from a per-user debt
// ledger to a single outstanding-balance counter per pool, since a chain
// step has no separate borrower account to track beyond the chain itself.
package verse

import (
	"sync"

	"predcore/internal/chain"
	"predcore/internal/coreerrors"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
)

// Kind identifies which of the three auxiliary operations a Pool backs.
// Mirrors chain.StepKind; kept as a distinct type since a verse's kind is a
// provisioning-time property of the pool, not a property of any one step.
type Kind int

const (
	KindBorrow Kind = iota
	KindLiquidity
	KindStake
)

// Vault is the subset of vault.Vault a verse pool moves capital through.
type Vault interface {
	Withdraw(amount fixedpoint.Fixed) error
	Deposit(amount fixedpoint.Fixed) error
}

var (
	borrowCap           = chain.BorrowCoverageCap
	liquidityLVR        = chain.DefaultLiquidityLVR
	liquidityTau        = chain.DefaultLiquidityTau
)

// Pool is a single auxiliary verse: a capital sink/source of one Kind,
// backed by the shared vault. Outstanding tracks capital currently moved
// out of the vault so Unwind can be idempotent against repeated calls for
// the same step.
type Pool struct {
	mu sync.Mutex

	kind        Kind
	vault       Vault
	outstanding fixedpoint.Fixed
}

// NewPool constructs a verse pool of the given kind, backed by vault.
func NewPool(kind Kind, vault Vault) *Pool {
	return &Pool{kind: kind, vault: vault, outstanding: fixedpoint.Zero()}
}

// Execute moves step.Amount out of the vault into this pool and returns the
// capital amount carried forward to the next chain step (unchanged) and
// this step's multiplier contribution, per SPEC_FULL §4.7's three
// formulas — chain.Engine revalidates the borrow cap itself before this
// call, so Execute does not need to reject an out-of-range coverage input.
func (p *Pool) Execute(step chain.Step, depth int, coverage fixedpoint.Fixed, outcomeCount int) (output, multiplier fixedpoint.Fixed, err error) {
	if step.Amount.Sign() <= 0 {
		return fixedpoint.Fixed{}, fixedpoint.Fixed{}, coreerrors.ErrInvalidLeverage
	}

	switch p.kind {
	case KindBorrow:
		multiplier, err = borrowMultiplier(coverage, outcomeCount)
	case KindLiquidity:
		multiplier, err = liquidityMultiplier()
	case KindStake:
		multiplier, err = stakeMultiplier(depth)
	default:
		return fixedpoint.Fixed{}, fixedpoint.Fixed{}, coreerrors.ErrInvalidOutcome
	}
	if err != nil {
		return fixedpoint.Fixed{}, fixedpoint.Fixed{}, err
	}

	if err := p.vault.Withdraw(step.Amount); err != nil {
		return fixedpoint.Fixed{}, fixedpoint.Fixed{}, err
	}

	p.mu.Lock()
	p.outstanding, err = p.outstanding.Add(step.Amount)
	p.mu.Unlock()
	if err != nil {
		return fixedpoint.Fixed{}, fixedpoint.Fixed{}, err
	}

	return step.Amount, multiplier, nil
}

// Unwind returns up to step.Amount of this pool's outstanding balance to
// the vault. Idempotent: once outstanding reaches zero, a repeated Unwind
// for the same (already-reversed) step is a no-op rather than an error, so
// the chain executor's best-effort reverse-order pass can call it more than
// once without double-crediting the vault.
func (p *Pool) Unwind(step chain.Step) error {
	p.mu.Lock()
	if p.outstanding.Sign() <= 0 {
		p.mu.Unlock()
		return nil
	}
	refund := step.Amount
	if refund.Cmp(p.outstanding) > 0 {
		refund = p.outstanding
	}
	remaining, err := p.outstanding.Sub(refund)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.outstanding = remaining
	p.mu.Unlock()

	return p.vault.Deposit(refund)
}

func borrowMultiplier(coverage fixedpoint.Fixed, outcomeCount int) (fixedpoint.Fixed, error) {
	n := fixedpoint.FromInt64(int64(outcomeCount))
	sqrtN, err := n.Sqrt()
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if sqrtN.IsZero() {
		sqrtN = fixedpoint.One()
	}
	raw, err := coverage.Mul(fixedpoint.FromInt64(100))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	raw, err = raw.Div(sqrtN)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if raw.Cmp(borrowCap) > 0 {
		raw = borrowCap
	}
	return raw, nil
}

func liquidityMultiplier() (fixedpoint.Fixed, error) {
	boost, err := liquidityLVR.Mul(liquidityTau)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return fixedpoint.One().Add(boost)
}

func stakeMultiplier(depth int) (fixedpoint.Fixed, error) {
	depthFactor, err := fixedpoint.FromFraction(int64(depth), 32)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return fixedpoint.One().Add(depthFactor)
}

// Registry provisions and resolves verse pools. The root engine creates one
// pool per Kind at startup (the canonical Borrow/Liquidity/Stake triple a
// 3-step chain targets); CreatePool supports provisioning additional pools
// of a kind if a deployment wants to shard capacity.
type Registry struct {
	mu    sync.Mutex
	pools map[ids.VerseID]*Pool
}

// NewRegistry constructs an empty verse registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[ids.VerseID]*Pool)}
}

// CreatePool provisions a new pool of the given kind backed by vault and
// returns its freshly assigned verse identity.
func (r *Registry) CreatePool(kind Kind, vault Vault) ids.VerseID {
	id := ids.NewVerseID()
	r.mu.Lock()
	r.pools[id] = NewPool(kind, vault)
	r.mu.Unlock()
	return id
}

// Pool implements chain.VerseRegistry.
func (r *Registry) Pool(verse ids.VerseID) (chain.VersePool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[verse]
	if !ok {
		return nil, coreerrors.ErrVerseNotFound
	}
	return p, nil
}
