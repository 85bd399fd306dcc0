// Package settlement resolves a market's outcome against every live
// position on it: winners are paid size * |settlement price - entry price|
// out of their own collateral plus the proportional share, losers forfeit
// their remaining collateral outright. The closeout itself reuses the
// position store's Close bookkeeping shape (signed price-delta PnL, a
// proportional collateral share, a vault withdraw-then-adjust pair) the
// same way the lending engine's Liquidate reuses Repay's debt-clearing
// arithmetic rather than inventing a parallel path — but skips the AMM
// re-trade Close performs, since a resolved market has no price left to
// trade against; the settlement price is fixed by the oracle's resolution
// instead.
//
// A position that is a chain leg (ChainID != zero) settles leaf-first: its
// own market exposure closes through the same path as a standalone
// position, and only afterward is the wrapping chain's auxiliary
// borrow/liquidity/stake steps unwound, mirroring the liquidation engine's
// extreme-drawdown handling. A chain already mid-unwind when its leaf
// settles relies on the chain executor's own unwind-is-idempotent-against-
// its-recorded-pre-image contract to finish cleanly; settlement does not
// re-derive or duplicate that contract, only triggers it.
//
// Resolving the same market twice with the same outcome is a no-op, since
// every position it would touch is already Closed; resolving it twice with
// different outcomes is an irreconcilable conflict reported as
// coreerrors.ResolutionConflict rather than silently overwriting the first
// payout.
package settlement

import (
	"sort"
	"sync"

	"predcore/internal/coreerrors"
	"predcore/internal/events"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
	"predcore/internal/position"
)

// PositionLister is the subset of the position store (C5) settlement reads
// from and mutates. SettleClose is a dedicated closeout path distinct from
// Close: it takes a resolution price directly instead of re-trading
// against the AMM, since a resolved market's AMM no longer quotes.
type PositionLister interface {
	ListByMarket(market ids.MarketID) []position.Position
	SettleClose(id ids.PositionID, settlementPrice fixedpoint.Fixed, tick uint64) (position.CloseResult, error)
}

// ChainUnwinder forces a chained position's auxiliary steps closed once its
// leaf market exposure has settled. Optional: a nil ChainUnwinder leaves
// chain legs settled at the position level only, with their auxiliary
// steps unwound later by whatever process already owns that (the
// liquidation engine's extreme-drawdown path, or an operator action).
type ChainUnwinder interface {
	UnwindChain(chain ids.ChainID) error
}

// Resolution is the input to Settle: the market and the outcome the oracle
// (or an admin resolution, per SPEC_FULL §4.10) declared as final.
type Resolution struct {
	MarketID       ids.MarketID
	WinningOutcome int
}

// Result reports how many positions a Settle call touched, the total paid
// out to winners, and the total collateral forfeited by losers.
type Result struct {
	Positions int
	Payout    fixedpoint.Fixed
	Forfeited fixedpoint.Fixed
}

// MarketResolved is emitted once per distinct resolution, not on idempotent
// replays of an already-settled market.
type MarketResolved struct {
	MarketID       string
	WinningOutcome int
	Positions      int
	Tick           uint64
}

func (MarketResolved) EventType() string { return "settlement.market_resolved" }

// Engine applies market resolutions to the position store.
type Engine struct {
	mu sync.Mutex

	positions PositionLister
	chains    ChainUnwinder
	emit      events.Emitter

	resolved map[ids.MarketID]int
}

// New constructs a settlement Engine. chains may be nil; emit may be nil.
func New(positions PositionLister, chains ChainUnwinder, emit events.Emitter) *Engine {
	if emit == nil {
		emit = events.NoopEmitter{}
	}
	return &Engine{
		positions: positions,
		chains:    chains,
		emit:      emit,
		resolved:  make(map[ids.MarketID]int),
	}
}

// settlementPrice is 1 for the winning outcome, 0 for every other outcome —
// the binary payoff SPEC_FULL §4.10 specifies.
func settlementPrice(outcome, winningOutcome int) fixedpoint.Fixed {
	if outcome == winningOutcome {
		return fixedpoint.One()
	}
	return fixedpoint.Zero()
}

// Settle resolves every live position on res.MarketID against res's
// winning outcome. Replaying the identical resolution is a harmless no-op;
// replaying a different outcome for an already-resolved market reports
// ResolutionConflict and touches nothing.
func (e *Engine) Settle(res Resolution, tick uint64) (Result, error) {
	e.mu.Lock()
	if prior, ok := e.resolved[res.MarketID]; ok {
		e.mu.Unlock()
		if prior == res.WinningOutcome {
			return Result{}, nil
		}
		return Result{}, &coreerrors.ResolutionConflict{
			MarketID: res.MarketID.String(),
			Reason:   "market already resolved to a different outcome",
		}
	}
	e.resolved[res.MarketID] = res.WinningOutcome
	e.mu.Unlock()

	open := e.positions.ListByMarket(res.MarketID)

	// Deterministic order: chain legs (non-zero ChainID) are settled
	// leaf-first among themselves only in the sense that each leaf closes
	// before its own chain unwinds below; across positions the order only
	// needs to be reproducible, not causally meaningful, since positions on
	// one market share no state with each other.
	sort.Slice(open, func(i, j int) bool { return open[i].ID.String() < open[j].ID.String() })

	var result Result
	var chainsToUnwind []ids.ChainID
	for _, p := range open {
		price := settlementPrice(p.Outcome, res.WinningOutcome)
		closeResult, err := e.positions.SettleClose(p.ID, price, tick)
		if err != nil {
			return Result{}, err
		}
		result.Positions++
		if p.Outcome == res.WinningOutcome {
			result.Payout, err = result.Payout.Add(closeResult.ReleasedFunds)
		} else {
			// p is the pre-settle snapshot from ListByMarket, so p.Collateral
			// still holds what the losing position committed, regardless of
			// what SettleClose actually released (ordinarily zero).
			result.Forfeited, err = result.Forfeited.Add(p.Collateral)
		}
		if err != nil {
			return Result{}, err
		}
		if !p.ChainID.IsZero() {
			chainsToUnwind = append(chainsToUnwind, p.ChainID)
		}
	}

	if e.chains != nil {
		for _, chainID := range chainsToUnwind {
			if err := e.chains.UnwindChain(chainID); err != nil {
				e.emit.Emit(events.OperatorAlert{
					Component: "settlement",
					Message:   "chain unwind failed for " + chainID.String() + " after leaf settlement",
				})
			}
		}
	}

	e.emit.Emit(MarketResolved{
		MarketID:       res.MarketID.String(),
		WinningOutcome: res.WinningOutcome,
		Positions:      result.Positions,
		Tick:           tick,
	})

	return result, nil
}

// Resolved reports whether a market has already been settled, and to which
// outcome.
func (e *Engine) Resolved(market ids.MarketID) (outcome int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	outcome, ok = e.resolved[market]
	return outcome, ok
}
