// Package position holds per-user Position state: open/close accounting,
// funding settlement, and the stale-position sweep. It depends on the AMM
// (quoting), the leverage engine (effective leverage and liquidation price),
// and the vault (coverage notification) through small consumer-defined
// interfaces rather than importing those packages directly, in the same
// style the lending engine's engineState seam decouples it from storage.
package position

import (
	"sync"

	"predcore/internal/amm"
	"predcore/internal/coreerrors"
	"predcore/internal/events"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
)

// MarketView resolves a market's AMM engine and outcome count. The chain
// executor (C7) and leverage engine (C6) implement richer views; the
// position store only needs this much.
type MarketView interface {
	Engine(marketID ids.MarketID) (amm.Engine, error)
	OutcomeCount(marketID ids.MarketID) (int, error)
	FundingIndex(marketID ids.MarketID) (fixedpoint.Fixed, error)
	Halted(marketID ids.MarketID) (bool, error)
}

// LeverageRequest is the input the leverage engine (C6) uses to derive
// effective leverage and liquidation price for a new or adjusted position.
type LeverageRequest struct {
	BaseLeverage    fixedpoint.Fixed
	OutcomeCount    int
	ChainDepth      int
	ChainMultiplier fixedpoint.Fixed
	Coverage        fixedpoint.Fixed
	QuizPassed      bool
	EntryPrice      fixedpoint.Fixed
	Direction       amm.Direction

	// BootstrapFactor scales every leverage cap down while the vault is
	// undercapitalized. Zero is treated as fixedpoint.One() (no scaling).
	BootstrapFactor fixedpoint.Fixed
}

// LeverageResult is what the leverage engine (C6) returns for a LeverageRequest.
type LeverageResult struct {
	EffectiveLeverage fixedpoint.Fixed
	LiquidationPrice  fixedpoint.Fixed
	Clamped           bool
}

// LeverageResolver is implemented by the leverage engine (C6). Adjust is
// consulted by Seize to re-derive liquidation price after a graduated
// seizure shrinks collateral disproportionately to size.
type LeverageResolver interface {
	Resolve(req LeverageRequest) (LeverageResult, error)
	Adjust(entryPrice, currentEffectiveLeverage, pnlPct fixedpoint.Fixed, direction amm.Direction) (LeverageResult, error)
}

// VaultNotifier is the subset of the vault (C3) the position store drives.
type VaultNotifier interface {
	Deposit(amount fixedpoint.Fixed) error
	Withdraw(amount fixedpoint.Fixed) error
	AdjustOpenInterest(delta fixedpoint.Fixed) error
	CoverageRatio() (fixedpoint.Fixed, error)
	SweepRounding(amount fixedpoint.Fixed) error
}

// PositionOpened and PositionClosed are emitted on every successful
// open/close, consumed by the liquidation engine (C8) to seed and retire
// queue entries.
type PositionOpened struct {
	PositionID string
	MarketID   string
	Tick       uint64
}

func (PositionOpened) EventType() string { return "position.opened" }

type PositionClosed struct {
	PositionID string
	MarketID   string
	Tick       uint64
}

func (PositionClosed) EventType() string { return "position.closed" }

// PositionSeized is emitted on every successful Seize, consumed by the
// liquidation engine (C8) to report a ladder rung applied and by the
// observability sink for incident reconstruction.
type PositionSeized struct {
	PositionID      string
	MarketID        string
	Tick            uint64
	SeizedNotional  string
	FullyLiquidated bool
}

func (PositionSeized) EventType() string { return "position.seized" }

// FundingGraceTicks is the minimum tick gap the stale-position sweep waits
// before applying funding again to an untouched position.
const FundingGraceTicks = 1

// Store holds every live Position in memory, keyed by ID, guarded by a
// single mutex (the teacher's per-pool state is keyed by pool ID in
// persistent storage; here the persistence seam is added in the root engine
// wiring, so the in-process store is the authoritative copy for now).
type Store struct {
	mu sync.Mutex

	positions map[ids.PositionID]*Position
	markets   MarketView
	leverage  LeverageResolver
	vault     VaultNotifier
	emit      events.Emitter
}

// New constructs an empty position store wired to the AMM/leverage/vault
// dependencies.
func New(markets MarketView, leverage LeverageResolver, vault VaultNotifier, emit events.Emitter) *Store {
	if emit == nil {
		emit = events.NoopEmitter{}
	}
	return &Store{
		positions: make(map[ids.PositionID]*Position),
		markets:   markets,
		leverage:  leverage,
		vault:     vault,
		emit:      emit,
	}
}

// Get returns a copy of the position with the given ID.
func (s *Store) Get(id ids.PositionID) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return Position{}, coreerrors.ErrPositionNotFound
	}
	return *p, nil
}

// Open validates leverage qualification and market state, quotes the trade
// via C4, derives effective leverage and liquidation price via C6, reserves
// collateral, writes the Position, increments market open interest, and
// notifies the vault. Per SPEC §4.5: reserved collateral = size /
// effective_leverage + fee.
func (s *Store) Open(req OpenRequest) (OpenResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Size.Cmp(MinimumSize) < 0 {
		return OpenResult{}, coreerrors.ErrSizeBelowMinimum
	}
	halted, err := s.markets.Halted(req.Market)
	if err != nil {
		return OpenResult{}, err
	}
	if halted {
		return OpenResult{}, coreerrors.ErrMarketHalted
	}

	outcomeCount, err := s.markets.OutcomeCount(req.Market)
	if err != nil {
		return OpenResult{}, err
	}
	engine, err := s.markets.Engine(req.Market)
	if err != nil {
		return OpenResult{}, err
	}

	quote, err := engine.Quote(amm.TradeRequest{
		Outcome:        req.Outcome,
		Direction:      req.Direction,
		Size:           req.Size,
		MaxSlippageBps: req.MaxSlippageBps,
	})
	if err != nil {
		return OpenResult{}, err
	}

	coverage, err := s.vault.CoverageRatio()
	if err != nil {
		return OpenResult{}, err
	}

	leverageResult, err := s.leverage.Resolve(LeverageRequest{
		BaseLeverage:    req.BaseLeverage,
		OutcomeCount:    outcomeCount,
		ChainDepth:      req.ChainDepth,
		ChainMultiplier: req.ChainMultiplier,
		Coverage:        coverage,
		QuizPassed:      req.QuizPassed,
		EntryPrice:      quote.EntryPrice,
		Direction:       req.Direction,
		BootstrapFactor: req.BootstrapFactor,
	})
	if err != nil {
		return OpenResult{}, err
	}

	traded, err := engine.Trade(amm.TradeRequest{
		Outcome:        req.Outcome,
		Direction:      req.Direction,
		Size:           req.Size,
		MaxSlippageBps: req.MaxSlippageBps,
	})
	if err != nil {
		return OpenResult{}, err
	}

	notional, err := req.Size.Div(leverageResult.EffectiveLeverage)
	if err != nil {
		return OpenResult{}, err
	}
	collateral, err := notional.Add(traded.FeeAmount)
	if err != nil {
		return OpenResult{}, err
	}

	fundingIndex, err := s.markets.FundingIndex(req.Market)
	if err != nil {
		return OpenResult{}, err
	}

	if err := s.vault.Deposit(collateral); err != nil {
		return OpenResult{}, err
	}
	if err := s.vault.AdjustOpenInterest(req.Size); err != nil {
		return OpenResult{}, err
	}

	id := ids.NewPositionID()
	p := &Position{
		ID:                  id,
		Owner:               req.Owner,
		Market:              req.Market,
		Outcome:             req.Outcome,
		Direction:           req.Direction,
		Size:                traded.ExecutedSize,
		Collateral:          collateral,
		BaseLeverage:        req.BaseLeverage,
		EffectiveLeverage:   leverageResult.EffectiveLeverage,
		EntryPrice:          traded.EntryPrice,
		LiquidationPrice:    leverageResult.LiquidationPrice,
		FundingIndexAtEntry: fundingIndex,
		RealizedPnL:         fixedpoint.Zero(),
		Status:              StatusOpen,
		ChainID:             req.ChainID,
		CreatedTick:         req.Tick,
		LastTouchedTick:     req.Tick,
	}
	s.positions[id] = p

	s.emit.Emit(PositionOpened{PositionID: id.String(), MarketID: req.Market.String(), Tick: req.Tick})

	return OpenResult{Position: *p, FeeAmount: traded.FeeAmount}, nil
}

// Close executes the inverse trade for size (which may be less than the
// position's full size for a partial close), realizes PnL, releases
// collateral adjusted by PnL and fees, and notifies the vault. The position
// is fully closed only once size reaches the position's remaining size.
func (s *Store) Close(id ids.PositionID, size fixedpoint.Fixed, tick uint64) (CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return CloseResult{}, coreerrors.ErrPositionNotFound
	}
	if p.Status != StatusOpen {
		return CloseResult{}, coreerrors.ErrPositionNotOpen
	}
	if size.Cmp(p.Size) > 0 {
		return CloseResult{}, coreerrors.ErrCloseExceedsSize
	}

	engine, err := s.markets.Engine(p.Market)
	if err != nil {
		return CloseResult{}, err
	}

	inverse := amm.Sell
	if p.Direction == amm.Sell {
		inverse = amm.Buy
	}
	traded, err := engine.Trade(amm.TradeRequest{
		Outcome:   p.Outcome,
		Direction: inverse,
		Size:      size,
	})
	if err != nil {
		return CloseResult{}, err
	}

	priceDelta, err := traded.EntryPrice.Sub(p.EntryPrice)
	if err != nil {
		return CloseResult{}, err
	}
	if p.Direction == amm.Sell {
		priceDelta = priceDelta.Neg()
	}
	pnlPerUnit, err := priceDelta.Mul(size)
	if err != nil {
		return CloseResult{}, err
	}
	realizedPnL, err := pnlPerUnit.Sub(traded.FeeAmount)
	if err != nil {
		return CloseResult{}, err
	}

	collateralShare, err := p.Collateral.Mul(size)
	if err != nil {
		return CloseResult{}, err
	}
	collateralShare, err = collateralShare.Div(p.Size)
	if err != nil {
		return CloseResult{}, err
	}
	released, err := collateralShare.Add(realizedPnL)
	if err != nil {
		return CloseResult{}, err
	}
	if released.Sign() < 0 {
		released = fixedpoint.Zero()
	}

	if err := s.vault.Withdraw(released); err != nil {
		return CloseResult{}, err
	}
	if err := s.vault.AdjustOpenInterest(size.Neg()); err != nil {
		return CloseResult{}, err
	}

	remainingSize, err := p.Size.Sub(size)
	if err != nil {
		return CloseResult{}, err
	}
	remainingCollateral, err := p.Collateral.Sub(collateralShare)
	if err != nil {
		return CloseResult{}, err
	}
	totalRealized, err := p.RealizedPnL.Add(realizedPnL)
	if err != nil {
		return CloseResult{}, err
	}

	p.Size = remainingSize
	p.Collateral = remainingCollateral
	p.RealizedPnL = totalRealized
	p.LastTouchedTick = tick

	closed := remainingSize.IsZero()
	if closed {
		p.Status = StatusClosed
		s.emit.Emit(PositionClosed{PositionID: id.String(), MarketID: p.Market.String(), Tick: tick})
	}

	return CloseResult{
		RealizedPnL:   realizedPnL,
		FeeAmount:     traded.FeeAmount,
		ReleasedFunds: released,
		Closed:        closed,
	}, nil
}

// ListOpen returns a snapshot copy of every Open or Liquidating position, for the
// liquidation engine's (C8) per-tick health scan. The copy is taken under
// lock but the returned slice is safe to range over without it.
func (s *Store) ListOpen() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Status == StatusOpen || p.Status == StatusLiquidating {
			out = append(out, *p)
		}
	}
	return out
}

// ListByMarket returns a snapshot copy of every not-yet-Closed position on
// market, for the settlement engine's (C10) resolution sweep. Liquidating
// positions are included: a market resolving mid-liquidation still needs
// every remaining position settled rather than left stranded.
func (s *Store) ListByMarket(market ids.MarketID) []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0)
	for _, p := range s.positions {
		if p.Market == market && p.Status != StatusClosed {
			out = append(out, *p)
		}
	}
	return out
}

// ListClosed returns a snapshot copy of every Closed position, for
// operator export jobs writing settled history to durable storage.
func (s *Store) ListClosed() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0)
	for _, p := range s.positions {
		if p.Status == StatusClosed {
			out = append(out, *p)
		}
	}
	return out
}

// SettleClose closes a position in full against a resolution's fixed
// settlement price (1 for the winning outcome, 0 otherwise) rather than
// Close's AMM re-trade, since a resolved market no longer quotes. The
// price-delta and collateral-release arithmetic otherwise mirrors Close
// exactly: realizedPnL is the signed price delta times size minus zero
// trading fee (settlement charges none), released funds are the full
// remaining collateral plus realizedPnL clamped at zero, and the position
// always ends Closed regardless of entry size.
//
// Calling SettleClose on an already-Closed position is a no-op returning a
// zero CloseResult and no error, so the settlement engine's idempotent
// replay of a resolution never double-releases funds.
func (s *Store) SettleClose(id ids.PositionID, settlementPrice fixedpoint.Fixed, tick uint64) (CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return CloseResult{}, coreerrors.ErrPositionNotFound
	}
	if p.Status == StatusClosed {
		return CloseResult{}, nil
	}

	priceDelta, err := settlementPrice.Sub(p.EntryPrice)
	if err != nil {
		return CloseResult{}, err
	}
	if p.Direction == amm.Sell {
		priceDelta = priceDelta.Neg()
	}
	realizedPnL, err := priceDelta.Mul(p.Size)
	if err != nil {
		return CloseResult{}, err
	}

	released, err := p.Collateral.Add(realizedPnL)
	if err != nil {
		return CloseResult{}, err
	}
	if released.Sign() < 0 {
		released = fixedpoint.Zero()
	}

	if err := s.vault.Withdraw(released); err != nil {
		return CloseResult{}, err
	}
	if err := s.vault.AdjustOpenInterest(p.Size.Neg()); err != nil {
		return CloseResult{}, err
	}

	totalRealized, err := p.RealizedPnL.Add(realizedPnL)
	if err != nil {
		return CloseResult{}, err
	}

	p.Size = fixedpoint.Zero()
	p.Collateral = fixedpoint.Zero()
	p.RealizedPnL = totalRealized
	p.Status = StatusClosed
	p.LastTouchedTick = tick

	s.emit.Emit(PositionClosed{PositionID: id.String(), MarketID: p.Market.String(), Tick: tick})

	return CloseResult{
		RealizedPnL:   realizedPnL,
		FeeAmount:     fixedpoint.Zero(),
		ReleasedFunds: released,
		Closed:        true,
	}, nil
}

// Seize takes sizeFraction of a position's size and the matching share of
// its collateral, plus a penalty layered on top of that share (the
// liquidation haircut), and reports both to the caller as the SeizeResult's
// SeizedCollateral and PenaltyAmount for distribution to the keeper bounty
// and insurance fund. Per SPEC_FULL
// §4.8's graduated ladder, a fraction that consumes the whole position (or
// whose penalty exceeds the remaining collateral) closes the position
// outright rather than leaving a dust remainder open.
//
// The remaining position's liquidation price is re-derived via the
// leverage engine's Adjust, treating the penalty (which shrinks collateral
// without a matching size reduction, tightening the position) as an
// unrealized loss on top of the proportional reduction that left the
// size/collateral ratio, and hence effective leverage, unchanged.
func (s *Store) Seize(id ids.PositionID, sizeFraction, penaltyFraction fixedpoint.Fixed, tick uint64) (SeizeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return SeizeResult{}, coreerrors.ErrPositionNotFound
	}
	if p.Status != StatusOpen && p.Status != StatusLiquidating {
		return SeizeResult{}, coreerrors.ErrPositionNotOpen
	}
	if sizeFraction.Sign() <= 0 {
		return SeizeResult{}, coreerrors.ErrInvalidLeverage
	}

	seizedSize, err := p.Size.Mul(sizeFraction)
	if err != nil {
		return SeizeResult{}, err
	}
	seizedCollateral, err := p.Collateral.Mul(sizeFraction)
	if err != nil {
		return SeizeResult{}, err
	}
	penalty, err := seizedCollateral.Mul(penaltyFraction)
	if err != nil {
		return SeizeResult{}, err
	}

	afterProportional, err := p.Collateral.Sub(seizedCollateral)
	if err != nil {
		return SeizeResult{}, err
	}

	full := sizeFraction.Cmp(fixedpoint.One()) >= 0 || penalty.Cmp(afterProportional) >= 0
	if full {
		totalDeducted := p.Collateral
		seizedSizeAll := p.Size

		p.Size = fixedpoint.Zero()
		p.Collateral = fixedpoint.Zero()
		p.Status = StatusClosed
		p.LastTouchedTick = tick

		if err := s.vault.Withdraw(totalDeducted); err != nil {
			return SeizeResult{}, err
		}
		if err := s.vault.AdjustOpenInterest(seizedSizeAll.Neg()); err != nil {
			return SeizeResult{}, err
		}

		s.emit.Emit(PositionSeized{
			PositionID:      id.String(),
			MarketID:        p.Market.String(),
			Tick:            tick,
			SeizedNotional:  seizedSizeAll.String(),
			FullyLiquidated: true,
		})
		s.emit.Emit(PositionClosed{PositionID: id.String(), MarketID: p.Market.String(), Tick: tick})

		return SeizeResult{
			SeizedNotional:      seizedSizeAll,
			SeizedCollateral:    seizedCollateral,
			PenaltyAmount:       penalty,
			RemainingSize:       fixedpoint.Zero(),
			RemainingCollateral: fixedpoint.Zero(),
			FullyLiquidated:     true,
		}, nil
	}

	remainingCollateral, err := afterProportional.Sub(penalty)
	if err != nil {
		return SeizeResult{}, err
	}
	remainingSize, err := p.Size.Sub(seizedSize)
	if err != nil {
		return SeizeResult{}, err
	}

	lossFraction, err := penalty.Div(afterProportional)
	if err != nil {
		return SeizeResult{}, err
	}
	adjusted, err := s.leverage.Adjust(p.EntryPrice, p.EffectiveLeverage, lossFraction.Neg(), p.Direction)
	if err != nil {
		return SeizeResult{}, err
	}

	totalDeducted, err := seizedCollateral.Add(penalty)
	if err != nil {
		return SeizeResult{}, err
	}
	if err := s.vault.Withdraw(totalDeducted); err != nil {
		return SeizeResult{}, err
	}
	if err := s.vault.AdjustOpenInterest(seizedSize.Neg()); err != nil {
		return SeizeResult{}, err
	}

	p.Size = remainingSize
	p.Collateral = remainingCollateral
	p.EffectiveLeverage = adjusted.EffectiveLeverage
	p.LiquidationPrice = adjusted.LiquidationPrice
	p.LastTouchedTick = tick

	s.emit.Emit(PositionSeized{
		PositionID:      id.String(),
		MarketID:        p.Market.String(),
		Tick:            tick,
		SeizedNotional:  seizedSize.String(),
		FullyLiquidated: false,
	})

	return SeizeResult{
		SeizedNotional:      seizedSize,
		SeizedCollateral:    seizedCollateral,
		PenaltyAmount:       penalty,
		RemainingSize:       remainingSize,
		RemainingCollateral: remainingCollateral,
		NewLiquidationPrice: adjusted.LiquidationPrice,
		FullyLiquidated:     false,
	}, nil
}

// ApplyFunding charges or credits a position the delta between the
// market's current funding index and the index recorded at entry, scaled
// by position size and signed by direction.
func (s *Store) ApplyFunding(id ids.PositionID, tick uint64) (fixedpoint.Fixed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return fixedpoint.Fixed{}, coreerrors.ErrPositionNotFound
	}
	if p.Status != StatusOpen {
		return fixedpoint.Zero(), nil
	}

	currentIndex, err := s.markets.FundingIndex(p.Market)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	delta, err := currentIndex.Sub(p.FundingIndexAtEntry)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	payment, err := delta.Mul(p.Size)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if p.Direction == amm.Sell {
		payment = payment.Neg()
	}

	p.Collateral, err = p.Collateral.Sub(payment)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	p.RealizedPnL, err = p.RealizedPnL.Sub(payment)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	p.FundingIndexAtEntry = currentIndex
	p.LastTouchedTick = tick

	return payment, nil
}

// Sweep applies funding to every Open position that has not been touched
// in at least FundingGraceTicks, and flags positions whose ChainID points
// at a chain the caller reports as no longer Building/Open (an orphan that
// should not exist by construction, but is surfaced defensively rather than
// silently ignored). isOrphanChain may be nil, in which case orphan
// detection is skipped.
func (s *Store) Sweep(tick uint64, isOrphanChain func(ids.ChainID) bool) (funded int, orphaned []ids.PositionID) {
	s.mu.Lock()
	touched := make([]ids.PositionID, 0, len(s.positions))
	for id, p := range s.positions {
		if p.Status != StatusOpen {
			continue
		}
		if tick >= p.LastTouchedTick+FundingGraceTicks {
			touched = append(touched, id)
		}
		if isOrphanChain != nil && !p.ChainID.IsZero() && isOrphanChain(p.ChainID) {
			orphaned = append(orphaned, id)
		}
	}
	s.mu.Unlock()

	for _, id := range touched {
		if _, err := s.ApplyFunding(id, tick); err == nil {
			funded++
		}
	}
	return funded, orphaned
}
