// Package liquidation scans open positions for deteriorating health, queues
// the unhealthy ones by priority, and works the queue down applying the
// graduated seizure ladder (or, past the extreme-drawdown line, a single
// full liquidation plus a forced chain unwind). The health-score formula is
// the same distance-to-liquidation ratio the original risk-scoring function
// computes; the priority queue is the same container/heap.Interface shape
// the route-planning package in the wider codebase uses for its A*
// frontier, generalized from route cost to liquidation urgency. Cascade
// halting follows the vault's threshold-crossing boolean pattern: flip on
// crossing, emit once, flip back and emit again on recovery.
package liquidation

import (
	"container/heap"
	"sync"

	"predcore/crypto"
	"predcore/internal/amm"
	"predcore/internal/coreerrors"
	"predcore/internal/events"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
	"predcore/internal/position"
)

// WarningThreshold is the health score (0-100) at which a position enters
// the liquidation queue.
var WarningThreshold = fixedpoint.FromInt64(80)

// ladderRung is one step of the graduated seizure ladder: a position whose
// health score falls in [Floor, Ceiling) has Fraction of its size seized.
type ladderRung struct {
	Floor, Ceiling fixedpoint.Fixed
	Fraction       fixedpoint.Fixed
}

var ladder = []ladderRung{
	{Floor: fixedpoint.FromInt64(80), Ceiling: fixedpoint.FromInt64(90), Fraction: mustFraction(1, 10)},
	{Floor: fixedpoint.FromInt64(90), Ceiling: fixedpoint.FromInt64(95), Fraction: mustFraction(1, 4)},
	{Floor: fixedpoint.FromInt64(95), Ceiling: fixedpoint.FromInt64(100), Fraction: mustFraction(1, 2)},
}

// ExtremeDrawdownThreshold is the unrealized-PnL-as-a-fraction-of-collateral
// floor (-297%) below which a position bypasses the ladder entirely for a
// full liquidation plus forced chain unwind.
var ExtremeDrawdownThreshold = mustFraction(-297, 100)

// DefaultSeizurePenalty is the haircut layered on top of the proportional
// collateral share at every ladder rung, the portion that funds the keeper
// bounty and insurance sweep.
var DefaultSeizurePenalty = mustFraction(5, 100)

// KeeperBountyBps and KeeperBountyMinimum set the keeper incentive:
// max(KeeperBountyMinimum, KeeperBountyBps/10000 * seized notional).
var (
	KeeperBountyBps     uint64 = 50 // 0.5%
	KeeperBountyMinimum        = mustFraction(1, 100)
)

// CascadeWindowTicks and CascadeThreshold bound the rolling-window seizure
// cap: if the notional seized across the last CascadeWindowTicks exceeds
// CascadeThreshold of aggregate market depth, new seizures halt.
var (
	CascadeWindowTicks  uint64 = 100
	CascadeThreshold           = mustFraction(1, 5) // 20%
	DefaultHaltDuration uint64 = 50
)

func mustFraction(num, den int64) fixedpoint.Fixed {
	f, err := fixedpoint.FromFraction(num, den)
	if err != nil {
		panic(err)
	}
	return f
}

// PositionMutator is the subset of the position store (C5) the liquidation
// engine drives: reading the live book for its scan, resolving a single
// position before acting on it (the scan's snapshot may be stale by the
// time the queue reaches it), and applying a seizure.
type PositionMutator interface {
	ListOpen() []position.Position
	Get(id ids.PositionID) (position.Position, error)
	Seize(id ids.PositionID, sizeFraction, penaltyFraction fixedpoint.Fixed, tick uint64) (position.SeizeResult, error)
}

// PriceSource resolves a market's current mark price. The position store's
// MarketView doesn't expose this shape (it only resolves the AMM engine and
// market metadata), so the liquidation engine defines its own.
type PriceSource interface {
	CurrentPrice(market ids.MarketID) (fixedpoint.Fixed, error)
}

// ChainUnwinder forces a chained position's chain closed, used when an
// extreme-drawdown liquidation's underlying position is a chain leg.
type ChainUnwinder interface {
	UnwindChain(chain ids.ChainID) error
}

// Treasury receives the keeper bounty and sweeps whatever the seizure
// released beyond it.
type Treasury interface {
	PayKeeperBounty(keeper crypto.Address, amount fixedpoint.Fixed) error
	SweepRounding(amount fixedpoint.Fixed) error
}

// MarketDepth resolves the aggregate depth a market's cascade-halt check is
// measured against.
type MarketDepth interface {
	AggregateDepth(market ids.MarketID) (fixedpoint.Fixed, error)
}

// HealthScore returns h = 100*(1 - d/D): D is the price distance between
// entry and liquidation price at open, d is the position's current
// remaining distance to its liquidation price. h rises toward 100 as the
// position approaches liquidation; a remaining distance at or past zero
// (price has crossed the liquidation price) reports exactly 100 rather
// than attempting to extrapolate past it.
func HealthScore(entryPrice, liquidationPrice, currentPrice fixedpoint.Fixed, direction amm.Direction) (fixedpoint.Fixed, error) {
	var remaining fixedpoint.Fixed
	var err error
	if direction == amm.Sell {
		remaining, err = liquidationPrice.Sub(currentPrice)
	} else {
		remaining, err = currentPrice.Sub(liquidationPrice)
	}
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if remaining.Sign() <= 0 {
		return fixedpoint.FromInt64(100), nil
	}

	var total fixedpoint.Fixed
	if direction == amm.Sell {
		total, err = liquidationPrice.Sub(entryPrice)
	} else {
		total, err = entryPrice.Sub(liquidationPrice)
	}
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if total.Sign() <= 0 {
		return fixedpoint.FromInt64(100), nil
	}

	ratio, err := remaining.Div(total)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	scaled, err := fixedpoint.FromInt64(100).Mul(ratio)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	score, err := fixedpoint.FromInt64(100).Sub(scaled)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if score.Sign() < 0 {
		return fixedpoint.Zero(), nil
	}
	if score.Cmp(fixedpoint.FromInt64(100)) > 0 {
		return fixedpoint.FromInt64(100), nil
	}
	return score, nil
}

// SeizureFraction looks up the ladder rung a health score falls in. Scores
// below the warning threshold return zero (the caller should not have
// enqueued the position); scores at or above 100 return a full 1.0.
func SeizureFraction(score fixedpoint.Fixed) fixedpoint.Fixed {
	if score.Cmp(fixedpoint.FromInt64(100)) >= 0 {
		return fixedpoint.One()
	}
	for _, rung := range ladder {
		if score.Cmp(rung.Floor) >= 0 && score.Cmp(rung.Ceiling) < 0 {
			return rung.Fraction
		}
	}
	return fixedpoint.Zero()
}

// unrealizedPnLFraction returns a position's unrealized PnL as a fraction
// of its collateral, signed by direction, used only to test the
// extreme-drawdown bypass (not for accounting — the position store's Close
// and Seize own realized PnL bookkeeping).
func unrealizedPnLFraction(p position.Position, currentPrice fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	var delta fixedpoint.Fixed
	var err error
	if p.Direction == amm.Sell {
		delta, err = p.EntryPrice.Sub(currentPrice)
	} else {
		delta, err = currentPrice.Sub(p.EntryPrice)
	}
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	pnl, err := delta.Mul(p.Size)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if p.Collateral.IsZero() {
		return fixedpoint.Zero(), nil
	}
	return pnl.Div(p.Collateral)
}

// KeeperIncentive returns max(KeeperBountyMinimum, KeeperBountyBps/10000 *
// seizedNotional).
func KeeperIncentive(seizedNotional fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	share, err := seizedNotional.MulTrunc(fixedpoint.FromInt64(int64(KeeperBountyBps)))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	share, err = share.Div(fixedpoint.FromInt64(10000))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if share.Cmp(KeeperBountyMinimum) < 0 {
		return KeeperBountyMinimum, nil
	}
	return share, nil
}

// keeperIncentive returns KeeperIncentive, but against this engine's own
// bounty-minimum override when AdjustParameters has set one. Called only
// from ProcessNext, which already holds e.mu.
func (e *Engine) keeperIncentive(seizedNotional fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	floor := e.keeperBountyMinimumOverride
	if floor.IsZero() {
		return KeeperIncentive(seizedNotional)
	}
	share, err := seizedNotional.MulTrunc(fixedpoint.FromInt64(int64(KeeperBountyBps)))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	share, err = share.Div(fixedpoint.FromInt64(10000))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	if share.Cmp(floor) < 0 {
		return floor, nil
	}
	return share, nil
}

// SetKeeperBountyMinimum overrides the floor ProcessNext guarantees a
// keeper for a successful seizure, below the package-wide
// KeeperBountyMinimum default.
func (e *Engine) SetKeeperBountyMinimum(minimum fixedpoint.Fixed) {
	e.mu.Lock()
	e.keeperBountyMinimumOverride = minimum
	e.mu.Unlock()
}

// queueEntry is one position waiting for the liquidator, ranked by
// priority: health score plus a size term minus an age term, so a large,
// severely unhealthy position that was just flagged outranks a smaller one
// that has been sitting in the queue (the age term only matters as a
// tie-breaker between positions of similar score and size).
type queueEntry struct {
	PositionID  ids.PositionID
	Priority    fixedpoint.Fixed
	FlaggedTick uint64
	index       int
}

// entryHeap implements container/heap.Interface as a max-heap on Priority,
// the same Len/Less/Swap/Push/Pop shape the routing package's A* frontier
// uses, generalized from route cost to liquidation urgency.
type entryHeap []*queueEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].Priority.Cmp(h[j].Priority) > 0 }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	entry := x.(*queueEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

func priority(score, size fixedpoint.Fixed, flaggedTick, tick uint64) fixedpoint.Fixed {
	sizeWeight, err := size.Div(fixedpoint.FromInt64(1000))
	if err != nil {
		sizeWeight = fixedpoint.Zero()
	}
	age := tick - flaggedTick
	ageWeight, err := fixedpoint.FromInt64(int64(age)).Div(fixedpoint.FromInt64(100))
	if err != nil {
		ageWeight = fixedpoint.Zero()
	}
	p, err := score.Add(sizeWeight)
	if err != nil {
		return score
	}
	p, err = p.Sub(ageWeight)
	if err != nil {
		return score
	}
	return p
}

// cascadeTracker halts new seizures when the notional seized in a rolling
// window exceeds a fraction of aggregate market depth, mirroring the
// vault's boolean-flag threshold-crossing pattern: flip and emit once on
// crossing, flip back and emit again on recovery.
type cascadeTracker struct {
	seizures    []seizureRecord
	halted      bool
	releaseTick uint64
}

type seizureRecord struct {
	Tick     uint64
	Notional fixedpoint.Fixed
}

func (c *cascadeTracker) record(tick uint64, notional fixedpoint.Fixed) {
	c.seizures = append(c.seizures, seizureRecord{Tick: tick, Notional: notional})
	c.prune(tick)
}

func (c *cascadeTracker) prune(tick uint64) {
	kept := c.seizures[:0]
	for _, s := range c.seizures {
		if tick < s.Tick || tick-s.Tick <= CascadeWindowTicks {
			kept = append(kept, s)
		}
	}
	c.seizures = kept
}

func (c *cascadeTracker) windowTotal() (fixedpoint.Fixed, error) {
	total := fixedpoint.Zero()
	var err error
	for _, s := range c.seizures {
		total, err = total.Add(s.Notional)
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
	}
	return total, nil
}

// CascadeHalted and CascadeResumed are emitted on a cascade halt crossing.
type CascadeHalted struct {
	Tick        uint64
	ReleaseTick uint64
}

func (CascadeHalted) EventType() string { return "liquidation.cascade_halted" }

type CascadeResumed struct {
	Tick uint64
}

func (CascadeResumed) EventType() string { return "liquidation.cascade_resumed" }

// PositionLiquidated is emitted on every successful ladder or
// extreme-drawdown seizure.
type PositionLiquidated struct {
	PositionID      string
	MarketID        string
	Tick            uint64
	HealthScore     string
	SeizedFraction  string
	FullyLiquidated bool
	Extreme         bool
}

func (PositionLiquidated) EventType() string { return "liquidation.seized" }

// Params groups the liquidation engine's governance-controlled constants.
type Params struct {
	WarningThreshold         fixedpoint.Fixed
	ExtremeDrawdownThreshold fixedpoint.Fixed
	SeizurePenalty           fixedpoint.Fixed
	CascadeWindowTicks       uint64
	CascadeThreshold         fixedpoint.Fixed
	CascadeHaltDuration      uint64
}

// DefaultParams returns the SPEC_FULL §4.8 defaults.
func DefaultParams() Params {
	return Params{
		WarningThreshold:         WarningThreshold,
		ExtremeDrawdownThreshold: ExtremeDrawdownThreshold,
		SeizurePenalty:           DefaultSeizurePenalty,
		CascadeWindowTicks:       CascadeWindowTicks,
		CascadeThreshold:         CascadeThreshold,
		CascadeHaltDuration:      DefaultHaltDuration,
	}
}

// Engine scans for unhealthy positions, queues them by priority, and works
// the queue applying the graduated ladder or an extreme-drawdown full
// liquidation.
type Engine struct {
	mu sync.Mutex

	positions PositionMutator
	prices    PriceSource
	chains    ChainUnwinder
	treasury  Treasury
	depth     MarketDepth
	emit      events.Emitter

	params  Params
	queue   entryHeap
	queued  map[ids.PositionID]*queueEntry
	cascade cascadeTracker

	// keeperBountyMinimumOverride replaces the package-level
	// KeeperBountyMinimum for this engine once an admin AdjustParameters
	// command sets it; zero means "use the package default".
	keeperBountyMinimumOverride fixedpoint.Fixed
}

// NewEngine constructs a liquidation Engine wired to its dependencies.
// chains may be nil if the deployment never opens chained positions.
func NewEngine(positions PositionMutator, prices PriceSource, chains ChainUnwinder, treasury Treasury, depth MarketDepth, params Params, emit events.Emitter) *Engine {
	if emit == nil {
		emit = events.NoopEmitter{}
	}
	return &Engine{
		positions: positions,
		prices:    prices,
		chains:    chains,
		treasury:  treasury,
		depth:     depth,
		emit:      emit,
		params:    params,
		queued:    make(map[ids.PositionID]*queueEntry),
	}
}

// Scan evaluates every open position's health score against the current
// price and enqueues (or updates the priority of) every position at or
// above the warning threshold. It returns the number of positions enqueued
// or updated this call.
func (e *Engine) Scan(tick uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	touched := 0
	for _, p := range e.positions.ListOpen() {
		currentPrice, err := e.prices.CurrentPrice(p.Market)
		if err != nil {
			continue
		}
		score, err := HealthScore(p.EntryPrice, p.LiquidationPrice, currentPrice, p.Direction)
		if err != nil {
			continue
		}
		if score.Cmp(e.params.WarningThreshold) < 0 {
			if entry, ok := e.queued[p.ID]; ok {
				e.removeLocked(entry)
			}
			continue
		}

		flaggedTick := tick
		if entry, ok := e.queued[p.ID]; ok {
			flaggedTick = entry.FlaggedTick
			entry.Priority = priority(score, p.Size, flaggedTick, tick)
			heap.Fix(&e.queue, entry.index)
		} else {
			entry := &queueEntry{PositionID: p.ID, FlaggedTick: flaggedTick}
			entry.Priority = priority(score, p.Size, flaggedTick, tick)
			heap.Push(&e.queue, entry)
			e.queued[p.ID] = entry
		}
		touched++
	}
	return touched, nil
}

func (e *Engine) removeLocked(entry *queueEntry) {
	if entry.index < 0 || entry.index >= len(e.queue) {
		delete(e.queued, entry.PositionID)
		return
	}
	heap.Remove(&e.queue, entry.index)
	delete(e.queued, entry.PositionID)
}

// Outcome reports what ProcessNext did.
type Outcome struct {
	PositionID      ids.PositionID
	HealthScore     fixedpoint.Fixed
	SeizedFraction  fixedpoint.Fixed
	FullyLiquidated bool
	Extreme         bool
	KeeperBounty    fixedpoint.Fixed
}

// ProcessNext pops the highest-priority queued position, re-evaluates it
// against the current price (the scan's snapshot may be stale), applies
// either the graduated ladder or — past the extreme-drawdown line — a full
// liquidation with a forced chain unwind, pays the keeper bounty, and
// records the seizure against the cascade tracker. If the cascade tracker
// is currently halted, ProcessNext returns ErrCongestion without touching
// the queue.
func (e *Engine) ProcessNext(tick uint64, keeper crypto.Address) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cascade.halted {
		if tick >= e.cascade.releaseTick {
			e.cascade.halted = false
			e.emit.Emit(CascadeResumed{Tick: tick})
		} else {
			return Outcome{}, coreerrors.ErrCongestion
		}
	}

	if e.queue.Len() == 0 {
		return Outcome{}, coreerrors.ErrLiquidationQueueEmpty
	}
	entry := heap.Pop(&e.queue).(*queueEntry)
	delete(e.queued, entry.PositionID)

	p, err := e.positions.Get(entry.PositionID)
	if err != nil {
		return Outcome{}, err
	}
	if p.Status != position.StatusOpen && p.Status != position.StatusLiquidating {
		return Outcome{}, coreerrors.ErrPositionNotOpen
	}

	currentPrice, err := e.prices.CurrentPrice(p.Market)
	if err != nil {
		return Outcome{}, err
	}

	pnlFraction, err := unrealizedPnLFraction(p, currentPrice)
	if err != nil {
		return Outcome{}, err
	}
	extreme := pnlFraction.Cmp(e.params.ExtremeDrawdownThreshold) <= 0

	score, err := HealthScore(p.EntryPrice, p.LiquidationPrice, currentPrice, p.Direction)
	if err != nil {
		return Outcome{}, err
	}

	var fraction fixedpoint.Fixed
	if extreme {
		fraction = fixedpoint.One()
	} else {
		fraction = SeizureFraction(score)
		if fraction.IsZero() {
			return Outcome{PositionID: p.ID, HealthScore: score}, nil
		}
	}

	result, err := e.positions.Seize(p.ID, fraction, e.params.SeizurePenalty, tick)
	if err != nil {
		return Outcome{}, err
	}

	if extreme && e.chains != nil && !p.ChainID.IsZero() {
		if err := e.chains.UnwindChain(p.ChainID); err != nil {
			e.emit.Emit(events.OperatorAlert{Component: "liquidation", Message: "forced chain unwind failed for " + p.ChainID.String()})
		}
	}

	bounty, err := e.keeperIncentive(result.SeizedNotional)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.treasury.PayKeeperBounty(keeper, bounty); err != nil {
		return Outcome{}, err
	}
	residual, err := result.PenaltyAmount.Sub(bounty)
	if err != nil {
		return Outcome{}, err
	}
	if residual.Sign() > 0 {
		if err := e.treasury.SweepRounding(residual); err != nil {
			return Outcome{}, err
		}
	}

	e.emit.Emit(PositionLiquidated{
		PositionID:      p.ID.String(),
		MarketID:        p.Market.String(),
		Tick:            tick,
		HealthScore:     score.String(),
		SeizedFraction:  fraction.String(),
		FullyLiquidated: result.FullyLiquidated,
		Extreme:         extreme,
	})

	e.recordCascadeLocked(tick, result.SeizedNotional, p.Market)

	if !result.FullyLiquidated {
		newScore, err := HealthScore(p.EntryPrice, result.NewLiquidationPrice, currentPrice, p.Direction)
		if err == nil && newScore.Cmp(e.params.WarningThreshold) >= 0 {
			reentry := &queueEntry{PositionID: p.ID, FlaggedTick: entry.FlaggedTick}
			reentry.Priority = priority(newScore, result.RemainingSize, entry.FlaggedTick, tick)
			heap.Push(&e.queue, reentry)
			e.queued[p.ID] = reentry
		}
	}

	return Outcome{
		PositionID:      p.ID,
		HealthScore:     score,
		SeizedFraction:  fraction,
		FullyLiquidated: result.FullyLiquidated,
		Extreme:         extreme,
		KeeperBounty:    bounty,
	}, nil
}

func (e *Engine) recordCascadeLocked(tick uint64, notional fixedpoint.Fixed, market ids.MarketID) {
	e.cascade.record(tick, notional)
	total, err := e.cascade.windowTotal()
	if err != nil {
		return
	}
	aggregateDepth, err := e.depth.AggregateDepth(market)
	if err != nil || aggregateDepth.IsZero() {
		return
	}
	ratio, err := total.Div(aggregateDepth)
	if err != nil {
		return
	}
	if ratio.Cmp(e.params.CascadeThreshold) > 0 && !e.cascade.halted {
		e.cascade.halted = true
		e.cascade.releaseTick = tick + e.params.CascadeHaltDuration
		e.emit.Emit(CascadeHalted{Tick: tick, ReleaseTick: e.cascade.releaseTick})
	}
}

// ShortenCascadeHalt lets an operator pull the auto-release forward; it can
// never push it further out than what's already scheduled, matching the
// spec's "admin can shorten, never extend" rule.
func (e *Engine) ShortenCascadeHalt(tick, requestedRelease uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cascade.halted {
		return
	}
	if requestedRelease < tick {
		requestedRelease = tick
	}
	if requestedRelease < e.cascade.releaseTick {
		e.cascade.releaseTick = requestedRelease
	}
}

// CascadeHalted reports whether new seizures are currently suspended.
func (e *Engine) CascadeHalted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cascade.halted
}

// QueueLen reports how many positions are currently queued for liquidation.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}
