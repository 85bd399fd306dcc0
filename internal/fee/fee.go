// Package fee aggregates inputs from the oracle view and the vault into a
// single pre-trade gate: it decides whether a trade may proceed at all,
// and if so at what total fee. Its check-then-record shape (CheckOpen
// inspects state without mutating it; ObservePriceMove/ObserveVolume/
// RecordPending separately commit the observations that feed future
// checks) follows native/swap/risk.go's RiskEngine split between
// CheckLimits and RecordMint, generalized from mint guardrails to trade
// guardrails. Its halt booleans extend native/common/guard.go's
// PauseView/Guard idiom from a single paused flag per module to a
// per-market, per-cause set of halts with auto-release.
package fee

import (
	"sync"

	"predcore/internal/coreerrors"
	"predcore/internal/events"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
	"predcore/internal/oracle"
	"predcore/internal/vault"
)

// DefaultPriceMoveHaltBps is the consecutive-snapshot move that halts a
// market pending confirmation.
const DefaultPriceMoveHaltBps = 500

// DefaultVolumeHaltMultiple is how many times the rolling mean a tick's
// volume must exceed to trigger a volume halt.
const DefaultVolumeHaltMultiple = 100

// DefaultCongestionCapBps bounds how much the congestion adjustment may
// add to the fee regardless of queue depth.
const DefaultCongestionCapBps = 5

// DefaultCongestionCeiling is the pending-queue depth beyond which trades
// are throttled outright rather than merely surcharged.
const DefaultCongestionCeiling = 2000

// DefaultCongestionPerEntryBps is the marginal fee contribution of each
// pending intent in the queue, before the cap is applied.
var DefaultCongestionPerEntryBps = mustFraction(1, 4)

// Distribution split applied to every collected fee, matching
// vault.AccrueFee's basis-point split contract.
const (
	VaultShareBps   uint64 = 7000
	RewardsShareBps uint64 = 2000
	BurnShareBps    uint64 = 1000
)

// DefaultBootstrapFactor scales leverage caps down while the vault is
// undercapitalized.
var DefaultBootstrapFactor = mustFraction(1, 2)

// DefaultBootstrapWindowTicks is how long coverage must stay at or above
// 1.0, with the vault at or above its bootstrap target, before bootstrap
// mode exits.
const DefaultBootstrapWindowTicks = 1000

// DefaultVolumeWindowTicks is the rolling window used for the volume
// circuit breaker's mean.
const DefaultVolumeWindowTicks = 100

func mustFraction(num, den int64) fixedpoint.Fixed {
	f, err := fixedpoint.FromFraction(num, den)
	if err != nil {
		panic(err)
	}
	return f
}

// MarketHalted is emitted when a market-specific circuit breaker (price
// move or volume) trips. The global coverage halts are owned and emitted
// by the vault itself (vault.CoverageHalted); this event covers only the
// two breakers this package adds.
type MarketHalted struct {
	MarketID string
	Reason   string // "price_move" or "volume"
	Tick     uint64
}

func (MarketHalted) EventType() string { return "fee.market_halted" }

// MarketResumed is emitted when a market-specific breaker auto-releases or
// is lifted by the admin.
type MarketResumed struct {
	MarketID string
	Reason   string
	Tick     uint64
}

func (MarketResumed) EventType() string { return "fee.market_resumed" }

// BootstrapExited is emitted once, the first time the vault satisfies the
// bootstrap exit criterion for the configured sustained window.
type BootstrapExited struct {
	Tick uint64
}

func (BootstrapExited) EventType() string { return "fee.bootstrap_exited" }

// Params tunes the gate's thresholds. Zero fields fall back to the
// package defaults.
type Params struct {
	PriceMoveHaltBps     uint64
	VolumeHaltMultiple   uint64
	VolumeWindowTicks    uint64
	CongestionCapBps     uint64
	CongestionPerEntry   fixedpoint.Fixed
	BootstrapFactor      fixedpoint.Fixed
	BootstrapTarget      fixedpoint.Fixed
	BootstrapWindowTicks uint64
	HaltDurationTicks    uint64
	CongestionCeiling    int
}

// DefaultParams returns the spec's default thresholds. BootstrapTarget is
// left zero and must still be set by the caller; a zero target disables
// bootstrap mode entirely (treated as "already met").
func DefaultParams() Params {
	return Params{
		PriceMoveHaltBps:     DefaultPriceMoveHaltBps,
		VolumeHaltMultiple:   DefaultVolumeHaltMultiple,
		VolumeWindowTicks:    DefaultVolumeWindowTicks,
		CongestionCapBps:     DefaultCongestionCapBps,
		CongestionPerEntry:   DefaultCongestionPerEntryBps,
		BootstrapFactor:      DefaultBootstrapFactor,
		BootstrapWindowTicks: DefaultBootstrapWindowTicks,
		HaltDurationTicks:    3600,
		CongestionCeiling:    DefaultCongestionCeiling,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.PriceMoveHaltBps == 0 {
		p.PriceMoveHaltBps = d.PriceMoveHaltBps
	}
	if p.VolumeHaltMultiple == 0 {
		p.VolumeHaltMultiple = d.VolumeHaltMultiple
	}
	if p.VolumeWindowTicks == 0 {
		p.VolumeWindowTicks = d.VolumeWindowTicks
	}
	if p.CongestionCapBps == 0 {
		p.CongestionCapBps = d.CongestionCapBps
	}
	if p.CongestionPerEntry.IsZero() {
		p.CongestionPerEntry = d.CongestionPerEntry
	}
	if p.BootstrapFactor.IsZero() {
		p.BootstrapFactor = d.BootstrapFactor
	}
	if p.BootstrapWindowTicks == 0 {
		p.BootstrapWindowTicks = d.BootstrapWindowTicks
	}
	if p.HaltDurationTicks == 0 {
		p.HaltDurationTicks = d.HaltDurationTicks
	}
	if p.CongestionCeiling == 0 {
		p.CongestionCeiling = d.CongestionCeiling
	}
	return p
}

type marketHalt struct {
	priceMoveHalted bool
	volumeHalted    bool
	adminHalted     bool
	releaseTick     uint64

	volumeWindow []volumeSample
}

type volumeSample struct {
	tick   uint64
	amount fixedpoint.Fixed
}

// Gate is the single pre-trade checkpoint the rest of the engine consults
// before quoting, opening, or chaining a trade. It owns no collateral and
// mutates no position state; it only reads the vault's coverage halts and
// the oracle's freshness guarantee, and layers its own market-specific
// circuit breakers and queue congestion estimate on top.
type Gate struct {
	mu sync.Mutex

	vault  *vault.Vault
	oracle *oracle.View
	params Params
	emit   events.Emitter

	halts map[ids.MarketID]*marketHalt

	queueDepth int

	bootstrapped    bool
	bootstrapStreak uint64
	bootstrapTarget fixedpoint.Fixed
}

// New constructs a Gate wired to the vault and oracle view it will
// consult on every check. A zero params.BootstrapTarget disables
// bootstrap mode.
func New(v *vault.Vault, o *oracle.View, params Params, emit events.Emitter) *Gate {
	if emit == nil {
		emit = events.NoopEmitter{}
	}
	params = params.withDefaults()
	return &Gate{
		vault:   v,
		oracle:  o,
		params:  params,
		emit:    emit,
		halts:   make(map[ids.MarketID]*marketHalt),
		// A zero BootstrapTarget means bootstrap mode was never
		// configured; treat it as already exited rather than waiting
		// for the first AdvanceBootstrap call, matching
		// AdvanceBootstrap's own immediate-exit branch for this case.
		bootstrapped:    params.BootstrapTarget.IsZero(),
		bootstrapTarget: params.BootstrapTarget,
	}
}

// CheckOpen validates that a new position may be opened in marketID at the
// given tick: the vault is not open-halted or full-halted, the market has
// no live circuit breaker, and the oracle snapshot is fresh. It does not
// check close or resolution intake, which proceed during every halt per
// the cascade-halt and coverage-halt contracts.
func (g *Gate) CheckOpen(marketID ids.MarketID, tick uint64) error {
	if g.vault.FullyHalted() {
		return coreerrors.ErrGlobalHalted
	}
	if g.vault.OpensHalted() {
		return coreerrors.ErrGlobalHalted
	}
	if err := g.checkMarketHalt(marketID, tick); err != nil {
		return err
	}
	g.mu.Lock()
	depth := g.queueDepth
	ceiling := g.params.CongestionCeiling
	g.mu.Unlock()
	if depth > ceiling {
		return coreerrors.ErrCongestion
	}
	if _, err := g.oracle.Snapshot(marketID); err != nil {
		return err
	}
	return nil
}

// CheckTrade validates that any trade (open or modify) may proceed; it is
// the superset CheckOpen shares with chain execution's per-step gate.
func (g *Gate) CheckTrade(marketID ids.MarketID, tick uint64) error {
	return g.CheckOpen(marketID, tick)
}

func (g *Gate) checkMarketHalt(marketID ids.MarketID, tick uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.halts[marketID]
	if !ok || (!h.priceMoveHalted && !h.volumeHalted && !h.adminHalted) {
		return nil
	}
	if tick >= h.releaseTick {
		g.releaseLocked(marketID, h, tick)
		return nil
	}
	return coreerrors.ErrMarketHalted
}

func (g *Gate) releaseLocked(marketID ids.MarketID, h *marketHalt, tick uint64) {
	if h.priceMoveHalted {
		h.priceMoveHalted = false
		g.emit.Emit(MarketResumed{MarketID: marketID.String(), Reason: "price_move", Tick: tick})
	}
	if h.volumeHalted {
		h.volumeHalted = false
		g.emit.Emit(MarketResumed{MarketID: marketID.String(), Reason: "volume", Tick: tick})
	}
	if h.adminHalted {
		h.adminHalted = false
		g.emit.Emit(MarketResumed{MarketID: marketID.String(), Reason: "admin", Tick: tick})
	}
}

// IsHalted reports whether marketID currently has a live circuit breaker of
// any cause, without consulting or mutating the release schedule. Wired as
// the root engine's MarketRegistry.Halted(marketID) for position.MarketView:
// that call has no tick argument, so it cannot auto-release the way
// CheckOpen/CheckTrade do. A halt past its release tick still reports true
// here until the next CheckOpen/CheckTrade or AdminResume clears it.
func (g *Gate) IsHalted(marketID ids.MarketID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.halts[marketID]
	if !ok {
		return false
	}
	return h.priceMoveHalted || h.volumeHalted || h.adminHalted
}

// AdminHalt imposes an operator-triggered halt on marketID for
// durationTicks, independent of the automatic price-move and volume
// breakers. It only ever extends the market's release tick, never shortens
// it, so it cannot cut short an already-longer automatic halt.
func (g *Gate) AdminHalt(marketID ids.MarketID, durationTicks uint64, tick uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.haltEntryLocked(marketID)
	wasHalted := h.adminHalted
	h.adminHalted = true
	if release := tick + durationTicks; release > h.releaseTick {
		h.releaseTick = release
	}
	if !wasHalted {
		g.emit.Emit(MarketHalted{MarketID: marketID.String(), Reason: "admin", Tick: tick})
	}
}

// AdminResume lifts an operator-triggered halt on marketID immediately,
// leaving any still-active price-move or volume breaker in place.
func (g *Gate) AdminResume(marketID ids.MarketID, tick uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.halts[marketID]
	if !ok || !h.adminHalted {
		return
	}
	h.adminHalted = false
	g.emit.Emit(MarketResumed{MarketID: marketID.String(), Reason: "admin", Tick: tick})
}

// SetBootstrapTarget updates the vault balance the gate waits for before
// exiting bootstrap mode. It has no effect once bootstrap mode has already
// exited, matching AdvanceBootstrap's one-way transition.
func (g *Gate) SetBootstrapTarget(target fixedpoint.Fixed) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bootstrapped {
		return
	}
	g.bootstrapTarget = target
	g.bootstrapStreak = 0
}

// ObservePriceMove records a price observation's deviation from the prior
// snapshot, halting the market if it exceeds the configured threshold.
// No code in the module calls it outside tests: oracle.View.Poll and
// Engine.PushPrice only emit PriceDeviated, which by itself halts nothing.
func (g *Gate) ObservePriceMove(marketID ids.MarketID, moveBps uint64, tick uint64) {
	if moveBps <= g.params.PriceMoveHaltBps {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.haltEntryLocked(marketID)
	if h.priceMoveHalted {
		return
	}
	h.priceMoveHalted = true
	h.releaseTick = tick + g.params.HaltDurationTicks
	g.emit.Emit(MarketHalted{MarketID: marketID.String(), Reason: "price_move", Tick: tick})
}

// ObserveVolume records a tick's traded notional for marketID, halting the
// market if it exceeds DefaultVolumeHaltMultiple times the rolling mean
// over the configured window.
func (g *Gate) ObserveVolume(marketID ids.MarketID, amount fixedpoint.Fixed, tick uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.haltEntryLocked(marketID)

	var cutoff uint64
	if tick > g.params.VolumeWindowTicks {
		cutoff = tick - g.params.VolumeWindowTicks
	}
	kept := h.volumeWindow[:0]
	sum := fixedpoint.Zero()
	for _, s := range h.volumeWindow {
		if s.tick < cutoff {
			continue
		}
		kept = append(kept, s)
		var err error
		sum, err = sum.Add(s.amount)
		if err != nil {
			return err
		}
	}
	count := int64(len(kept))
	h.volumeWindow = append(kept, volumeSample{tick: tick, amount: amount})

	if count > 0 {
		mean, err := sum.Div(fixedpoint.FromInt64(count))
		if err != nil {
			return err
		}
		limit, err := mean.Mul(fixedpoint.FromInt64(int64(g.params.VolumeHaltMultiple)))
		if err != nil {
			return err
		}
		if !limit.IsZero() && amount.Cmp(limit) > 0 && !h.volumeHalted {
			h.volumeHalted = true
			h.releaseTick = tick + g.params.HaltDurationTicks
			g.emit.Emit(MarketHalted{MarketID: marketID.String(), Reason: "volume", Tick: tick})
		}
	}
	return nil
}

func (g *Gate) haltEntryLocked(marketID ids.MarketID) *marketHalt {
	h, ok := g.halts[marketID]
	if !ok {
		h = &marketHalt{}
		g.halts[marketID] = h
	}
	return h
}

// ShortenHalt pulls marketID's halt release tick forward to newReleaseTick
// if it is currently scheduled later; it can never push a release out
// further, mirroring the liquidation cascade halt's admin-override
// contract.
func (g *Gate) ShortenHalt(marketID ids.MarketID, newReleaseTick uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.halts[marketID]
	if !ok {
		return
	}
	if newReleaseTick < h.releaseTick {
		h.releaseTick = newReleaseTick
	}
}

// RecordPending sets the current depth of the pending-intent queue the
// congestion adjustment reads from.
func (g *Gate) RecordPending(depth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if depth < 0 {
		depth = 0
	}
	g.queueDepth = depth
}

// CongestionAdjustBps returns the current congestion fee add-on, capped at
// DefaultCongestionCapBps.
func (g *Gate) CongestionAdjustBps() (fixedpoint.Fixed, error) {
	g.mu.Lock()
	depth := g.queueDepth
	g.mu.Unlock()

	raw, err := g.params.CongestionPerEntry.Mul(fixedpoint.FromInt64(int64(depth)))
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	capBps := fixedpoint.FromInt64(int64(g.params.CongestionCapBps))
	if raw.Cmp(capBps) > 0 {
		return capBps, nil
	}
	return raw, nil
}

// FeeRate returns the current total fee in basis points: the vault's
// elastic base_fee(r) plus the congestion adjustment. It is wired directly
// as the amm.FeeRateFunc each pricing engine consults on every quote; the
// PM-AMM's uniform LVR surcharge is computed by the AMM itself and layered
// on top as TradeResult.LVRAmount, so it is not duplicated here. During
// bootstrap mode the fee is fixed to the vault's minimum regardless of
// coverage.
func (g *Gate) FeeRate() (fixedpoint.Fixed, error) {
	if !g.Bootstrapped() {
		return g.vault.MinFeeRate(), nil
	}
	base, err := g.vault.ElasticFeeRate()
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	congestion, err := g.CongestionAdjustBps()
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return base.Add(congestion)
}

// Distribute splits a collected fee amount into the vault, rewards, and
// burn accumulators per the 70/20/10 split, delegating the actual bps
// arithmetic to vault.AccrueFee so the split logic lives in one place.
func (g *Gate) Distribute(amount fixedpoint.Fixed) error {
	return g.vault.AccrueFee(amount, VaultShareBps, RewardsShareBps, BurnShareBps)
}

// AdvanceBootstrap re-evaluates the bootstrap exit criterion for the
// current tick: vault balance >= target and coverage >= 1.0, sustained for
// BootstrapWindowTicks consecutive calls. Callers advance this once per
// tick while bootstrap mode is active; once exited, the transition does
// not reverse.
func (g *Gate) AdvanceBootstrap(tick uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bootstrapped || g.bootstrapTarget.IsZero() {
		g.bootstrapped = true
		return nil
	}

	balance := g.vault.Balance()
	ratio, err := g.vault.CoverageRatio()
	if err != nil {
		return err
	}
	if balance.Cmp(g.bootstrapTarget) >= 0 && ratio.Cmp(fixedpoint.One()) >= 0 {
		g.bootstrapStreak++
	} else {
		g.bootstrapStreak = 0
	}
	if g.bootstrapStreak >= g.params.BootstrapWindowTicks {
		g.bootstrapped = true
		g.emit.Emit(BootstrapExited{Tick: tick})
	}
	return nil
}

// Bootstrapped reports whether the gate has exited bootstrap mode.
func (g *Gate) Bootstrapped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bootstrapped
}

// LeverageCapFactor returns the multiplier C6 applies to every leverage
// ceiling while bootstrap mode is active, and One() once it has exited.
func (g *Gate) LeverageCapFactor() fixedpoint.Fixed {
	if g.Bootstrapped() {
		return fixedpoint.One()
	}
	return g.params.BootstrapFactor
}
