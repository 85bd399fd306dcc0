// Package engine composes every component package (the AMM variants, the
// vault, the fee gate, the oracle view, leverage, positions, chains,
// verses, liquidation, and settlement) into the single object a deployment
// actually drives: one market lifecycle, one tick clock, one admin control
// surface. Wiring follows the lending module's top-level Engine, which
// composes the same shape of narrow consumer-defined interfaces rather
// than importing concrete types across packages — this is the one package
// allowed to import all of them, since it is the composition root.
package engine

import (
	"fmt"
	"strings"
	"sync"

	"predcore/crypto"
	"predcore/internal/admin"
	"predcore/internal/amm"
	"predcore/internal/chain"
	"predcore/internal/config"
	"predcore/internal/coreerrors"
	"predcore/internal/events"
	"predcore/internal/fee"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
	"predcore/internal/leverage"
	"predcore/internal/liquidation"
	"predcore/internal/oracle"
	"predcore/internal/position"
	"predcore/internal/settlement"
	"predcore/internal/vault"
	"predcore/internal/verse"
)

// Engine is the root object: every market a deployment creates, every
// position opened against them, and every admin command applied to them
// flows through here.
type Engine struct {
	cfg *config.Config

	vault        *vault.Vault
	feed         oracle.Feed
	oracle       *oracle.View
	gate         *fee.Gate
	markets      *MarketRegistry
	leverage     *leverage.Engine
	positions    *position.Store
	verses       *verse.Registry
	chains       *chain.Engine
	liquidations *liquidation.Engine
	settlements  *settlement.Engine
	treasury     *treasury

	mu          sync.Mutex
	currentTick uint64
}

// New wires every component in dependency order: vault, then the oracle
// view (reads the vault for nothing but shares its tick clock), then the
// fee gate (reads both), then the market registry (reads vault and gate),
// then the position store (reads the registry, the leverage engine, and
// the vault), then the adapters the liquidation engine needs (reading the
// position store and oracle view), then the verse registry and chain
// executor, then liquidation itself, and finally settlement.
func New(cfg *config.Config, feed oracle.Feed, emit events.Emitter) (*Engine, error) {
	if emit == nil {
		emit = events.NoopEmitter{}
	}

	v := vault.New(cfg.Vault.Tau, emit)

	e := &Engine{cfg: cfg, vault: v}
	oracleView := oracle.NewView(feed, emit, cfg.Oracle, e.tick)
	gate := fee.New(v, oracleView, cfg.Fee, emit)
	markets := NewMarketRegistry(v, gate)
	leverageEngine := leverage.NewEngine(cfg.Leverage)
	positions := position.New(markets, leverageEngine, v, emit)

	depth := &marketDepth{positions: positions}
	prices := &priceSource{oracle: oracleView}
	treas := newTreasury(v)

	versesRegistry := verse.NewRegistry()
	chainEngine := chain.NewEngine(versesRegistry, emit)

	liquidationEngine := liquidation.NewEngine(positions, prices, chainEngine, treas, depth, cfg.Liquidation, emit)
	settlementEngine := settlement.New(positions, chainEngine, emit)

	e.feed = feed
	e.oracle = oracleView
	e.gate = gate
	e.markets = markets
	e.leverage = leverageEngine
	e.positions = positions
	e.verses = versesRegistry
	e.chains = chainEngine
	e.liquidations = liquidationEngine
	e.settlements = settlementEngine
	e.treasury = treas

	versesRegistry.CreatePool(verse.KindBorrow, v)
	versesRegistry.CreatePool(verse.KindLiquidity, v)
	versesRegistry.CreatePool(verse.KindStake, v)

	return e, nil
}

func (e *Engine) tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTick
}

// CreateMarket provisions a fresh market's pricing engine per the AMM
// variant its shape selects, and registers it with the market registry so
// positions, halts, and funding can resolve against it.
func (e *Engine) CreateMarket(outcomeCount int, continuous bool) (ids.MarketID, error) {
	variant := amm.SelectVariant(outcomeCount, continuous)

	var eng amm.Engine
	var err error
	switch variant {
	case amm.VariantLMSR:
		eng = amm.NewLMSR(e.cfg.AMM.Liquidity, e.gate.FeeRate)
	case amm.VariantPMAMM:
		eng, err = amm.NewPMAMM(outcomeCount, e.cfg.AMM.Liquidity, e.cfg.AMM.LVRMode, e.gate.FeeRate, nil)
	case amm.VariantL2AMM:
		eng, err = amm.NewL2AMM(e.cfg.AMM.Buckets, e.cfg.AMM.K, e.cfg.AMM.BMax, e.gate.FeeRate)
	}
	if err != nil {
		return ids.MarketID{}, err
	}

	marketID := ids.NewMarketID()
	e.markets.Register(marketID, eng, outcomeCount, continuous)
	return marketID, nil
}

// OpenPosition runs the pre-trade gate (oracle freshness, global and
// market halts, congestion) before handing off to the position store,
// since the store's own MarketView.Halted check alone doesn't cover
// oracle staleness or queue congestion.
func (e *Engine) OpenPosition(req position.OpenRequest) (position.OpenResult, error) {
	if err := e.gate.CheckOpen(req.Market, req.Tick); err != nil {
		return position.OpenResult{}, err
	}
	req.BootstrapFactor = e.gate.LeverageCapFactor()
	result, err := e.positions.Open(req)
	if err != nil {
		return position.OpenResult{}, err
	}
	if !req.ChainID.IsZero() {
		e.chains.RecordPosition(req.ChainID, result.Position.ID)
	}
	return result, nil
}

// ExecuteChain runs a chain request through the chain executor. A chain
// has no single market of its own (it only moves capital through the
// borrow/liquidity/stake verses), so the gate it must clear here is the
// vault's global halts rather than any one market's circuit breaker —
// the per-market check still happens when the chain's output opens a
// leveraged position via OpenPosition.
func (e *Engine) ExecuteChain(req chain.ChainRequest) (chain.ChainPosition, error) {
	if e.vault.FullyHalted() {
		return chain.ChainPosition{}, coreerrors.ErrGlobalHalted
	}
	return e.chains.ExecuteChain(req)
}

// Resolve settles a market against its winning outcome.
func (e *Engine) Resolve(marketID ids.MarketID, winningOutcome int) (settlement.Result, error) {
	return e.settlements.Settle(settlement.Resolution{MarketID: marketID, WinningOutcome: winningOutcome}, e.tick())
}

// PushPrice records a fresh observation for marketID and immediately polls
// the oracle view so it takes effect, for an operator/dev feed that has no
// independent polling loop of its own. Only works when the engine was
// constructed with an *oracle.ManualFeed — any other Feed implementation is
// expected to push observations on its own schedule and call Tick to let
// the view pick them up.
func (e *Engine) PushPrice(marketID ids.MarketID, price fixedpoint.Fixed, prices []fixedpoint.Fixed, depth fixedpoint.Fixed) error {
	manual, ok := e.feed.(*oracle.ManualFeed)
	if !ok {
		return fmt.Errorf("engine: configured price feed does not support manual pushes")
	}
	manual.Set(marketID, price, prices, depth)
	return e.oracle.Poll(marketID)
}

// Tick advances the engine's clock and drives every tick-scoped process:
// bootstrap advancement, the funding/staleness sweep, and a liquidation
// scan.
func (e *Engine) Tick(tick uint64) error {
	e.mu.Lock()
	e.currentTick = tick
	e.mu.Unlock()

	if err := e.gate.AdvanceBootstrap(tick); err != nil {
		return err
	}
	e.positions.Sweep(tick, func(chainID ids.ChainID) bool {
		status, ok := e.chains.Status(chainID)
		if !ok {
			return true
		}
		return status != chain.StatusBuilding && status != chain.StatusOpen
	})
	if _, err := e.liquidations.Scan(tick); err != nil {
		return err
	}
	return nil
}

// ProcessLiquidation works one entry off the liquidation queue, paying
// keeper the bounty a successful seizure earns.
func (e *Engine) ProcessLiquidation(keeper crypto.Address, tick uint64) (liquidation.Outcome, error) {
	return e.liquidations.ProcessNext(tick, keeper)
}

// Halt implements admin.Executor. marketID is either a market UUID string
// or admin.MarketAll, in which case every known market is halted.
func (e *Engine) Halt(marketID string, durationTicks uint64) error {
	tick := e.tick()
	if marketID == admin.MarketAll {
		for _, id := range e.markets.AllMarketIDs() {
			e.gate.AdminHalt(id, durationTicks, tick)
		}
		return nil
	}
	id, err := ids.ParseMarketID(marketID)
	if err != nil {
		return fmt.Errorf("engine: invalid market id %q: %w", marketID, err)
	}
	e.gate.AdminHalt(id, durationTicks, tick)
	return nil
}

// Resume implements admin.Executor.
func (e *Engine) Resume(marketID string) error {
	tick := e.tick()
	if marketID == admin.MarketAll {
		for _, id := range e.markets.AllMarketIDs() {
			e.gate.AdminResume(id, tick)
		}
		return nil
	}
	id, err := ids.ParseMarketID(marketID)
	if err != nil {
		return fmt.Errorf("engine: invalid market id %q: %w", marketID, err)
	}
	e.gate.AdminResume(id, tick)
	return nil
}

// SetBootstrapTarget implements admin.Executor.
func (e *Engine) SetBootstrapTarget(value string) error {
	target, err := fixedpoint.FromString(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("engine: invalid bootstrap target %q: %w", value, err)
	}
	e.gate.SetBootstrapTarget(target)
	return nil
}

// MigrateMarket implements admin.Executor, recording the admin's intended
// shard placement; this single process never actually relocates state.
func (e *Engine) MigrateMarket(marketID, newShard string) error {
	id, err := ids.ParseMarketID(marketID)
	if err != nil {
		return fmt.Errorf("engine: invalid market id %q: %w", marketID, err)
	}
	return e.markets.AssignShard(id, newShard)
}

// AdjustParameters implements admin.Executor, fanning the governance
// payload out to every component with a matching tunable. Fields left at
// their zero value are left untouched rather than reset.
func (e *Engine) AdjustParameters(p admin.Parameters) error {
	if p.MinFeeBps != 0 || p.MaxFeeBps != 0 {
		if err := e.vault.SetElasticFeeBounds(p.MinFeeBps, p.MaxFeeBps); err != nil {
			return err
		}
	}
	if strings.TrimSpace(p.Tau) != "" {
		tau, err := fixedpoint.FromString(p.Tau)
		if err != nil {
			return fmt.Errorf("engine: invalid tau %q: %w", p.Tau, err)
		}
		e.vault.SetTau(tau)
	}
	if strings.TrimSpace(p.LiquidationBountyMin) != "" {
		bounty, err := fixedpoint.FromString(p.LiquidationBountyMin)
		if err != nil {
			return fmt.Errorf("engine: invalid liquidation bounty minimum %q: %w", p.LiquidationBountyMin, err)
		}
		e.liquidations.SetKeeperBountyMinimum(bounty)
	}
	if strings.TrimSpace(p.MaintenanceMargin) != "" {
		margin, err := fixedpoint.FromString(p.MaintenanceMargin)
		if err != nil {
			return fmt.Errorf("engine: invalid maintenance margin %q: %w", p.MaintenanceMargin, err)
		}
		e.leverage.SetMaintenanceMargin(margin)
	}
	return nil
}

var _ admin.Executor = (*Engine)(nil)
