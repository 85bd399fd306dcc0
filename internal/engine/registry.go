package engine

import (
	"sync"

	"predcore/internal/amm"
	"predcore/internal/coreerrors"
	"predcore/internal/fee"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
	"predcore/internal/oracle"
	"predcore/internal/position"
	"predcore/internal/vault"
)

// marketEntry is the per-market state the registry owns directly: the
// pricing engine a market was created with, its outcome count, and its
// funding index. Everything else a market needs (halt status, oracle
// snapshot, fee rate) is derived on read from the shared vault/gate/oracle
// rather than duplicated per market.
type marketEntry struct {
	engine       amm.Engine
	outcomeCount int
	continuous   bool
	fundingIndex fixedpoint.Fixed
	shard        string
}

// MarketRegistry implements position.MarketView over every market the
// engine has created. liquidation.MarketDepth is implemented separately by
// marketDepth, which sums the position store's own live book rather than
// tracking a parallel depth counter.
// Grounded on the lending module's poolID-keyed engineState map, generalized
// from a handful of named lending pools to an open-ended set of markets
// created at runtime.
type MarketRegistry struct {
	mu sync.Mutex

	markets map[ids.MarketID]*marketEntry

	vault *vault.Vault
	gate  *fee.Gate
}

// NewMarketRegistry constructs a registry wired to the shared vault and fee
// gate every market consults for its halt status.
func NewMarketRegistry(v *vault.Vault, gate *fee.Gate) *MarketRegistry {
	return &MarketRegistry{
		markets: make(map[ids.MarketID]*marketEntry),
		vault:   v,
		gate:    gate,
	}
}

// Register adds a freshly created market's pricing engine to the registry.
func (r *MarketRegistry) Register(marketID ids.MarketID, eng amm.Engine, outcomeCount int, continuous bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[marketID] = &marketEntry{engine: eng, outcomeCount: outcomeCount, continuous: continuous, fundingIndex: fixedpoint.Zero()}
}

func (r *MarketRegistry) entry(marketID ids.MarketID) (*marketEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.markets[marketID]
	if !ok {
		return nil, coreerrors.ErrPositionNotFound
	}
	return e, nil
}

// Engine implements position.MarketView.
func (r *MarketRegistry) Engine(marketID ids.MarketID) (amm.Engine, error) {
	e, err := r.entry(marketID)
	if err != nil {
		return nil, err
	}
	return e.engine, nil
}

// OutcomeCount implements position.MarketView.
func (r *MarketRegistry) OutcomeCount(marketID ids.MarketID) (int, error) {
	e, err := r.entry(marketID)
	if err != nil {
		return 0, err
	}
	return e.outcomeCount, nil
}

// FundingIndex implements position.MarketView.
func (r *MarketRegistry) FundingIndex(marketID ids.MarketID) (fixedpoint.Fixed, error) {
	e, err := r.entry(marketID)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return e.fundingIndex, nil
}

// SetFundingIndex updates marketID's funding index, read by every position
// opened or carrying funding against this market from that tick forward.
func (r *MarketRegistry) SetFundingIndex(marketID ids.MarketID, index fixedpoint.Fixed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.markets[marketID]
	if !ok {
		return coreerrors.ErrPositionNotFound
	}
	e.fundingIndex = index
	return nil
}

// Halted implements position.MarketView: a market is halted either by a
// protocol-wide vault coverage breach or by its own market-specific
// circuit breaker (price-move, volume, or admin).
func (r *MarketRegistry) Halted(marketID ids.MarketID) (bool, error) {
	if _, err := r.entry(marketID); err != nil {
		return false, err
	}
	if r.vault.FullyHalted() || r.vault.OpensHalted() {
		return true, nil
	}
	return r.gate.IsHalted(marketID), nil
}

// AssignShard records marketID's shard label, for MigrateMarket. A single
// process has nothing to actually relocate; this only tracks the admin's
// intended placement for whatever out-of-process sharding layer reads it.
func (r *MarketRegistry) AssignShard(marketID ids.MarketID, shard string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.markets[marketID]
	if !ok {
		return coreerrors.ErrPositionNotFound
	}
	e.shard = shard
	return nil
}

// Shard returns marketID's last-assigned shard label, empty if never set.
func (r *MarketRegistry) Shard(marketID ids.MarketID) (string, error) {
	e, err := r.entry(marketID)
	if err != nil {
		return "", err
	}
	return e.shard, nil
}

// AllMarketIDs returns every market currently registered, for admin
// commands (Halt/Resume) targeting admin.MarketAll.
func (r *MarketRegistry) AllMarketIDs() []ids.MarketID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ids.MarketID, 0, len(r.markets))
	for id := range r.markets {
		out = append(out, id)
	}
	return out
}

// marketDepth implements liquidation.MarketDepth over the position store's
// own live book: the aggregate notional size of every open position on a
// market, summed fresh on each call rather than tracked as a running
// counter the registry would have to keep in lockstep with the store.
type marketDepth struct {
	positions *position.Store
}

func (d *marketDepth) AggregateDepth(market ids.MarketID) (fixedpoint.Fixed, error) {
	total := fixedpoint.Zero()
	for _, p := range d.positions.ListByMarket(market) {
		var err error
		total, err = total.Add(p.Size)
		if err != nil {
			return fixedpoint.Fixed{}, err
		}
	}
	return total, nil
}

// priceSource implements liquidation.PriceSource over the shared oracle
// view's latest accepted snapshot.
type priceSource struct {
	oracle *oracle.View
}

func (p *priceSource) CurrentPrice(market ids.MarketID) (fixedpoint.Fixed, error) {
	snap, err := p.oracle.Snapshot(market)
	if err != nil {
		return fixedpoint.Fixed{}, err
	}
	return snap.Price, nil
}
