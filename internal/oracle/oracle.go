// Package oracle provides the read-through view over external price feeds
// that the AMM and settlement layers consult. It generalizes the
// aggregator/TWAP/history idiom of the swap module's currency-pair oracle
// to a per-market prediction price, replacing its wall-clock freshness
// model with the engine's abstract tick clock (the core never reads a
// wall clock directly).
package oracle

import (
	"sort"
	"sync"

	"predcore/internal/coreerrors"
	"predcore/internal/events"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
)

// DefaultMaxStalenessTicks is the default freshness window: a snapshot
// older than this many ticks cannot be used for pricing.
const DefaultMaxStalenessTicks = 150

// DefaultMaxPriceMoveBps bounds how far consecutive snapshots may move
// before Poll emits PriceDeviated. The view itself halts no market.
const DefaultMaxPriceMoveBps = 500

// Snapshot is a point-in-time observation of a market's external price,
// depth, and volatility.
type Snapshot struct {
	MarketID   ids.MarketID
	Price      fixedpoint.Fixed // probability in [epsilon, 1-epsilon] for binary/discrete markets
	Prices     []fixedpoint.Fixed // per-outcome prices for multi-outcome markets; nil for binary
	Depth      fixedpoint.Fixed
	Volatility fixedpoint.Fixed
	Tick       uint64
}

// PriceDeviated is emitted when two consecutive snapshots for the same
// market move by more than the configured deviation threshold.
type PriceDeviated struct {
	MarketID  string
	MoveBps   uint64
	FromTick  uint64
	ToTick    uint64
}

func (PriceDeviated) EventType() string { return "oracle.price_deviated" }

// Feed is implemented by whatever upstream supplies raw price observations
// for a market at a given tick (a mirrored external market, a keeper-signed
// push feed, or a manual override used in tests).
type Feed interface {
	Observe(marketID ids.MarketID) (price fixedpoint.Fixed, prices []fixedpoint.Fixed, depth fixedpoint.Fixed, ok bool)
}

// ManualFeed is an in-memory Feed used for tests and manual overrides.
type ManualFeed struct {
	mu    sync.RWMutex
	prices map[ids.MarketID]manualEntry
}

type manualEntry struct {
	price  fixedpoint.Fixed
	prices []fixedpoint.Fixed
	depth  fixedpoint.Fixed
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{prices: make(map[ids.MarketID]manualEntry)}
}

// Set records the observation that Observe will return for marketID.
func (m *ManualFeed) Set(marketID ids.MarketID, price fixedpoint.Fixed, prices []fixedpoint.Fixed, depth fixedpoint.Fixed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[marketID] = manualEntry{price: price, prices: append([]fixedpoint.Fixed{}, prices...), depth: depth}
}

func (m *ManualFeed) Observe(marketID ids.MarketID) (fixedpoint.Fixed, []fixedpoint.Fixed, fixedpoint.Fixed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.prices[marketID]
	if !ok {
		return fixedpoint.Zero(), nil, fixedpoint.Zero(), false
	}
	return entry.price, append([]fixedpoint.Fixed{}, entry.prices...), entry.depth, true
}

// View is the read-through oracle cache consulted by C4 (advisory pricing)
// and C10 (authoritative settlement resolution).
type View struct {
	mu sync.RWMutex

	feed Feed
	emit events.Emitter

	maxStaleness uint64
	maxMoveBps   uint64
	twapCap      int
	sigmaAlpha   fixedpoint.Fixed // EWMA smoothing factor for volatility

	history map[ids.MarketID][]Snapshot
	sigma   map[ids.MarketID]fixedpoint.Fixed

	now func() uint64 // current tick, supplied by the host
}

// Config tunes the oracle view's freshness and deviation thresholds.
type Config struct {
	MaxStalenessTicks uint64
	MaxPriceMoveBps   uint64
	TWAPSampleCap     int
	SigmaEWMAAlpha    fixedpoint.Fixed
}

// EnsureDefaults fills zero-valued fields with the spec's defaults.
func (c Config) EnsureDefaults() Config {
	if c.MaxStalenessTicks == 0 {
		c.MaxStalenessTicks = DefaultMaxStalenessTicks
	}
	if c.MaxPriceMoveBps == 0 {
		c.MaxPriceMoveBps = DefaultMaxPriceMoveBps
	}
	if c.TWAPSampleCap <= 0 {
		c.TWAPSampleCap = 128
	}
	if c.SigmaEWMAAlpha.IsZero() {
		c.SigmaEWMAAlpha, _ = fixedpoint.FromFraction(1, 10)
	}
	return c
}

// NewView constructs an oracle view. now supplies the engine's current
// tick; feed supplies raw observations; emit receives deviation/halt
// notifications (use events.NoopEmitter{} if none is wired).
func NewView(feed Feed, emit events.Emitter, cfg Config, now func() uint64) *View {
	cfg = cfg.EnsureDefaults()
	if emit == nil {
		emit = events.NoopEmitter{}
	}
	return &View{
		feed:         feed,
		emit:         emit,
		maxStaleness: cfg.MaxStalenessTicks,
		maxMoveBps:   cfg.MaxPriceMoveBps,
		twapCap:      cfg.TWAPSampleCap,
		sigmaAlpha:   cfg.SigmaEWMAAlpha,
		history:      make(map[ids.MarketID][]Snapshot),
		sigma:        make(map[ids.MarketID]fixedpoint.Fixed),
		now:          now,
	}
}

// Poll pulls a fresh observation from the feed and records it in history,
// updating the EWMA volatility estimate and raising PriceDeviated if the
// move from the previous snapshot exceeds the configured threshold. Hosts
// call this once per tick per tracked market; Snapshot/TWAP/Volatility
// never reach out to the feed themselves.
func (v *View) Poll(marketID ids.MarketID) error {
	price, prices, depth, ok := v.feed.Observe(marketID)
	if !ok {
		return coreerrors.ErrStaleOracle
	}
	tick := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()

	snap := Snapshot{MarketID: marketID, Price: price, Prices: prices, Depth: depth, Tick: tick}

	bucket := v.history[marketID]
	if len(bucket) > 0 {
		prev := bucket[len(bucket)-1]
		moveBps, err := priceMoveBps(prev.Price, price)
		if err != nil {
			return err
		}
		if moveBps > v.maxMoveBps {
			v.emit.Emit(PriceDeviated{
				MarketID: marketID.String(),
				MoveBps:  moveBps,
				FromTick: prev.Tick,
				ToTick:   tick,
			})
		}
		sigma, err := updateEWMASigma(v.sigma[marketID], v.sigmaAlpha, prev.Price, price)
		if err != nil {
			return err
		}
		v.sigma[marketID] = sigma
	}
	snap.Volatility = v.sigma[marketID]

	bucket = append(bucket, snap)
	if v.twapCap > 0 && len(bucket) > v.twapCap {
		bucket = bucket[len(bucket)-v.twapCap:]
	}
	v.history[marketID] = bucket
	return nil
}

// Snapshot returns the latest observation for marketID, failing with
// ErrStaleOracle if its age exceeds the configured freshness window or no
// observation has ever been recorded.
func (v *View) Snapshot(marketID ids.MarketID) (Snapshot, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	bucket := v.history[marketID]
	if len(bucket) == 0 {
		return Snapshot{}, coreerrors.ErrStaleOracle
	}
	latest := bucket[len(bucket)-1]
	now := v.now()
	if now > latest.Tick && now-latest.Tick > v.maxStaleness {
		return Snapshot{}, coreerrors.ErrStaleOracle
	}
	return latest, nil
}

// TWAP returns the plain mean of the retained snapshot prices recorded in
// the last window ticks; each snapshot counts once, whatever the tick gap
// to its neighbours. window <= 0 uses the full retained history.
func (v *View) TWAP(marketID ids.MarketID, window uint64) (fixedpoint.Fixed, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	bucket := v.history[marketID]
	if len(bucket) == 0 {
		return fixedpoint.Zero(), coreerrors.ErrStaleOracle
	}
	now := v.now()
	var cutoff uint64
	if window > 0 && now > window {
		cutoff = now - window
	}
	sum := fixedpoint.Zero()
	count := int64(0)
	for _, snap := range bucket {
		if window > 0 && snap.Tick < cutoff {
			continue
		}
		var err error
		sum, err = sum.Add(snap.Price)
		if err != nil {
			return fixedpoint.Zero(), err
		}
		count++
	}
	if count == 0 {
		return fixedpoint.Zero(), coreerrors.ErrStaleOracle
	}
	return sum.Div(fixedpoint.FromInt64(count))
}

// Volatility returns the current EWMA volatility estimate (sigma) for
// marketID. Returns zero with no error if fewer than two observations have
// been recorded yet — volatility is undefined, not stale.
func (v *View) Volatility(marketID ids.MarketID) fixedpoint.Fixed {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sigma[marketID]
}

// priceMoveBps computes the absolute basis-point move between two prices,
// |to-from|/from * 10000, using only C1 arithmetic.
func priceMoveBps(from, to fixedpoint.Fixed) (uint64, error) {
	if from.IsZero() {
		return 0, nil
	}
	diff, err := to.Sub(from)
	if err != nil {
		return 0, err
	}
	ratio, err := diff.Abs().Div(from)
	if err != nil {
		return 0, err
	}
	bps, err := ratio.Mul(fixedpoint.FromInt64(10000))
	if err != nil {
		return 0, err
	}
	whole := bps.Bits()
	whole.Rsh(whole, fixedpoint.FractionalBits)
	return whole.Uint64(), nil
}

// updateEWMASigma folds the latest observed return into the exponentially
// weighted moving average volatility estimate: sigma' = alpha*|r| +
// (1-alpha)*sigma, where r is the fractional price change.
func updateEWMASigma(prevSigma, alpha, from, to fixedpoint.Fixed) (fixedpoint.Fixed, error) {
	if from.IsZero() {
		return prevSigma, nil
	}
	diff, err := to.Sub(from)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	r, err := diff.Abs().Div(from)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	weighted, err := alpha.Mul(r)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	one := fixedpoint.One()
	oneMinusAlpha, err := one.Sub(alpha)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	residual, err := oneMinusAlpha.Mul(prevSigma)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	return weighted.Add(residual)
}

// Health reports the set of tracked markets and their last observation
// tick, for operator dashboards.
type Health struct {
	MarketID string
	LastTick uint64
	Samples  int
}

func (v *View) Health() []Health {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Health, 0, len(v.history))
	for id, bucket := range v.history {
		if len(bucket) == 0 {
			continue
		}
		out = append(out, Health{MarketID: id.String(), LastTick: bucket[len(bucket)-1].Tick, Samples: len(bucket)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}
