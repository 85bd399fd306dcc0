// Package chain composes a deposit through an ordered sequence of
// borrow/liquidity-provide/stake steps targeting auxiliary pools ("verses"),
// each step contributing a multiplier to the position's effective leverage
// (consumed by internal/leverage's ChainMultiplier input). Execution is
// atomic: the executor snapshots which steps have succeeded as it goes, and
// on any step failure unwinds every succeeded step in reverse order before
// surfacing a single ChainFailed to the caller — mirroring the
// load-validate-mutate-persist shape the lending engine's Borrow/Repay use,
// generalized to a multi-step compound operation with an explicit inverse.
package chain

import (
	"sync"

	"predcore/crypto"
	"predcore/internal/coreerrors"
	"predcore/internal/events"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
)

// StepKind identifies which of the three auxiliary operations a chain step
// performs. The canonical chain visits them in this order, at most once
// each.
type StepKind int

const (
	StepBorrow StepKind = iota
	StepLiquidity
	StepStake
)

func (k StepKind) String() string {
	switch k {
	case StepBorrow:
		return "borrow"
	case StepLiquidity:
		return "liquidity"
	case StepStake:
		return "stake"
	default:
		return "unknown"
	}
}

// MaxChainSteps bounds a chain's step list. Only three step kinds exist and
// the ordering invariant forbids repeats, so no valid chain ever reaches
// this length; it exists as the same defense-in-depth array bound the
// ChainPosition's step list carries.
const MaxChainSteps = 5

// MaxCPIDepth bounds the nested-call depth a chain may reach. The canonical
// 3-step chain (borrow, liquidity, stake) fits comfortably under it.
const MaxCPIDepth = 4

// BorrowCoverageCap is the safety ceiling (k = min(k, 1.8)) applied to the
// borrow step's coverage-derived multiplier.
var BorrowCoverageCap = mustFraction(18, 10)

// DefaultLiquidityLVR and DefaultLiquidityTau produce the default liquidity
// multiplier of 1 + 0.05*0.1 = 1.005.
var (
	DefaultLiquidityLVR = mustFraction(5, 100)
	DefaultLiquidityTau = mustFraction(1, 10)
)

func mustFraction(num, den int64) fixedpoint.Fixed {
	f, err := fixedpoint.FromFraction(num, den)
	if err != nil {
		panic(err)
	}
	return f
}

// ChainStatus is the lifecycle state of a ChainPosition.
type ChainStatus int

const (
	StatusBuilding ChainStatus = iota
	StatusOpen
	StatusUnwinding
	StatusFailed
	StatusClosed
)

func (s ChainStatus) String() string {
	switch s {
	case StatusBuilding:
		return "building"
	case StatusOpen:
		return "open"
	case StatusUnwinding:
		return "unwinding"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Step is one leg of a chain request: a kind, the verse it targets, and the
// amount it moves.
type Step struct {
	Kind   StepKind
	Verse  ids.VerseID
	Amount fixedpoint.Fixed
}

// ChainPosition is the persisted record of a chain's steps and outcome.
// PositionIDs holds the leveraged position(s) opened against this chain
// (ChainID set to this chain's ID): the chain owns them, so unwinding or
// closing the chain is expected to close every position recorded here.
type ChainPosition struct {
	ID                         ids.ChainID
	Owner                      crypto.Address
	Steps                      []Step
	Status                     ChainStatus
	AggregateEffectiveLeverage fixedpoint.Fixed
	AggregateExposure          fixedpoint.Fixed
	PositionIDs                []ids.PositionID
}

// VersePool is implemented by each auxiliary pool a chain step can target.
// Execute moves capital into the pool and returns the output amount and the
// step's multiplier contribution; Unwind reverses a prior Execute and must
// be idempotent against the pool's own recorded pre-image, since a failed
// unwind mid-sequence would leave the chain in an unrecoverable state.
type VersePool interface {
	Execute(step Step, depth int, coverage fixedpoint.Fixed, outcomeCount int) (output, multiplier fixedpoint.Fixed, err error)
	Unwind(step Step) error
}

// VerseRegistry resolves a verse identity to the pool that owns it.
type VerseRegistry interface {
	Pool(verse ids.VerseID) (VersePool, error)
}

// ChainRequest is the input to Engine.ExecuteChain.
type ChainRequest struct {
	Owner        crypto.Address
	Deposit      fixedpoint.Fixed
	Steps        []Step
	Coverage     fixedpoint.Fixed
	OutcomeCount int
	ChainDepth   int
}

// ChainOpened and ChainUnwound are emitted on a chain's terminal outcome.
type ChainOpened struct {
	ChainID string
}

func (ChainOpened) EventType() string { return "chain.opened" }

type ChainUnwound struct {
	ChainID  string
	StepKind string
}

func (ChainUnwound) EventType() string { return "chain.unwound" }

// Engine executes and unwinds chains against a VerseRegistry.
type Engine struct {
	registry VerseRegistry
	emit     events.Emitter

	mu     sync.Mutex
	chains map[ids.ChainID]*ChainPosition
}

// NewEngine constructs a chain Engine wired to the given verse registry.
func NewEngine(registry VerseRegistry, emit events.Emitter) *Engine {
	if emit == nil {
		emit = events.NoopEmitter{}
	}
	return &Engine{registry: registry, emit: emit, chains: make(map[ids.ChainID]*ChainPosition)}
}

// validateOrder enforces the strict ordering invariant: at most one of each
// kind, appearing in Borrow, Liquidity, Stake order.
func validateOrder(steps []Step) error {
	if len(steps) > MaxChainSteps {
		return coreerrors.ErrChainTooLong
	}
	lastKind := -1
	seen := map[StepKind]bool{}
	for _, step := range steps {
		if seen[step.Kind] {
			return coreerrors.ErrChainStepOrder
		}
		if int(step.Kind) <= lastKind {
			return coreerrors.ErrChainStepOrder
		}
		seen[step.Kind] = true
		lastKind = int(step.Kind)
	}
	return nil
}

// validateNoCycle rejects a chain that targets the same verse twice.
func validateNoCycle(steps []Step) error {
	visited := map[ids.VerseID]bool{}
	for _, step := range steps {
		if visited[step.Verse] {
			return coreerrors.ErrChainCycle
		}
		visited[step.Verse] = true
	}
	return nil
}

// borrowMultiplier computes the step's theoretical multiplier contribution
// per SPEC_FULL §4.7, independent of what the pool's Execute call actually
// returns (Execute's returned multiplier is authoritative; this is used
// only to validate the borrow cap before the pool call).
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
	if raw.Cmp(BorrowCoverageCap) > 0 {
		raw = BorrowCoverageCap
	}
	return raw, nil
}

func liquidityMultiplier() (fixedpoint.Fixed, error) {
	boost, err := DefaultLiquidityLVR.Mul(DefaultLiquidityTau)
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

// ExecuteChain runs every step of req in order, accumulating a pre-image of
// succeeded steps as it goes. If a step fails, every succeeded step is
// unwound in reverse order and the chain's final status is Failed; if every
// step succeeds, the chain is Open.
func (e *Engine) ExecuteChain(req ChainRequest) (ChainPosition, error) {
	if err := validateOrder(req.Steps); err != nil {
		return ChainPosition{}, err
	}
	if err := validateNoCycle(req.Steps); err != nil {
		return ChainPosition{}, err
	}
	if len(req.Steps) > MaxCPIDepth {
		return ChainPosition{}, coreerrors.ErrCPIDepthExceeded
	}

	chainID := ids.NewChainID()
	aggregateMultiplier := fixedpoint.One()
	exposure := req.Deposit

	var succeeded []Step
	for i, step := range req.Steps {
		pool, err := e.registry.Pool(step.Verse)
		if err != nil {
			e.unwind(chainID, succeeded)
			return e.failed(chainID, req, &coreerrors.ChainStepFailed{StepIndex: i, Underlying: err})
		}

		if step.Kind == StepBorrow {
			if _, err := borrowMultiplier(req.Coverage, req.OutcomeCount); err != nil {
				e.unwind(chainID, succeeded)
				return e.failed(chainID, req, &coreerrors.ChainStepFailed{StepIndex: i, Underlying: err})
			}
		}

		output, multiplier, err := pool.Execute(step, req.ChainDepth+i, req.Coverage, req.OutcomeCount)
		if err != nil {
			e.unwind(chainID, succeeded)
			return e.failed(chainID, req, &coreerrors.ChainStepFailed{StepIndex: i, Underlying: err})
		}

		aggregateMultiplier, err = aggregateMultiplier.Mul(multiplier)
		if err != nil {
			e.unwind(chainID, succeeded)
			return e.failed(chainID, req, &coreerrors.ChainStepFailed{StepIndex: i, Underlying: err})
		}
		exposure = output
		succeeded = append(succeeded, step)
	}

	aggregateLeverage, err := fixedpoint.One().Mul(aggregateMultiplier)
	if err != nil {
		e.unwind(chainID, succeeded)
		return e.failed(chainID, req, &coreerrors.ChainStepFailed{StepIndex: len(req.Steps) - 1, Underlying: err})
	}
	absoluteCap := fixedpoint.FromInt64(500)
	if aggregateLeverage.Cmp(absoluteCap) > 0 {
		aggregateLeverage = absoluteCap
	}

	position := ChainPosition{
		ID:                         chainID,
		Owner:                      req.Owner,
		Steps:                      req.Steps,
		Status:                     StatusOpen,
		AggregateEffectiveLeverage: aggregateLeverage,
		AggregateExposure:          exposure,
	}
	e.mu.Lock()
	record := position
	e.chains[chainID] = &record
	e.mu.Unlock()
	e.emit.Emit(ChainOpened{ChainID: chainID.String()})
	return position, nil
}

// UnwindChain reverses every step of a previously opened chain, in reverse
// order, the same best-effort pass ExecuteChain's own failure path takes.
// It is the public entry point internal/liquidation and internal/settlement
// trigger once a chain's leaf position has been liquidated or settled.
// Unwinding an already-Closed or already-Unwinding chain is a no-op: the
// caller may observe a chain-leg close (settlement) or a liquidation seizure
// race each other, and only the first to arrive should drive the unwind.
func (e *Engine) UnwindChain(chainID ids.ChainID) error {
	e.mu.Lock()
	record, ok := e.chains[chainID]
	if !ok {
		e.mu.Unlock()
		return coreerrors.ErrChainNotFound
	}
	if record.Status == StatusClosed || record.Status == StatusUnwinding {
		e.mu.Unlock()
		return nil
	}
	record.Status = StatusUnwinding
	steps := append([]Step(nil), record.Steps...)
	e.mu.Unlock()

	e.unwind(chainID, steps)

	e.mu.Lock()
	record.Status = StatusClosed
	e.mu.Unlock()
	return nil
}

// Status reports chainID's current lifecycle state. The root engine wires
// this as position.Store.Sweep's isOrphanChain predicate: a position whose
// ChainID no longer resolves to a Building/Open chain here is orphaned.
func (e *Engine) Status(chainID ids.ChainID) (ChainStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.chains[chainID]
	if !ok {
		return 0, false
	}
	return record.Status, true
}

// RecordPosition appends positionID to chainID's PositionIDs, so the chain
// record keeps track of every leveraged position opened against it (the
// root engine calls this once per successful OpenPosition that carried a
// non-zero ChainID). A chain that can't be found is an invariant violation
// — the caller only ever supplies a ChainID it just received from
// ExecuteChain — surfaced as an OperatorAlert rather than failing the
// already-succeeded position open.
func (e *Engine) RecordPosition(chainID ids.ChainID, positionID ids.PositionID) {
	e.mu.Lock()
	record, ok := e.chains[chainID]
	if ok {
		record.PositionIDs = append(record.PositionIDs, positionID)
	}
	e.mu.Unlock()
	if !ok {
		e.emit.Emit(events.OperatorAlert{Component: "chain", Message: "record position: chain not found for " + chainID.String()})
	}
}

// unwind reverses every succeeded step in reverse order, best-effort: an
// unwind failure is an internal invariant violation (the pool promised
// idempotent inverses), surfaced via OperatorAlert rather than propagated,
// since the caller already has a ChainFailed to act on.
func (e *Engine) unwind(chainID ids.ChainID, succeeded []Step) {
	for i := len(succeeded) - 1; i >= 0; i-- {
		step := succeeded[i]
		pool, err := e.registry.Pool(step.Verse)
		if err != nil {
			e.emit.Emit(events.OperatorAlert{Component: "chain", Message: "unwind: verse lookup failed for " + step.Verse.String()})
			continue
		}
		if err := pool.Unwind(step); err != nil {
			e.emit.Emit(events.OperatorAlert{Component: "chain", Message: "unwind: step failed for " + step.Verse.String()})
			continue
		}
		e.emit.Emit(ChainUnwound{ChainID: chainID.String(), StepKind: step.Kind.String()})
	}
}

func (e *Engine) failed(chainID ids.ChainID, req ChainRequest, underlying error) (ChainPosition, error) {
	position := ChainPosition{
		ID:     chainID,
		Owner:  req.Owner,
		Steps:  req.Steps,
		Status: StatusFailed,
	}
	return position, &coreerrors.ChainFailed{Underlying: underlying}
}
