package position

import (
	"predcore/crypto"
	"predcore/internal/amm"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
)

// Status is the lifecycle state of a Position. Transitions are one-way:
// Open -> Closing|Liquidating -> Closed. There is no resurrection.
type Status int

const (
	StatusOpen Status = iota
	StatusClosing
	StatusLiquidating
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusLiquidating:
		return "liquidating"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Position is a single user's exposure to one outcome (or bucket) of one
// market. All monetary fields are fixed-point U64.64 in the same unit the
// AMM engines quote in, so they can be compared and combined with entry/
// liquidation prices without an intermediate scale conversion.
type Position struct {
	ID     ids.PositionID
	Owner  crypto.Address
	Market ids.MarketID

	// Outcome indexes a discrete market's OutcomeBook, or a continuous
	// market's bucket. Direction records which side of the trade the
	// position took (Buy == long the outcome, Sell == short it).
	Outcome   int
	Direction amm.Direction

	Size              fixedpoint.Fixed
	Collateral        fixedpoint.Fixed
	BaseLeverage      fixedpoint.Fixed
	EffectiveLeverage fixedpoint.Fixed
	EntryPrice        fixedpoint.Fixed
	LiquidationPrice  fixedpoint.Fixed

	// FundingIndexAtEntry is the per-market funding index snapshotted when
	// the position opened; ApplyFunding charges or credits the delta
	// between the current index and this value.
	FundingIndexAtEntry fixedpoint.Fixed

	RealizedPnL fixedpoint.Fixed
	Status      Status

	// ChainID is the zero value for a standalone position; a non-zero
	// value identifies the chain whose leg this position is.
	ChainID ids.ChainID

	CreatedTick     uint64
	LastTouchedTick uint64
}

// OpenRequest is the input to Store.Open.
type OpenRequest struct {
	Owner          crypto.Address
	Market         ids.MarketID
	Outcome        int
	Direction      amm.Direction
	Size           fixedpoint.Fixed
	BaseLeverage   fixedpoint.Fixed
	MaxSlippageBps uint64
	ChainDepth     int
	ChainMultiplier fixedpoint.Fixed
	QuizPassed     bool
	Tick           uint64
	ChainID        ids.ChainID

	// BootstrapFactor scales every leverage cap down while the vault is
	// undercapitalized (C9's Gate.LeverageCapFactor). Zero is treated as
	// fixedpoint.One() (no scaling) so callers that don't set it get
	// unchanged behavior.
	BootstrapFactor fixedpoint.Fixed
}

// OpenResult reports the outcome of a successful Open.
type OpenResult struct {
	Position  Position
	FeeAmount fixedpoint.Fixed
}

// CloseResult reports the outcome of a successful Close.
type CloseResult struct {
	RealizedPnL   fixedpoint.Fixed
	FeeAmount     fixedpoint.Fixed
	ReleasedFunds fixedpoint.Fixed
	Closed        bool // false when the close was partial
}

// SeizeResult reports the outcome of a successful Seize: the notional and
// collateral taken from the position (split into the proportional share
// and the penalty layered on top), the position's state afterward, and
// whether the seizure consumed the entire position.
type SeizeResult struct {
	SeizedNotional      fixedpoint.Fixed
	SeizedCollateral    fixedpoint.Fixed
	PenaltyAmount       fixedpoint.Fixed
	RemainingSize       fixedpoint.Fixed
	RemainingCollateral fixedpoint.Fixed
	NewLiquidationPrice fixedpoint.Fixed
	FullyLiquidated     bool
}

// MinimumSize is the smallest notional size Open will accept.
var MinimumSize = mustFraction(1, 1_000_000)

func mustFraction(num, den int64) fixedpoint.Fixed {
	f, err := fixedpoint.FromFraction(num, den)
	if err != nil {
		panic(err)
	}
	return f
}
