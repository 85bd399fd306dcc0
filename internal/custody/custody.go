// Package custody declares the collaborator interface the core settlement
// and liquidation paths submit fund movements to. It is interface-only: the
// actual custodian (an external wallet/ledger service) is out of scope for
// this module, the same "declare the shape you need, let something else
// satisfy it" idiom internal/settlement uses for PositionLister/ChainUnwinder.
package custody

import (
	"context"

	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
)

// Action distinguishes a custody instruction's direction.
type Action int

const (
	Credit Action = iota
	Debit
)

func (a Action) String() string {
	if a == Credit {
		return "credit"
	}
	return "debit"
}

// Instruction is a single settlement fund movement submitted to custody.
type Instruction struct {
	PositionID ids.PositionID
	Action     Action
	Amount     fixedpoint.Fixed
}

// Result reports the outcome of a previously submitted Instruction.
type Result struct {
	PositionID ids.PositionID
	Success    bool
	Err        error
}

// Collaborator is what the core requires of an external custody service:
// fire-and-forget submission, with results delivered asynchronously on a
// channel the core owns the lifetime of.
type Collaborator interface {
	Submit(ctx context.Context, instr Instruction) error
	Results() <-chan Result
}
