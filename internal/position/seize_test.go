package position

import (
	"testing"

	"predcore/internal/amm"
	"predcore/internal/coreerrors"
	"predcore/internal/fixedpoint"
	"predcore/internal/ids"
)

func tenPercent(t *testing.T) fixedpoint.Fixed {
	t.Helper()
	f, err := fixedpoint.FromFraction(1, 10)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	return f
}

func fivePercent(t *testing.T) fixedpoint.Fixed {
	t.Helper()
	f, err := fixedpoint.FromFraction(5, 100)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	return f
}

func TestSeizePartialReducesSizeAndCollateralAndKeepsPositionOpen(t *testing.T) {
	store, _, vault := newTestStore(t)
	opened, err := store.Open(OpenRequest{
		Owner:        makeOwner(1),
		Market:       ids.NewMarketID(),
		Outcome:      0,
		Direction:    amm.Buy,
		Size:         fixedpoint.FromInt64(100),
		BaseLeverage: fixedpoint.FromInt64(5),
		Tick:         1,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	balanceBefore := vault.balance

	result, err := store.Seize(opened.Position.ID, tenPercent(t), fivePercent(t), 2)
	if err != nil {
		t.Fatalf("seize: %v", err)
	}
	if result.FullyLiquidated {
		t.Fatalf("expected partial seizure, got full liquidation")
	}
	if result.SeizedNotional.Cmp(fixedpoint.FromInt64(10)) != 0 {
		t.Fatalf("expected seized notional 10, got %s", result.SeizedNotional)
	}
	if result.PenaltyAmount.Sign() <= 0 {
		t.Fatalf("expected positive penalty, got %s", result.PenaltyAmount)
	}
	if vault.balance.Cmp(balanceBefore) >= 0 {
		t.Fatalf("expected vault balance to decrease, before=%s after=%s", balanceBefore, vault.balance)
	}

	got, err := store.Get(opened.Position.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusOpen {
		t.Fatalf("expected position still Open, got %s", got.Status)
	}
	if got.Size.Cmp(fixedpoint.FromInt64(90)) != 0 {
		t.Fatalf("expected remaining size 90, got %s", got.Size)
	}
}

func TestSeizeFullFractionClosesPosition(t *testing.T) {
	store, _, vault := newTestStore(t)
	opened, err := store.Open(OpenRequest{
		Owner:        makeOwner(1),
		Market:       ids.NewMarketID(),
		Outcome:      0,
		Direction:    amm.Buy,
		Size:         fixedpoint.FromInt64(100),
		BaseLeverage: fixedpoint.FromInt64(5),
		Tick:         1,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	result, err := store.Seize(opened.Position.ID, fixedpoint.One(), fivePercent(t), 2)
	if err != nil {
		t.Fatalf("seize: %v", err)
	}
	if !result.FullyLiquidated {
		t.Fatalf("expected full liquidation")
	}
	if vault.openInterest.Sign() != 0 {
		t.Fatalf("expected open interest back to zero, got %s", vault.openInterest)
	}

	got, err := store.Get(opened.Position.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusClosed {
		t.Fatalf("expected status Closed, got %s", got.Status)
	}
}

func TestSeizeRejectsZeroFraction(t *testing.T) {
	store, _, _ := newTestStore(t)
	opened, err := store.Open(OpenRequest{
		Owner:        makeOwner(1),
		Market:       ids.NewMarketID(),
		Outcome:      0,
		Direction:    amm.Buy,
		Size:         fixedpoint.FromInt64(100),
		BaseLeverage: fixedpoint.FromInt64(5),
		Tick:         1,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = store.Seize(opened.Position.ID, fixedpoint.Zero(), fivePercent(t), 2)
	if err != coreerrors.ErrInvalidLeverage {
		t.Fatalf("expected ErrInvalidLeverage, got %v", err)
	}
}

func TestSeizeUnknownPositionFails(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.Seize(ids.NewPositionID(), tenPercent(t), fivePercent(t), 1)
	if err != coreerrors.ErrPositionNotFound {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestListOpenReturnsOnlyOpenPositions(t *testing.T) {
	store, _, _ := newTestStore(t)
	opened, err := store.Open(OpenRequest{
		Owner:        makeOwner(1),
		Market:       ids.NewMarketID(),
		Outcome:      0,
		Direction:    amm.Buy,
		Size:         fixedpoint.FromInt64(10),
		BaseLeverage: fixedpoint.FromInt64(5),
		Tick:         1,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Close(opened.Position.ID, opened.Position.Size, 2); err != nil {
		t.Fatalf("close: %v", err)
	}

	opened2, err := store.Open(OpenRequest{
		Owner:        makeOwner(2),
		Market:       ids.NewMarketID(),
		Outcome:      0,
		Direction:    amm.Buy,
		Size:         fixedpoint.FromInt64(10),
		BaseLeverage: fixedpoint.FromInt64(5),
		Tick:         1,
	})
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}

	open := store.ListOpen()
	if len(open) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(open))
	}
	if open[0].ID != opened2.Position.ID {
		t.Fatalf("expected remaining open position to be the second one")
	}
}
