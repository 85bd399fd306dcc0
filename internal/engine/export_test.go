package engine

import (
	"testing"

	"predcore/internal/fixedpoint"
	"predcore/internal/position"
)

func TestExportClosedPositionsIncludesOnlyClosedPositions(t *testing.T) {
	e, feed := newTestEngine(t)
	marketID, err := e.CreateMarket(1, false)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	feed.Set(marketID, half(t), nil, fixedpoint.FromInt64(1000))
	if err := e.oracle.Poll(marketID); err != nil {
		t.Fatalf("poll: %v", err)
	}

	opened, err := e.OpenPosition(position.OpenRequest{
		Owner:        testOwner(1),
		Market:       marketID,
		Direction:    0,
		Size:         fixedpoint.FromInt64(10),
		BaseLeverage: fixedpoint.FromInt64(1),
		Tick:         1,
	})
	if err != nil {
		t.Fatalf("open position: %v", err)
	}

	if len(e.ExportClosedPositions()) != 0 {
		t.Fatal("expected no closed positions before resolution")
	}

	if _, err := e.Resolve(marketID, 0); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	rows := e.ExportClosedPositions()
	if len(rows) != 1 {
		t.Fatalf("expected 1 closed position row, got %d", len(rows))
	}
	if rows[0].PositionID != opened.Position.ID.String() {
		t.Fatalf("expected row for position %s, got %s", opened.Position.ID, rows[0].PositionID)
	}
	if rows[0].State != "closed" {
		t.Fatalf("expected state closed, got %s", rows[0].State)
	}
}
