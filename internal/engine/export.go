package engine

import (
	"predcore/internal/amm"
	"predcore/internal/storage/export"
)

// ExportClosedPositions flattens every closed position into the row shape
// storage/export writes to Parquet, for an operator job archiving settled
// history out of process memory.
func (e *Engine) ExportClosedPositions() []export.PositionRow {
	closed := e.positions.ListClosed()
	rows := make([]export.PositionRow, 0, len(closed))
	for _, p := range closed {
		direction := "buy"
		if p.Direction == amm.Sell {
			direction = "sell"
		}
		rows = append(rows, export.PositionRow{
			PositionID:        p.ID.String(),
			MarketID:          p.Market.String(),
			Owner:             p.Owner.String(),
			Outcome:           int32(p.Outcome),
			Direction:         direction,
			Size:              p.Size.String(),
			EntryPrice:        p.EntryPrice.String(),
			EffectiveLeverage: p.EffectiveLeverage.String(),
			LiquidationPrice:  p.LiquidationPrice.String(),
			RealizedPnL:       p.RealizedPnL.String(),
			ClosedAtTick:      p.LastTouchedTick,
			State:             p.Status.String(),
		})
	}
	return rows
}
