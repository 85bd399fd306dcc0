// Package export writes settled position history to Parquet files for
// offline analytics, grounded on services/otc-gateway/recon/reconciler.go's
// writeParquet: the same parquet-go-source/writerfile + parquet-go/writer
// assembly with SNAPPY compression, generalized from reconciliation rows to
// one row per settled position.
package export

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// PositionRow is one settled position's history, flattened for columnar
// storage. Fixed-point values are exported as their decimal string
// representation (never as float64) so no precision is lost in the export.
type PositionRow struct {
	PositionID       string `parquet:"name=position_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarketID         string `parquet:"name=market_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Owner            string `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	Outcome          int32  `parquet:"name=outcome, type=INT32"`
	Direction        string `parquet:"name=direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	Size             string `parquet:"name=size, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntryPrice       string `parquet:"name=entry_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	EffectiveLeverage string `parquet:"name=effective_leverage, type=BYTE_ARRAY, convertedtype=UTF8"`
	LiquidationPrice string `parquet:"name=liquidation_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	RealizedPnL      string `parquet:"name=realized_pnl, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClosedAtTick     uint64 `parquet:"name=closed_at_tick, type=INT64"`
	State            string `parquet:"name=state, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WritePositions writes rows to a fresh Parquet file at path, overwriting
// any existing file there.
func WritePositions(path string, rows []PositionRow) error {
	fw, err := writerfile.NewWriterFile(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(PositionRow), 1)
	if err != nil {
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		r := row
		if err := pw.Write(&r); err != nil {
			return fmt.Errorf("export: write row %s: %w", row.PositionID, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}
