package marketdata

import (
	"context"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
)

// ImportCSV carga barras diarias desde un CSV con cabecera
// symbol,trade_date,close,volume — el formato de fixtures de replay.
// Devuelve cuántas barras se escribieron.
func (p *SQLiteProvider) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	var bars []Bar
	if err := gocsv.Unmarshal(r, &bars); err != nil {
		return 0, fmt.Errorf("marketdata.ImportCSV: parse: %w", err)
	}
	if err := p.UpsertBars(ctx, bars); err != nil {
		return 0, fmt.Errorf("marketdata.ImportCSV: %w", err)
	}
	return len(bars), nil
}
