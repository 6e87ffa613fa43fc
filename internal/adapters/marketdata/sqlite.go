package marketdata

// sqlite.go — proveedor de hechos de precio sobre el histórico local.
//
// El histórico vive en su propio SQLite (tabla daily_price), alimentado por
// el importador CSV o el fetcher HTTP. Las estadísticas trailing se computan
// sobre filas estrictamente anteriores a la fecha de evaluación: el día
// evaluado nunca participa en su propio umbral de breakout.

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/rotation/internal/domain"
	"github.com/alejandrodnm/rotation/internal/ports"
)

const priceSchema = `
CREATE TABLE IF NOT EXISTS daily_price (
    symbol     TEXT NOT NULL,
    trade_date TEXT NOT NULL,
    close      REAL NOT NULL,
    volume     REAL NOT NULL,
    PRIMARY KEY (symbol, trade_date)
);
CREATE INDEX IF NOT EXISTS idx_daily_price_date ON daily_price(trade_date);
`

// Bar es una barra diaria de cierre/volumen, el registro tipado estricto en
// el que se valida todo dato externo antes de entrar al sistema.
type Bar struct {
	Symbol    string  `csv:"symbol" json:"symbol"`
	TradeDate string  `csv:"trade_date" json:"trade_date"`
	Close     float64 `csv:"close" json:"close"`
	Volume    float64 `csv:"volume" json:"volume"`
}

// Validate rechaza barras malformadas en el punto de ingreso.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("marketdata: bar with empty symbol")
	}
	if _, err := time.Parse(time.DateOnly, b.TradeDate); err != nil {
		return fmt.Errorf("marketdata: bar %s: invalid trade_date %q", b.Symbol, b.TradeDate)
	}
	if b.Close <= 0 {
		return fmt.Errorf("marketdata: bar %s/%s: non-positive close %v", b.Symbol, b.TradeDate, b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("marketdata: bar %s/%s: negative volume %v", b.Symbol, b.TradeDate, b.Volume)
	}
	return nil
}

// SQLiteProvider implementa ports.FactsProvider sobre la tabla daily_price.
type SQLiteProvider struct {
	db           *sql.DB
	lookbackHigh int
	volMADays    int
}

var _ ports.FactsProvider = (*SQLiteProvider)(nil)

// NewSQLiteProvider abre (o crea) el histórico de precios en la ruta dada y
// aplica su esquema. Las ventanas trailing vienen de las reglas del ciclo.
func NewSQLiteProvider(dsn string, rules domain.Rules) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("marketdata.NewSQLiteProvider: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(priceSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("marketdata.NewSQLiteProvider: apply schema: %w", err)
	}
	return &SQLiteProvider{
		db:           db,
		lookbackHigh: rules.LookbackHighDays,
		volMADays:    rules.VolMADays,
	}, nil
}

// GetFacts computa los hechos del lote completo. Si a cualquier símbolo le
// falta la fila del día o histórico suficiente, falla la llamada entera
// nombrando los símbolos afectados.
func (p *SQLiteProvider) GetFacts(ctx context.Context, symbols []string, tradeDate string) (map[string]domain.DailyFacts, error) {
	facts := make(map[string]domain.DailyFacts, len(symbols))
	var missing []string

	for _, sym := range symbols {
		f, ok, err := p.symbolFacts(ctx, sym, tradeDate)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, sym)
			continue
		}
		facts[sym] = f
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &domain.FactsMissingError{TradeDate: tradeDate, Symbols: missing}
	}
	return facts, nil
}

// symbolFacts carga la ventana de un símbolo y computa las estadísticas.
// ok=false significa hueco de datos (fila del día o histórico insuficiente).
func (p *SQLiteProvider) symbolFacts(ctx context.Context, symbol, tradeDate string) (domain.DailyFacts, bool, error) {
	window := p.lookbackHigh
	if p.volMADays > window {
		window = p.volMADays
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT trade_date, close, volume
		FROM daily_price
		WHERE symbol = ? AND trade_date <= ?
		ORDER BY trade_date DESC
		LIMIT ?
	`, symbol, tradeDate, window+1)
	if err != nil {
		return domain.DailyFacts{}, false, fmt.Errorf("marketdata.GetFacts: query %s: %w", symbol, err)
	}
	defer rows.Close()

	var dates []string
	var closes, volumes []float64
	for rows.Next() {
		var d string
		var c, v float64
		if err := rows.Scan(&d, &c, &v); err != nil {
			return domain.DailyFacts{}, false, fmt.Errorf("marketdata.GetFacts: scan %s: %w", symbol, err)
		}
		dates = append(dates, d)
		closes = append(closes, c)
		volumes = append(volumes, v)
	}
	if err := rows.Err(); err != nil {
		return domain.DailyFacts{}, false, err
	}

	// La primera fila (orden DESC) debe ser exactamente el día evaluado.
	if len(dates) == 0 || dates[0] != tradeDate {
		return domain.DailyFacts{}, false, nil
	}

	// Ventanas estrictamente anteriores al día evaluado.
	priorCloses := closes[1:]
	priorVolumes := volumes[1:]
	if len(priorCloses) < p.lookbackHigh || len(priorVolumes) < p.volMADays {
		return domain.DailyFacts{}, false, nil
	}

	high, err := stats.Max(priorCloses[:p.lookbackHigh])
	if err != nil {
		return domain.DailyFacts{}, false, fmt.Errorf("marketdata.GetFacts: trailing high %s: %w", symbol, err)
	}
	volAvg, err := stats.Mean(priorVolumes[:p.volMADays])
	if err != nil {
		return domain.DailyFacts{}, false, fmt.Errorf("marketdata.GetFacts: volume avg %s: %w", symbol, err)
	}

	return domain.DailyFacts{
		Symbol:            symbol,
		TradeDate:         tradeDate,
		Close:             closes[0],
		Volume:            volumes[0],
		TrailingHigh:      high,
		TrailingVolumeAvg: volAvg,
		RowsLoaded:        len(dates),
	}, true, nil
}

// UpsertBars escribe barras en el histórico de forma idempotente.
func (p *SQLiteProvider) UpsertBars(ctx context.Context, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("marketdata.UpsertBars: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_price (symbol, trade_date, close, volume)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol, trade_date) DO UPDATE SET
			close  = excluded.close,
			volume = excluded.volume
	`)
	if err != nil {
		return fmt.Errorf("marketdata.UpsertBars: prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("marketdata.UpsertBars: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.TradeDate, b.Close, b.Volume); err != nil {
			return fmt.Errorf("marketdata.UpsertBars: upsert %s/%s: %w", b.Symbol, b.TradeDate, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("marketdata.UpsertBars: commit: %w", err)
	}
	return nil
}

// Close cierra la conexión al histórico.
func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}
