package engine_test

import (
	"bytes"
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/rotation/internal/adapters/report"
	"github.com/alejandrodnm/rotation/internal/adapters/storage"
	"github.com/alejandrodnm/rotation/internal/application/engine"
	"github.com/alejandrodnm/rotation/internal/domain"
)

// staticFacts sirve hechos precomputados por fecha, fallando en cerrado igual
// que el proveedor real: cualquier hueco aborta el lote entero.
type staticFacts struct {
	days map[string]map[string]domain.DailyFacts
}

func (s *staticFacts) GetFacts(_ context.Context, symbols []string, tradeDate string) (map[string]domain.DailyFacts, error) {
	day := s.days[tradeDate]
	out := make(map[string]domain.DailyFacts, len(symbols))
	var missing []string
	for _, sym := range symbols {
		f, ok := day[sym]
		if !ok {
			missing = append(missing, sym)
			continue
		}
		out[sym] = f
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &domain.FactsMissingError{TradeDate: tradeDate, Symbols: missing}
	}
	return out, nil
}

func dayFacts(sym, date string, close, volume float64) domain.DailyFacts {
	return domain.DailyFacts{
		Symbol:            sym,
		TradeDate:         date,
		Close:             close,
		Volume:            volume,
		TrailingHigh:      100,
		TrailingVolumeAvg: 1000,
	}
}

type fixture struct {
	eng   *engine.Engine
	store *storage.SQLiteStore
	facts *staticFacts
	out   *bytes.Buffer
}

func newFixture(t *testing.T, entries []domain.PoolEntry) *fixture {
	t.Helper()
	pool, err := domain.NewPool(entries)
	require.NoError(t, err)

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	facts := &staticFacts{days: make(map[string]map[string]domain.DailyFacts)}
	out := &bytes.Buffer{}
	return &fixture{
		eng:   engine.New(domain.DefaultRules(), pool, facts, store, report.NewConsoleWriter(out)),
		store: store,
		facts: facts,
		out:   out,
	}
}

func (f *fixture) setFacts(date string, facts ...domain.DailyFacts) {
	day := make(map[string]domain.DailyFacts, len(facts))
	for _, ft := range facts {
		day[ft.Symbol] = ft
	}
	f.facts.days[date] = day
}

func reasonCodes(events []domain.StateEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ReasonCode
	}
	return out
}

// Ciclo completo de un símbolo: breakout, compra T+1, confirmación, fallo,
// venta T+1 con cooling y vuelta a READY al agotarse el cooldown.
func TestFullRotationCycle(t *testing.T) {
	f := newFixture(t, []domain.PoolEntry{
		{Symbol: "A", Name: "Alpha", GroupCode: "G1", MaxLots: 2, IsActive: true},
	})
	ctx := context.Background()

	// EOD: breakout (cierre 110 > high 100, volumen 2000 > 1.5*1000).
	f.setFacts("2026-01-05", dayFacts("A", "2026-01-05", 110, 2000))
	require.NoError(t, f.eng.RunEOD(ctx, "2026-01-05"))

	snaps, err := f.store.SnapshotsOn(ctx, "2026-01-05")
	require.NoError(t, err)
	require.Equal(t, domain.StateTriggered, snaps["A"].State)
	require.NotNil(t, snaps["A"].BreakoutLevel)
	assert.InDelta(t, 100, *snaps["A"].BreakoutLevel, 0.0001)
	assert.NotEmpty(t, snaps["A"].AsOf)

	// T+1: compra de 1 lot.
	require.NoError(t, f.eng.RunT1(ctx, "2026-01-06", "2026-01-05"))
	snaps, err = f.store.SnapshotsOn(ctx, "2026-01-06")
	require.NoError(t, err)
	require.Equal(t, domain.StateHolding, snaps["A"].State)

	execs, err := f.store.ExecutionsOn(ctx, "2026-01-06")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ActionBuy, execs[0].Action)
	assert.Equal(t, 1, execs[0].Lots)

	positions, err := f.store.LatestPositionsBefore(ctx, "2026-01-07")
	require.NoError(t, err)
	assert.Equal(t, 1, positions["A"].PositionLots)

	// Dos cierres por encima del nivel: CONFIRMED al segundo.
	f.setFacts("2026-01-07", dayFacts("A", "2026-01-07", 101, 900))
	require.NoError(t, f.eng.RunEOD(ctx, "2026-01-07"))
	snaps, _ = f.store.SnapshotsOn(ctx, "2026-01-07")
	assert.Equal(t, domain.StateHolding, snaps["A"].State)
	assert.Equal(t, 1, snaps["A"].ConfirmOKStreak)

	f.setFacts("2026-01-08", dayFacts("A", "2026-01-08", 102, 900))
	require.NoError(t, f.eng.RunEOD(ctx, "2026-01-08"))
	snaps, _ = f.store.SnapshotsOn(ctx, "2026-01-08")
	assert.Equal(t, domain.StateConfirmed, snaps["A"].State)

	// Dos cierres por debajo: FAILED al segundo.
	f.setFacts("2026-01-09", dayFacts("A", "2026-01-09", 95, 900))
	require.NoError(t, f.eng.RunEOD(ctx, "2026-01-09"))
	snaps, _ = f.store.SnapshotsOn(ctx, "2026-01-09")
	assert.Equal(t, domain.StateConfirmed, snaps["A"].State)
	assert.Equal(t, 1, snaps["A"].FailStreak)

	f.setFacts("2026-01-12", dayFacts("A", "2026-01-12", 94, 900))
	require.NoError(t, f.eng.RunEOD(ctx, "2026-01-12"))
	snaps, _ = f.store.SnapshotsOn(ctx, "2026-01-12")
	require.Equal(t, domain.StateFailed, snaps["A"].State)

	// T+1: venta total y entrada en COOLING.
	require.NoError(t, f.eng.RunT1(ctx, "2026-01-13", "2026-01-12"))
	snaps, _ = f.store.SnapshotsOn(ctx, "2026-01-13")
	require.Equal(t, domain.StateCooling, snaps["A"].State)
	assert.Equal(t, 5, snaps["A"].CooldownDaysLeft)
	assert.Nil(t, snaps["A"].BreakoutLevel)

	positions, _ = f.store.LatestPositionsBefore(ctx, "2026-01-14")
	assert.Zero(t, positions["A"].PositionLots)

	// Cinco ticks de cooldown hasta volver a READY.
	coolingDates := []string{"2026-01-14", "2026-01-15", "2026-01-16", "2026-01-19", "2026-01-20"}
	for _, d := range coolingDates {
		f.setFacts(d, dayFacts("A", d, 96, 900))
		require.NoError(t, f.eng.RunEOD(ctx, d))
	}
	snaps, _ = f.store.SnapshotsOn(ctx, "2026-01-20")
	assert.Equal(t, domain.StateReady, snaps["A"].State)
	assert.Zero(t, snaps["A"].CooldownDaysLeft)
	assert.Nil(t, snaps["A"].BreakoutLevel)

	// El audit trail reconstruye el ciclo entero, en orden.
	events, err := f.store.EventsBySymbol(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{
		domain.ReasonBreakout,
		domain.ReasonT1Buy,
		domain.ReasonConfirm,
		domain.ReasonFail,
		domain.ReasonT1Sell,
		domain.ReasonCooldownEnd,
	}, reasonCodes(events))

	assert.NotEmpty(t, f.out.String())
}

// Re-ejecutar ambos pases para las mismas fechas no duplica nada.
func TestRerunsAreIdempotent(t *testing.T) {
	f := newFixture(t, []domain.PoolEntry{
		{Symbol: "A", Name: "Alpha", GroupCode: "G1", MaxLots: 2, IsActive: true},
	})
	ctx := context.Background()

	f.setFacts("2026-01-05", dayFacts("A", "2026-01-05", 110, 2000))
	require.NoError(t, f.eng.RunEOD(ctx, "2026-01-05"))
	require.NoError(t, f.eng.RunEOD(ctx, "2026-01-05"))
	require.NoError(t, f.eng.RunT1(ctx, "2026-01-06", "2026-01-05"))
	require.NoError(t, f.eng.RunT1(ctx, "2026-01-06", "2026-01-05"))

	snaps, err := f.store.SnapshotsOn(ctx, "2026-01-05")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	events, err := f.store.EventsBySymbol(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, events, 2) // BREAKOUT y T1_BUY, una vez cada uno

	execs, err := f.store.ExecutionsOn(ctx, "2026-01-06")
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

// El tope de posición bloquea la compra sin transición ni evento.
func TestCapacityBlockedBuy(t *testing.T) {
	f := newFixture(t, []domain.PoolEntry{
		{Symbol: "Y", Name: "Yankee", GroupCode: "G1", MaxLots: 0, IsActive: true},
	})
	ctx := context.Background()

	f.setFacts("2026-01-05", dayFacts("Y", "2026-01-05", 110, 2000))
	require.NoError(t, f.eng.RunEOD(ctx, "2026-01-05"))
	require.NoError(t, f.eng.RunT1(ctx, "2026-01-06", "2026-01-05"))

	snaps, err := f.store.SnapshotsOn(ctx, "2026-01-06")
	require.NoError(t, err)
	assert.Equal(t, domain.StateTriggered, snaps["Y"].State)

	execs, err := f.store.ExecutionsOn(ctx, "2026-01-06")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ActionNone, execs[0].Action)

	events, err := f.store.EventsBySymbol(ctx, "Y")
	require.NoError(t, err)
	assert.Len(t, events, 1) // solo el BREAKOUT del EOD
}

// Un hueco de hechos aborta el run EOD entero sin escrituras parciales.
func TestMissingFactsAbortRun(t *testing.T) {
	f := newFixture(t, []domain.PoolEntry{
		{Symbol: "A", Name: "Alpha", GroupCode: "G1", MaxLots: 2, IsActive: true},
		{Symbol: "B", Name: "Bravo", GroupCode: "G1", MaxLots: 2, IsActive: true},
	})
	ctx := context.Background()

	// Solo A tiene fila ese día.
	f.setFacts("2026-01-05", dayFacts("A", "2026-01-05", 110, 2000))

	err := f.eng.RunEOD(ctx, "2026-01-05")
	require.Error(t, err)
	var missing *domain.FactsMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"B"}, missing.Symbols)

	snaps, err := f.store.SnapshotsOn(ctx, "2026-01-05")
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

// Los símbolos inactivos no entran al lote.
func TestInactiveSymbolsSkipped(t *testing.T) {
	f := newFixture(t, []domain.PoolEntry{
		{Symbol: "A", Name: "Alpha", GroupCode: "G1", MaxLots: 2, IsActive: true},
		{Symbol: "B", Name: "Bravo", GroupCode: "G1", MaxLots: 2, IsActive: false},
	})
	ctx := context.Background()

	f.setFacts("2026-01-05", dayFacts("A", "2026-01-05", 110, 2000))
	require.NoError(t, f.eng.RunEOD(ctx, "2026-01-05"))

	snaps, err := f.store.SnapshotsOn(ctx, "2026-01-05")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	_, evaluated := snaps["B"]
	assert.False(t, evaluated)
}

func TestTradeDateValidation(t *testing.T) {
	f := newFixture(t, []domain.PoolEntry{
		{Symbol: "A", Name: "Alpha", GroupCode: "G1", MaxLots: 2, IsActive: true},
	})
	ctx := context.Background()

	require.Error(t, f.eng.RunEOD(ctx, "05/01/2026"))
	require.Error(t, f.eng.RunT1(ctx, "2026-01-06", "2026-01-07"))
	require.Error(t, f.eng.RunT1(ctx, "2026-01-06", "2026-01-06"))
	require.Error(t, f.eng.RunT1(ctx, "2026-01-06", "bad-date"))
}
