package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/rotation/internal/adapters/storage"
	"github.com/alejandrodnm/rotation/internal/domain"
	"github.com/alejandrodnm/rotation/internal/ports"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func writeSnapshot(t *testing.T, store *storage.SQLiteStore, snap domain.StateSnapshot) {
	t.Helper()
	err := store.Transact(context.Background(), func(tx ports.RunTx) error {
		return tx.UpsertSnapshot(context.Background(), snap)
	})
	require.NoError(t, err)
}

func fp(v float64) *float64 { return &v }

func TestSyncPoolUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []domain.PoolEntry{
		{Symbol: "300308", Name: "Zhongji", GroupCode: "AI_HARDWARE", MaxLots: 2, IsActive: true},
	}
	require.NoError(t, store.SyncPool(ctx, entries))

	// Re-sync con cambios: misma fila, valores nuevos.
	entries[0].MaxLots = 3
	entries[0].IsActive = false
	require.NoError(t, store.SyncPool(ctx, entries))
	require.NoError(t, store.SyncPool(ctx, entries))
}

func TestUpsertSnapshotIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := domain.StateSnapshot{
		TradeDate:     "2026-01-05",
		Symbol:        "300308",
		State:         domain.StateTriggered,
		BreakoutLevel: fp(100),
		AsOf:          "2026-01-05T16:00:00Z",
	}
	writeSnapshot(t, store, snap)

	// Re-escritura de la misma fecha con estado distinto: una sola fila final.
	snap.State = domain.StateHolding
	snap.ConfirmOKStreak = 1
	writeSnapshot(t, store, snap)

	got, err := store.SnapshotsOn(ctx, "2026-01-05")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.StateHolding, got["300308"].State)
	assert.Equal(t, 1, got["300308"].ConfirmOKStreak)
	require.NotNil(t, got["300308"].BreakoutLevel)
	assert.InDelta(t, 100, *got["300308"].BreakoutLevel, 0.0001)
}

func TestLatestSnapshotsBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writeSnapshot(t, store, domain.StateSnapshot{TradeDate: "2026-01-02", Symbol: "A", State: domain.StateReady})
	writeSnapshot(t, store, domain.StateSnapshot{TradeDate: "2026-01-05", Symbol: "A", State: domain.StateTriggered, BreakoutLevel: fp(90)})
	writeSnapshot(t, store, domain.StateSnapshot{TradeDate: "2026-01-05", Symbol: "B", State: domain.StateCooling, CooldownDaysLeft: 3})
	// Fila en la fecha consultada: no debe verse (estrictamente anterior).
	writeSnapshot(t, store, domain.StateSnapshot{TradeDate: "2026-01-06", Symbol: "A", State: domain.StateHolding, BreakoutLevel: fp(90)})

	got, err := store.LatestSnapshotsBefore(ctx, "2026-01-06")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.StateTriggered, got["A"].State)
	assert.Equal(t, "2026-01-05", got["A"].TradeDate)
	assert.Equal(t, domain.StateCooling, got["B"].State)
	assert.Equal(t, 3, got["B"].CooldownDaysLeft)

	// Símbolo sin historia queda ausente del mapa.
	_, ok := got["C"]
	assert.False(t, ok)
}

func TestInsertEventIfAbsentDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := domain.StateEvent{
		TradeDate:  "2026-01-05",
		Symbol:     "300308",
		EventKind:  domain.EventKindTransition,
		FromState:  domain.StateReady,
		ToState:    domain.StateTriggered,
		ReasonCode: domain.ReasonBreakout,
		ReasonText: "breakout",
		Payload:    `{"close":110}`,
	}
	err := store.Transact(ctx, func(tx ports.RunTx) error {
		if err := tx.InsertEventIfAbsent(ctx, ev); err != nil {
			return err
		}
		// Misma clave lógica, event_id distinto: el segundo insert es un no-op.
		return tx.InsertEventIfAbsent(ctx, ev)
	})
	require.NoError(t, err)

	// Un run repetido tampoco duplica.
	require.NoError(t, store.Transact(ctx, func(tx ports.RunTx) error {
		return tx.InsertEventIfAbsent(ctx, ev)
	}))

	events, err := store.EventsBySymbol(ctx, "300308")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].EventID)
	assert.Equal(t, domain.ReasonBreakout, events[0].ReasonCode)
	assert.Equal(t, domain.StateReady, events[0].FromState)
	assert.Equal(t, domain.StateTriggered, events[0].ToState)

	// Transición distinta en la misma fecha sí se añade.
	ev2 := ev
	ev2.FromState = domain.StateCooling
	ev2.ToState = domain.StateReady
	ev2.ReasonCode = domain.ReasonCooldownEnd
	require.NoError(t, store.Transact(ctx, func(tx ports.RunTx) error {
		return tx.InsertEventIfAbsent(ctx, ev2)
	}))
	events, err = store.EventsBySymbol(ctx, "300308")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestExecutionsClearAndRewrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := domain.ExecutionRecord{
		TradeDate: "2026-01-06",
		Symbol:    "300308",
		Action:    domain.ActionBuy,
		Lots:      1,
		Note:      "T+1 BUY",
	}
	require.NoError(t, store.Transact(ctx, func(tx ports.RunTx) error {
		if err := tx.ClearExecutions(ctx, "2026-01-06"); err != nil {
			return err
		}
		return tx.UpsertExecution(ctx, rec)
	}))

	// Re-run de la fecha: borra y reescribe; sin duplicados.
	rec.Lots = 2
	require.NoError(t, store.Transact(ctx, func(tx ports.RunTx) error {
		if err := tx.ClearExecutions(ctx, "2026-01-06"); err != nil {
			return err
		}
		return tx.UpsertExecution(ctx, rec)
	}))

	execs, err := store.ExecutionsOn(ctx, "2026-01-06")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ActionBuy, execs[0].Action)
	assert.Equal(t, 2, execs[0].Lots)
}

func TestUpsertPositionRejectsNegativeLots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Transact(ctx, func(tx ports.RunTx) error {
		return tx.UpsertPosition(ctx, domain.PositionSnapshot{
			TradeDate:    "2026-01-06",
			Symbol:       "300308",
			PositionLots: -1,
		})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative position_lots")
}

func TestLatestPositionsBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Transact(ctx, func(tx ports.RunTx) error {
		if err := tx.UpsertPosition(ctx, domain.PositionSnapshot{TradeDate: "2026-01-02", Symbol: "A", PositionLots: 1}); err != nil {
			return err
		}
		return tx.UpsertPosition(ctx, domain.PositionSnapshot{TradeDate: "2026-01-05", Symbol: "A", PositionLots: 2, AvgCost: fp(101.5)})
	}))

	got, err := store.LatestPositionsBefore(ctx, "2026-01-06")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got["A"].PositionLots)
	require.NotNil(t, got["A"].AvgCost)
	assert.InDelta(t, 101.5, *got["A"].AvgCost, 0.0001)
}

func TestTransactRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Transact(ctx, func(tx ports.RunTx) error {
		if err := tx.UpsertSnapshot(ctx, domain.StateSnapshot{
			TradeDate: "2026-01-05", Symbol: "A", State: domain.StateTriggered, BreakoutLevel: fp(100),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.SnapshotsOn(ctx, "2026-01-05")
	require.NoError(t, err)
	assert.Empty(t, got, "failed run must leave no partial writes")
}
