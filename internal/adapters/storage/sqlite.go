package storage

// sqlite.go — store durable del ciclo de rotación.
//
// Garantías:
//   - Upserts idempotentes por clave lógica: re-ejecutar una fecha deja la
//     misma fila final, nunca duplicados.
//   - Log de eventos append-only con dedupe por clave lógica en el esquema
//     (índice UNIQUE + ON CONFLICT DO NOTHING), no en código.
//   - Migración aditiva para stores creados por versiones anteriores; las
//     columnas de identidad nunca se inventan.
//   - Las escrituras de un run van en una transacción única (Transact).

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/rotation/internal/domain"
	"github.com/alejandrodnm/rotation/internal/ports"
)

const schema = `
-- Registro de instrumentos seguidos
CREATE TABLE IF NOT EXISTS pool (
    symbol     TEXT PRIMARY KEY,
    name       TEXT,
    group_code TEXT,
    max_lots   INTEGER NOT NULL DEFAULT 0,
    is_active  INTEGER NOT NULL DEFAULT 1,
    created_at TEXT,
    updated_at TEXT
);

-- Snapshot diario de estado (upsert por fecha+símbolo)
CREATE TABLE IF NOT EXISTS state_snapshot (
    trade_date         TEXT NOT NULL,
    symbol             TEXT NOT NULL,
    state              TEXT NOT NULL,
    breakout_level     REAL,
    confirm_ok_streak  INTEGER NOT NULL DEFAULT 0,
    fail_streak        INTEGER NOT NULL DEFAULT 0,
    cooldown_days_left INTEGER NOT NULL DEFAULT 0,
    as_of              TEXT,
    updated_at         TEXT,
    PRIMARY KEY (trade_date, symbol)
);

-- Log de transiciones, append-only (fuente de verdad del audit trail)
CREATE TABLE IF NOT EXISTS state_event (
    event_id    TEXT PRIMARY KEY,
    trade_date  TEXT NOT NULL,
    symbol      TEXT NOT NULL,
    event_kind  TEXT,
    from_state  TEXT,
    to_state    TEXT,
    reason_code TEXT,
    reason_text TEXT,
    payload     TEXT,
    created_at  TEXT
);

-- Sugerencias de ejecución T+1 (se reescriben por fecha)
CREATE TABLE IF NOT EXISTS execution (
    trade_date  TEXT NOT NULL,
    symbol      TEXT NOT NULL,
    action      TEXT NOT NULL,
    lots        INTEGER NOT NULL DEFAULT 0,
    limit_price REAL,
    note        TEXT,
    payload     TEXT,
    created_at  TEXT,
    updated_at  TEXT,
    PRIMARY KEY (trade_date, symbol, action)
);

-- Posición en lots tras las ejecuciones de la fecha
CREATE TABLE IF NOT EXISTS position_snapshot (
    trade_date    TEXT NOT NULL,
    symbol        TEXT NOT NULL,
    position_lots INTEGER NOT NULL DEFAULT 0,
    avg_cost      REAL,
    as_of         TEXT,
    updated_at    TEXT,
    PRIMARY KEY (trade_date, symbol)
);
`

// Índices UNIQUE aparte del schema: también dan target de ON CONFLICT a
// tablas legadas que no tenían la PK compuesta.
const indexes = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_state_event_logical
    ON state_event(trade_date, symbol, event_kind, from_state, to_state);
CREATE UNIQUE INDEX IF NOT EXISTS idx_state_snapshot_key
    ON state_snapshot(trade_date, symbol);
CREATE UNIQUE INDEX IF NOT EXISTS idx_execution_key
    ON execution(trade_date, symbol, action);
CREATE UNIQUE INDEX IF NOT EXISTS idx_position_snapshot_key
    ON position_snapshot(trade_date, symbol);
CREATE INDEX IF NOT EXISTS idx_state_snapshot_symbol_date
    ON state_snapshot(symbol, trade_date);
CREATE INDEX IF NOT EXISTS idx_state_event_symbol_date
    ON state_event(symbol, trade_date);
CREATE INDEX IF NOT EXISTS idx_position_symbol_date
    ON position_snapshot(symbol, trade_date);
`

// SQLiteStore implementa ports.Store usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

var _ ports.Store = (*SQLiteStore)(nil)

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)
	return &SQLiteStore{db: db}, nil
}

// EnsureSchema aplica el esquema actual y migra aditivamente stores antiguos.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage.EnsureSchema: apply schema: %w", err)
	}
	if err := migrate(ctx, s.db); err != nil {
		return fmt.Errorf("storage.EnsureSchema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, indexes); err != nil {
		return fmt.Errorf("storage.EnsureSchema: apply indexes: %w", err)
	}
	return nil
}

// SyncPool refleja el registro de instrumentos en la tabla pool.
func (s *SQLiteStore) SyncPool(ctx context.Context, entries []domain.PoolEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SyncPool: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pool (symbol, name, group_code, max_lots, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'), datetime('now'))
		ON CONFLICT(symbol) DO UPDATE SET
			name       = excluded.name,
			group_code = excluded.group_code,
			max_lots   = excluded.max_lots,
			is_active  = excluded.is_active,
			updated_at = datetime('now')
	`)
	if err != nil {
		return fmt.Errorf("storage.SyncPool: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		active := 0
		if e.IsActive {
			active = 1
		}
		if _, err := stmt.ExecContext(ctx, e.Symbol, e.Name, e.GroupCode, e.MaxLots, active); err != nil {
			return fmt.Errorf("storage.SyncPool: upsert %s: %w", e.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SyncPool: commit: %w", err)
	}
	return nil
}

// LatestSnapshotsBefore devuelve el último snapshot por símbolo con
// trade_date estrictamente anterior a la fecha dada.
func (s *SQLiteStore) LatestSnapshotsBefore(ctx context.Context, tradeDate string) (map[string]domain.StateSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.trade_date, s.symbol, s.state, s.breakout_level,
		       s.confirm_ok_streak, s.fail_streak, s.cooldown_days_left, COALESCE(s.as_of, '')
		FROM state_snapshot s
		JOIN (
			SELECT symbol, MAX(trade_date) AS max_date
			FROM state_snapshot
			WHERE trade_date < ?
			GROUP BY symbol
		) m ON s.symbol = m.symbol AND s.trade_date = m.max_date
	`, tradeDate)
	if err != nil {
		return nil, fmt.Errorf("storage.LatestSnapshotsBefore: query: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// SnapshotsOn devuelve los snapshots escritos exactamente en la fecha dada.
func (s *SQLiteStore) SnapshotsOn(ctx context.Context, tradeDate string) (map[string]domain.StateSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_date, symbol, state, breakout_level,
		       confirm_ok_streak, fail_streak, cooldown_days_left, COALESCE(as_of, '')
		FROM state_snapshot
		WHERE trade_date = ?
	`, tradeDate)
	if err != nil {
		return nil, fmt.Errorf("storage.SnapshotsOn: query: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func scanSnapshots(rows *sql.Rows) (map[string]domain.StateSnapshot, error) {
	out := make(map[string]domain.StateSnapshot)
	for rows.Next() {
		var snap domain.StateSnapshot
		var state string
		var level sql.NullFloat64
		if err := rows.Scan(&snap.TradeDate, &snap.Symbol, &state, &level,
			&snap.ConfirmOKStreak, &snap.FailStreak, &snap.CooldownDaysLeft, &snap.AsOf); err != nil {
			return nil, fmt.Errorf("storage: scan snapshot: %w", err)
		}
		snap.State = domain.State(state)
		if level.Valid {
			v := level.Float64
			snap.BreakoutLevel = &v
		}
		out[snap.Symbol] = snap
	}
	return out, rows.Err()
}

// LatestPositionsBefore devuelve la última posición por símbolo con
// trade_date estrictamente anterior a la fecha dada.
func (s *SQLiteStore) LatestPositionsBefore(ctx context.Context, tradeDate string) (map[string]domain.PositionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.trade_date, p.symbol, p.position_lots, p.avg_cost, COALESCE(p.as_of, '')
		FROM position_snapshot p
		JOIN (
			SELECT symbol, MAX(trade_date) AS max_date
			FROM position_snapshot
			WHERE trade_date < ?
			GROUP BY symbol
		) m ON p.symbol = m.symbol AND p.trade_date = m.max_date
	`, tradeDate)
	if err != nil {
		return nil, fmt.Errorf("storage.LatestPositionsBefore: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.PositionSnapshot)
	for rows.Next() {
		var pos domain.PositionSnapshot
		var cost sql.NullFloat64
		if err := rows.Scan(&pos.TradeDate, &pos.Symbol, &pos.PositionLots, &cost, &pos.AsOf); err != nil {
			return nil, fmt.Errorf("storage.LatestPositionsBefore: scan: %w", err)
		}
		if cost.Valid {
			v := cost.Float64
			pos.AvgCost = &v
		}
		out[pos.Symbol] = pos
	}
	return out, rows.Err()
}

// EventsBySymbol devuelve el audit trail de un símbolo en orden de inserción.
func (s *SQLiteStore) EventsBySymbol(ctx context.Context, symbol string) ([]domain.StateEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, trade_date, symbol,
		       COALESCE(event_kind, ''), COALESCE(from_state, ''), COALESCE(to_state, ''),
		       COALESCE(reason_code, ''), COALESCE(reason_text, ''), COALESCE(payload, ''),
		       COALESCE(created_at, '')
		FROM state_event
		WHERE symbol = ?
		ORDER BY trade_date, rowid
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("storage.EventsBySymbol: query: %w", err)
	}
	defer rows.Close()

	var out []domain.StateEvent
	for rows.Next() {
		var ev domain.StateEvent
		var from, to string
		if err := rows.Scan(&ev.EventID, &ev.TradeDate, &ev.Symbol, &ev.EventKind,
			&from, &to, &ev.ReasonCode, &ev.ReasonText, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage.EventsBySymbol: scan: %w", err)
		}
		ev.FromState = domain.State(from)
		ev.ToState = domain.State(to)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ExecutionsOn devuelve las ejecuciones registradas en la fecha dada.
func (s *SQLiteStore) ExecutionsOn(ctx context.Context, tradeDate string) ([]domain.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_date, symbol, action, lots, limit_price,
		       COALESCE(note, ''), COALESCE(payload, '')
		FROM execution
		WHERE trade_date = ?
		ORDER BY symbol, action
	`, tradeDate)
	if err != nil {
		return nil, fmt.Errorf("storage.ExecutionsOn: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var action string
		var limit sql.NullFloat64
		if err := rows.Scan(&rec.TradeDate, &rec.Symbol, &action, &rec.Lots, &limit, &rec.Note, &rec.Payload); err != nil {
			return nil, fmt.Errorf("storage.ExecutionsOn: scan: %w", err)
		}
		rec.Action = domain.Action(action)
		if limit.Valid {
			v := limit.Float64
			rec.LimitPrice = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Transact ejecuta fn dentro de una transacción única. Si fn falla se hace
// rollback completo: un run o se aplica entero o no deja nada a medias.
func (s *SQLiteStore) Transact(ctx context.Context, fn func(tx ports.RunTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Transact: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&runTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Transact: commit: %w", err)
	}
	return nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runTx implementa ports.RunTx sobre una transacción abierta.
type runTx struct {
	tx *sql.Tx
}

func (t *runTx) UpsertSnapshot(ctx context.Context, snap domain.StateSnapshot) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO state_snapshot
			(trade_date, symbol, state, breakout_level, confirm_ok_streak,
			 fail_streak, cooldown_days_left, as_of, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(trade_date, symbol) DO UPDATE SET
			state              = excluded.state,
			breakout_level     = excluded.breakout_level,
			confirm_ok_streak  = excluded.confirm_ok_streak,
			fail_streak        = excluded.fail_streak,
			cooldown_days_left = excluded.cooldown_days_left,
			as_of              = excluded.as_of,
			updated_at         = datetime('now')
	`, snap.TradeDate, snap.Symbol, string(snap.State), nullFloat(snap.BreakoutLevel),
		snap.ConfirmOKStreak, snap.FailStreak, snap.CooldownDaysLeft, snap.AsOf)
	if err != nil {
		return fmt.Errorf("storage.UpsertSnapshot: %s/%s: %w", snap.TradeDate, snap.Symbol, err)
	}
	return nil
}

func (t *runTx) InsertEventIfAbsent(ctx context.Context, ev domain.StateEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO state_event
			(event_id, trade_date, symbol, event_kind, from_state, to_state,
			 reason_code, reason_text, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(trade_date, symbol, event_kind, from_state, to_state) DO NOTHING
	`, ev.EventID, ev.TradeDate, ev.Symbol, ev.EventKind, string(ev.FromState),
		string(ev.ToState), ev.ReasonCode, ev.ReasonText, ev.Payload)
	if err != nil {
		return fmt.Errorf("storage.InsertEventIfAbsent: %s/%s: %w", ev.TradeDate, ev.Symbol, err)
	}
	return nil
}

func (t *runTx) ClearExecutions(ctx context.Context, tradeDate string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM execution WHERE trade_date = ?`, tradeDate); err != nil {
		return fmt.Errorf("storage.ClearExecutions: %s: %w", tradeDate, err)
	}
	return nil
}

func (t *runTx) UpsertExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO execution
			(trade_date, symbol, action, lots, limit_price, note, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))
		ON CONFLICT(trade_date, symbol, action) DO UPDATE SET
			lots        = excluded.lots,
			limit_price = excluded.limit_price,
			note        = excluded.note,
			payload     = excluded.payload,
			updated_at  = datetime('now')
	`, rec.TradeDate, rec.Symbol, string(rec.Action), rec.Lots, nullFloat(rec.LimitPrice), rec.Note, rec.Payload)
	if err != nil {
		return fmt.Errorf("storage.UpsertExecution: %s/%s: %w", rec.TradeDate, rec.Symbol, err)
	}
	return nil
}

func (t *runTx) UpsertPosition(ctx context.Context, pos domain.PositionSnapshot) error {
	if pos.PositionLots < 0 {
		return fmt.Errorf("storage.UpsertPosition: %s/%s: negative position_lots %d",
			pos.TradeDate, pos.Symbol, pos.PositionLots)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO position_snapshot
			(trade_date, symbol, position_lots, avg_cost, as_of, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(trade_date, symbol) DO UPDATE SET
			position_lots = excluded.position_lots,
			avg_cost      = excluded.avg_cost,
			as_of         = excluded.as_of,
			updated_at    = datetime('now')
	`, pos.TradeDate, pos.Symbol, pos.PositionLots, nullFloat(pos.AvgCost), pos.AsOf)
	if err != nil {
		return fmt.Errorf("storage.UpsertPosition: %s/%s: %w", pos.TradeDate, pos.Symbol, err)
	}
	return nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
