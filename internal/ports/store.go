package ports

import (
	"context"

	"github.com/alejandrodnm/rotation/internal/domain"
)

// RunTx agrupa las escrituras de un run bajo una transacción única: o se
// aplican todas o ninguna. Todas las escrituras son upserts idempotentes,
// por lo que re-invocar tras un abort es el mecanismo de reintento.
type RunTx interface {
	// UpsertSnapshot escribe el snapshot de estado de (trade_date, symbol).
	UpsertSnapshot(ctx context.Context, snap domain.StateSnapshot) error

	// InsertEventIfAbsent añade un evento al log append-only. Insertar dos
	// veces el mismo evento lógico es un no-op la segunda vez.
	InsertEventIfAbsent(ctx context.Context, ev domain.StateEvent) error

	// ClearExecutions borra las ejecuciones de la fecha antes de
	// reescribirlas, evitando restos de runs parciales.
	ClearExecutions(ctx context.Context, tradeDate string) error

	// UpsertExecution escribe la ejecución de (trade_date, symbol, action).
	UpsertExecution(ctx context.Context, rec domain.ExecutionRecord) error

	// UpsertPosition escribe la posición de (trade_date, symbol).
	UpsertPosition(ctx context.Context, pos domain.PositionSnapshot) error
}

// Store es el almacenamiento durable del subsistema: snapshots, log de
// eventos, ejecuciones y posiciones.
type Store interface {
	// EnsureSchema crea el esquema si falta y aplica migraciones aditivas
	// sobre stores creados por versiones anteriores.
	EnsureSchema(ctx context.Context) error

	// SyncPool refleja el registro de instrumentos en la tabla pool.
	SyncPool(ctx context.Context, entries []domain.PoolEntry) error

	// LatestSnapshotsBefore devuelve, por símbolo, el último snapshot con
	// trade_date estrictamente anterior a la fecha dada.
	LatestSnapshotsBefore(ctx context.Context, tradeDate string) (map[string]domain.StateSnapshot, error)

	// SnapshotsOn devuelve los snapshots escritos exactamente en la fecha.
	SnapshotsOn(ctx context.Context, tradeDate string) (map[string]domain.StateSnapshot, error)

	// LatestPositionsBefore devuelve, por símbolo, la última posición con
	// trade_date estrictamente anterior a la fecha dada.
	LatestPositionsBefore(ctx context.Context, tradeDate string) (map[string]domain.PositionSnapshot, error)

	// EventsBySymbol devuelve el audit trail de un símbolo en orden de
	// inserción.
	EventsBySymbol(ctx context.Context, symbol string) ([]domain.StateEvent, error)

	// ExecutionsOn devuelve las ejecuciones registradas en la fecha.
	ExecutionsOn(ctx context.Context, tradeDate string) ([]domain.ExecutionRecord, error)

	// Transact ejecuta fn dentro de una transacción; commit si fn devuelve
	// nil, rollback si no.
	Transact(ctx context.Context, fn func(tx RunTx) error) error

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
