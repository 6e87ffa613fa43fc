package storage

// migrate.go — migración aditiva para stores preexistentes.
//
// Un DB creado por una versión anterior puede tener tablas con columnas de
// menos. La migración introspecciona las columnas presentes (PRAGMA
// table_info) y añade las que falten con defaults deterministas. Las
// columnas de identidad no se pueden inventar: si faltan, el store es
// incompatible y se aborta sin tocar datos.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/alejandrodnm/rotation/internal/domain"
)

// schemaVersion sube cada vez que se añade una columna al esquema.
const schemaVersion = 2

type tableMigration struct {
	table    string
	identity []string          // columnas que deben existir ya
	addable  map[string]string // columna → tipo con default determinista
}

var tableMigrations = []tableMigration{
	{
		table:    "pool",
		identity: []string{"symbol"},
		addable: map[string]string{
			"name":       "TEXT",
			"group_code": "TEXT",
			"max_lots":   "INTEGER DEFAULT 0",
			"is_active":  "INTEGER DEFAULT 1",
			"created_at": "TEXT",
			"updated_at": "TEXT",
		},
	},
	{
		table:    "state_snapshot",
		identity: []string{"trade_date", "symbol", "state"},
		addable: map[string]string{
			"breakout_level":     "REAL",
			"confirm_ok_streak":  "INTEGER DEFAULT 0",
			"fail_streak":        "INTEGER DEFAULT 0",
			"cooldown_days_left": "INTEGER DEFAULT 0",
			"as_of":              "TEXT",
			"updated_at":         "TEXT",
		},
	},
	{
		table:    "state_event",
		identity: []string{"event_id", "trade_date", "symbol"},
		addable: map[string]string{
			"event_kind":  "TEXT",
			"from_state":  "TEXT",
			"to_state":    "TEXT",
			"reason_code": "TEXT",
			"reason_text": "TEXT",
			"payload":     "TEXT",
			"created_at":  "TEXT",
		},
	},
	{
		table:    "execution",
		identity: []string{"trade_date", "symbol", "action"},
		addable: map[string]string{
			"lots":        "INTEGER DEFAULT 0",
			"limit_price": "REAL",
			"note":        "TEXT",
			"payload":     "TEXT",
			"created_at":  "TEXT",
			"updated_at":  "TEXT",
		},
	},
	{
		table:    "position_snapshot",
		identity: []string{"trade_date", "symbol"},
		addable: map[string]string{
			"position_lots": "INTEGER DEFAULT 0",
			"avg_cost":      "REAL",
			"as_of":         "TEXT",
			"updated_at":    "TEXT",
		},
	},
}

// migrate aplica las migraciones aditivas pendientes según PRAGMA user_version.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("migrate: read user_version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	for _, m := range tableMigrations {
		cols, err := tableColumns(ctx, db, m.table)
		if err != nil {
			return err
		}
		for _, id := range m.identity {
			if !cols[id] {
				return &domain.SchemaError{
					Table:  m.table,
					Detail: fmt.Sprintf("missing identity column %q; additive migration cannot reconcile it", id),
				}
			}
		}
		for col, typ := range m.addable {
			if cols[col] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, col, typ)
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate: %s: add column %s: %w", m.table, col, err)
			}
		}
	}

	// PRAGMA no acepta binds; schemaVersion es una constante del paquete.
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("migrate: set user_version: %w", err)
	}
	return nil
}

// tableColumns devuelve el set de columnas presentes en la tabla.
func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("migrate: table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("migrate: scan table_info %s: %w", table, err)
		}
		cols[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, &domain.SchemaError{Table: table, Detail: "table is missing"}
	}
	return cols, nil
}
