package domain

import (
	"fmt"
	"strings"
)

// FactsMissingError indica que el proveedor de hechos no pudo cubrir el lote
// completo: falta la fila del día o no hay histórico suficiente para las
// estadísticas trailing. Aborta el run entero; nunca se sustituyen defaults.
type FactsMissingError struct {
	TradeDate string
	Symbols   []string
}

func (e *FactsMissingError) Error() string {
	return fmt.Sprintf("missing facts on %s for symbols: %s", e.TradeDate, strings.Join(e.Symbols, ", "))
}

// SchemaError indica que un store preexistente tiene una forma que la
// migración aditiva no puede reconciliar (p.ej. falta una columna de
// identidad). Nunca se degrada a default ni se trunca nada.
type SchemaError struct {
	Table  string
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("incompatible schema in table %s: %s", e.Table, e.Detail)
}
