package domain

// SymbolTransition es una transición anotada con su símbolo, para el reporte.
type SymbolTransition struct {
	Symbol string
	Transition
}

// EODReport es el resultado mínimo de un run EOD que consume la capa de
// presentación: snapshots finales en orden determinista y transiciones.
type EODReport struct {
	TradeDate   string
	RunID       string
	Snapshots   []StateSnapshot
	Transitions []SymbolTransition
}

// T1Report es el resultado de un run T+1: estado, lots en cartera y acciones
// sugeridas por símbolo.
type T1Report struct {
	TradeDate   string
	RunID       string
	Snapshots   []StateSnapshot
	Lots        map[string]int
	Executions  []ExecutionRecord
	Transitions []SymbolTransition
}
