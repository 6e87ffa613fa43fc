package domain

// State es el estado de un símbolo dentro del ciclo de breakout.
type State string

const (
	StateReady     State = "READY"
	StateTriggered State = "TRIGGERED"
	StateHolding   State = "HOLDING"
	StateConfirmed State = "CONFIRMED"
	StateFailed    State = "FAILED"
	StateCooling   State = "COOLING"
)

// Valid indica si el valor corresponde a un estado conocido.
func (s State) Valid() bool {
	switch s {
	case StateReady, StateTriggered, StateHolding, StateConfirmed, StateFailed, StateCooling:
		return true
	}
	return false
}

// HasBreakoutLevel indica si el estado retiene un nivel de breakout.
// READY y COOLING nunca llevan nivel; el resto siempre.
func (s State) HasBreakoutLevel() bool {
	switch s {
	case StateTriggered, StateHolding, StateConfirmed, StateFailed:
		return true
	}
	return false
}

// Action es la acción de ejecución sugerida en el pase T+1.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionNone Action = "NONE"
)

// StateSnapshot es la foto diaria del estado de un símbolo.
// Clave lógica (trade_date, symbol); upsert idempotente.
type StateSnapshot struct {
	TradeDate        string
	Symbol           string
	State            State
	BreakoutLevel    *float64 // nil fuera de TRIGGERED/HOLDING/CONFIRMED/FAILED
	ConfirmOKStreak  int
	FailStreak       int
	CooldownDaysLeft int
	AsOf             string // timestamp de evaluación, RFC3339
}

// NewReadySnapshot devuelve el estado inicial de un símbolo nunca visto.
func NewReadySnapshot(symbol string) StateSnapshot {
	return StateSnapshot{Symbol: symbol, State: StateReady}
}

// StateEvent es una entrada inmutable del log de transiciones.
// La clave lógica (trade_date, symbol, event_kind, from_state, to_state)
// deduplica inserciones repetidas del mismo evento.
type StateEvent struct {
	EventID    string
	TradeDate  string
	Symbol     string
	EventKind  string
	FromState  State
	ToState    State
	ReasonCode string
	ReasonText string
	Payload    string // evidencia JSON que justificó la transición
	CreatedAt  string
}

// ExecutionRecord es la sugerencia de ejecución emitida en T+1.
// Clave lógica (trade_date, symbol, action); re-ejecutar T+1 para una fecha
// reemplaza los registros de esa fecha, nunca los duplica.
type ExecutionRecord struct {
	TradeDate  string
	Symbol     string
	Action     Action
	Lots       int
	LimitPrice *float64
	Note       string
	Payload    string
}

// PositionSnapshot es la posición en lots tras las ejecuciones de una fecha.
type PositionSnapshot struct {
	TradeDate    string
	Symbol       string
	PositionLots int
	AvgCost      *float64
	AsOf         string
}
