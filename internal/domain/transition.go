package domain

import "encoding/json"

// Rules son los umbrales del ciclo de breakout. Valor inmutable que se pasa
// explícitamente a cada evaluación; nunca estado ambiente.
type Rules struct {
	LookbackHighDays int
	VolMADays        int
	VolMultiplier    float64
	ConfirmDays      int
	FailDays         int
	CooldownDays     int
}

// DefaultRules devuelve los umbrales congelados del ciclo original.
func DefaultRules() Rules {
	return Rules{
		LookbackHighDays: 60,
		VolMADays:        20,
		VolMultiplier:    1.5,
		ConfirmDays:      2,
		FailDays:         2,
		CooldownDays:     5,
	}
}

// EventKindTransition es el único kind de evento emitido: cambios de estado.
// La progresión de streaks sin cruce de umbral se guarda en el snapshot sin
// evento.
const EventKindTransition = "STATE_TRANSITION"

// Códigos de razón de transición.
const (
	ReasonBreakout    = "BREAKOUT"
	ReasonCooldownEnd = "COOLDOWN_END"
	ReasonConfirm     = "CONFIRM_2D"
	ReasonFail        = "FAIL_2D"
	ReasonT1Buy       = "T1_BUY"
	ReasonT1Sell      = "T1_SELL"
	ReasonT1Cooling   = "T1_COOLING"
)

// Transition describe el único cambio de estado posible por pase.
type Transition struct {
	EventKind  string
	From       State
	To         State
	ReasonCode string
	ReasonText string
	Payload    string // evidencia JSON
}

// T1Result agrupa el resultado del pase T+1 de un símbolo.
type T1Result struct {
	Snapshot   StateSnapshot
	Transition *Transition
	Execution  *ExecutionRecord
	// Lots tras aplicar la ejecución; solo válido si Execution != nil.
	PostLots int
}

// EvaluateEOD aplica las reglas del pase EOD: función pura de
// (reglas, estado previo, hechos del día). Devuelve siempre el snapshot
// posterior a la evaluación — los contadores de streak y el descuento de
// cooldown se llevan al snapshot aunque no haya transición — y, como mucho,
// una transición. AsOf queda vacío; lo estampa el orquestador.
func EvaluateEOD(rules Rules, tradeDate string, prior StateSnapshot, facts DailyFacts) (StateSnapshot, *Transition) {
	switch prior.State {
	case StateCooling:
		return evalCooling(tradeDate, prior)
	case StateReady:
		return evalReady(rules, tradeDate, prior, facts)
	case StateHolding, StateConfirmed:
		return evalHeld(rules, tradeDate, prior, facts)
	}
	// TRIGGERED y FAILED se resuelven solo en T+1: carry sin evento.
	return carry(tradeDate, prior), nil
}

func evalCooling(tradeDate string, prior StateSnapshot) (StateSnapshot, *Transition) {
	left := prior.CooldownDaysLeft - 1
	if left > 0 {
		// Tick intermedio: se persiste el descuento, sin evento.
		snap := carry(tradeDate, prior)
		snap.CooldownDaysLeft = left
		return snap, nil
	}
	snap := StateSnapshot{
		TradeDate: tradeDate,
		Symbol:    prior.Symbol,
		State:     StateReady,
	}
	return snap, &Transition{
		EventKind:  EventKindTransition,
		From:       StateCooling,
		To:         StateReady,
		ReasonCode: ReasonCooldownEnd,
		ReasonText: "cooling period ended; back to READY",
		Payload:    marshalPayload(map[string]any{"cooldown_days_left": 0}),
	}
}

func evalReady(rules Rules, tradeDate string, prior StateSnapshot, facts DailyFacts) (StateSnapshot, *Transition) {
	if prior.CooldownDaysLeft != 0 {
		return carry(tradeDate, prior), nil
	}
	breakout := facts.Close > facts.TrailingHigh && facts.Volume > rules.VolMultiplier*facts.TrailingVolumeAvg
	if !breakout {
		return carry(tradeDate, prior), nil
	}
	level := facts.TrailingHigh
	snap := StateSnapshot{
		TradeDate:     tradeDate,
		Symbol:        prior.Symbol,
		State:         StateTriggered,
		BreakoutLevel: &level,
	}
	return snap, &Transition{
		EventKind:  EventKindTransition,
		From:       StateReady,
		To:         StateTriggered,
		ReasonCode: ReasonBreakout,
		ReasonText: "breakout detected: close above trailing high with volume spike",
		Payload: marshalPayload(map[string]any{
			"close":               facts.Close,
			"trailing_high":       facts.TrailingHigh,
			"volume":              facts.Volume,
			"trailing_volume_avg": facts.TrailingVolumeAvg,
			"breakout_level":      level,
		}),
	}
}

func evalHeld(rules Rules, tradeDate string, prior StateSnapshot, facts DailyFacts) (StateSnapshot, *Transition) {
	// Nivel congelado en el trigger; el fallback al trailing high solo cubre
	// snapshots legados sin nivel persistido.
	level := facts.TrailingHigh
	if prior.BreakoutLevel != nil {
		level = *prior.BreakoutLevel
	}

	confirmOK, failStreak := 0, 0
	if facts.Close >= level {
		confirmOK = prior.ConfirmOKStreak + 1
	} else {
		failStreak = prior.FailStreak + 1
	}

	if prior.State == StateHolding && confirmOK >= rules.ConfirmDays {
		snap := StateSnapshot{
			TradeDate:       tradeDate,
			Symbol:          prior.Symbol,
			State:           StateConfirmed,
			BreakoutLevel:   &level,
			ConfirmOKStreak: confirmOK,
		}
		return snap, &Transition{
			EventKind:  EventKindTransition,
			From:       StateHolding,
			To:         StateConfirmed,
			ReasonCode: ReasonConfirm,
			ReasonText: "consecutive closes held above breakout level",
			Payload: marshalPayload(map[string]any{
				"confirm_ok_streak": confirmOK,
				"breakout_level":    level,
				"close":             facts.Close,
			}),
		}
	}

	if failStreak >= rules.FailDays {
		snap := StateSnapshot{
			TradeDate:     tradeDate,
			Symbol:        prior.Symbol,
			State:         StateFailed,
			BreakoutLevel: &level,
			FailStreak:    failStreak,
		}
		return snap, &Transition{
			EventKind:  EventKindTransition,
			From:       prior.State,
			To:         StateFailed,
			ReasonCode: ReasonFail,
			ReasonText: "consecutive closes below breakout level",
			Payload: marshalPayload(map[string]any{
				"fail_streak":    failStreak,
				"breakout_level": level,
				"close":          facts.Close,
			}),
		}
	}

	// Sin cruce de umbral: los contadores actualizados van al snapshot,
	// sin evento.
	snap := carry(tradeDate, prior)
	snap.BreakoutLevel = &level
	snap.ConfirmOKStreak = confirmOK
	snap.FailStreak = failStreak
	return snap, nil
}

// EvaluateT1 aplica las reglas del pase T+1: función pura de
// (reglas, estado previo, posición previa, tope). No consume hechos de precio.
func EvaluateT1(rules Rules, tradeDate string, prior StateSnapshot, priorLots, maxLots int) T1Result {
	switch prior.State {
	case StateTriggered:
		return t1Buy(tradeDate, prior, priorLots, maxLots)
	case StateFailed:
		return t1Sell(rules, tradeDate, prior, priorLots)
	}
	return T1Result{Snapshot: carry(tradeDate, prior)}
}

func t1Buy(tradeDate string, prior StateSnapshot, priorLots, maxLots int) T1Result {
	if maxLots-priorLots <= 0 {
		// Cubo agotado: resultado de negocio esperado, no error. Se registra
		// un NONE explicando por qué no hubo compra; el estado no cambia y
		// no se emite evento.
		return T1Result{
			Snapshot: carry(tradeDate, prior),
			Execution: &ExecutionRecord{
				TradeDate: tradeDate,
				Symbol:    prior.Symbol,
				Action:    ActionNone,
				Lots:      0,
				Note:      "TRIGGERED but position cap prevents BUY",
				Payload:   marshalPayload(map[string]any{"prior_lots": priorLots, "cap": maxLots}),
			},
			PostLots: priorLots,
		}
	}

	payload := marshalPayload(map[string]any{"buy_lots": 1, "prior_lots": priorLots, "cap": maxLots})
	snap := StateSnapshot{
		TradeDate:     tradeDate,
		Symbol:        prior.Symbol,
		State:         StateHolding,
		BreakoutLevel: prior.BreakoutLevel,
	}
	return T1Result{
		Snapshot: snap,
		Transition: &Transition{
			EventKind:  EventKindTransition,
			From:       StateTriggered,
			To:         StateHolding,
			ReasonCode: ReasonT1Buy,
			ReasonText: "T+1 execute BUY after TRIGGERED",
			Payload:    payload,
		},
		Execution: &ExecutionRecord{
			TradeDate: tradeDate,
			Symbol:    prior.Symbol,
			Action:    ActionBuy,
			Lots:      1,
			Note:      "T+1 BUY (confirm-only mode)",
			Payload:   payload,
		},
		PostLots: priorLots + 1,
	}
}

func t1Sell(rules Rules, tradeDate string, prior StateSnapshot, priorLots int) T1Result {
	snap := StateSnapshot{
		TradeDate:        tradeDate,
		Symbol:           prior.Symbol,
		State:            StateCooling,
		CooldownDaysLeft: rules.CooldownDays,
	}

	if priorLots <= 0 {
		payload := marshalPayload(map[string]any{"sell_lots": 0, "prior_lots": 0, "cooldown_days": rules.CooldownDays})
		return T1Result{
			Snapshot: snap,
			Transition: &Transition{
				EventKind:  EventKindTransition,
				From:       StateFailed,
				To:         StateCooling,
				ReasonCode: ReasonT1Cooling,
				ReasonText: "enter cooling after FAILED (no lots to sell)",
				Payload:    payload,
			},
			Execution: &ExecutionRecord{
				TradeDate: tradeDate,
				Symbol:    prior.Symbol,
				Action:    ActionNone,
				Lots:      0,
				Note:      "FAILED but no position; enter COOLING",
				Payload:   payload,
			},
			PostLots: 0,
		}
	}

	payload := marshalPayload(map[string]any{"sell_lots": priorLots, "prior_lots": priorLots, "cooldown_days": rules.CooldownDays})
	return T1Result{
		Snapshot: snap,
		Transition: &Transition{
			EventKind:  EventKindTransition,
			From:       StateFailed,
			To:         StateCooling,
			ReasonCode: ReasonT1Sell,
			ReasonText: "T+1 SELL after FAILED, then enter COOLING",
			Payload:    payload,
		},
		Execution: &ExecutionRecord{
			TradeDate: tradeDate,
			Symbol:    prior.Symbol,
			Action:    ActionSell,
			Lots:      priorLots,
			Note:      "T+1 SELL (exit) then COOLING",
			Payload:   payload,
		},
		PostLots: 0,
	}
}

// carry traslada el estado previo a la fecha evaluada sin cambiarlo.
func carry(tradeDate string, prior StateSnapshot) StateSnapshot {
	snap := prior
	snap.TradeDate = tradeDate
	snap.AsOf = ""
	if !snap.State.HasBreakoutLevel() {
		snap.BreakoutLevel = nil
	}
	return snap
}

// marshalPayload serializa la evidencia de forma determinista (claves
// ordenadas por encoding/json).
func marshalPayload(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
