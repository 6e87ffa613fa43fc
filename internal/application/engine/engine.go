package engine

// engine.go — orquestador batch del ciclo diario.
//
// Dos pases por día de trading, en este orden: EOD (estado con el cierre del
// propio día) y, al día siguiente, T+1 (ejecución sobre el desenlace del EOD
// anterior). Un pase o se aplica entero o aborta en el primer fallo duro; la
// re-invocación es segura porque todas las escrituras son upserts
// idempotentes.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/rotation/internal/domain"
	"github.com/alejandrodnm/rotation/internal/ports"
)

// Engine secuencia registro, hechos, evaluación pura y persistencia.
type Engine struct {
	rules    domain.Rules
	pool     *domain.Pool
	facts    ports.FactsProvider
	store    ports.Store
	reporter ports.Reporter
	now      func() time.Time
}

// New crea el motor con sus colaboradores.
func New(rules domain.Rules, pool *domain.Pool, facts ports.FactsProvider, store ports.Store, reporter ports.Reporter) *Engine {
	return &Engine{
		rules:    rules,
		pool:     pool,
		facts:    facts,
		store:    store,
		reporter: reporter,
		now:      time.Now,
	}
}

// RunEOD evalúa el estado de todo el pool con el cierre de la fecha dada.
// Un fallo de hechos para cualquier símbolo aborta el run entero: el lote es
// todo-o-nada.
func (e *Engine) RunEOD(ctx context.Context, tradeDate string) error {
	if err := validTradeDate(tradeDate); err != nil {
		return err
	}
	runID := uuid.NewString()
	asof := e.now().UTC().Format(time.RFC3339)
	log := slog.With("run_id", runID, "trade_date", tradeDate, "pass", "eod")

	if err := e.prepare(ctx); err != nil {
		return err
	}

	symbols := e.pool.ActiveSymbols()
	priors, err := e.store.LatestSnapshotsBefore(ctx, tradeDate)
	if err != nil {
		return fmt.Errorf("engine.RunEOD: %w", err)
	}
	factsMap, err := e.facts.GetFacts(ctx, symbols, tradeDate)
	if err != nil {
		return fmt.Errorf("engine.RunEOD: %w", err)
	}

	rep := domain.EODReport{TradeDate: tradeDate, RunID: runID}
	err = e.store.Transact(ctx, func(tx ports.RunTx) error {
		for _, sym := range symbols {
			prior, ok := priors[sym]
			if !ok {
				prior = domain.NewReadySnapshot(sym)
			}
			snap, tr := domain.EvaluateEOD(e.rules, tradeDate, prior, factsMap[sym])
			snap.AsOf = asof
			if err := tx.UpsertSnapshot(ctx, snap); err != nil {
				return err
			}
			if tr != nil {
				if err := tx.InsertEventIfAbsent(ctx, newEvent(sym, tradeDate, *tr)); err != nil {
					return err
				}
				rep.Transitions = append(rep.Transitions, domain.SymbolTransition{Symbol: sym, Transition: *tr})
			}
			rep.Snapshots = append(rep.Snapshots, snap)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("engine.RunEOD: %w", err)
	}

	log.Info("eod pass complete", "symbols", len(symbols), "transitions", len(rep.Transitions))
	return e.reporter.EODSummary(ctx, rep)
}

// RunT1 ejecuta el pase T+1 sobre el desenlace del EOD anterior.
// Si prevTradeDate no está vacío se actúa sobre los snapshots escritos
// exactamente en esa fecha; si no, sobre el último snapshot anterior a
// tradeDate.
func (e *Engine) RunT1(ctx context.Context, tradeDate, prevTradeDate string) error {
	if err := validTradeDate(tradeDate); err != nil {
		return err
	}
	if prevTradeDate != "" {
		if err := validTradeDate(prevTradeDate); err != nil {
			return err
		}
		if prevTradeDate >= tradeDate {
			return fmt.Errorf("engine.RunT1: prev trade date %s is not before %s", prevTradeDate, tradeDate)
		}
	}
	runID := uuid.NewString()
	asof := e.now().UTC().Format(time.RFC3339)
	log := slog.With("run_id", runID, "trade_date", tradeDate, "pass", "t1")

	if err := e.prepare(ctx); err != nil {
		return err
	}

	var priors map[string]domain.StateSnapshot
	var err error
	if prevTradeDate != "" {
		priors, err = e.store.SnapshotsOn(ctx, prevTradeDate)
	} else {
		priors, err = e.store.LatestSnapshotsBefore(ctx, tradeDate)
	}
	if err != nil {
		return fmt.Errorf("engine.RunT1: %w", err)
	}
	positions, err := e.store.LatestPositionsBefore(ctx, tradeDate)
	if err != nil {
		return fmt.Errorf("engine.RunT1: %w", err)
	}

	rep := domain.T1Report{TradeDate: tradeDate, RunID: runID, Lots: make(map[string]int)}
	err = e.store.Transact(ctx, func(tx ports.RunTx) error {
		// Re-ejecutar T+1 para una fecha reescribe sus ejecuciones, nunca
		// acumula restos de runs parciales.
		if err := tx.ClearExecutions(ctx, tradeDate); err != nil {
			return err
		}

		for _, sym := range e.pool.ActiveSymbols() {
			entry, err := e.pool.Entry(sym)
			if err != nil {
				return err
			}
			prior, ok := priors[sym]
			if !ok {
				prior = domain.NewReadySnapshot(sym)
			}
			priorLots := positions[sym].PositionLots

			res := domain.EvaluateT1(e.rules, tradeDate, prior, priorLots, entry.MaxLots)
			res.Snapshot.AsOf = asof
			if err := tx.UpsertSnapshot(ctx, res.Snapshot); err != nil {
				return err
			}
			if res.Transition != nil {
				if err := tx.InsertEventIfAbsent(ctx, newEvent(sym, tradeDate, *res.Transition)); err != nil {
					return err
				}
				rep.Transitions = append(rep.Transitions, domain.SymbolTransition{Symbol: sym, Transition: *res.Transition})
			}

			lots := priorLots
			if res.Execution != nil {
				if err := tx.UpsertExecution(ctx, *res.Execution); err != nil {
					return err
				}
				if err := tx.UpsertPosition(ctx, domain.PositionSnapshot{
					TradeDate:    tradeDate,
					Symbol:       sym,
					PositionLots: res.PostLots,
					AsOf:         asof,
				}); err != nil {
					return err
				}
				rep.Executions = append(rep.Executions, *res.Execution)
				lots = res.PostLots
			}
			rep.Lots[sym] = lots
			rep.Snapshots = append(rep.Snapshots, res.Snapshot)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("engine.RunT1: %w", err)
	}

	log.Info("t1 pass complete", "symbols", len(rep.Snapshots), "executions", len(rep.Executions))
	return e.reporter.T1Summary(ctx, rep)
}

// prepare asegura esquema al día y pool sincronizado antes de cualquier pase.
func (e *Engine) prepare(ctx context.Context) error {
	if err := e.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := e.store.SyncPool(ctx, e.pool.Entries()); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

func newEvent(symbol, tradeDate string, tr domain.Transition) domain.StateEvent {
	return domain.StateEvent{
		EventID:    uuid.NewString(),
		TradeDate:  tradeDate,
		Symbol:     symbol,
		EventKind:  tr.EventKind,
		FromState:  tr.From,
		ToState:    tr.To,
		ReasonCode: tr.ReasonCode,
		ReasonText: tr.ReasonText,
		Payload:    tr.Payload,
	}
}

func validTradeDate(s string) error {
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return fmt.Errorf("engine: invalid trade date %q, expected YYYY-MM-DD", s)
	}
	return nil
}
