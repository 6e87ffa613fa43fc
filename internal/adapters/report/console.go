package report

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/rotation/internal/domain"
	"github.com/alejandrodnm/rotation/internal/ports"
)

// Console implementa ports.Reporter escribiendo el resumen del run en texto
// plano determinista: una línea por símbolo, más las transiciones y
// ejecuciones del día. Salida no vacía aunque no haya acciones.
type Console struct {
	out io.Writer
}

var _ ports.Reporter = (*Console)(nil)

// NewConsole crea un reporter que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un reporter para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// EODSummary imprime el snapshot de estado tras el pase EOD.
func (c *Console) EODSummary(_ context.Context, rep domain.EODReport) error {
	fmt.Fprintf(c.out, "EOD %s\n\n", rep.TradeDate)

	table := tablewriter.NewWriter(c.out)
	table.Header("Symbol", "State", "Breakout", "Cooldown", "OK streak", "Fail streak")
	for _, snap := range rep.Snapshots {
		table.Append(
			snap.Symbol,
			string(snap.State),
			fmtLevel(snap.BreakoutLevel),
			fmt.Sprintf("%d", snap.CooldownDaysLeft),
			fmt.Sprintf("%d", snap.ConfirmOKStreak),
			fmt.Sprintf("%d", snap.FailStreak),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "\nTransitions: %d\n", len(rep.Transitions))
	if len(rep.Transitions) == 0 {
		fmt.Fprintln(c.out, "- (none) no state transitions on this date")
	}
	for _, t := range rep.Transitions {
		fmt.Fprintf(c.out, "- %s %s -> %s | %s | %s\n", t.Symbol, t.From, t.To, t.ReasonCode, t.ReasonText)
	}
	return nil
}

// T1Summary imprime el plan de ejecución del pase T+1.
func (c *Console) T1Summary(_ context.Context, rep domain.T1Report) error {
	fmt.Fprintf(c.out, "T+1 %s\n\n", rep.TradeDate)

	table := tablewriter.NewWriter(c.out)
	table.Header("Symbol", "State", "Lots", "Action", "Exec lots", "Note")
	execBySymbol := make(map[string]domain.ExecutionRecord, len(rep.Executions))
	for _, e := range rep.Executions {
		execBySymbol[e.Symbol] = e
	}
	for _, snap := range rep.Snapshots {
		action, lots, note := "-", "-", ""
		if e, ok := execBySymbol[snap.Symbol]; ok {
			action = string(e.Action)
			lots = fmt.Sprintf("%d", e.Lots)
			note = e.Note
		}
		table.Append(
			snap.Symbol,
			string(snap.State),
			fmt.Sprintf("%d", rep.Lots[snap.Symbol]),
			action,
			lots,
			note,
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "\nExecution plan: %d\n", len(rep.Executions))
	if len(rep.Executions) == 0 {
		fmt.Fprintln(c.out, "- (none) no BUY/SELL actions for this date based on current state")
	}
	for _, e := range rep.Executions {
		fmt.Fprintf(c.out, "- %s %s %d lots @ %s | %s\n", e.Symbol, e.Action, e.Lots, fmtPrice(e.LimitPrice), e.Note)
	}

	fmt.Fprintf(c.out, "\nState transitions: %d\n", len(rep.Transitions))
	if len(rep.Transitions) == 0 {
		fmt.Fprintln(c.out, "- (none) no state transitions written on T+1")
	}
	for _, t := range rep.Transitions {
		fmt.Fprintf(c.out, "- %s %s -> %s | %s | %s\n", t.Symbol, t.From, t.To, t.ReasonCode, t.ReasonText)
	}
	return nil
}

func fmtLevel(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4g", *v)
}

func fmtPrice(v *float64) string {
	if v == nil {
		return "MKT"
	}
	return fmt.Sprintf("%.4g", *v)
}
