package ports

import (
	"context"

	"github.com/alejandrodnm/rotation/internal/domain"
)

// FactsProvider entrega los hechos de precio del lote completo para una
// fecha. Si a cualquier símbolo le falta la fila del día o histórico
// suficiente para las estadísticas trailing, falla la llamada entera con un
// error que nombra los símbolos afectados — nunca sustituye defaults ni
// omite en silencio.
type FactsProvider interface {
	GetFacts(ctx context.Context, symbols []string, tradeDate string) (map[string]domain.DailyFacts, error)
}
