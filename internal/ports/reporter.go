package ports

import (
	"context"

	"github.com/alejandrodnm/rotation/internal/domain"
)

// Reporter presenta el resumen de un run. La salida debe ser determinista y
// no vacía aunque no haya transiciones ni ejecuciones.
type Reporter interface {
	EODSummary(ctx context.Context, rep domain.EODReport) error
	T1Summary(ctx context.Context, rep domain.T1Report) error
}
