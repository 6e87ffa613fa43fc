package domain

// DailyFacts son los hechos de precio de un (símbolo, fecha) usados por la
// evaluación EOD. Las estadísticas trailing se computan sobre ventanas que
// excluyen la propia fecha de evaluación, para no sesgar el umbral de
// breakout con el día que se está evaluando.
//
// Se calculan frescos en cada run a partir del histórico externo; este
// subsistema los consume, nunca los persiste.
type DailyFacts struct {
	Symbol    string
	TradeDate string

	Close  float64
	Volume float64

	// Máximo de cierres de los últimos N días estrictamente anteriores.
	TrailingHigh float64
	// Media de volumen de los últimos M días estrictamente anteriores.
	TrailingVolumeAvg float64

	// Filas de histórico cargadas, para diagnóstico.
	RowsLoaded int
}
