package domain

import (
	"fmt"
	"sort"
)

// PoolEntry es un instrumento seguido por el pool, con su tope de posición.
// Inmutable durante un run.
type PoolEntry struct {
	Symbol    string
	Name      string
	GroupCode string
	MaxLots   int
	IsActive  bool
}

// PoolOverride ajusta valores de una entrada existente sin tocar su identidad.
type PoolOverride struct {
	MaxLots  *int
	IsActive *bool
}

// Pool es el registro congelado de instrumentos seguidos.
type Pool struct {
	entries map[string]PoolEntry
}

// NewPool construye el registro a partir de las entradas dadas.
// Rechaza símbolos vacíos, duplicados y topes negativos.
func NewPool(entries []PoolEntry) (*Pool, error) {
	m := make(map[string]PoolEntry, len(entries))
	for _, e := range entries {
		if e.Symbol == "" {
			return nil, fmt.Errorf("domain.NewPool: entry with empty symbol")
		}
		if e.MaxLots < 0 {
			return nil, fmt.Errorf("domain.NewPool: %s: negative max_lots %d", e.Symbol, e.MaxLots)
		}
		if _, dup := m[e.Symbol]; dup {
			return nil, fmt.Errorf("domain.NewPool: duplicate symbol %q", e.Symbol)
		}
		m[e.Symbol] = e
	}
	return &Pool{entries: m}, nil
}

// WithOverrides devuelve un nuevo pool con los ajustes aplicados.
// Un override que referencia un símbolo desconocido es un error de
// configuración, no un warning.
func (p *Pool) WithOverrides(overrides map[string]PoolOverride) (*Pool, error) {
	m := make(map[string]PoolEntry, len(p.entries))
	for sym, e := range p.entries {
		m[sym] = e
	}
	for sym, ov := range overrides {
		cur, ok := m[sym]
		if !ok {
			return nil, fmt.Errorf("domain.Pool: override references unknown symbol %q", sym)
		}
		if ov.MaxLots != nil {
			if *ov.MaxLots < 0 {
				return nil, fmt.Errorf("domain.Pool: override %s: negative max_lots %d", sym, *ov.MaxLots)
			}
			cur.MaxLots = *ov.MaxLots
		}
		if ov.IsActive != nil {
			cur.IsActive = *ov.IsActive
		}
		m[sym] = cur
	}
	return &Pool{entries: m}, nil
}

// ActiveSymbols devuelve los símbolos activos en orden lexicográfico,
// para que la evaluación por lotes sea reproducible.
func (p *Pool) ActiveSymbols() []string {
	out := make([]string, 0, len(p.entries))
	for sym, e := range p.entries {
		if e.IsActive {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Entries devuelve todas las entradas ordenadas por símbolo.
func (p *Pool) Entries() []PoolEntry {
	out := make([]PoolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Entry devuelve la entrada de un símbolo; falla si es desconocido.
func (p *Pool) Entry(symbol string) (PoolEntry, error) {
	e, ok := p.entries[symbol]
	if !ok {
		return PoolEntry{}, fmt.Errorf("domain.Pool: unknown symbol %q", symbol)
	}
	return e, nil
}

// Len devuelve el número de entradas del pool.
func (p *Pool) Len() int { return len(p.entries) }
