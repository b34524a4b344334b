// Package metric converts a biodiversity-metric workbook into canonical
// per-ledger demand lists. On-site offsets are applied here, under the
// ledger-specific trading ladders, so the demand the allocation engine
// sees is already net of permissible on-site compensation.
package metric

import (
	"github.com/wildcroft/bng-engine/internal/domain"
)

// Row is one habitat line lifted from a trading-summary sheet.
// Units is the per-project net unit change: negative is a deficit the
// buyer must compensate, positive is an on-site surplus.
type Row struct {
	Habitat     string
	Band        domain.Distinctiveness
	BroaderType string
	Units       float64
}

// Deficit reports whether the row is a net loss.
func (r Row) Deficit() bool { return r.Units < 0 }

// headline is the net-gain requirement read from the Headline Results
// sheet for one ledger.
type headline struct {
	BaselineUnits float64
	TargetPercent float64 // Fraction, e.g. 0.10 for a 10% target
}

// ParseResult is the parser's output: demand lists per ledger plus the
// warnings accumulated along the way (missing sheets, unresolvable
// distinctiveness bands, unreadable cells).
type ParseResult struct {
	Demands  map[domain.Ledger][]domain.DemandLine
	Warnings []string
}

// AllDemands flattens the per-ledger lists in canonical ledger order.
func (p *ParseResult) AllDemands() []domain.DemandLine {
	var out []domain.DemandLine
	for _, ledger := range domain.Ledgers {
		out = append(out, p.Demands[ledger]...)
	}
	return out
}

// HabitatLookup resolves habitat names against the catalog. The
// reference snapshot satisfies this interface.
type HabitatLookup interface {
	Habitat(name string) (domain.Habitat, bool)
}
