package allocation

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/wildcroft/bng-engine/internal/domain"
	"github.com/wildcroft/bng-engine/internal/modules/reference"
)

// costEpsilon is the deterministic nudge added per option so that
// equal-cost optima resolve to the lexicographically first candidate
// by (bank_id, habitat). Small enough never to flip a real price gap.
const costEpsilon = 1e-7

var errNoCoverage = errors.New("a demand line has no candidate options")

// stockConstraint is one capacity row of the LP: the (bank, habitat)
// it guards and the raw-unit consumption coefficient of each option
// touching it.
type stockConstraint struct {
	key      reference.StockKey
	capacity float64
	coeffs   map[int]float64 // option index -> stock use
}

// buildStockConstraints collects the per-(bank, habitat) capacity rows
// over both main and companion components, in deterministic key order.
func buildStockConstraints(snap *reference.Snapshot, options []domain.AllocationOption) []stockConstraint {
	byKey := map[reference.StockKey]*stockConstraint{}
	touch := func(key reference.StockKey, optionIdx int, use float64) {
		c, ok := byKey[key]
		if !ok {
			c = &stockConstraint{
				key:      key,
				capacity: snap.SellableStock(key.BankID, key.HabitatName),
				coeffs:   map[int]float64{},
			}
			byKey[key] = c
		}
		c.coeffs[optionIdx] += use
	}

	for i, o := range options {
		touch(reference.StockKey{BankID: o.BankID, HabitatName: o.SupplyHabitat}, i, o.StockUseRatio)
		if o.Companion != nil {
			touch(reference.StockKey{BankID: o.BankID, HabitatName: o.Companion.HabitatName}, i, o.Companion.Weight)
		}
	}

	constraints := make([]stockConstraint, 0, len(byKey))
	for _, c := range byKey {
		constraints = append(constraints, *c)
	}
	sort.Slice(constraints, func(i, j int) bool {
		a, b := constraints[i].key, constraints[j].key
		if a.BankID != b.BankID {
			return a.BankID < b.BankID
		}
		return a.HabitatName < b.HabitatName
	})
	return constraints
}

// solveLP formulates the allocation as a standard-form linear program
// and solves it with simplex. Variables are the effective units drawn
// per option plus one slack per stock constraint; demand rows are
// equalities, stock rows are inequalities closed by their slack.
// Returns the per-option effective units.
func solveLP(snap *reference.Snapshot, options []domain.AllocationOption,
	demands []domain.DemandLine) ([]float64, error) {

	served := make([]bool, len(demands))
	for _, o := range options {
		served[o.DemandIndex] = true
	}
	for i, d := range demands {
		if !served[i] && d.UnitsRequired > 0 {
			return nil, errNoCoverage
		}
	}

	constraints := buildStockConstraints(snap, options)
	nOpts := len(options)
	nVars := nOpts + len(constraints)
	nRows := len(demands) + len(constraints)

	c := make([]float64, nVars)
	for i, o := range options {
		c[i] = o.UnitPrice + costEpsilon*float64(i+1)
	}

	a := mat.NewDense(nRows, nVars, nil)
	b := make([]float64, nRows)

	for i, o := range options {
		a.Set(o.DemandIndex, i, 1)
	}
	for i, d := range demands {
		b[i] = d.UnitsRequired
	}

	for k, con := range constraints {
		row := len(demands) + k
		for optionIdx, use := range con.coeffs {
			a.Set(row, optionIdx, use)
		}
		a.Set(row, nOpts+k, 1)
		b[row] = con.capacity
	}

	_, x, err := lp.Simplex(c, a, b, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("simplex: %w", err)
	}
	return x[:nOpts], nil
}
