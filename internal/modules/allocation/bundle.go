package allocation

import (
	"math"
	"sort"

	"github.com/wildcroft/bng-engine/internal/domain"
)

// groupKey identifies one bundle of selected options. Demand habitat is
// part of the key so every output row stays attributable to the demand
// line it serves.
type groupKey struct {
	BankID        string
	DemandHabitat string
	SupplyHabitat string
	Tier          domain.Tier
	Kind          domain.OptionKind
	Companion     string
}

type group struct {
	option         domain.AllocationOption
	effectiveUnits float64
}

// ceilToHundredth rounds up to the nearest 0.01. The small slack keeps
// exact multiples of 0.01 from bumping a step due to float noise.
func ceilToHundredth(v float64) float64 {
	return math.Ceil(v*100-1e-9) / 100
}

// bundle turns the solver's per-option effective units into allocation
// rows: group, round up once to 0.01, split paired components, and
// re-derive cost from the rounded units.
func bundle(options []domain.AllocationOption, x []float64) ([]domain.AllocationRow, float64) {
	groups := map[groupKey]*group{}
	for i, o := range options {
		if x[i] <= 1e-12 {
			continue
		}
		key := groupKey{
			BankID:        o.BankID,
			DemandHabitat: o.DemandHabitat,
			SupplyHabitat: o.SupplyHabitat,
			Tier:          o.Tier,
			Kind:          o.Kind,
		}
		if o.Companion != nil {
			key.Companion = o.Companion.HabitatName
		}
		g, ok := groups[key]
		if !ok {
			g = &group{option: o}
			groups[key] = g
		}
		g.effectiveUnits += x[i]
	}

	rows := make([]domain.AllocationRow, 0, len(groups))
	for _, g := range groups {
		effective := ceilToHundredth(g.effectiveUnits)
		if g.option.Kind == domain.OptionPaired {
			rows = append(rows, pairedRows(g.option, effective)...)
			continue
		}
		o := g.option
		rows = append(rows, domain.AllocationRow{
			BankID:             o.BankID,
			DemandHabitat:      o.DemandHabitat,
			SupplyHabitat:      o.SupplyHabitat,
			Tier:               o.Tier,
			Kind:               domain.OptionNormal,
			UnitsSupplied:      effective,
			EffectiveUnits:     effective,
			StockUnitsConsumed: effective * o.StockUseRatio,
			UnitPrice:          o.UnitPrice,
			Cost:               effective * o.UnitPrice,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.BankID != b.BankID {
			return a.BankID < b.BankID
		}
		if a.DemandHabitat != b.DemandHabitat {
			return a.DemandHabitat < b.DemandHabitat
		}
		if a.SupplyHabitat != b.SupplyHabitat {
			return a.SupplyHabitat < b.SupplyHabitat
		}
		return a.Kind < b.Kind
	})

	var total float64
	for _, row := range rows {
		total += row.Cost
	}
	return rows, total
}

// pairedRows splits a bundled paired option into its two component
// rows. Weights are raw stock units per effective unit, so a
// component's units supplied and stock consumed coincide; the main
// component's own price is recovered from the blend.
func pairedRows(o domain.AllocationOption, effective float64) []domain.AllocationRow {
	wMain := o.StockUseRatio
	companion := *o.Companion

	mainPrice := (o.UnitPrice - companion.Weight*companion.UnitPrice) / wMain
	mainUnits := effective * wMain
	companionUnits := effective * companion.Weight

	parts := []domain.PairedPart{
		{HabitatName: o.SupplyHabitat, Weight: wMain, UnitPrice: mainPrice, UnitsSupplied: mainUnits},
		{HabitatName: companion.HabitatName, Weight: companion.Weight, UnitPrice: companion.UnitPrice, UnitsSupplied: companionUnits},
	}

	return []domain.AllocationRow{
		{
			BankID:             o.BankID,
			DemandHabitat:      o.DemandHabitat,
			SupplyHabitat:      o.SupplyHabitat,
			Tier:               o.Tier,
			Kind:               domain.OptionPaired,
			UnitsSupplied:      mainUnits,
			EffectiveUnits:     effective,
			StockUnitsConsumed: mainUnits,
			UnitPrice:          mainPrice,
			Cost:               mainUnits * mainPrice,
			PairedParts:        parts,
		},
		{
			BankID:             o.BankID,
			DemandHabitat:      o.DemandHabitat,
			SupplyHabitat:      companion.HabitatName,
			Tier:               o.Tier,
			Kind:               domain.OptionPaired,
			UnitsSupplied:      companionUnits,
			EffectiveUnits:     effective,
			StockUnitsConsumed: companionUnits,
			UnitPrice:          companion.UnitPrice,
			Cost:               companionUnits * companion.UnitPrice,
			PairedParts:        parts,
		},
	}
}
