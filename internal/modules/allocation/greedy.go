package allocation

import (
	"sort"

	"github.com/wildcroft/bng-engine/internal/domain"
	"github.com/wildcroft/bng-engine/internal/modules/reference"
)

// solveGreedy covers demand lines in descending distinctiveness then
// descending units order, draining the cheapest candidate options
// first. It always produces an answer; unmet demand is returned as
// shortfalls. Also serves as the optimality oracle for small LP
// instances in tests.
func solveGreedy(snap *reference.Snapshot, options []domain.AllocationOption,
	demands []domain.DemandLine) ([]float64, []domain.Shortfall) {

	stockLeft := map[reference.StockKey]float64{}
	headroom := func(bankID, habitat string) float64 {
		key := reference.StockKey{BankID: bankID, HabitatName: habitat}
		if left, ok := stockLeft[key]; ok {
			return left
		}
		left := snap.SellableStock(bankID, habitat)
		stockLeft[key] = left
		return left
	}
	consume := func(bankID, habitat string, units float64) {
		stockLeft[reference.StockKey{BankID: bankID, HabitatName: habitat}] -= units
	}

	optionsByDemand := make(map[int][]int)
	for i, o := range options {
		optionsByDemand[o.DemandIndex] = append(optionsByDemand[o.DemandIndex], i)
	}

	order := make([]int, len(demands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := demands[order[i]], demands[order[j]]
		if a.Distinctiveness != b.Distinctiveness {
			return a.Distinctiveness > b.Distinctiveness
		}
		return a.UnitsRequired > b.UnitsRequired
	})

	x := make([]float64, len(options))
	var shortfalls []domain.Shortfall

	for _, di := range order {
		demand := demands[di]
		remaining := demand.UnitsRequired
		if remaining <= 0 {
			continue
		}

		candidates := append([]int(nil), optionsByDemand[di]...)
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := options[candidates[i]], options[candidates[j]]
			if a.UnitPrice != b.UnitPrice {
				return a.UnitPrice < b.UnitPrice
			}
			return candidates[i] < candidates[j]
		})

		for _, oi := range candidates {
			if remaining <= 1e-12 {
				break
			}
			o := options[oi]
			take := remaining
			if avail := headroom(o.BankID, o.SupplyHabitat) / o.StockUseRatio; avail < take {
				take = avail
			}
			if o.Companion != nil {
				if avail := headroom(o.BankID, o.Companion.HabitatName) / o.Companion.Weight; avail < take {
					take = avail
				}
			}
			if take <= 1e-12 {
				continue
			}

			x[oi] += take
			consume(o.BankID, o.SupplyHabitat, take*o.StockUseRatio)
			if o.Companion != nil {
				consume(o.BankID, o.Companion.HabitatName, take*o.Companion.Weight)
			}
			remaining -= take
		}

		if remaining > 1e-9 {
			shortfalls = append(shortfalls, domain.Shortfall{
				Ledger:        demand.Ledger,
				HabitatName:   demand.HabitatName,
				UnitsShort:    remaining,
				UnitsRequired: demand.UnitsRequired,
			})
		}
	}

	sort.Slice(shortfalls, func(i, j int) bool {
		if shortfalls[i].Ledger != shortfalls[j].Ledger {
			return shortfalls[i].Ledger < shortfalls[j].Ledger
		}
		return shortfalls[i].HabitatName < shortfalls[j].HabitatName
	})
	return x, shortfalls
}
