package metric

import (
	"fmt"
	"sort"

	"github.com/wildcroft/bng-engine/internal/domain"
)

// applyOffsets nets a ledger's deficits against its on-site surpluses
// under the ledger's trading ladder, emitting one demand line per
// habitat still in deficit. Returns the surplus left over after
// offsetting (available to absorb the net-gain target) and any
// warnings raised.
//
// Consumption is greedy: deficits are served in descending
// distinctiveness order, and each deficit drains eligible surpluses in
// ascending distinctiveness order, so cheap surplus is spent before
// scarce high-band surplus.
func applyOffsets(ledger domain.Ledger, rows []Row) ([]domain.DemandLine, float64, []string) {
	var warnings []string

	var deficits, surpluses []Row
	for _, r := range rows {
		if r.Deficit() {
			deficits = append(deficits, r)
		} else {
			surpluses = append(surpluses, r)
		}
	}

	// Descending band, unknown bands last; ties broken by name so the
	// output is deterministic for identical workbooks.
	sort.SliceStable(deficits, func(i, j int) bool {
		if deficits[i].Band != deficits[j].Band {
			return deficits[i].Band > deficits[j].Band
		}
		return deficits[i].Habitat < deficits[j].Habitat
	})
	sort.SliceStable(surpluses, func(i, j int) bool {
		if surpluses[i].Band != surpluses[j].Band {
			return surpluses[i].Band < surpluses[j].Band
		}
		return surpluses[i].Habitat < surpluses[j].Habitat
	})

	remaining := make([]float64, len(surpluses))
	for i, s := range surpluses {
		remaining[i] = s.Units
	}

	var demands []domain.DemandLine

	for _, d := range deficits {
		need := -d.Units

		if !d.Band.Known() {
			// Never offset a row whose distinctiveness could not be
			// resolved; it flows through as unmet demand.
			warnings = append(warnings, fmt.Sprintf(
				"%s: %s ledger: could not resolve distinctiveness for deficit %q; carried forward without offsetting",
				domain.KindOffsetAmbiguous, ledger, d.Habitat))
			demands = append(demands, domain.DemandLine{
				Ledger:          ledger,
				HabitatName:     d.Habitat,
				UnitsRequired:   need,
				Distinctiveness: domain.DistinctivenessUnknown,
				BroaderType:     d.BroaderType,
			})
			continue
		}

		for i, s := range surpluses {
			if need <= 0 {
				break
			}
			if remaining[i] <= 0 || !s.Band.Known() {
				continue
			}
			if !offsetAllowed(ledger, d, s) {
				continue
			}

			take := need
			if remaining[i] < take {
				take = remaining[i]
			}
			need -= take
			remaining[i] -= take
		}

		if need > 1e-12 {
			demands = append(demands, domain.DemandLine{
				Ledger:          ledger,
				HabitatName:     d.Habitat,
				UnitsRequired:   need,
				Distinctiveness: d.Band,
				BroaderType:     d.BroaderType,
			})
		}
	}

	// Surplus of at least Low band is what the headline target can
	// absorb; unknown and Very Low bands never count towards net gain.
	var surplusLeft float64
	for i, s := range surpluses {
		if s.Band >= domain.Low {
			surplusLeft += remaining[i]
		}
	}

	return demands, surplusLeft, warnings
}

func offsetAllowed(ledger domain.Ledger, deficit, surplus Row) bool {
	switch ledger {
	case domain.LedgerArea:
		return domain.AreaOffsetAllowed(deficit.Habitat, deficit.Band, deficit.BroaderType,
			surplus.Habitat, surplus.Band, surplus.BroaderType)
	case domain.LedgerHedgerow:
		return domain.HedgerowOffsetAllowed(deficit.Band, surplus.Band)
	case domain.LedgerWatercourse:
		return domain.WatercourseOffsetAllowed(deficit.Habitat, deficit.Band, surplus.Habitat, surplus.Band)
	}
	return false
}
