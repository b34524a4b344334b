package allocation

import (
	"sort"

	"github.com/wildcroft/bng-engine/internal/domain"
	"github.com/wildcroft/bng-engine/internal/modules/reference"
)

// supplyLegal decides whether a bank habitat may serve a demand line.
// Explicit trading rules for the demand habitat preempt the default
// ladders entirely: when any rule exists, only the listed supply
// habitats are legal.
func supplyLegal(snap *reference.Snapshot, demand domain.DemandLine, supply domain.Habitat) bool {
	if supply.Ledger != demand.Ledger {
		return false
	}
	rules := snap.RulesFor(demand.HabitatName)
	if len(rules) > 0 {
		for _, rule := range rules {
			if rule.SupplyHabitat != supply.Name {
				continue
			}
			if rule.MinDistinctiveness.Known() && supply.Distinctiveness < rule.MinDistinctiveness {
				continue
			}
			return true
		}
		return false
	}
	return domain.SupplyLegal(demand, supply)
}

// pairingCandidates returns the habitat names legal as a pairing
// companion for a demand line at a bank: any legal supply habitat plus
// any companion an explicit trading rule names.
func pairingCandidates(snap *reference.Snapshot, demand domain.DemandLine, bankID string) []string {
	seen := map[string]bool{}
	var names []string
	for _, row := range snap.StockByBank[bankID] {
		habitat, ok := snap.Habitat(row.HabitatName)
		if !ok || row.Sellable() <= 0 {
			continue
		}
		if supplyLegal(snap, demand, habitat) && !seen[habitat.Name] {
			seen[habitat.Name] = true
			names = append(names, habitat.Name)
		}
	}
	for _, rule := range snap.RulesFor(demand.HabitatName) {
		if rule.CompanionHabitat == "" || seen[rule.CompanionHabitat] {
			continue
		}
		if snap.SellableStock(bankID, rule.CompanionHabitat) <= 0 {
			continue
		}
		seen[rule.CompanionHabitat] = true
		names = append(names, rule.CompanionHabitat)
	}
	sort.Strings(names)
	return names
}

// buildOptions enumerates every legal (demand, bank, supply, tier)
// candidate, normal and paired, pricing each at the job's contract
// size. Options are returned in deterministic order.
func buildOptions(snap *reference.Snapshot, site domain.SiteContext, demands []domain.DemandLine,
	size domain.ContractSize, uplift float64) ([]domain.AllocationOption, []string) {

	var options []domain.AllocationOption
	var warnings []string
	warned := map[string]bool{}

	for _, bankID := range snap.BankIDs {
		bank := snap.Banks[bankID]
		tierByLedger := map[domain.Ledger]domain.Tier{}
		for _, ledger := range domain.Ledgers {
			tier, warn := tierFor(bank, site, ledger)
			tierByLedger[ledger] = tier
			if warn != "" && !warned[warn] {
				warned[warn] = true
				warnings = append(warnings, warn)
			}
		}

		for di, demand := range demands {
			tier := tierByLedger[demand.Ledger]
			srm := snap.SRMFor(tier)

			for _, row := range snap.StockByBank[bankID] {
				if row.Sellable() <= 0 {
					continue
				}
				supply, ok := snap.Habitat(row.HabitatName)
				if !ok || !supplyLegal(snap, demand, supply) {
					continue
				}
				price, ok := snap.PriceFor(bankID, supply.Name, size, tier)
				if !ok {
					continue
				}
				price = applyUplift(price, uplift)

				options = append(options, domain.AllocationOption{
					BankID:        bankID,
					DemandHabitat: demand.HabitatName,
					SupplyHabitat: supply.Name,
					Tier:          tier,
					Kind:          domain.OptionNormal,
					UnitPrice:     price,
					StockUseRatio: stockUseFor(demand.Ledger, tier, srm),
					DemandIndex:   di,
				})

				if paired, ok := bestPairedOption(snap, demand, bankID, supply.Name, tier, size, uplift, price); ok {
					paired.DemandIndex = di
					options = append(options, paired)
				}
			}
		}
	}

	sort.SliceStable(options, func(i, j int) bool {
		a, b := options[i], options[j]
		if a.BankID != b.BankID {
			return a.BankID < b.BankID
		}
		if a.SupplyHabitat != b.SupplyHabitat {
			return a.SupplyHabitat < b.SupplyHabitat
		}
		if a.DemandIndex != b.DemandIndex {
			return a.DemandIndex < b.DemandIndex
		}
		return a.Kind < b.Kind
	})
	return options, warnings
}

// bestPairedOption searches for the companion habitat at the bank that
// minimises the blended price against the given main supply. Paired
// options exist only at adjacent and far tiers, and only when the
// blend undercuts the normal price.
func bestPairedOption(snap *reference.Snapshot, demand domain.DemandLine, bankID, mainHabitat string,
	tier domain.Tier, size domain.ContractSize, uplift, mainPrice float64) (domain.AllocationOption, bool) {

	weights, ok := pairedWeights[tier]
	if !ok {
		return domain.AllocationOption{}, false
	}
	wMain, wCompanion := weights[0], weights[1]

	best := domain.AllocationOption{}
	found := false
	for _, name := range pairingCandidates(snap, demand, bankID) {
		if name == mainHabitat {
			continue
		}
		companionPrice, ok := snap.PriceFor(bankID, name, size, tier)
		if !ok {
			continue
		}
		companionPrice = applyUplift(companionPrice, uplift)
		blended := wMain*mainPrice + wCompanion*companionPrice
		if blended >= mainPrice {
			continue
		}
		if found && blended >= best.UnitPrice {
			continue
		}
		best = domain.AllocationOption{
			BankID:        bankID,
			DemandHabitat: demand.HabitatName,
			SupplyHabitat: mainHabitat,
			Tier:          tier,
			Kind:          domain.OptionPaired,
			UnitPrice:     blended,
			StockUseRatio: wMain,
			Companion: &domain.PairedPart{
				HabitatName: name,
				Weight:      wCompanion,
				UnitPrice:   companionPrice,
			},
		}
		found = true
	}
	return best, found
}

func applyUplift(price, upliftPercent float64) float64 {
	if upliftPercent == 0 {
		return price
	}
	return price * (1 + upliftPercent/100)
}
