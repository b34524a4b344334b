package allocation

import (
	"fmt"

	"github.com/wildcroft/bng-engine/internal/domain"
)

// Watercourse SRMs are inverse yields rather than multipliers: one raw
// unit delivers srm effective units, so each effective unit consumes
// 1/srm raw units.
var watercourseYield = map[domain.Tier]float64{
	domain.TierLocal:    1.0,
	domain.TierAdjacent: 0.75,
	domain.TierFar:      0.5,
}

// Pairing weights per tier: raw stock units consumed per effective unit
// by the main and companion components. Local options are never paired.
var pairedWeights = map[domain.Tier][2]float64{
	domain.TierAdjacent: {0.75, 0.25},
	domain.TierFar:      {0.5, 0.5},
}

// selectContractSize picks the single pricing regime for the job from
// the aggregate effective units demanded in the area ledger.
func selectContractSize(demands []domain.DemandLine, t1, t2, t3 float64) domain.ContractSize {
	var areaUnits float64
	for _, d := range demands {
		if d.Ledger == domain.LedgerArea {
			areaUnits += d.UnitsRequired
		}
	}
	switch {
	case areaUnits < t1:
		return domain.ContractFractional
	case areaUnits < t2:
		return domain.ContractSmall
	case areaUnits < t3:
		return domain.ContractMedium
	default:
		return domain.ContractLarge
	}
}

// tierFor assigns the spatial tier between the site and a bank. Area
// and hedgerow demand tier on the LPA/NCA axes; watercourse demand
// tiers on the waterbody/catchment axis. A watercourse bank with no
// catchment attribution degrades to far with a warning.
func tierFor(bank domain.Bank, site domain.SiteContext, ledger domain.Ledger) (domain.Tier, string) {
	if ledger == domain.LedgerWatercourse {
		if bank.WaterbodyID == "" && bank.OperationalCatchmentID == "" {
			return domain.TierFar, fmt.Sprintf(
				"bank %s has no waterbody or catchment attribution; treated as far", bank.ID)
		}
		if site.WaterbodyID == "" && site.OperationalCatchmentID == "" {
			return domain.TierFar, "site has no waterbody or catchment attribution; watercourse banks treated as far"
		}
		if bank.WaterbodyID != "" && bank.WaterbodyID == site.WaterbodyID {
			return domain.TierLocal, ""
		}
		if bank.OperationalCatchmentID != "" && bank.OperationalCatchmentID == site.OperationalCatchmentID {
			return domain.TierAdjacent, ""
		}
		return domain.TierFar, ""
	}

	if (bank.LPAName != "" && bank.LPAName == site.LPAName) ||
		(bank.NCAName != "" && bank.NCAName == site.NCAName) {
		return domain.TierLocal, ""
	}
	if site.LPANeighbours[bank.LPAName] || site.NCANeighbours[bank.NCAName] {
		return domain.TierAdjacent, ""
	}
	return domain.TierFar, ""
}

// stockUseFor returns the raw stock units consumed per effective unit
// for a normal option at the given tier.
func stockUseFor(ledger domain.Ledger, tier domain.Tier, srm float64) float64 {
	if ledger == domain.LedgerWatercourse {
		return 1.0 / watercourseYield[tier]
	}
	return srm
}
