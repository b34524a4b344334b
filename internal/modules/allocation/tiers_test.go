package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wildcroft/bng-engine/internal/domain"
)

func TestSelectContractSize(t *testing.T) {
	cases := []struct {
		name    string
		demands []domain.DemandLine
		want    domain.ContractSize
	}{
		{"no area demand", []domain.DemandLine{
			{Ledger: domain.LedgerHedgerow, UnitsRequired: 50},
		}, domain.ContractFractional},
		{"below first threshold", []domain.DemandLine{
			{Ledger: domain.LedgerArea, UnitsRequired: 0.49},
		}, domain.ContractFractional},
		{"at first threshold", []domain.DemandLine{
			{Ledger: domain.LedgerArea, UnitsRequired: 0.5},
		}, domain.ContractSmall},
		{"summed across lines", []domain.DemandLine{
			{Ledger: domain.LedgerArea, UnitsRequired: 1.5},
			{Ledger: domain.LedgerArea, UnitsRequired: 1.5},
		}, domain.ContractMedium},
		{"at top threshold", []domain.DemandLine{
			{Ledger: domain.LedgerArea, UnitsRequired: 10},
		}, domain.ContractLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, selectContractSize(tc.demands, 0.5, 2.5, 10))
		})
	}
}

func TestTierFor_LPAAndNCAAxes(t *testing.T) {
	site := domain.SiteContext{
		LPAName:       "X",
		NCAName:       "N1",
		LPANeighbours: map[string]bool{"Y": true},
		NCANeighbours: map[string]bool{"N2": true},
	}

	cases := []struct {
		name string
		bank domain.Bank
		want domain.Tier
	}{
		{"same LPA", domain.Bank{ID: "B", LPAName: "X"}, domain.TierLocal},
		{"same NCA", domain.Bank{ID: "B", LPAName: "Z", NCAName: "N1"}, domain.TierLocal},
		{"neighbour LPA", domain.Bank{ID: "B", LPAName: "Y"}, domain.TierAdjacent},
		{"neighbour NCA", domain.Bank{ID: "B", LPAName: "Z", NCAName: "N2"}, domain.TierAdjacent},
		{"unrelated", domain.Bank{ID: "B", LPAName: "Z", NCAName: "N9"}, domain.TierFar},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tier, warn := tierFor(tc.bank, site, domain.LedgerArea)
			assert.Equal(t, tc.want, tier)
			assert.Empty(t, warn)
		})
	}
}

func TestTierFor_WatercourseCatchmentAxis(t *testing.T) {
	site := domain.SiteContext{WaterbodyID: "WB-1", OperationalCatchmentID: "OC-1"}

	tier, warn := tierFor(domain.Bank{ID: "B", WaterbodyID: "WB-1", OperationalCatchmentID: "OC-1"}, site, domain.LedgerWatercourse)
	assert.Equal(t, domain.TierLocal, tier)
	assert.Empty(t, warn)

	tier, _ = tierFor(domain.Bank{ID: "B", WaterbodyID: "WB-2", OperationalCatchmentID: "OC-1"}, site, domain.LedgerWatercourse)
	assert.Equal(t, domain.TierAdjacent, tier)

	tier, _ = tierFor(domain.Bank{ID: "B", WaterbodyID: "WB-2", OperationalCatchmentID: "OC-2"}, site, domain.LedgerWatercourse)
	assert.Equal(t, domain.TierFar, tier)
}

func TestTierFor_WatercourseMissingAttributionDegradesToFar(t *testing.T) {
	site := domain.SiteContext{WaterbodyID: "WB-1", OperationalCatchmentID: "OC-1"}

	tier, warn := tierFor(domain.Bank{ID: "B"}, site, domain.LedgerWatercourse)
	assert.Equal(t, domain.TierFar, tier)
	assert.NotEmpty(t, warn)

	tier, warn = tierFor(domain.Bank{ID: "B", WaterbodyID: "WB-1"}, domain.SiteContext{}, domain.LedgerWatercourse)
	assert.Equal(t, domain.TierFar, tier)
	assert.NotEmpty(t, warn)
}

func TestStockUseFor(t *testing.T) {
	assert.InDelta(t, 4.0/3.0, stockUseFor(domain.LedgerArea, domain.TierAdjacent, 4.0/3.0), 1e-9)
	assert.InDelta(t, 2.0, stockUseFor(domain.LedgerHedgerow, domain.TierFar, 2.0), 1e-9)
	assert.InDelta(t, 1.0, stockUseFor(domain.LedgerWatercourse, domain.TierLocal, 1.0), 1e-9)
	assert.InDelta(t, 4.0/3.0, stockUseFor(domain.LedgerWatercourse, domain.TierAdjacent, 4.0/3.0), 1e-9)
	assert.InDelta(t, 2.0, stockUseFor(domain.LedgerWatercourse, domain.TierFar, 2.0), 1e-9)
}
