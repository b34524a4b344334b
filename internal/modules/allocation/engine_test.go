package allocation

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildcroft/bng-engine/internal/config"
	"github.com/wildcroft/bng-engine/internal/domain"
	"github.com/wildcroft/bng-engine/internal/modules/reference"
)

// snapBuilder assembles in-memory snapshots for engine tests without a
// database round-trip.
type snapBuilder struct {
	snap *reference.Snapshot
}

func newSnapBuilder() *snapBuilder {
	return &snapBuilder{snap: &reference.Snapshot{
		Habitats:     map[string]domain.Habitat{},
		Banks:        map[string]domain.Bank{},
		Stock:        map[reference.StockKey]domain.StockRow{},
		StockByBank:  map[string][]domain.StockRow{},
		Pricing:      map[reference.PriceKey]float64{},
		TradingRules: map[string][]domain.TradingRule{},
		SRM: map[domain.Tier]float64{
			domain.TierLocal:    1.0,
			domain.TierAdjacent: 4.0 / 3.0,
			domain.TierFar:      2.0,
		},
		LoadedAt: time.Now(),
	}}
}

func (b *snapBuilder) habitat(name, broader string, band domain.Distinctiveness, ledger domain.Ledger) *snapBuilder {
	b.snap.Habitats[name] = domain.Habitat{Name: name, BroaderType: broader, Distinctiveness: band, Ledger: ledger}
	return b
}

func (b *snapBuilder) bank(bank domain.Bank) *snapBuilder {
	b.snap.Banks[bank.ID] = bank
	b.snap.BankIDs = append(b.snap.BankIDs, bank.ID)
	sort.Strings(b.snap.BankIDs)
	return b
}

func (b *snapBuilder) stock(bankID, habitat string, available float64) *snapBuilder {
	row := domain.StockRow{BankID: bankID, HabitatName: habitat, AvailableUnits: available}
	b.snap.Stock[reference.StockKey{BankID: bankID, HabitatName: habitat}] = row
	b.snap.StockByBank[bankID] = append(b.snap.StockByBank[bankID], row)
	return b
}

func (b *snapBuilder) price(bankID, habitat string, size domain.ContractSize, tier domain.Tier, price float64) *snapBuilder {
	b.snap.Pricing[reference.PriceKey{BankID: bankID, HabitatName: habitat, ContractSize: size, Tier: tier}] = price
	return b
}

func (b *snapBuilder) rule(rule domain.TradingRule) *snapBuilder {
	b.snap.TradingRules[rule.DemandHabitat] = append(b.snap.TradingRules[rule.DemandHabitat], rule)
	return b
}

func defaultParams() Params {
	return Params{ContractT1: 0.5, ContractT2: 2.5, ContractT3: 10, Solver: config.SolverLPFirst}
}

func runEngine(t *testing.T, snap *reference.Snapshot, site domain.SiteContext,
	demands []domain.DemandLine, params Params) domain.AllocationReport {
	t.Helper()
	report, err := NewEngine(zerolog.Nop()).Run(context.Background(), snap, site, demands, params)
	require.NoError(t, err)
	assertReportInvariants(t, snap, report)
	return report
}

// assertReportInvariants checks the bookkeeping every report must
// satisfy regardless of scenario: cost derivation, stock limits, and
// paired weight consistency.
func assertReportInvariants(t *testing.T, snap *reference.Snapshot, report domain.AllocationReport) {
	t.Helper()

	stockUsed := map[reference.StockKey]float64{}
	var total float64
	for _, row := range report.Allocations {
		assert.InDelta(t, row.UnitsSupplied*row.UnitPrice, row.Cost, 1e-6, "cost must derive from units and price")
		stockUsed[reference.StockKey{BankID: row.BankID, HabitatName: row.SupplyHabitat}] += row.StockUnitsConsumed
		total += row.Cost

		if row.Kind == domain.OptionPaired {
			require.Len(t, row.PairedParts, 2)
			assert.InDelta(t, 1.0, row.PairedParts[0].Weight+row.PairedParts[1].Weight, 1e-9)
		}
	}
	assert.InDelta(t, total, report.TotalCost, 1e-6)

	for key, used := range stockUsed {
		assert.LessOrEqual(t, used, snap.SellableStock(key.BankID, key.HabitatName)+1e-9,
			"stock overdrawn at %s/%s", key.BankID, key.HabitatName)
	}
}

func siteInLPA(lpa string) domain.SiteContext {
	return domain.SiteContext{LPAName: lpa, LPANeighbours: map[string]bool{}, NCANeighbours: map[string]bool{}}
}

func TestRun_LocalSameHabitat(t *testing.T) {
	const habitat = "Grassland - Other neutral grassland"
	snap := newSnapBuilder().
		habitat(habitat, "Grassland", domain.Medium, domain.LedgerArea).
		bank(domain.Bank{ID: "B1", LPAName: "X"}).
		stock("B1", habitat, 10).
		price("B1", habitat, domain.ContractSmall, domain.TierLocal, 25000).
		snap

	report := runEngine(t, snap, siteInLPA("X"), []domain.DemandLine{{
		Ledger: domain.LedgerArea, HabitatName: habitat, UnitsRequired: 0.50,
		Distinctiveness: domain.Medium, BroaderType: "Grassland",
	}}, defaultParams())

	require.Len(t, report.Allocations, 1)
	row := report.Allocations[0]
	assert.Equal(t, "B1", row.BankID)
	assert.Equal(t, domain.TierLocal, row.Tier)
	assert.InDelta(t, 0.50, row.UnitsSupplied, 1e-9)
	assert.InDelta(t, 0.50, row.StockUnitsConsumed, 1e-9)
	assert.InDelta(t, 12500, row.Cost, 1e-6)
	assert.InDelta(t, 12500, report.TotalCost, 1e-6)
	assert.Equal(t, domain.ContractSmall, report.ContractSize)
	assert.Equal(t, "lp", report.Solver)
	assert.Empty(t, report.Shortfalls)
}

func TestRun_AdjacentPairedSubstitute(t *testing.T) {
	const (
		demandHabitat = "Individual trees - Urban Tree"
		orchard       = "Traditional Orchard"
		scrub         = "Mixed Scrub"
	)
	snap := newSnapBuilder().
		habitat(demandHabitat, "Individual trees", domain.Medium, domain.LedgerArea).
		habitat(orchard, "Woodland and forest", domain.High, domain.LedgerArea).
		habitat(scrub, "Heathland and shrub", domain.Medium, domain.LedgerArea).
		bank(domain.Bank{ID: "B1", LPAName: "Y"}).
		stock("B1", orchard, 1.0).
		stock("B1", scrub, 1.0).
		price("B1", orchard, domain.ContractFractional, domain.TierAdjacent, 32800).
		price("B1", scrub, domain.ContractFractional, domain.TierAdjacent, 20000).
		rule(domain.TradingRule{DemandHabitat: demandHabitat, SupplyHabitat: orchard, CompanionHabitat: scrub}).
		snap

	site := domain.SiteContext{
		LPAName:       "X",
		LPANeighbours: map[string]bool{"Y": true},
		NCANeighbours: map[string]bool{},
	}
	report := runEngine(t, snap, site, []domain.DemandLine{{
		Ledger: domain.LedgerArea, HabitatName: demandHabitat, UnitsRequired: 0.07,
		Distinctiveness: domain.Medium, BroaderType: "Individual trees",
	}}, defaultParams())

	require.Len(t, report.Allocations, 2)
	assert.InDelta(t, 2072, report.TotalCost, 1e-6)

	main, companion := report.Allocations[0], report.Allocations[1]
	if main.SupplyHabitat != orchard {
		main, companion = companion, main
	}
	assert.Equal(t, domain.OptionPaired, main.Kind)
	assert.InDelta(t, 0.0525, main.UnitsSupplied, 1e-9)
	assert.InDelta(t, 0.0525, main.StockUnitsConsumed, 1e-9)
	assert.InDelta(t, 0.07, main.EffectiveUnits, 1e-9)
	assert.InDelta(t, 1722, main.Cost, 1e-6)

	assert.Equal(t, scrub, companion.SupplyHabitat)
	assert.InDelta(t, 0.0175, companion.UnitsSupplied, 1e-9)
	assert.InDelta(t, 350, companion.Cost, 1e-6)
}

func TestRun_FarWatercourseOutsideCatchment(t *testing.T) {
	const habitat = "Rivers and streams"
	snap := newSnapBuilder().
		habitat(habitat, "Watercourses", domain.High, domain.LedgerWatercourse).
		bank(domain.Bank{ID: "B1", WaterbodyID: "WB-2", OperationalCatchmentID: "OC-2"}).
		stock("B1", habitat, 5).
		price("B1", habitat, domain.ContractFractional, domain.TierFar, 40000).
		snap

	site := domain.SiteContext{
		LPAName: "X", WaterbodyID: "WB-1", OperationalCatchmentID: "OC-1",
		LPANeighbours: map[string]bool{}, NCANeighbours: map[string]bool{},
	}
	report := runEngine(t, snap, site, []domain.DemandLine{{
		Ledger: domain.LedgerWatercourse, HabitatName: habitat, UnitsRequired: 1.0,
		Distinctiveness: domain.High,
	}}, defaultParams())

	require.Len(t, report.Allocations, 1)
	row := report.Allocations[0]
	assert.Equal(t, domain.TierFar, row.Tier)
	assert.InDelta(t, 1.0, row.UnitsSupplied, 1e-9)
	assert.InDelta(t, 2.0, row.StockUnitsConsumed, 1e-9)
	assert.InDelta(t, 40000, row.Cost, 1e-6)
}

func TestRun_TradingRuleScopesSupply(t *testing.T) {
	snap := newSnapBuilder().
		habitat("Lowland meadow", "Grassland", domain.High, domain.LedgerArea).
		habitat("Allowed supply", "Grassland", domain.High, domain.LedgerArea).
		habitat("Better but forbidden", "Grassland", domain.VeryHigh, domain.LedgerArea).
		bank(domain.Bank{ID: "B1", LPAName: "X"}).
		stock("B1", "Allowed supply", 10).
		stock("B1", "Better but forbidden", 10).
		price("B1", "Allowed supply", domain.ContractSmall, domain.TierLocal, 30000).
		price("B1", "Better but forbidden", domain.ContractSmall, domain.TierLocal, 10000).
		rule(domain.TradingRule{DemandHabitat: "Lowland meadow", SupplyHabitat: "Allowed supply"}).
		snap

	report := runEngine(t, snap, siteInLPA("X"), []domain.DemandLine{{
		Ledger: domain.LedgerArea, HabitatName: "Lowland meadow", UnitsRequired: 1.0,
		Distinctiveness: domain.High, BroaderType: "Grassland",
	}}, defaultParams())

	require.Len(t, report.Allocations, 1)
	assert.Equal(t, "Allowed supply", report.Allocations[0].SupplyHabitat)
}

func TestRun_InfeasibleByStockReportsShortfall(t *testing.T) {
	const habitat = "Grassland - Other neutral grassland"
	snap := newSnapBuilder().
		habitat(habitat, "Grassland", domain.Medium, domain.LedgerArea).
		bank(domain.Bank{ID: "B1", LPAName: "X"}).
		bank(domain.Bank{ID: "B2", LPAName: "X"}).
		stock("B1", habitat, 4).
		stock("B2", habitat, 2).
		price("B1", habitat, domain.ContractLarge, domain.TierLocal, 25000).
		price("B2", habitat, domain.ContractLarge, domain.TierLocal, 26000).
		snap

	report := runEngine(t, snap, siteInLPA("X"), []domain.DemandLine{{
		Ledger: domain.LedgerArea, HabitatName: habitat, UnitsRequired: 10,
		Distinctiveness: domain.Medium, BroaderType: "Grassland",
	}}, defaultParams())

	assert.Equal(t, "greedy", report.Solver)
	require.Len(t, report.Shortfalls, 1)
	assert.InDelta(t, 4, report.Shortfalls[0].UnitsShort, 1e-9)
	assert.InDelta(t, 10, report.Shortfalls[0].UnitsRequired, 1e-9)

	var allocated float64
	for _, row := range report.Allocations {
		allocated += row.EffectiveUnits
	}
	assert.InDelta(t, 6, allocated, 1e-9)
}

func TestRun_SplitsAcrossBanksOnCapacity(t *testing.T) {
	const habitat = "Lowland meadow"
	snap := newSnapBuilder().
		habitat(habitat, "Grassland", domain.High, domain.LedgerArea).
		bank(domain.Bank{ID: "A", LPAName: "X"}).
		bank(domain.Bank{ID: "B", LPAName: "X"}).
		stock("A", habitat, 2).
		stock("B", habitat, 10).
		price("A", habitat, domain.ContractMedium, domain.TierLocal, 10000).
		price("B", habitat, domain.ContractMedium, domain.TierLocal, 12000).
		snap

	report := runEngine(t, snap, siteInLPA("X"), []domain.DemandLine{{
		Ledger: domain.LedgerArea, HabitatName: habitat, UnitsRequired: 5,
		Distinctiveness: domain.High, BroaderType: "Grassland",
	}}, defaultParams())

	assert.Equal(t, "lp", report.Solver)
	require.Len(t, report.Allocations, 2)
	assert.Equal(t, "A", report.Allocations[0].BankID)
	assert.InDelta(t, 2, report.Allocations[0].UnitsSupplied, 1e-9)
	assert.Equal(t, "B", report.Allocations[1].BankID)
	assert.InDelta(t, 3, report.Allocations[1].UnitsSupplied, 1e-9)
	assert.InDelta(t, 2*10000+3*12000, report.TotalCost, 1e-6)
}

func TestRun_ZeroDemand(t *testing.T) {
	snap := newSnapBuilder().snap
	report := runEngine(t, snap, siteInLPA("X"), nil, defaultParams())
	assert.Empty(t, report.Allocations)
	assert.Zero(t, report.TotalCost)
}

func TestRun_TinyDemandRoundsUp(t *testing.T) {
	const habitat = "Lowland meadow"
	snap := newSnapBuilder().
		habitat(habitat, "Grassland", domain.High, domain.LedgerArea).
		bank(domain.Bank{ID: "B1", LPAName: "X"}).
		stock("B1", habitat, 1).
		price("B1", habitat, domain.ContractFractional, domain.TierLocal, 20000).
		snap

	report := runEngine(t, snap, siteInLPA("X"), []domain.DemandLine{{
		Ledger: domain.LedgerArea, HabitatName: habitat, UnitsRequired: 0.001,
		Distinctiveness: domain.High, BroaderType: "Grassland",
	}}, defaultParams())

	require.Len(t, report.Allocations, 1)
	assert.InDelta(t, 0.01, report.Allocations[0].UnitsSupplied, 1e-12)
	assert.InDelta(t, 200, report.Allocations[0].Cost, 1e-9)
}

func TestRun_NoCandidatesIsInfeasible(t *testing.T) {
	snap := newSnapBuilder().
		habitat("Lowland meadow", "Grassland", domain.High, domain.LedgerArea).
		bank(domain.Bank{ID: "B1", LPAName: "X"}).
		snap

	_, err := NewEngine(zerolog.Nop()).Run(context.Background(), snap, siteInLPA("X"), []domain.DemandLine{{
		Ledger: domain.LedgerArea, HabitatName: "Lowland meadow", UnitsRequired: 1,
		Distinctiveness: domain.High, BroaderType: "Grassland",
	}}, defaultParams())
	require.Error(t, err)
	assert.Equal(t, domain.KindInfeasible, domain.KindOf(err))
}

// On instances where every demand has one obvious cheapest path, the
// LP and the greedy pass must agree; greedy doubles as the oracle.
func TestRun_LPMatchesGreedyOracle(t *testing.T) {
	const habitat = "Lowland meadow"
	build := func() *reference.Snapshot {
		return newSnapBuilder().
			habitat(habitat, "Grassland", domain.High, domain.LedgerArea).
			bank(domain.Bank{ID: "A", LPAName: "X"}).
			bank(domain.Bank{ID: "B", LPAName: "X"}).
			stock("A", habitat, 10).
			stock("B", habitat, 10).
			price("A", habitat, domain.ContractSmall, domain.TierLocal, 18000).
			price("B", habitat, domain.ContractSmall, domain.TierLocal, 21000).
			snap
	}
	demands := []domain.DemandLine{{
		Ledger: domain.LedgerArea, HabitatName: habitat, UnitsRequired: 2,
		Distinctiveness: domain.High, BroaderType: "Grassland",
	}}

	lpParams := defaultParams()
	greedyParams := defaultParams()
	greedyParams.Solver = config.SolverGreedyOnly

	lpReport := runEngine(t, build(), siteInLPA("X"), demands, lpParams)
	greedyReport := runEngine(t, build(), siteInLPA("X"), demands, greedyParams)

	assert.Equal(t, "lp", lpReport.Solver)
	assert.Equal(t, "greedy", greedyReport.Solver)
	assert.InDelta(t, lpReport.TotalCost, greedyReport.TotalCost, 1e-6)
	assert.Equal(t, lpReport.Allocations, greedyReport.Allocations)
}

func TestRun_PriceUplift(t *testing.T) {
	const habitat = "Lowland meadow"
	snap := newSnapBuilder().
		habitat(habitat, "Grassland", domain.High, domain.LedgerArea).
		bank(domain.Bank{ID: "B1", LPAName: "X"}).
		stock("B1", habitat, 5).
		price("B1", habitat, domain.ContractSmall, domain.TierLocal, 20000).
		snap

	params := defaultParams()
	params.PriceUpliftPercent = 10

	report := runEngine(t, snap, siteInLPA("X"), []domain.DemandLine{{
		Ledger: domain.LedgerArea, HabitatName: habitat, UnitsRequired: 1,
		Distinctiveness: domain.High, BroaderType: "Grassland",
	}}, params)

	require.Len(t, report.Allocations, 1)
	assert.InDelta(t, 22000, report.Allocations[0].UnitPrice, 1e-9)
	assert.InDelta(t, 22000, report.TotalCost, 1e-6)
}
