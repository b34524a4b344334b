package reference

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildcroft/bng-engine/internal/domain"
	testhelpers "github.com/wildcroft/bng-engine/internal/testing"
)

func seedMinimalReference(t *testing.T) (*Repository, func()) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "reference")

	testhelpers.InsertHabitat(t, db, "Grassland - Other neutral grassland", "Grassland", "Medium", "area")
	testhelpers.InsertHabitat(t, db, "Woodland - Other broadleaved", "Woodland", "High", "area")
	testhelpers.InsertBank(t, db, "B1", "Meadow Bank", "Westshire", "Upper Vale")
	testhelpers.InsertStock(t, db, "B1", "Grassland - Other neutral grassland", 10, 1)
	testhelpers.InsertPricing(t, db, "B1", "Grassland - Other neutral grassland", "small", 25000, 27000, 30000)
	testhelpers.SeedSRM(t, db)
	testhelpers.SeedDistinctivenessLevels(t, db)

	return NewRepository(db.Conn(), zerolog.Nop()), cleanup
}

func TestLoadAll_BuildsSnapshot(t *testing.T) {
	repo, cleanup := seedMinimalReference(t)
	defer cleanup()

	snap, err := repo.LoadAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, snap.Habitats, 2)
	assert.Len(t, snap.Banks, 1)
	assert.Equal(t, []string{"B1"}, snap.BankIDs)

	h, ok := snap.Habitat("Grassland - Other neutral grassland")
	require.True(t, ok)
	assert.Equal(t, domain.Medium, h.Distinctiveness)
	assert.Equal(t, domain.LedgerArea, h.Ledger)

	price, ok := snap.PriceFor("B1", "Grassland - Other neutral grassland", domain.ContractSmall, domain.TierLocal)
	require.True(t, ok)
	assert.Equal(t, 25000.0, price)

	// Sellable stock nets out the reservation.
	assert.InDelta(t, 9.0, snap.SellableStock("B1", "Grassland - Other neutral grassland"), 1e-9)

	assert.InDelta(t, 4.0/3.0, snap.SRMFor(domain.TierAdjacent), 1e-12)
}

func TestLoadAll_EmptyTableIsReferenceIncomplete(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "reference")
	defer cleanup()

	// Habitats only; every other required table stays empty.
	testhelpers.InsertHabitat(t, db, "Grassland - Other neutral grassland", "Grassland", "Medium", "area")

	repo := NewRepository(db.Conn(), zerolog.Nop())
	_, err := repo.LoadAll(context.Background())
	require.Error(t, err)

	var kinded *domain.Error
	require.True(t, errors.As(err, &kinded))
	assert.Equal(t, domain.KindReferenceIncomplete, kinded.Kind)
}

func TestLoadAll_DanglingPricingBank(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "reference")
	defer cleanup()

	testhelpers.InsertHabitat(t, db, "Grassland - Other neutral grassland", "Grassland", "Medium", "area")
	testhelpers.InsertBank(t, db, "B1", "Meadow Bank", "Westshire", "Upper Vale")
	testhelpers.InsertStock(t, db, "B1", "Grassland - Other neutral grassland", 10, 0)
	testhelpers.SeedSRM(t, db)
	testhelpers.SeedDistinctivenessLevels(t, db)

	// Pricing points at a bank the registry does not know. The schema's
	// foreign key would normally reject this, so insert directly with FKs off.
	_, err := db.Exec(`PRAGMA foreign_keys = OFF`)
	require.NoError(t, err)
	_, err = db.Exec(
		`INSERT INTO Pricing (bank_id, habitat_name, contract_size, tier, unit_price)
		 VALUES ('GHOST', 'Grassland - Other neutral grassland', 'small', 'local', 100)`)
	require.NoError(t, err)

	repo := NewRepository(db.Conn(), zerolog.Nop())
	_, err = repo.LoadAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindReferenceIncomplete, domain.KindOf(err))
	assert.Contains(t, err.Error(), "GHOST")
}

func TestLoadAll_TradingRulesKeyedByDemand(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "reference")
	defer cleanup()

	testhelpers.InsertHabitat(t, db, "Lowland calcareous grassland", "Grassland", "High", "area")
	testhelpers.InsertHabitat(t, db, "Lowland meadows", "Grassland", "High", "area")
	testhelpers.InsertBank(t, db, "B1", "Meadow Bank", "Westshire", "Upper Vale")
	testhelpers.InsertStock(t, db, "B1", "Lowland meadows", 5, 0)
	testhelpers.InsertPricing(t, db, "B1", "Lowland meadows", "small", 40000, 42000, 45000)
	testhelpers.SeedSRM(t, db)
	testhelpers.SeedDistinctivenessLevels(t, db)
	testhelpers.InsertTradingRule(t, db, "Lowland calcareous grassland", "Lowland meadows", "High", "")

	repo := NewRepository(db.Conn(), zerolog.Nop())
	snap, err := repo.LoadAll(context.Background())
	require.NoError(t, err)

	rules := snap.RulesFor("Lowland calcareous grassland")
	require.Len(t, rules, 1)
	assert.Equal(t, "Lowland meadows", rules[0].SupplyHabitat)
	assert.Equal(t, domain.High, rules[0].MinDistinctiveness)

	assert.Empty(t, snap.RulesFor("Lowland meadows"))
}
