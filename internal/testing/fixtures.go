package testing

import (
	"testing"

	"github.com/wildcroft/bng-engine/internal/database"
)

// InsertHabitat adds a row to the HabitatCatalog table.
func InsertHabitat(t *testing.T, db *database.DB, name, broaderType, distinctiveness, umbrellaType string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO HabitatCatalog (habitat_name, broader_type, distinctiveness, umbrella_type) VALUES (?, ?, ?, ?)`,
		name, broaderType, distinctiveness, umbrellaType,
	)
	if err != nil {
		t.Fatalf("Failed to insert habitat %s: %v", name, err)
	}
}

// InsertBank adds a row to the Banks table.
func InsertBank(t *testing.T, db *database.DB, bankID, bankName, lpaName, ncaName string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO Banks (bank_id, bank_name, lpa_name, nca_name) VALUES (?, ?, ?, ?)`,
		bankID, bankName, lpaName, ncaName,
	)
	if err != nil {
		t.Fatalf("Failed to insert bank %s: %v", bankID, err)
	}
}

// InsertWatercourseBank adds a bank with waterbody and catchment identifiers.
func InsertWatercourseBank(t *testing.T, db *database.DB, bankID, bankName, lpaName, ncaName, waterbodyID, catchmentID string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO Banks (bank_id, bank_name, lpa_name, nca_name, waterbody_id, operational_catchment_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		bankID, bankName, lpaName, ncaName, waterbodyID, catchmentID,
	)
	if err != nil {
		t.Fatalf("Failed to insert watercourse bank %s: %v", bankID, err)
	}
}

// InsertStock adds a row to the Stock table.
func InsertStock(t *testing.T, db *database.DB, bankID, habitat string, available, reserved float64) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO Stock (bank_id, habitat_name, available_units, reserved_units) VALUES (?, ?, ?, ?)`,
		bankID, habitat, available, reserved,
	)
	if err != nil {
		t.Fatalf("Failed to insert stock %s/%s: %v", bankID, habitat, err)
	}
}

// InsertPricing adds a pricing row for every tier at the given contract size.
func InsertPricing(t *testing.T, db *database.DB, bankID, habitat, contractSize string, local, adjacent, far float64) {
	t.Helper()
	for tier, price := range map[string]float64{"local": local, "adjacent": adjacent, "far": far} {
		_, err := db.Exec(
			`INSERT INTO Pricing (bank_id, habitat_name, contract_size, tier, unit_price) VALUES (?, ?, ?, ?, ?)`,
			bankID, habitat, contractSize, tier, price,
		)
		if err != nil {
			t.Fatalf("Failed to insert pricing %s/%s/%s: %v", bankID, habitat, tier, err)
		}
	}
}

// InsertTradingRule adds a row to the TradingRules table.
func InsertTradingRule(t *testing.T, db *database.DB, demandHabitat, allowedSupply, minDistinctiveness, companion string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO TradingRules (demand_habitat, allowed_supply, min_distinctiveness, companion_habitat)
		 VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
		demandHabitat, allowedSupply, minDistinctiveness, companion,
	)
	if err != nil {
		t.Fatalf("Failed to insert trading rule %s->%s: %v", demandHabitat, allowedSupply, err)
	}
}

// SeedSRM inserts the default spatial risk multipliers.
func SeedSRM(t *testing.T, db *database.DB) {
	t.Helper()
	for tier, mult := range map[string]float64{"local": 1.0, "adjacent": 4.0 / 3.0, "far": 2.0} {
		if _, err := db.Exec(`INSERT INTO SRM (tier, multiplier) VALUES (?, ?)`, tier, mult); err != nil {
			t.Fatalf("Failed to seed SRM %s: %v", tier, err)
		}
	}
}

// SeedDistinctivenessLevels inserts the standard five-band ladder.
func SeedDistinctivenessLevels(t *testing.T, db *database.DB) {
	t.Helper()
	levels := []struct {
		name string
		rank int
	}{
		{"Very Low", 1}, {"Low", 2}, {"Medium", 3}, {"High", 4}, {"Very High", 5},
	}
	for _, l := range levels {
		if _, err := db.Exec(`INSERT INTO DistinctivenessLevels (name, rank) VALUES (?, ?)`, l.name, l.rank); err != nil {
			t.Fatalf("Failed to seed distinctiveness level %s: %v", l.name, err)
		}
	}
}
