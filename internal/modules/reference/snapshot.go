// Package reference loads and caches the habitat catalog, bank registry,
// pricing, stock, trading rules, and multiplier tables. A job takes one
// immutable Snapshot at start and works against it for its whole life;
// refreshes swap the snapshot pointer atomically and never block readers.
package reference

import (
	"time"

	"github.com/wildcroft/bng-engine/internal/domain"
)

// PriceKey addresses one cell of the pricing table.
type PriceKey struct {
	BankID       string
	HabitatName  string
	ContractSize domain.ContractSize
	Tier         domain.Tier
}

// StockKey addresses one (bank, habitat) stock row.
type StockKey struct {
	BankID      string
	HabitatName string
}

// Snapshot is a point-in-time, read-only view of the reference tables.
// All maps are built once at load and never mutated afterwards.
type Snapshot struct {
	Habitats            map[string]domain.Habitat
	Banks               map[string]domain.Bank
	BankIDs             []string // Sorted, for deterministic iteration
	Stock               map[StockKey]domain.StockRow
	StockByBank         map[string][]domain.StockRow
	Pricing             map[PriceKey]float64
	TradingRules        map[string][]domain.TradingRule // Keyed by demand habitat
	SRM                 map[domain.Tier]float64
	DistinctivenessRank map[string]int

	LoadedAt time.Time
}

// Habitat returns the catalog entry for a habitat name.
func (s *Snapshot) Habitat(name string) (domain.Habitat, bool) {
	h, ok := s.Habitats[name]
	return h, ok
}

// PriceFor looks up the unit price for a pricing cell. The second return
// is false when the bank does not price that habitat at that size/tier,
// in which case the candidate option must be discarded.
func (s *Snapshot) PriceFor(bankID, habitat string, size domain.ContractSize, tier domain.Tier) (float64, bool) {
	p, ok := s.Pricing[PriceKey{BankID: bankID, HabitatName: habitat, ContractSize: size, Tier: tier}]
	return p, ok
}

// SellableStock returns the consumable headroom for a (bank, habitat).
func (s *Snapshot) SellableStock(bankID, habitat string) float64 {
	row, ok := s.Stock[StockKey{BankID: bankID, HabitatName: habitat}]
	if !ok {
		return 0
	}
	return row.Sellable()
}

// RulesFor returns the explicit trading rules for a demand habitat.
// A non-empty result means trading for that habitat is rule-scoped.
func (s *Snapshot) RulesFor(demandHabitat string) []domain.TradingRule {
	return s.TradingRules[demandHabitat]
}

// SRMFor returns the spatial risk multiplier for a tier, defaulting to
// the standard multipliers when the SRM table omits the tier.
func (s *Snapshot) SRMFor(tier domain.Tier) float64 {
	if m, ok := s.SRM[tier]; ok {
		return m
	}
	switch tier {
	case domain.TierAdjacent:
		return 4.0 / 3.0
	case domain.TierFar:
		return 2.0
	default:
		return 1.0
	}
}

// Age returns how long ago the snapshot was loaded.
func (s *Snapshot) Age() time.Duration {
	return time.Since(s.LoadedAt)
}
