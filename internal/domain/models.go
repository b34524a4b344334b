// Package domain holds the core value types shared by every module:
// habitats, banks, stock, pricing, demand, site context, and the
// allocation report. The types are persistence-agnostic; repositories
// in the reference module hydrate them from sqlite.
package domain

import (
	"fmt"
	"strings"
)

// Ledger identifies one of the three independent trading ledgers.
// Demand and supply never cross ledgers.
type Ledger string

const (
	LedgerArea        Ledger = "area"
	LedgerHedgerow    Ledger = "hedgerow"
	LedgerWatercourse Ledger = "watercourse"
)

// Ledgers lists all ledgers in canonical order.
var Ledgers = []Ledger{LedgerArea, LedgerHedgerow, LedgerWatercourse}

// ParseLedger converts a string to a Ledger, case-insensitively.
func ParseLedger(s string) (Ledger, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "area":
		return LedgerArea, nil
	case "hedgerow", "hedgerows":
		return LedgerHedgerow, nil
	case "watercourse", "watercourses":
		return LedgerWatercourse, nil
	}
	return "", fmt.Errorf("unknown ledger %q", s)
}

// NetGainHabitat returns the sentinel demand-habitat name for the
// ledger's headline net-gain residual.
func (l Ledger) NetGainHabitat() string {
	switch l {
	case LedgerArea:
		return "Net Gain (Area)"
	case LedgerHedgerow:
		return "Net Gain (Hedgerow)"
	case LedgerWatercourse:
		return "Net Gain (Watercourse)"
	}
	return "Net Gain"
}

// IsNetGainHabitat reports whether a demand-habitat name is one of the
// three net-gain sentinels.
func IsNetGainHabitat(name string) bool {
	switch name {
	case "Net Gain (Area)", "Net Gain (Hedgerow)", "Net Gain (Watercourse)":
		return true
	}
	return false
}

// Distinctiveness is the ordinal ecological value band of a habitat.
type Distinctiveness int

const (
	DistinctivenessUnknown Distinctiveness = iota
	VeryLow
	Low
	Medium
	High
	VeryHigh
)

// ParseDistinctiveness converts a band label ("Very High", "medium", "V.Low")
// to its ordinal. Unknown labels map to DistinctivenessUnknown with an error.
func ParseDistinctiveness(s string) (Distinctiveness, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ".", " "))
	normalized = strings.Join(strings.Fields(normalized), " ")
	switch normalized {
	case "very low", "v low":
		return VeryLow, nil
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	case "very high", "v high":
		return VeryHigh, nil
	}
	return DistinctivenessUnknown, fmt.Errorf("unknown distinctiveness %q", s)
}

// String returns the canonical band label.
func (d Distinctiveness) String() string {
	switch d {
	case VeryLow:
		return "Very Low"
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	case VeryHigh:
		return "Very High"
	}
	return "Unknown"
}

// Known reports whether the band was resolved.
func (d Distinctiveness) Known() bool {
	return d != DistinctivenessUnknown
}

// Tier is the spatial proximity class between a site and a bank.
type Tier string

const (
	TierLocal    Tier = "local"
	TierAdjacent Tier = "adjacent"
	TierFar      Tier = "far"
)

// ContractSize is the pricing regime selected once per job from the
// aggregate area-ledger demand.
type ContractSize string

const (
	ContractFractional ContractSize = "fractional"
	ContractSmall      ContractSize = "small"
	ContractMedium     ContractSize = "medium"
	ContractLarge      ContractSize = "large"
)

// OptionKind distinguishes single-habitat options from paired ones.
type OptionKind string

const (
	OptionNormal OptionKind = "normal"
	OptionPaired OptionKind = "paired"
)

// Habitat is one row of the habitat catalog. Immutable within a job.
type Habitat struct {
	Name            string          // Unique habitat name
	BroaderType     string          // Broader habitat group ("Grassland", "Woodland", ...)
	Distinctiveness Distinctiveness // Catalog band
	Ledger          Ledger          // Umbrella type: area, hedgerow, or watercourse
}

// Bank is a habitat bank in the registry.
type Bank struct {
	ID                     string  // bank_id
	Name                   string  // Display name
	LPAName                string  // Local Planning Authority the bank sits in
	NCAName                string  // National Character Area the bank sits in
	Postcode               string  // Optional
	Latitude               float64 // Optional, 0 when absent
	Longitude              float64 // Optional, 0 when absent
	WaterbodyID            string  // Watercourse banks only
	OperationalCatchmentID string  // Watercourse banks only
}

// StockRow is the available inventory of one habitat at one bank.
type StockRow struct {
	BankID        string
	HabitatName   string
	AvailableUnits float64
	ReservedUnits  float64
}

// Sellable returns the stock headroom the optimizer may consume.
func (s StockRow) Sellable() float64 {
	return s.AvailableUnits - s.ReservedUnits
}

// PricingRow is the per-effective-unit price of one habitat at one
// bank for one (contract size, tier) cell.
type PricingRow struct {
	BankID       string
	HabitatName  string
	ContractSize ContractSize
	Tier         Tier
	UnitPrice    float64
}

// TradingRule is an explicit admissibility edge. When any rule exists
// for a demand habitat, trading for it is rule-scoped: only the listed
// supply habitats are legal.
type TradingRule struct {
	DemandHabitat      string
	SupplyHabitat      string
	MinDistinctiveness Distinctiveness // 0 = unset
	CompanionHabitat   string          // Optional pairing companion
}

// SRMRow carries the spatial risk multiplier for one tier.
type SRMRow struct {
	Tier       Tier
	Multiplier float64
}

// DemandLine is one habitat deficit the buyer must compensate.
// Units are effective units, already net of on-site offsets.
type DemandLine struct {
	Ledger          Ledger
	HabitatName     string
	UnitsRequired   float64
	Distinctiveness Distinctiveness
	BroaderType     string
}

// IsNetGain reports whether the line is a net-gain sentinel.
func (d DemandLine) IsNetGain() bool {
	return IsNetGainHabitat(d.HabitatName)
}

// SiteContext is the resolved geography of the development site.
type SiteContext struct {
	LPAName                string
	NCAName                string
	LPANeighbours          map[string]bool
	NCANeighbours          map[string]bool
	WaterbodyID            string
	OperationalCatchmentID string
}

// PairedPart describes one component of a paired option or row.
type PairedPart struct {
	HabitatName   string  `json:"habitat_name"`
	Weight        float64 `json:"weight"`     // Raw stock units consumed per effective unit
	UnitPrice     float64 `json:"unit_price"` // Component price entering the blend
	UnitsSupplied float64 `json:"units_supplied,omitempty"`
}

// AllocationOption is one legal candidate assignment the minimizer may
// draw effective units through.
type AllocationOption struct {
	BankID        string
	DemandHabitat string
	SupplyHabitat string // Main supply habitat
	Tier          Tier
	Kind          OptionKind
	UnitPrice     float64 // Blended for paired options
	StockUseRatio float64 // Raw units of the main habitat per effective unit
	Companion     *PairedPart
	DemandIndex   int // Index into the job's demand list
}

// AllocationRow is one line of the engine's output report.
type AllocationRow struct {
	BankID             string       `json:"bank_id"`
	DemandHabitat      string       `json:"demand_habitat"`
	SupplyHabitat      string       `json:"supply_habitat"`
	Tier               Tier         `json:"tier"`
	Kind               OptionKind   `json:"option_kind"`
	UnitsSupplied      float64      `json:"units_supplied"`
	EffectiveUnits     float64      `json:"effective_units"`
	StockUnitsConsumed float64      `json:"stock_units_consumed"`
	UnitPrice          float64      `json:"unit_price"`
	Cost               float64      `json:"cost"`
	PairedParts        []PairedPart `json:"paired_parts,omitempty"`
}

// Shortfall records demand the engine could not cover.
type Shortfall struct {
	Ledger        Ledger  `json:"ledger"`
	HabitatName   string  `json:"habitat_name"`
	UnitsShort    float64 `json:"units_short"`
	UnitsRequired float64 `json:"units_required"`
}

// AllocationReport is the engine's terminal output.
type AllocationReport struct {
	Allocations  []AllocationRow `json:"allocations"`
	TotalCost    float64         `json:"total_cost"`
	ContractSize ContractSize    `json:"contract_size"`
	Shortfalls   []Shortfall     `json:"shortfalls"`
	Warnings     []string        `json:"warnings"`
	Solver       string          `json:"solver"` // "lp" or "greedy"
}
