package reference

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wildcroft/bng-engine/internal/domain"
)

// Repository loads reference tables from the reference database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new reference repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "reference").Logger(),
	}
}

// LoadAll reads every reference table and assembles an immutable snapshot.
// Tables load concurrently; the database connection pool serves the
// parallel readers. Returns ReferenceIncomplete when a required table is
// empty or a cross-table reference dangles.
func (r *Repository) LoadAll(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Habitats:            make(map[string]domain.Habitat),
		Banks:               make(map[string]domain.Bank),
		Stock:               make(map[StockKey]domain.StockRow),
		StockByBank:         make(map[string][]domain.StockRow),
		Pricing:             make(map[PriceKey]float64),
		TradingRules:        make(map[string][]domain.TradingRule),
		SRM:                 make(map[domain.Tier]float64),
		DistinctivenessRank: make(map[string]int),
		LoadedAt:            time.Now(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.loadHabitats(gctx, snap, &mu) })
	g.Go(func() error { return r.loadBanks(gctx, snap, &mu) })
	g.Go(func() error { return r.loadStock(gctx, snap, &mu) })
	g.Go(func() error { return r.loadPricing(gctx, snap, &mu) })
	g.Go(func() error { return r.loadTradingRules(gctx, snap, &mu) })
	g.Go(func() error { return r.loadSRM(gctx, snap, &mu) })
	g.Go(func() error { return r.loadDistinctivenessLevels(gctx, snap, &mu) })

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := validateSnapshot(snap); err != nil {
		return nil, err
	}

	sort.Strings(snap.BankIDs)
	for _, rows := range snap.StockByBank {
		sort.Slice(rows, func(i, j int) bool { return rows[i].HabitatName < rows[j].HabitatName })
	}

	r.log.Debug().
		Int("habitats", len(snap.Habitats)).
		Int("banks", len(snap.Banks)).
		Int("stock_rows", len(snap.Stock)).
		Int("pricing_rows", len(snap.Pricing)).
		Msg("Reference snapshot loaded")

	return snap, nil
}

func (r *Repository) loadHabitats(ctx context.Context, snap *Snapshot, mu *sync.Mutex) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT habitat_name, broader_type, distinctiveness, umbrella_type FROM HabitatCatalog`)
	if err != nil {
		return fmt.Errorf("failed to query HabitatCatalog: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, broaderType, distinctiveness, umbrellaType string
		if err := rows.Scan(&name, &broaderType, &distinctiveness, &umbrellaType); err != nil {
			return fmt.Errorf("failed to scan habitat: %w", err)
		}

		band, err := domain.ParseDistinctiveness(distinctiveness)
		if err != nil {
			return domain.E(domain.KindReferenceIncomplete,
				"HabitatCatalog row %q carries unknown distinctiveness %q", name, distinctiveness)
		}
		ledger, err := domain.ParseLedger(umbrellaType)
		if err != nil {
			return domain.E(domain.KindReferenceIncomplete,
				"HabitatCatalog row %q carries unknown umbrella type %q", name, umbrellaType)
		}

		mu.Lock()
		snap.Habitats[name] = domain.Habitat{
			Name:            name,
			BroaderType:     broaderType,
			Distinctiveness: band,
			Ledger:          ledger,
		}
		mu.Unlock()
	}
	return rows.Err()
}

func (r *Repository) loadBanks(ctx context.Context, snap *Snapshot, mu *sync.Mutex) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT bank_id, bank_name, lpa_name, nca_name,
		        COALESCE(postcode, ''), COALESCE(latitude, 0), COALESCE(longitude, 0),
		        COALESCE(waterbody_id, ''), COALESCE(operational_catchment_id, '')
		 FROM Banks`)
	if err != nil {
		return fmt.Errorf("failed to query Banks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b domain.Bank
		if err := rows.Scan(&b.ID, &b.Name, &b.LPAName, &b.NCAName,
			&b.Postcode, &b.Latitude, &b.Longitude,
			&b.WaterbodyID, &b.OperationalCatchmentID); err != nil {
			return fmt.Errorf("failed to scan bank: %w", err)
		}

		mu.Lock()
		snap.Banks[b.ID] = b
		snap.BankIDs = append(snap.BankIDs, b.ID)
		mu.Unlock()
	}
	return rows.Err()
}

func (r *Repository) loadStock(ctx context.Context, snap *Snapshot, mu *sync.Mutex) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT bank_id, habitat_name, available_units, reserved_units FROM Stock`)
	if err != nil {
		return fmt.Errorf("failed to query Stock: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.StockRow
		if err := rows.Scan(&s.BankID, &s.HabitatName, &s.AvailableUnits, &s.ReservedUnits); err != nil {
			return fmt.Errorf("failed to scan stock row: %w", err)
		}

		mu.Lock()
		snap.Stock[StockKey{BankID: s.BankID, HabitatName: s.HabitatName}] = s
		snap.StockByBank[s.BankID] = append(snap.StockByBank[s.BankID], s)
		mu.Unlock()
	}
	return rows.Err()
}

func (r *Repository) loadPricing(ctx context.Context, snap *Snapshot, mu *sync.Mutex) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT bank_id, habitat_name, contract_size, tier, unit_price FROM Pricing`)
	if err != nil {
		return fmt.Errorf("failed to query Pricing: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bankID, habitat, size, tier string
		var price float64
		if err := rows.Scan(&bankID, &habitat, &size, &tier, &price); err != nil {
			return fmt.Errorf("failed to scan pricing row: %w", err)
		}

		mu.Lock()
		snap.Pricing[PriceKey{
			BankID:       bankID,
			HabitatName:  habitat,
			ContractSize: domain.ContractSize(size),
			Tier:         domain.Tier(tier),
		}] = price
		mu.Unlock()
	}
	return rows.Err()
}

func (r *Repository) loadTradingRules(ctx context.Context, snap *Snapshot, mu *sync.Mutex) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT demand_habitat, allowed_supply,
		        COALESCE(min_distinctiveness, ''), COALESCE(companion_habitat, '')
		 FROM TradingRules`)
	if err != nil {
		return fmt.Errorf("failed to query TradingRules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var demand, supply, minBand, companion string
		if err := rows.Scan(&demand, &supply, &minBand, &companion); err != nil {
			return fmt.Errorf("failed to scan trading rule: %w", err)
		}

		rule := domain.TradingRule{
			DemandHabitat:    demand,
			SupplyHabitat:    supply,
			CompanionHabitat: companion,
		}
		if minBand != "" {
			band, err := domain.ParseDistinctiveness(minBand)
			if err != nil {
				return domain.E(domain.KindReferenceIncomplete,
					"TradingRules row %q->%q carries unknown min distinctiveness %q", demand, supply, minBand)
			}
			rule.MinDistinctiveness = band
		}

		mu.Lock()
		snap.TradingRules[demand] = append(snap.TradingRules[demand], rule)
		mu.Unlock()
	}
	return rows.Err()
}

func (r *Repository) loadSRM(ctx context.Context, snap *Snapshot, mu *sync.Mutex) error {
	rows, err := r.db.QueryContext(ctx, `SELECT tier, multiplier FROM SRM`)
	if err != nil {
		return fmt.Errorf("failed to query SRM: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tier string
		var mult float64
		if err := rows.Scan(&tier, &mult); err != nil {
			return fmt.Errorf("failed to scan SRM row: %w", err)
		}

		mu.Lock()
		snap.SRM[domain.Tier(tier)] = mult
		mu.Unlock()
	}
	return rows.Err()
}

func (r *Repository) loadDistinctivenessLevels(ctx context.Context, snap *Snapshot, mu *sync.Mutex) error {
	rows, err := r.db.QueryContext(ctx, `SELECT name, rank FROM DistinctivenessLevels`)
	if err != nil {
		return fmt.Errorf("failed to query DistinctivenessLevels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var rank int
		if err := rows.Scan(&name, &rank); err != nil {
			return fmt.Errorf("failed to scan distinctiveness level: %w", err)
		}

		mu.Lock()
		snap.DistinctivenessRank[name] = rank
		mu.Unlock()
	}
	return rows.Err()
}

// validateSnapshot enforces the cross-table invariants: required tables are
// non-empty, every pricing row's bank exists, every stock row's habitat is
// catalogued, and the distinctiveness ladder is totally ordered.
func validateSnapshot(snap *Snapshot) error {
	required := []struct {
		table string
		empty bool
	}{
		{"HabitatCatalog", len(snap.Habitats) == 0},
		{"Banks", len(snap.Banks) == 0},
		{"Pricing", len(snap.Pricing) == 0},
		{"Stock", len(snap.Stock) == 0},
		{"SRM", len(snap.SRM) == 0},
		{"DistinctivenessLevels", len(snap.DistinctivenessRank) == 0},
	}
	for _, req := range required {
		if req.empty {
			return domain.E(domain.KindReferenceIncomplete, "reference table %s is empty", req.table)
		}
	}

	for key := range snap.Pricing {
		if _, ok := snap.Banks[key.BankID]; !ok {
			return domain.E(domain.KindReferenceIncomplete,
				"Pricing references unknown bank %q", key.BankID)
		}
	}
	for key := range snap.Stock {
		if _, ok := snap.Habitats[key.HabitatName]; !ok {
			return domain.E(domain.KindReferenceIncomplete,
				"Stock references uncatalogued habitat %q", key.HabitatName)
		}
	}

	seen := make(map[int]string, len(snap.DistinctivenessRank))
	for name, rank := range snap.DistinctivenessRank {
		if other, dup := seen[rank]; dup {
			return domain.E(domain.KindReferenceIncomplete,
				"DistinctivenessLevels rank %d shared by %q and %q", rank, other, name)
		}
		seen[rank] = name
	}

	return nil
}
