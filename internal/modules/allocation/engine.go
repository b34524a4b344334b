// Package allocation is the optimisation core: it takes a reference
// snapshot, a resolved site context, and demand lines, and returns the
// least-cost allocation of bank stock that satisfies them. Candidate
// options are enumerated per (demand, bank, supply, tier), a linear
// program picks the cheapest mix, and a greedy pass covers the
// infeasible cases with partial allocations and shortfalls.
package allocation

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/wildcroft/bng-engine/internal/config"
	"github.com/wildcroft/bng-engine/internal/domain"
	"github.com/wildcroft/bng-engine/internal/modules/reference"
)

// State is the engine's position in its run lifecycle. Terminal states
// carry a report; only LPRunning -> Greedy recovers from a failure.
type State string

const (
	StateReady              State = "READY"
	StateOptionsBuilt       State = "OPTIONS_BUILT"
	StateLPRunning          State = "LP_RUNNING"
	StateSolved             State = "SOLVED"
	StateGreedy             State = "GREEDY"
	StateInfeasibleReported State = "INFEASIBLE_REPORTED"
)

// Params carries the per-job knobs the engine needs from configuration
// and the submission.
type Params struct {
	ContractT1 float64
	ContractT2 float64
	ContractT3 float64
	Solver     string // config.SolverLPFirst or config.SolverGreedyOnly

	// PriceUpliftPercent scales every unit price before optimisation,
	// e.g. 5 applies a 5% promoter uplift. Zero means list prices.
	PriceUpliftPercent float64
}

// Engine runs allocations. Stateless between jobs; every run works
// against the snapshot it is handed.
type Engine struct {
	log zerolog.Logger
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "allocation").Logger()}
}

// Run executes the full pipeline for one job: contract-size selection,
// option enumeration, cost minimisation, and bundling. A partial
// allocation with shortfalls is a successful run; the only error paths
// are context cancellation and total infeasibility with demand left
// entirely uncovered.
func (e *Engine) Run(ctx context.Context, snap *reference.Snapshot, site domain.SiteContext,
	demands []domain.DemandLine, params Params) (domain.AllocationReport, error) {

	state := StateReady
	size := selectContractSize(demands, params.ContractT1, params.ContractT2, params.ContractT3)

	report := domain.AllocationReport{
		Allocations:  []domain.AllocationRow{},
		ContractSize: size,
		Shortfalls:   []domain.Shortfall{},
	}

	demands = positiveDemands(demands)
	if len(demands) == 0 {
		report.Solver = "lp"
		return report, nil
	}

	options, warnings := buildOptions(snap, site, demands, size, params.PriceUpliftPercent)
	report.Warnings = warnings
	state = StateOptionsBuilt
	e.log.Debug().Int("options", len(options)).Int("demands", len(demands)).
		Str("contract_size", string(size)).Msg("options built")

	var x []float64
	if params.Solver != config.SolverGreedyOnly {
		if err := ctx.Err(); err != nil {
			return report, domain.Wrap(domain.KindTimeout, err, "job cancelled before solve")
		}
		state = StateLPRunning
		solved, err := solveLP(snap, options, demands)
		if err == nil {
			x = solved
			state = StateSolved
			report.Solver = "lp"
		} else {
			e.log.Debug().Err(err).Msg("lp did not produce a solution, falling back to greedy")
		}
	}

	if x == nil {
		var shortfalls []domain.Shortfall
		x, shortfalls = solveGreedy(snap, options, demands)
		if len(shortfalls) > 0 {
			report.Shortfalls = shortfalls
		}
		report.Solver = "greedy"
		state = StateGreedy
		if len(shortfalls) > 0 {
			state = StateInfeasibleReported
		}
	}

	report.Allocations, report.TotalCost = bundle(options, x)
	e.log.Info().Str("state", string(state)).Str("solver", report.Solver).
		Int("rows", len(report.Allocations)).Int("shortfalls", len(report.Shortfalls)).
		Float64("total_cost", report.TotalCost).Msg("allocation complete")

	if len(report.Allocations) == 0 {
		return report, domain.E(domain.KindInfeasible, "no demand could be covered by any bank")
	}
	return report, nil
}

func positiveDemands(demands []domain.DemandLine) []domain.DemandLine {
	kept := demands[:0:0]
	for _, d := range demands {
		if d.UnitsRequired > 1e-12 {
			kept = append(kept, d)
		}
	}
	return kept
}
