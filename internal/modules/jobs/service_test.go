package jobs

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildcroft/bng-engine/internal/config"
	"github.com/wildcroft/bng-engine/internal/domain"
	"github.com/wildcroft/bng-engine/internal/modules/allocation"
	"github.com/wildcroft/bng-engine/internal/modules/geography"
	"github.com/wildcroft/bng-engine/internal/modules/reference"
	testhelpers "github.com/wildcroft/bng-engine/internal/testing"
)

const meadow = "Lowland meadow"

// fixtureSnapshot is a one-bank reference world: 10 sellable units of
// lowland meadow priced at 20k for every contract size at local tier.
func fixtureSnapshot() *reference.Snapshot {
	snap := &reference.Snapshot{
		Habitats: map[string]domain.Habitat{
			meadow: {Name: meadow, BroaderType: "Grassland", Distinctiveness: domain.High, Ledger: domain.LedgerArea},
		},
		Banks:        map[string]domain.Bank{"B1": {ID: "B1", LPAName: "Westshire"}},
		BankIDs:      []string{"B1"},
		Stock:        map[reference.StockKey]domain.StockRow{},
		StockByBank:  map[string][]domain.StockRow{},
		Pricing:      map[reference.PriceKey]float64{},
		TradingRules: map[string][]domain.TradingRule{},
		SRM:          map[domain.Tier]float64{domain.TierLocal: 1, domain.TierAdjacent: 4.0 / 3.0, domain.TierFar: 2},
		LoadedAt:     time.Now(),
	}
	row := domain.StockRow{BankID: "B1", HabitatName: meadow, AvailableUnits: 10}
	snap.Stock[reference.StockKey{BankID: "B1", HabitatName: meadow}] = row
	snap.StockByBank["B1"] = []domain.StockRow{row}
	for _, size := range []domain.ContractSize{domain.ContractFractional, domain.ContractSmall, domain.ContractMedium, domain.ContractLarge} {
		snap.Pricing[reference.PriceKey{BankID: "B1", HabitatName: meadow, ContractSize: size, Tier: domain.TierLocal}] = 20000
	}
	sort.Strings(snap.BankIDs)
	return snap
}

type fakeSnapshots struct {
	snap *reference.Snapshot
}

func (f *fakeSnapshots) Snapshot(context.Context) (*reference.Snapshot, error) {
	return f.snap, nil
}

type fakeResolver struct {
	calls int64
	block bool
}

func (f *fakeResolver) Resolve(ctx context.Context, _ geography.SiteInput) (domain.SiteContext, []string, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.block {
		<-ctx.Done()
		return domain.SiteContext{}, nil, ctx.Err()
	}
	return domain.SiteContext{
		LPAName:       "Westshire",
		LPANeighbours: map[string]bool{},
		NCANeighbours: map[string]bool{},
	}, nil, nil
}

func newTestService(t *testing.T, resolver *fakeResolver, timeout time.Duration) (*Service, func()) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "cache")

	service := NewService(
		NewStore(db.Conn(), zerolog.Nop()),
		NewResultCache(db.Conn(), 12*time.Hour, zerolog.Nop()),
		&fakeSnapshots{snap: fixtureSnapshot()},
		resolver,
		allocation.NewEngine(zerolog.Nop()),
		ServiceConfig{
			Workers:    2,
			JobTimeout: timeout,
			Engine:     allocation.Params{ContractT1: 0.5, ContractT2: 2.5, ContractT3: 10, Solver: config.SolverLPFirst},
		},
		zerolog.Nop(),
	)
	return service, cleanup
}

func validSubmission() Submission {
	return Submission{
		Demand: []DemandInput{{Habitat: meadow, Units: 1.0}},
		Site:   SiteInput{LPA: "Westshire"},
	}
}

func waitTerminal(t *testing.T, service *Service, id string) *Record {
	t.Helper()
	var record *Record
	require.Eventually(t, func() bool {
		var err error
		record, err = service.Status(id)
		require.NoError(t, err)
		return record != nil && record.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return record
}

func TestSubmit_RunsPipelineToDone(t *testing.T) {
	service, cleanup := newTestService(t, &fakeResolver{}, time.Minute)
	defer cleanup()
	service.Start()
	defer service.Stop()

	record, err := service.Submit(validSubmission())
	require.NoError(t, err)
	assert.NotEmpty(t, record.Fingerprint)

	final := waitTerminal(t, service, record.ID)
	require.Equal(t, StateDone, final.State)
	require.NotNil(t, final.Result)
	require.Len(t, final.Result.Allocations, 1)
	assert.InDelta(t, 20000, final.Result.TotalCost, 1e-6)
	assert.Nil(t, final.Error)
}

func TestSubmit_SecondIdenticalSubmissionHitsCache(t *testing.T) {
	resolver := &fakeResolver{}
	service, cleanup := newTestService(t, resolver, time.Minute)
	defer cleanup()
	service.Start()
	defer service.Stop()

	first, err := service.Submit(validSubmission())
	require.NoError(t, err)
	waitTerminal(t, service, first.ID)

	second, err := service.Submit(validSubmission())
	require.NoError(t, err)

	assert.Equal(t, StateDone, second.State)
	assert.NotEqual(t, first.ID, second.ID)
	require.NotNil(t, second.Result)
	assert.InDelta(t, 20000, second.Result.TotalCost, 1e-6)
	assert.Equal(t, int64(1), atomic.LoadInt64(&resolver.calls), "cached result must not rerun the pipeline")
}

func TestSubmit_ValidationFailures(t *testing.T) {
	service, cleanup := newTestService(t, &fakeResolver{}, time.Minute)
	defer cleanup()

	cases := []struct {
		name string
		sub  Submission
	}{
		{"no demand at all", Submission{Site: SiteInput{LPA: "Westshire"}}},
		{"no site identifier", Submission{Demand: []DemandInput{{Habitat: meadow, Units: 1}}}},
		{"nonpositive units", Submission{
			Demand: []DemandInput{{Habitat: meadow, Units: 0}},
			Site:   SiteInput{LPA: "Westshire"},
		}},
		{"unknown ledger", Submission{
			Demand: []DemandInput{{Habitat: meadow, Units: 1, Ledger: "marine"}},
			Site:   SiteInput{LPA: "Westshire"},
		}},
		{"legacy paired formula", func() Submission {
			sub := validSubmission()
			sub.Options.PairedFormula = "legacy"
			return sub
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.Submit(tc.sub)
			require.Error(t, err)
			assert.Equal(t, domain.KindInputInvalid, domain.KindOf(err))
		})
	}
}

func TestSubmit_UnknownHabitatFailsJob(t *testing.T) {
	service, cleanup := newTestService(t, &fakeResolver{}, time.Minute)
	defer cleanup()
	service.Start()
	defer service.Stop()

	record, err := service.Submit(Submission{
		Demand: []DemandInput{{Habitat: "No such habitat", Units: 1}},
		Site:   SiteInput{LPA: "Westshire"},
	})
	require.NoError(t, err)

	final := waitTerminal(t, service, record.ID)
	require.Equal(t, StateFailed, final.State)
	require.NotNil(t, final.Error)
	assert.Equal(t, domain.KindInputInvalid, final.Error.Kind)
}

func TestCancel_QueuedJobOnly(t *testing.T) {
	service, cleanup := newTestService(t, &fakeResolver{}, time.Minute)
	defer cleanup()
	// Workers never started, so the job stays queued.

	record, err := service.Submit(validSubmission())
	require.NoError(t, err)
	require.Equal(t, StateQueued, record.State)

	cancelled, ok, err := service.Cancel(record.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateCancelled, cancelled.State)

	_, ok, err = service.Cancel(record.ID)
	require.NoError(t, err)
	assert.False(t, ok, "terminal jobs cannot be cancelled")
}

func TestCancel_UnknownJob(t *testing.T) {
	service, cleanup := newTestService(t, &fakeResolver{}, time.Minute)
	defer cleanup()

	record, ok, err := service.Cancel("not-a-job")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.False(t, ok)
}

func TestSubmit_TimeoutMarksJobFailed(t *testing.T) {
	service, cleanup := newTestService(t, &fakeResolver{block: true}, 50*time.Millisecond)
	defer cleanup()
	service.Start()
	defer service.Stop()

	record, err := service.Submit(validSubmission())
	require.NoError(t, err)

	final := waitTerminal(t, service, record.ID)
	require.Equal(t, StateFailed, final.State)
	require.NotNil(t, final.Error)
	assert.Equal(t, domain.KindTimeout, final.Error.Kind)
}

func TestList_ReturnsRecentJobs(t *testing.T) {
	service, cleanup := newTestService(t, &fakeResolver{}, time.Minute)
	defer cleanup()
	service.Start()
	defer service.Stop()

	record, err := service.Submit(validSubmission())
	require.NoError(t, err)
	waitTerminal(t, service, record.ID)

	records, err := service.List(10)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, record.ID, records[0].ID)
}

func TestStop_DrainsQueuedJobs(t *testing.T) {
	service, cleanup := newTestService(t, &fakeResolver{}, time.Minute)
	defer cleanup()

	record, err := service.Submit(validSubmission())
	require.NoError(t, err)

	service.Start()
	service.Stop()

	final, err := service.Status(record.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, final.State)

	fresh := validSubmission()
	fresh.Demand[0].Units = 2.0
	_, err = service.Submit(fresh)
	assert.ErrorIs(t, err, ErrQueueFull)
}

// Submissions racing Stop must be refused, never panic on the closing
// queue channel.
func TestSubmit_RacingStopIsRefused(t *testing.T) {
	for round := 0; round < 25; round++ {
		service, cleanup := newTestService(t, &fakeResolver{}, time.Minute)
		service.Start()

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					sub := validSubmission()
					sub.Demand[0].Units = float64(round*1000+g*100+j) + 0.25
					if _, err := service.Submit(sub); err != nil {
						assert.ErrorIs(t, err, ErrQueueFull)
					}
				}
			}(g)
		}

		time.Sleep(time.Duration(round%5) * 200 * time.Microsecond)
		service.Stop()
		wg.Wait()
		cleanup()
	}
}
