package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wildcroft/bng-engine/internal/domain"
	"github.com/wildcroft/bng-engine/internal/modules/allocation"
	"github.com/wildcroft/bng-engine/internal/modules/geography"
	"github.com/wildcroft/bng-engine/internal/modules/reference"
)

// ErrQueueFull is returned when the submission queue has no room.
var ErrQueueFull = errors.New("job queue is full")

// SnapshotSource hands out immutable reference snapshots.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*reference.Snapshot, error)
}

// SiteResolver turns a site identifier into a resolved site context.
type SiteResolver interface {
	Resolve(ctx context.Context, input geography.SiteInput) (domain.SiteContext, []string, error)
}

// ServiceConfig sizes the worker pool and parameterises the pipeline.
type ServiceConfig struct {
	Workers    int
	QueueDepth int
	JobTimeout time.Duration
	Engine     allocation.Params
}

// Service is the job orchestrator: it validates and fingerprints
// submissions, consults the result cache, enqueues work, and runs the
// worker pool that executes the allocation pipeline.
type Service struct {
	store     *Store
	cache     *ResultCache
	snapshots SnapshotSource
	resolver  SiteResolver
	engine    *allocation.Engine
	cfg       ServiceConfig
	validate  *validator.Validate
	log       zerolog.Logger

	queue chan string
	wg    sync.WaitGroup

	mu        sync.Mutex
	accepting bool
}

func NewService(store *Store, cache *ResultCache, snapshots SnapshotSource, resolver SiteResolver,
	engine *allocation.Engine, cfg ServiceConfig, log zerolog.Logger) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 256
	}
	return &Service{
		store:     store,
		cache:     cache,
		snapshots: snapshots,
		resolver:  resolver,
		engine:    engine,
		cfg:       cfg,
		validate:  validator.New(),
		log:       log.With().Str("component", "jobs").Logger(),
		queue:     make(chan string, cfg.QueueDepth),
		accepting: true,
	}
}

// Submit validates and fingerprints a submission, then returns either
// a cache-hit record, the in-flight job with the same fingerprint, or
// a freshly queued job.
func (s *Service) Submit(sub Submission) (*Record, error) {
	if err := s.validateSubmission(sub); err != nil {
		return nil, err
	}
	fingerprint := Fingerprint(sub)

	if report, ok := s.cache.Get(fingerprint); ok {
		id := uuid.NewString()
		if err := s.store.CreateCompleted(id, fingerprint, sub, report); err != nil {
			return nil, err
		}
		s.log.Debug().Str("job_id", id).Str("fingerprint", fingerprint).Msg("cache hit, synthetic job")
		return s.store.Get(id)
	}

	if id, ok, err := s.store.InFlight(fingerprint); err != nil {
		return nil, err
	} else if ok {
		s.log.Debug().Str("job_id", id).Str("fingerprint", fingerprint).Msg("attached to in-flight job")
		return s.store.Get(id)
	}

	s.mu.Lock()
	accepting := s.accepting
	s.mu.Unlock()
	if !accepting {
		return nil, ErrQueueFull
	}

	id := uuid.NewString()
	if err := s.store.Create(id, fingerprint, sub, StateQueued); err != nil {
		return nil, err
	}
	// The send and Stop's close share s.mu, and accepting is
	// re-checked under it: a submission racing shutdown is refused
	// instead of sending on a closed channel.
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		_ = s.store.Fail(id, domain.KindInternal, "the service is shutting down")
		return nil, ErrQueueFull
	}
	select {
	case s.queue <- id:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		_ = s.store.Fail(id, domain.KindInternal, "the job queue is full, retry later")
		return nil, ErrQueueFull
	}

	s.log.Info().Str("job_id", id).Str("fingerprint", fingerprint).Msg("job queued")
	return s.store.Get(id)
}

// Status returns a job record, or nil when the id is unknown.
func (s *Service) Status(id string) (*Record, error) {
	return s.store.Get(id)
}

// List returns the most recent job records.
func (s *Service) List(limit int) ([]*Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Recent(limit)
}

// Cancel cancels a queued job. The second return is false when the job
// exists but is no longer queued.
func (s *Service) Cancel(id string) (*Record, bool, error) {
	record, err := s.store.Get(id)
	if err != nil || record == nil {
		return record, false, err
	}
	cancelled, err := s.store.Cancel(id)
	if err != nil {
		return record, false, err
	}
	if !cancelled {
		return record, false, nil
	}
	s.log.Info().Str("job_id", id).Msg("job cancelled while queued")
	record, err = s.store.Get(id)
	return record, true, err
}

// CacheHealthy reports whether the cache database is reachable.
func (s *Service) CacheHealthy() bool {
	return s.cache.Healthy()
}

// SweepCache removes expired result-cache entries.
func (s *Service) SweepCache() (int64, error) {
	return s.cache.Sweep()
}

func (s *Service) validateSubmission(sub Submission) error {
	if err := s.validate.Struct(sub); err != nil {
		return domain.Wrap(domain.KindInputInvalid, err, "submission failed validation")
	}
	if len(sub.Demand) == 0 && len(sub.MetricFileBytes) == 0 {
		return domain.E(domain.KindInputInvalid, "submission carries no demand lines and no metric file")
	}
	if sub.Site.Postcode == "" && sub.Site.Address == "" && sub.Site.LPA == "" && sub.Site.NCA == "" {
		return domain.E(domain.KindInputInvalid, "no site identifier: provide a postcode, address, or explicit LPA/NCA")
	}
	if strings.EqualFold(sub.Options.PairedFormula, "legacy") {
		return domain.E(domain.KindInputInvalid,
			"the legacy paired pricing formulation is not supported; resubmit with the blended formulation")
	}
	for _, d := range sub.Demand {
		if d.Ledger != "" {
			if _, err := domain.ParseLedger(d.Ledger); err != nil {
				return domain.E(domain.KindInputInvalid, "demand line %q names an unknown ledger %q", d.Habitat, d.Ledger)
			}
		}
	}
	return nil
}

// demandLines resolves explicit demand inputs against the habitat
// catalog. Net-gain sentinels must name their ledger explicitly.
func demandLines(snap *reference.Snapshot, inputs []DemandInput) ([]domain.DemandLine, error) {
	var lines []domain.DemandLine
	for _, in := range inputs {
		name := strings.TrimSpace(in.Habitat)

		if domain.IsNetGainHabitat(name) {
			ledger, err := netGainLedger(name)
			if err != nil {
				return nil, err
			}
			lines = append(lines, domain.DemandLine{
				Ledger: ledger, HabitatName: name, UnitsRequired: in.Units,
				Distinctiveness: domain.Low,
			})
			continue
		}

		habitat, ok := snap.Habitat(name)
		if !ok {
			return nil, domain.E(domain.KindInputInvalid, "unknown habitat %q in demand", name)
		}
		if in.Ledger != "" {
			ledger, _ := domain.ParseLedger(in.Ledger)
			if ledger != habitat.Ledger {
				return nil, domain.E(domain.KindInputInvalid,
					"demand line %q names ledger %q but the habitat belongs to %q", name, in.Ledger, habitat.Ledger)
			}
		}
		lines = append(lines, domain.DemandLine{
			Ledger:          habitat.Ledger,
			HabitatName:     habitat.Name,
			UnitsRequired:   in.Units,
			Distinctiveness: habitat.Distinctiveness,
			BroaderType:     habitat.BroaderType,
		})
	}
	return lines, nil
}

func netGainLedger(sentinel string) (domain.Ledger, error) {
	for _, ledger := range domain.Ledgers {
		if ledger.NetGainHabitat() == sentinel {
			return ledger, nil
		}
	}
	return "", domain.E(domain.KindInputInvalid, "unknown net-gain sentinel %q", sentinel)
}

func jobError(err error) (domain.ErrorKind, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.KindTimeout, "job exceeded its time budget"
	}
	return domain.KindOf(err), domain.UserMessage(err)
}
