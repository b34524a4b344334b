package jobs

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/wildcroft/bng-engine/internal/domain"
	"github.com/wildcroft/bng-engine/internal/modules/geography"
	"github.com/wildcroft/bng-engine/internal/modules/metric"
)

// Start launches the worker pool. Workers pull job ids FIFO and run
// the pipeline to completion; a worker holds no state between jobs.
func (s *Service) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.log.Info().Int("workers", s.cfg.Workers).Msg("worker pool started")
}

// Stop refuses new submissions, lets the workers drain the queue, and
// returns once the last in-flight job has finished.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	// Closed under the same lock Submit sends under.
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("worker pool drained")
}

func (s *Service) worker(n int) {
	defer s.wg.Done()
	log := s.log.With().Int("worker", n).Logger()
	for id := range s.queue {
		s.runJob(log, id)
	}
}

// runJob claims a queued job and executes the pipeline under the job
// timeout. Panics are confined to the job: the record fails with an
// internal kind and the stack goes to the log only.
func (s *Service) runJob(log zerolog.Logger, id string) {
	claimed, err := s.store.MarkRunning(id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("failed to claim job")
		return
	}
	if !claimed {
		log.Debug().Str("job_id", id).Msg("job no longer queued, skipping")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).
				Str("job_id", id).Msg("job panicked")
			_ = s.store.Fail(id, domain.KindInternal, "an internal error occurred")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	record, err := s.store.Get(id)
	if err != nil || record == nil {
		log.Error().Err(err).Str("job_id", id).Msg("failed to reload job record")
		return
	}

	report, err := s.execute(ctx, id)
	if err != nil {
		kind, message := jobError(err)
		log.Warn().Err(err).Str("job_id", id).Str("kind", string(kind)).Msg("job failed")
		_ = s.store.Fail(id, kind, message)
		return
	}

	// Cache before completing: a poller that sees the job done must
	// never race ahead of the cache write.
	if err := s.cache.Put(record.Fingerprint, report); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("failed to cache result")
	}
	if err := s.store.Complete(id, report); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("failed to persist result")
		return
	}
	log.Info().Str("job_id", id).Float64("total_cost", report.TotalCost).
		Int("rows", len(report.Allocations)).Msg("job done")
}

// execute runs the pipeline for one job: snapshot, geography, demand
// assembly, then the allocation engine. Warnings from every stage are
// carried into the report.
func (s *Service) execute(ctx context.Context, id string) (*domain.AllocationReport, error) {
	sub, err := s.loadSubmission(id)
	if err != nil {
		return nil, err
	}

	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	site, warnings, err := s.resolver.Resolve(ctx, geography.SiteInput{
		Postcode: sub.Site.Postcode,
		Address:  sub.Site.Address,
		LPA:      sub.Site.LPA,
		NCA:      sub.Site.NCA,
	})
	if err != nil {
		return nil, err
	}

	var demands []domain.DemandLine
	if len(sub.MetricFileBytes) > 0 {
		parsed, err := metric.NewParser(snap, s.log).Parse(sub.MetricFileBytes)
		if err != nil {
			return nil, err
		}
		demands = parsed.AllDemands()
		warnings = append(warnings, parsed.Warnings...)
	}
	explicit, err := demandLines(snap, sub.Demand)
	if err != nil {
		return nil, err
	}
	demands = append(demands, explicit...)

	params := s.cfg.Engine
	params.PriceUpliftPercent = sub.Options.PriceUpliftPercent

	report, err := s.engine.Run(ctx, snap, site, demands, params)
	if err != nil {
		return nil, err
	}
	report.Warnings = append(warnings, report.Warnings...)
	return &report, nil
}

func (s *Service) loadSubmission(id string) (Submission, error) {
	var inputs []byte
	err := s.store.db.QueryRow(`SELECT inputs FROM jobs WHERE job_id = ?`, id).Scan(&inputs)
	if err != nil {
		return Submission{}, domain.Wrap(domain.KindInternal, err, "failed to load job inputs")
	}
	var sub Submission
	if err := json.Unmarshal(inputs, &sub); err != nil {
		return Submission{}, domain.Wrap(domain.KindInternal, err, "corrupt job inputs")
	}
	return sub, nil
}
