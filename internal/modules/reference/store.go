package reference

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store hands out the current reference snapshot and refreshes it when
// stale. Readers take the snapshot pointer under a brief lock and read
// outside it; Refresh swaps the pointer atomically. A snapshot past its
// TTL is still served (stale reads beat blocked jobs) until the
// out-of-band refresh replaces it.
type Store struct {
	repo *Repository
	ttl  time.Duration
	log  zerolog.Logger

	mu      sync.RWMutex
	current *Snapshot
}

// NewStore creates a reference store backed by the given repository.
func NewStore(repo *Repository, ttl time.Duration, log zerolog.Logger) *Store {
	return &Store{
		repo: repo,
		ttl:  ttl,
		log:  log.With().Str("component", "reference_store").Logger(),
	}
}

// Snapshot returns the current snapshot, loading one on first use.
// Jobs call this exactly once at start and keep the handle.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	snap := s.current
	s.mu.RUnlock()

	if snap != nil {
		return snap, nil
	}
	return s.Refresh(ctx)
}

// Refresh reloads the reference tables and swaps the snapshot in.
// Concurrent readers keep the old snapshot until the swap completes.
func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	snap, err := s.repo.LoadAll(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Reference refresh failed")
		return nil, err
	}

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()

	s.log.Info().
		Int("banks", len(snap.Banks)).
		Int("habitats", len(snap.Habitats)).
		Msg("Reference snapshot refreshed")

	return snap, nil
}

// RefreshIfStale reloads only when the current snapshot has outlived its
// TTL. Wired to the cron schedule so request paths never pay for loads.
func (s *Store) RefreshIfStale(ctx context.Context) error {
	s.mu.RLock()
	snap := s.current
	s.mu.RUnlock()

	if snap != nil && snap.Age() < s.ttl {
		return nil
	}

	_, err := s.Refresh(ctx)
	return err
}

// Status describes the store for the admin surface.
type Status struct {
	Loaded    bool      `json:"loaded"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
	AgeSecs   float64   `json:"age_seconds,omitempty"`
	TTLSecs   float64   `json:"ttl_seconds"`
	Banks     int       `json:"banks"`
	Habitats  int       `json:"habitats"`
	StockRows int       `json:"stock_rows"`
	Pricing   int       `json:"pricing_rows"`
}

// Status reports the current snapshot's vital signs.
func (s *Store) Status() Status {
	s.mu.RLock()
	snap := s.current
	s.mu.RUnlock()

	st := Status{TTLSecs: s.ttl.Seconds()}
	if snap == nil {
		return st
	}

	st.Loaded = true
	st.LoadedAt = snap.LoadedAt
	st.AgeSecs = snap.Age().Seconds()
	st.Banks = len(snap.Banks)
	st.Habitats = len(snap.Habitats)
	st.StockRows = len(snap.Stock)
	st.Pricing = len(snap.Pricing)
	return st
}
