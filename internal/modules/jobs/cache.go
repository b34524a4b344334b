package jobs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wildcroft/bng-engine/internal/domain"
)

// ResultCache maps fingerprints to completed allocation reports in the
// cache database. Entries expire after a TTL; a cron sweep removes the
// dead rows so the table does not grow without bound.
type ResultCache struct {
	db  *sql.DB
	ttl time.Duration
	log zerolog.Logger
}

func NewResultCache(db *sql.DB, ttl time.Duration, log zerolog.Logger) *ResultCache {
	return &ResultCache{db: db, ttl: ttl, log: log.With().Str("repo", "result_cache").Logger()}
}

// Get returns the cached report for a fingerprint, or ok=false on a
// miss or an expired entry.
func (c *ResultCache) Get(fingerprint string) (*domain.AllocationReport, bool) {
	var blob []byte
	err := c.db.QueryRow(
		`SELECT result FROM result_cache WHERE fingerprint = ? AND expires_at > ?`,
		fingerprint, time.Now().Unix(),
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		c.log.Error().Err(err).Msg("result cache read failed")
		return nil, false
	}

	var report domain.AllocationReport
	if err := msgpack.Unmarshal(blob, &report); err != nil {
		c.log.Error().Err(err).Str("fingerprint", fingerprint).Msg("corrupt cache entry, dropping")
		_, _ = c.db.Exec(`DELETE FROM result_cache WHERE fingerprint = ?`, fingerprint)
		return nil, false
	}
	return &report, true
}

// Put stores a report under its fingerprint, replacing any prior entry.
func (c *ResultCache) Put(fingerprint string, report *domain.AllocationReport) error {
	blob, err := msgpack.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	now := time.Now()
	_, err = c.db.Exec(
		`INSERT INTO result_cache (fingerprint, result, created_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
		   result = excluded.result, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		fingerprint, blob, now.Unix(), now.Add(c.ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to write result cache: %w", err)
	}
	return nil
}

// Sweep deletes expired entries and returns how many were removed.
func (c *ResultCache) Sweep() (int64, error) {
	res, err := c.db.Exec(`DELETE FROM result_cache WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep result cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		c.log.Debug().Int64("removed", n).Msg("swept expired cache entries")
	}
	return n, nil
}

// Healthy reports whether the cache database answers a ping query.
func (c *ResultCache) Healthy() bool {
	var one int
	return c.db.QueryRow(`SELECT 1`).Scan(&one) == nil
}
