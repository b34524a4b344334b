package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/wildcroft/bng-engine/internal/database"
)

// handleHealth handles GET /health. Database fields degrade instead
// of failing the probe: a dead database slows the service down but
// does not stop it answering. ?deep=1 runs the sqlite integrity check
// on each database instead of a plain ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	check := (*database.DB).QuickCheck
	if r.URL.Query().Get("deep") == "1" {
		check = (*database.DB).HealthCheck
	}
	status := func(db *database.DB) string {
		if err := check(db, ctx); err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			return "degraded"
		}
		return "connected"
	}

	cache := "connected"
	if !s.container.Jobs.CacheHealthy() {
		cache = "degraded"
	}

	cpuAvg, memUsed := s.systemStats()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":    true,
		"cache": cache,
		"databases": map[string]string{
			"reference": status(s.container.ReferenceDB),
			"cache":     status(s.container.CacheDB),
		},
		"cpu_percent": cpuAvg,
		"mem_percent": memUsed,
		"reference":   s.container.ReferenceStore.Status(),
	}); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode health response")
	}
}

// systemStats samples CPU and RAM usage. The 100ms CPU window keeps
// the probe fast enough for tight poll intervals.
func (s *Server) systemStats() (float64, float64) {
	cpuAvg := 0.0
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuAvg, 0
	}
	return cpuAvg, memStat.UsedPercent
}
