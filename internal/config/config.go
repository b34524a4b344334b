// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Solver selection modes.
const (
	SolverLPFirst    = "LP_FIRST"    // Try the LP, fall back to greedy on infeasibility
	SolverGreedyOnly = "GREEDY_ONLY" // Skip the LP entirely
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the sqlite databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Worker pool and job lifecycle
	WorkerCount int
	JobTimeout  time.Duration

	// Cache TTLs
	ReferenceTTL time.Duration // Reference snapshot freshness
	NeighbourTTL time.Duration // LPA/NCA neighbour-set cache
	GeocodeTTL   time.Duration // Postcode/address geocoding cache
	ResultTTL    time.Duration // Job result cache under fingerprint

	// Solver
	Solver string // SolverLPFirst or SolverGreedyOnly

	// Contract-size thresholds on aggregate area-ledger demand (units).
	// fractional < T1, small < T2, medium < T3, else large.
	ContractT1 float64
	ContractT2 float64
	ContractT3 float64

	// Geocoding service base URL (postcodes.io compatible)
	GeocoderBaseURL string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("BNG_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		WorkerCount: getEnvAsInt("WORKER_COUNT", 4),
		JobTimeout:  getEnvAsDuration("JOB_TIMEOUT", 120*time.Second),

		ReferenceTTL: getEnvAsDuration("REFERENCE_TTL", 10*time.Minute),
		NeighbourTTL: getEnvAsDuration("NEIGHBOUR_TTL", time.Hour),
		GeocodeTTL:   getEnvAsDuration("GEOCODE_TTL", 24*time.Hour),
		ResultTTL:    getEnvAsDuration("RESULT_TTL", 12*time.Hour),

		Solver: getEnv("SOLVER", SolverLPFirst),

		ContractT1: getEnvAsFloat("CONTRACT_T1", 0.5),
		ContractT2: getEnvAsFloat("CONTRACT_T2", 2.5),
		ContractT3: getEnvAsFloat("CONTRACT_T3", 10.0),

		GeocoderBaseURL: getEnv("GEOCODER_BASE_URL", "https://api.postcodes.io"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and coherent
func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if c.Solver != SolverLPFirst && c.Solver != SolverGreedyOnly {
		return fmt.Errorf("SOLVER must be %s or %s, got %q", SolverLPFirst, SolverGreedyOnly, c.Solver)
	}
	if !(c.ContractT1 < c.ContractT2 && c.ContractT2 < c.ContractT3) {
		return fmt.Errorf("contract-size thresholds must be strictly increasing: %v, %v, %v",
			c.ContractT1, c.ContractT2, c.ContractT3)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
