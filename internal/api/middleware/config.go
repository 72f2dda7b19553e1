// Package middleware provides HTTP middleware components for the run control plane API.
package middleware

import (
	"time"

	"github.com/nextlayerdevops/runctl/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: applied to all requests
//   - Per-worker: applied to requests carrying an X-Worker-ID header
//   - Unidentified: applied to requests without one
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 x rate.
type Config struct {
	GlobalRPS       int // Default: 100
	WorkerRPS       int // Default: 50
	UnidentifiedRPS int // Default: 10

	GlobalBurst       int // Default: 0 (computed as 2 x GlobalRPS)
	WorkerBurst       int // Default: 0 (computed as 2 x WorkerRPS)
	UnidentifiedBurst int // Default: 0 (computed as 2 x UnidentifiedRPS)

	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxWorkers      int           // Default: 100
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:       config.GetEnvInt("RUNCTL_GLOBAL_RPS", defaultGlobalRPS),
		WorkerRPS:       config.GetEnvInt("RUNCTL_WORKER_RPS", defaultWorkerRPS),
		UnidentifiedRPS: config.GetEnvInt("RUNCTL_UNIDENTIFIED_RPS", defaultUnidentifiedRPS),

		GlobalBurst:       config.GetEnvInt("RUNCTL_GLOBAL_BURST", 0),
		WorkerBurst:       config.GetEnvInt("RUNCTL_WORKER_BURST", 0),
		UnidentifiedBurst: config.GetEnvInt("RUNCTL_UNIDENTIFIED_BURST", 0),

		CleanupInterval: config.GetEnvDuration("RUNCTL_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("RUNCTL_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxWorkers:      config.GetEnvInt("RUNCTL_RATE_LIMIT_MAX_WORKERS", maxWorkers),
	}
}
