// Package middleware provides HTTP middleware components for the run control plane API.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	maxWorkers                 int     = 100
	defaultGlobalRPS           int     = 100
	defaultWorkerRPS           int     = 50
	defaultUnidentifiedRPS     int     = 10
	thresholdMultiplier        float64 = 0.8
	thresholdPercentage        int     = 80
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node deployment)
	// or a distributed store (multi-node deployment). The interface enables
	// zero-downtime migration between the two.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		//
		// workerID identifies the caller claiming/operating on runs (the
		// X-Worker-ID header). It is empty for requests that don't carry one,
		// e.g. read-only list/get calls.
		Allow(workerID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides three-tier rate limiting:
	// 1. Global limit (applied to all requests)
	// 2. Per-worker limit (applied to requests carrying a worker ID)
	// 3. Unidentified limit (applied to requests without a worker ID)
	//
	// Uses token bucket algorithm with configurable burst capacity. Memory
	// cleanup runs periodically to prevent unbounded growth; workers idle
	// longer than IdleTimeout are removed.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		perWorker     map[string]*workerLimiter
		unidentified  *rate.Limiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}

		workerRPS       int
		workerBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxWorkers      int
	}

	// workerLimiter tracks rate limit state for a single worker.
	workerLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a new in-memory rate limiter with three-tier limits.
//
// Burst capacity is computed automatically as 2 x rate unless overridden in config.
// Cleanup runs periodically to prevent unbounded memory growth.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	workerBurst := computeBurstCapacity(config.WorkerRPS, config.WorkerBurst)
	unidentifiedBurst := computeBurstCapacity(config.UnidentifiedRPS, config.UnidentifiedBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perWorker:       make(map[string]*workerLimiter),
		unidentified:    rate.NewLimiter(rate.Limit(config.UnidentifiedRPS), unidentifiedBurst),
		done:            make(chan struct{}),
		workerRPS:       config.WorkerRPS,
		workerBurst:     workerBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxWorkers:      config.MaxWorkers,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity computes the burst capacity based on the rate and optional override.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks if a request should be allowed based on rate limits.
func (rl *InMemoryRateLimiter) Allow(workerID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if workerID == "" {
		return rl.unidentified.Allow()
	}

	rl.mu.RLock()
	wl, ok := rl.perWorker[workerID]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if wl, ok = rl.perWorker[workerID]; !ok {
			wl = &workerLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.workerRPS), rl.workerBurst),
				lastAccess: time.Now(),
			}

			rl.perWorker[workerID] = wl

			currentCount := len(rl.perWorker)
			threshold := int(float64(rl.maxWorkers) * thresholdMultiplier)

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max workers limit",
					"current_workers", currentCount,
					"max_workers", rl.maxWorkers,
					"threshold_percent", thresholdPercentage,
					"recommendation", "investigate worker id proliferation or increase max_workers limit")
			}
		}

		rl.mu.Unlock()
	}

	wl.mu.Lock()
	wl.lastAccess = time.Now()
	wl.mu.Unlock()

	return wl.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
func (rl *InMemoryRateLimiter) Close() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)
}

// startCleanup starts a background goroutine that periodically removes
// stale worker limiters to prevent memory leaks.
func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes worker limiters that haven't been accessed recently.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for workerID, wl := range rl.perWorker {
		wl.mu.Lock()
		lastAccess := wl.lastAccess
		wl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perWorker, workerID)
		}
	}
}

// rateLimitedBody is the wire envelope written when a request is rejected,
// matching the {"ok": false, ...} shape state-changing endpoints use.
type rateLimitedBody struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
	Status int    `json:"status"`
}

// RateLimit returns a middleware that enforces rate limits on incoming requests.
//
// Rate limiting is applied in three tiers:
//  1. Global limit (all requests)
//  2. Per-worker limit (requests carrying an X-Worker-ID header)
//  3. Unidentified limit (requests without one)
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			workerID := r.Header.Get("X-Worker-ID")

			if !limiter.Allow(workerID) {
				correlationID := GetCorrelationID(r.Context())

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				body := rateLimitedBody{OK: false, Reason: "transient", Status: http.StatusTooManyRequests}
				if err := json.NewEncoder(w).Encode(body); err != nil {
					logger.Error("failed to write rate limit response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
