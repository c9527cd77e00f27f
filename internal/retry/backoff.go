// Package retry implements exponential backoff for the outbound API calls
// (Help Scout, Anthropic, Slack) that fail transiently under load.
package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config controls the backoff schedule.
type Config struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	Multiplier float64       `json:"multiplier"`
	Jitter     bool          `json:"jitter"`
}

// Result summarizes what happened across all attempts.
type Result struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
}

// DefaultConfig suits HTTP APIs with normal latency.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// LLMConfig allows longer waits since model completions are slow and the
// provider rate-limits in bursts.
func LLMConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
	}
}

// Do runs op until it succeeds, retries are exhausted, or ctx is cancelled.
// Non-retryable errors stop immediately. name is only used for logging.
func Do(ctx context.Context, cfg Config, name string, op func() error) Result {
	start := time.Now()
	var res Result

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		res.Attempts = attempt + 1

		err := op()
		if err == nil {
			res.Success = true
			res.TotalDuration = time.Since(start)
			if attempt > 0 {
				log.Info().Str("op", name).Int("attempts", res.Attempts).
					Dur("total", res.TotalDuration).Msg("operation succeeded after retry")
			}
			return res
		}
		res.LastError = err

		if attempt >= cfg.MaxRetries || !IsRetryable(err) {
			res.TotalDuration = time.Since(start)
			log.Warn().Str("op", name).Int("attempts", res.Attempts).
				Err(err).Msg("operation failed, giving up")
			return res
		}

		delay := backoffDelay(cfg, attempt)
		log.Debug().Str("op", name).Int("attempt", attempt+1).
			Dur("delay", delay).Err(err).Msg("operation failed, retrying")

		select {
		case <-ctx.Done():
			res.LastError = ctx.Err()
			res.TotalDuration = time.Since(start)
			return res
		case <-time.After(delay):
		}
	}

	res.TotalDuration = time.Since(start)
	return res
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		// Up to ±10% to avoid synchronized retries across workers.
		d += (rand.Float64() - 0.5) * 0.2 * d
		if d < 0 {
			d = float64(cfg.BaseDelay)
		}
	}
	return time.Duration(d)
}

var retryableFragments = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"overloaded",
	"429",
	"502",
	"503",
	"504",
	"529",
	"no such host",
	"network unreachable",
	"broken pipe",
	"context deadline exceeded",
}

// IsRetryable reports whether err looks like a transient network or
// rate-limit failure rather than a permanent one (bad request, auth).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range retryableFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
