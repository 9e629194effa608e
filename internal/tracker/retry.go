package tracker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for tracker API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts. Default: 3.
	MaxRetries int

	// InitialBackoff is the initial backoff duration. Default: 1s.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration. Default: 30s.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential backoff factor. Default: 2.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// withRetry retries a tracker API operation with exponential backoff.
// Rate limits and server errors are retried; client errors are not.
func withRetry(ctx context.Context, cfg *RetryConfig, logger *zap.Logger, operation func() (*github.Response, error)) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("tracker operation recovered after retries",
					zap.Int("attempts", attempt+1))
			}
			return nil
		}
		lastErr = err

		if !isRetryable(err, resp) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		if isRateLimited(resp) {
			backoff = rateLimitBackoff(resp, cfg.MaxBackoff)
			logger.Info("tracker rate limit hit, adjusting backoff",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
		} else {
			logger.Info("retrying tracker operation after transient error",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
				zap.Duration("backoff", backoff))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("tracker operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if next > cfg.MaxBackoff {
				next = cfg.MaxBackoff
			}
			backoff = next
		}
	}

	logger.Warn("tracker operation failed after all retries",
		zap.Int("total_attempts", cfg.MaxRetries+1),
		zap.Error(lastErr))
	return fmt.Errorf("tracker operation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

func isRetryable(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}
	if resp == nil || resp.Response == nil {
		// Network-level failure without a response; assume transient.
		return true
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		// Forbidden can be a secondary rate limit; rate headers present
		// means we got rate info back.
		return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusNotFound,
		http.StatusUnprocessableEntity:
		return false
	default:
		return resp.StatusCode >= 500 && resp.StatusCode < 600
	}
}

func isRateLimited(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Rate.Remaining == 0 && resp.Rate.Limit > 0
}

// rateLimitBackoff waits until the reported reset time, capped at max.
func rateLimitBackoff(resp *github.Response, max time.Duration) time.Duration {
	if resp == nil || resp.Rate.Reset.IsZero() {
		return max
	}
	wait := time.Until(resp.Rate.Reset.Time)
	if wait <= 0 {
		return time.Second
	}
	if wait > max {
		return max
	}
	return wait
}
