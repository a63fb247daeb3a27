package orchestrator

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/promptdrive/promptdrive-go/promptdrive"
)

// RetryConfig controls the per-request retry policy. The fixed-wait
// schedule is a floor; the rate-limit classification must stay intact so
// the limiter sees every provider pushback signal.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, including the first.
	// Default: 3
	MaxAttempts int

	// Wait is the fixed delay between attempts. Default: 1s
	Wait time.Duration

	// DefaultRateLimitWait is assumed when a rate-limit error carries no
	// usable wait hint. Default: 60s
	DefaultRateLimitWait time.Duration
}

// DefaultRetryConfig returns the standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:          3,
		Wait:                 1 * time.Second,
		DefaultRateLimitWait: 60 * time.Second,
	}
}

// retryErrorType labels outcomes whose attempt budget was exhausted.
const retryErrorType = "RetryError"

var retryAfterHint = regexp.MustCompile(`(?i)try again in\s+([0-9]+(?:\.[0-9]+)?)\s*s`)

// isRateLimitError classifies provider pushback: HTTP 429 on a typed
// API error, or a "rate limit" message substring, case-insensitive.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *promptdrive.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// rateLimitWait extracts the provider-mandated wait from a rate-limit
// error: the Retry-After header when present, else the "try again in Ns"
// hint in the message, else the configured default.
func rateLimitWait(err error, def time.Duration) time.Duration {
	var apiErr *promptdrive.APIError
	if errors.As(err, &apiErr) && apiErr.Headers != nil {
		if retryAfter := apiErr.Headers.Get("Retry-After"); retryAfter != "" {
			if secs, parseErr := strconv.ParseFloat(retryAfter, 64); parseErr == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}

	if match := retryAfterHint.FindStringSubmatch(err.Error()); match != nil {
		if secs, parseErr := strconv.ParseFloat(match[1], 64); parseErr == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}

	return def
}
