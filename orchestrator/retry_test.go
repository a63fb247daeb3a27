package orchestrator

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/promptdrive/promptdrive-go/promptdrive"
)

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain message", errors.New("Rate limit reached for gpt-4o"), true},
		{"mixed case", errors.New("Token RATE LIMIT exceeded"), true},
		{"unrelated", errors.New("connection reset"), false},
		{"api error 429", &promptdrive.APIError{StatusCode: http.StatusTooManyRequests, Message: "resource exhausted"}, true},
		{"api error 500", &promptdrive.APIError{StatusCode: http.StatusInternalServerError, Message: "oops"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRateLimitError(tt.err); got != tt.want {
				t.Errorf("isRateLimitError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRateLimitWait(t *testing.T) {
	def := 60 * time.Second

	t.Run("retry-after header wins", func(t *testing.T) {
		err := &promptdrive.APIError{
			StatusCode: http.StatusTooManyRequests,
			Message:    "rate limit, try again in 99s",
			Headers:    http.Header{"Retry-After": []string{"12"}},
		}
		if got := rateLimitWait(err, def); got != 12*time.Second {
			t.Errorf("wait = %v, want 12s", got)
		}
	})

	t.Run("message hint", func(t *testing.T) {
		err := errors.New("Rate limit reached, please try again in 6.5s")
		if got := rateLimitWait(err, def); got != 6500*time.Millisecond {
			t.Errorf("wait = %v, want 6.5s", got)
		}
	})

	t.Run("hint is case-insensitive", func(t *testing.T) {
		err := errors.New("TRY AGAIN IN 3 s")
		if got := rateLimitWait(err, def); got != 3*time.Second {
			t.Errorf("wait = %v, want 3s", got)
		}
	})

	t.Run("default fallback", func(t *testing.T) {
		err := errors.New("rate limit exceeded")
		if got := rateLimitWait(err, def); got != def {
			t.Errorf("wait = %v, want default %v", got, def)
		}
	})

	t.Run("garbage header falls through to hint", func(t *testing.T) {
		err := &promptdrive.APIError{
			StatusCode: http.StatusTooManyRequests,
			Message:    "rate limit, try again in 2s",
			Headers:    http.Header{"Retry-After": []string{"soon"}},
		}
		if got := rateLimitWait(err, def); got != 2*time.Second {
			t.Errorf("wait = %v, want 2s", got)
		}
	})
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.Wait != time.Second {
		t.Errorf("Wait = %v, want 1s", cfg.Wait)
	}
	if cfg.DefaultRateLimitWait != 60*time.Second {
		t.Errorf("DefaultRateLimitWait = %v, want 60s", cfg.DefaultRateLimitWait)
	}
}
