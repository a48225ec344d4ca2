// Package upstream bounds calls to the embedding provider and the vector index
// with per-attempt timeouts, bounded retries, exponential backoff and an optional rate limit.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"grantwatch/internal/domain"
)

// Policy governs how one upstream operation is attempted.
type Policy struct {
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithTimeout sets the timeout for each attempt.
func WithTimeout(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a failed attempt is repeated.
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithBackoff sets the base delay; attempt n waits base * 2^n.
func WithBackoff(d time.Duration) Option {
	return func(p *Policy) {
		if d >= 0 {
			p.backoff = d
		}
	}
}

// WithRateLimit caps attempts per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Policy) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPolicy creates a policy with 20s timeout, 2 retries and 200ms base backoff.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		timeout:    20 * time.Second,
		maxRetries: 2,
		backoff:    200 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do runs fn until it succeeds, fails permanently or runs out of attempts.
// The returned error wraps domain.ErrUpstreamUnavailable, except for
// rejected input which is returned after one attempt as is.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := 0

attemptsLoop:
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break attemptsLoop
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				lastErr = err
				break attemptsLoop
			}
		}

		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, domain.ErrInvalidInput) {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !isRetryable(ctx, err) {
			break attemptsLoop
		}
		if attempt < p.maxRetries {
			delay := p.backoff * time.Duration(1<<attempt)
			p.logger.Warn("upstream call failed, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attemptsLoop
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%w: %s failed after %d attempt(s): %v", domain.ErrUpstreamUnavailable, op, attempts, lastErr)
}

// isRetryable treats caller cancellation, rejected input and client-side
// API errors as final.
func isRetryable(parent context.Context, err error) bool {
	if parent.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrInvalidInput) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 400 && code < 500:
		return false
	default:
		return true
	}
}
