package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// RetryConfig holds retry configuration for model calls.
//
// The resolution engine already bounds every resolver call with its own
// timeout and fails safe to NEW, so retries default to zero: a retry loop
// longer than the engine's timeout only delays the fail-safe.
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retries (default: 0)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 10s)
	BackoffMultiplier float64       // Backoff multiplier (default: 2.0)
	Timeout           time.Duration // Per-attempt timeout (default: 60s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          // Enable circuit breaker (default: true)
	FailureThreshold      int           // Failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 30s)

	// Concurrency and rate limits
	MaxConcurrentCalls int     // Maximum concurrent model calls (default: 3, 0 = unlimited)
	RequestsPerSecond  float64 // Sustained call rate (default: 2, 0 = unlimited)
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            0,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            10 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               60 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    3,
		RequestsPerSecond:     2,
	}
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, fail fast
	CircuitHalfOpen                     // Probing for recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a failing model endpoint for a while.
// While open, every resolver call fails immediately and the engine
// resolves ambiguous items NEW instead of waiting on timeouts.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	logger           *slog.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		logger:           logger,
	}
}

// Allow returns ErrCircuitOpen while the circuit is open and the open timeout has not passed
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure while probing reopens
		cb.transition(CircuitOpen)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetMetrics returns current metrics (for monitoring/logging)
func (cb *CircuitBreaker) GetMetrics() (state CircuitState, failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failureCount, cb.successCount
}

// transition must be called with the lock held
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successCount = 0
	if to == CircuitClosed {
		cb.failureCount = 0
	}
	cb.logger.Info("circuit breaker state transition",
		"from", from.String(), "to", to.String(),
		"failures", cb.failureCount, "open_timeout", cb.openTimeout)
}

// withRetry runs fn under the concurrency limit, rate limit and circuit
// breaker, retrying transient failures with exponential backoff.
func (r *Resolver) withRetry(ctx context.Context, operation string, fn func(context.Context) error) error {
	if r.concurrencySem != nil {
		if err := r.concurrencySem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer r.concurrencySem.Release(1)
	}

	var lastErr error
	backoff := r.retry.InitialBackoff

	for attempt := 0; attempt <= r.retry.MaxRetries; attempt++ {
		if r.circuitBreaker != nil {
			if err := r.circuitBreaker.Allow(); err != nil {
				state, failures, _ := r.circuitBreaker.GetMetrics()
				r.logger.Warn("model call blocked by circuit breaker",
					"operation", operation, "state", state.String(), "failures", failures)
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s rate limiter: %w", operation, err)
			}
		}

		attemptCtx := ctx
		cancel := func() {}
		if r.retry.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.retry.Timeout)
		}
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if r.circuitBreaker != nil {
				r.circuitBreaker.RecordSuccess()
			}
			if attempt > 0 {
				r.logger.Info("model call succeeded after retries", "operation", operation, "retries", attempt)
			}
			return nil
		}

		lastErr = err
		retriable := isRetriableError(err)

		// Auth and request errors say nothing about endpoint health
		if r.circuitBreaker != nil && retriable {
			r.circuitBreaker.RecordFailure()
		}
		if !retriable {
			return err
		}
		if attempt == r.retry.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: %w", operation, ctx.Err())
		}

		r.logger.Warn("model call failed, retrying",
			"operation", operation, "attempt", attempt+1, "max_attempts", r.retry.MaxRetries+1,
			"backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * r.retry.BackoffMultiplier)
			if backoff > r.retry.MaxBackoff {
				backoff = r.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s failed during backoff: %w", operation, ctx.Err())
		}
	}

	if r.retry.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, r.retry.MaxRetries+1, lastErr)
}

// isRetriableError determines if an error is transient
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		case apiErr.StatusCode == 529: // overloaded
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "overloaded",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"connection refused", "connection reset", "timeout", "temporary failure", "eof",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}
