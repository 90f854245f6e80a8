package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 500ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxRetries          uint64        // Retries after the first attempt (default 2)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxRetries:          2,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// CircuitBreakerRegistry manages one circuit breaker per service call kind.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry(logger *zap.Logger) *CircuitBreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Get returns the circuit breaker for the given call kind.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(kind string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[kind]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        kind,
		MaxRequests: 3,                // Allow 3 test requests in half-open state
		Interval:    0,                // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open for 30s before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip circuit after 5 consecutive failures
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("Circuit breaker changed state",
				zap.String("call", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Don't count caller cancellation as a service failure
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	r.breakers[kind] = cb
	return cb
}

// callWithRetry runs fn through cb with exponential backoff. Each attempt
// gets its own timeout; a timed out attempt counts as a failure and is
// retried like any other.
func callWithRetry[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, retryCfg RetryConfig, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var out T

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			attemptCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return fn(attemptCtx)
		})

		if err != nil {
			// Circuit is open - don't retry
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}

			// Context cancelled - stop retrying
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			// Other errors will be retried
			return err
		}

		out = result.(T)
		return nil
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = retryCfg.InitialInterval
	backoffPolicy.MaxInterval = retryCfg.MaxInterval
	backoffPolicy.MaxElapsedTime = 0 // Bounded by MaxRetries instead
	if retryCfg.Multiplier > 0 {
		backoffPolicy.Multiplier = retryCfg.Multiplier
	}
	backoffPolicy.RandomizationFactor = retryCfg.RandomizationFactor

	policy := backoff.WithContext(backoff.WithMaxRetries(backoffPolicy, retryCfg.MaxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
