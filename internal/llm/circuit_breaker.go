package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejects
// requests to prevent hammering a failing provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that trips the circuit (default: 3).
	MaxFailures uint32
	// Timeout is how long the circuit stays open before probing again (default: 30s).
	Timeout time.Duration
	// HalfOpenMaxSuccesses is how many probe successes close the circuit (default: 2).
	HalfOpenMaxSuccesses uint32
}

// Breaker wraps gobreaker around delegated-capability calls. When the
// provider fails repeatedly the circuit opens and callers get ErrCircuitOpen
// immediately, which each pipeline stage handles as its conservative default.
type Breaker struct {
	breaker *gobreaker.CircuitBreaker
}

// NewBreaker creates a circuit breaker with default configuration.
func NewBreaker() *Breaker {
	return NewBreakerWithConfig(BreakerConfig{})
}

// NewBreakerWithConfig creates a circuit breaker with custom configuration.
// Zero fields take their defaults.
func NewBreakerWithConfig(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxSuccesses == 0 {
		cfg.HalfOpenMaxSuccesses = 2
	}

	settings := gobreaker.Settings{
		Name:        "llm",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}

	return &Breaker{breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the circuit breaker, translating gobreaker's
// rejection errors into ErrCircuitOpen.
func (b *Breaker) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := b.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result, nil
}
