package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit breakers handed out by a BreakerRegistry.
type BreakerSettings struct {
	MaxRequests         uint32        // test requests allowed while half-open
	OpenTimeout         time.Duration // how long a tripped breaker stays open
	ConsecutiveFailures uint32        // failures that trip the breaker
}

// DefaultBreakerSettings returns the settings used by NewBreakerRegistry.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         3,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerRegistry manages one circuit breaker per remote host.
type BreakerRegistry struct {
	mu       sync.Mutex
	settings BreakerSettings
	logger   zerolog.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a registry with default settings.
func NewBreakerRegistry(logger zerolog.Logger) *BreakerRegistry {
	return NewBreakerRegistryWithSettings(logger, DefaultBreakerSettings())
}

func NewBreakerRegistryWithSettings(logger zerolog.Logger, settings BreakerSettings) *BreakerRegistry {
	return &BreakerRegistry{
		settings: settings,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for host, creating it on first use.
func (r *BreakerRegistry) Get(host string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[host]; ok {
		return cb
	}

	threshold := r.settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: r.settings.MaxRequests,
		Interval:    0, // never clear counts while closed
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn().
				Str("host", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the host.
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[host] = cb
	return cb
}

// State reports the state of the breaker for host. Hosts never contacted are closed.
func (r *BreakerRegistry) State(host string) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[host]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}
