package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker around a ChatModel.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts reset. Zero never resets.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns the breaker settings used by the API server.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Guarded stops calling a failing ChatModel for a while instead of making
// every request wait for the upstream timeout.
type Guarded struct {
	next ChatModel
	cb   *gobreaker.CircuitBreaker
}

// NewGuarded wraps next in a circuit breaker.
func NewGuarded(name string, next ChatModel, cfg BreakerConfig, log zerolog.Logger) *Guarded {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Chat breaker state changed")
		},
		// Caller cancellation does not count as a failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &Guarded{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Reply implements ChatModel.
func (g *Guarded) Reply(ctx context.Context, history []Turn, message string) (string, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Reply(ctx, history, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State reports the breaker state: closed, half-open or open.
func (g *Guarded) State() string {
	return g.cb.State().String()
}
