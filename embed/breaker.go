package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tesumi/memolette/fact"
)

// BreakerConfig tunes the circuit breaker around an embedding backend.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns settings suited to a remote embedding
// API: trip after a sustained failure rate, probe again after a
// minute.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// Breaker wraps an Embedder with a circuit breaker. While the circuit
// is open every call fails fast with fact.ErrEmbeddingUnavailable, so
// callers see the same retryable error whether the backend is down or
// merely being spared.
type Breaker struct {
	inner Embedder
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker builds the breaker decorator.
func WithBreaker(inner Embedder, cfg BreakerConfig) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
	})
	return &Breaker{inner: inner, cb: cb}
}

// Embed calls the backend through the breaker.
func (b *Breaker) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		switch err {
		case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
			return nil, fmt.Errorf("%w: circuit open", fact.ErrEmbeddingUnavailable)
		}
		return nil, err
	}
	return out.([]float32), nil
}

// Dimensions reports the inner embedder's vector size.
func (b *Breaker) Dimensions() int {
	return b.inner.Dimensions()
}
