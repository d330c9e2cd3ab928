package aifallback

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/maauso/mediaqueue/internal/observability"
)

// BreakerResolver wraps an AdapterResolver, giving each resolved provider
// its own circuit breaker so a chain link with a dead provider stops being
// retried on every job once it has failed repeatedly.
type BreakerResolver struct {
	inner    AdapterResolver
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerResolver builds one breaker per provider name in providers,
// using settings as the template (Name is overridden per provider).
func NewBreakerResolver(inner AdapterResolver, providers []string, settings gobreaker.Settings) *BreakerResolver {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		s := settings
		s.Name = p
		breakers[p] = gobreaker.NewCircuitBreaker(s)
	}
	return &BreakerResolver{inner: inner, breakers: breakers}
}

// DefaultBreakerSettings mirrors the corpus's circuit-breaker configuration:
// trip after 3 consecutive failures, half-open after 30s.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// Resolve returns an adapter whose calls are routed through that
// provider's breaker. If no breaker was configured for the provider, the
// resolver falls through to the inner adapter unwrapped.
func (r *BreakerResolver) Resolve(provider string) (Adapter, error) {
	adapter, err := r.inner.Resolve(provider)
	if err != nil {
		return nil, err
	}
	breaker, ok := r.breakers[provider]
	if !ok {
		return adapter, nil
	}
	return &breakerAdapter{breaker: breaker, inner: adapter}, nil
}

type breakerAdapter struct {
	breaker *gobreaker.CircuitBreaker
	inner   Adapter
}

func (a *breakerAdapter) Generate(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
	out, err := a.breaker.Execute(func() (any, error) {
		return a.inner.Generate(ctx, cfg, params)
	})
	a.reportState()
	return unwrapResult(out, err)
}

func (a *breakerAdapter) Translate(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
	out, err := a.breaker.Execute(func() (any, error) {
		return a.inner.Translate(ctx, cfg, params)
	})
	a.reportState()
	return unwrapResult(out, err)
}

func (a *breakerAdapter) reportState() {
	var value float64
	switch a.breaker.State() {
	case gobreaker.StateHalfOpen:
		value = 1
	case gobreaker.StateOpen:
		value = 2
	}
	observability.CircuitBreakerState.WithLabelValues(a.breaker.Name()).Set(value)
}

func unwrapResult(out any, err error) (Result, error) {
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{}, &openCircuitError{err: err}
		}
		return Result{}, err
	}
	res, _ := out.(Result)
	return res, nil
}

// openCircuitError marks a tripped breaker as retryable so the engine
// re-routes to the next chain link instead of treating it as fatal.
type openCircuitError struct {
	err error
}

func (e *openCircuitError) Error() string   { return e.err.Error() }
func (e *openCircuitError) Unwrap() error   { return e.err }
func (e *openCircuitError) StatusCode() int { return 503 }
