package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"tracklink/internal/metrics"
)

// BreakerSettings controls when the upstream is considered down.
type BreakerSettings struct {
	// ConsecutiveFailures opens the circuit. Zero means 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before probing. Zero means 30s.
	OpenTimeout time.Duration
}

// BreakerProvider short-circuits lookups while the wrapped provider keeps
// failing at the transport level. Provider refusals (LookupError) count as
// healthy answers.
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[*Location]
}

func NewBreakerProvider(next Provider, s BreakerSettings, log *zerolog.Logger) *BreakerProvider {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}

	metrics.GeoBreakerState.Set(stateToFloat(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[*Location](gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			var lookupErr *LookupError
			return err == nil || errors.As(err, &lookupErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("geolocation breaker state changed")
			metrics.GeoBreakerState.Set(stateToFloat(to))
		},
	})

	return &BreakerProvider{next: next, cb: cb}
}

func (p *BreakerProvider) Name() string {
	return p.next.Name()
}

func (p *BreakerProvider) Lookup(ctx context.Context, ip string) (*Location, error) {
	loc, err := p.cb.Execute(func() (*Location, error) {
		return p.next.Lookup(ctx, ip)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s unavailable: %w", p.Name(), err)
	}
	return loc, err
}

// State exposes the breaker state, mostly for tests.
func (p *BreakerProvider) State() gobreaker.State {
	return p.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
