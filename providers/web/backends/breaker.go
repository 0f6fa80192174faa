package backends

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	oasis "github.com/nevindra/runcore"
)

// newUpstreamBreaker builds the circuit breaker the httpx/searxng/bocha
// backends put in front of their upstream. It trips after 5 consecutive
// transport-level failures and half-opens after 30s, so a dead upstream
// degrades to an immediate BadGateway instead of being hammered at the
// request timeout.
func newUpstreamBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
}

// breakerCountable reports whether err should count against the breaker.
// Only transport-level failures do; auth errors, blocks, and parse errors
// are upstream answering, not upstream down.
func breakerCountable(err error) bool {
	var (
		bg *oasis.BadGatewayError
		to *oasis.TimeoutError
		ne *oasis.NetworkError
	)
	return errors.As(err, &bg) || errors.As(err, &to) || errors.As(err, &ne)
}

// underBreaker runs fn under cb. Non-countable errors pass through without
// affecting breaker state; an open breaker returns BadGateway immediately.
func underBreaker(cb *gobreaker.CircuitBreaker, fn func() (any, error)) (any, error) {
	type passthrough struct {
		value any
		err   error
	}
	out, err := cb.Execute(func() (any, error) {
		v, err := fn()
		if err != nil && !breakerCountable(err) {
			return passthrough{v, err}, nil
		}
		return v, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &oasis.BadGatewayError{Status: 503}
		}
		return nil, err
	}
	if p, ok := out.(passthrough); ok {
		return p.value, p.err
	}
	return out, nil
}
