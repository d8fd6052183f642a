package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Breaker states.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// ErrBreakerOpen is returned while the breaker is rejecting orders.
var ErrBreakerOpen = errors.New("execution: circuit breaker open")

// CircuitVenue wraps a venue and stops sending orders after consecutive
// failures. After the cooldown one probe order is allowed through; success
// closes the breaker, failure reopens it.
type CircuitVenue struct {
	inner       Venue
	maxFailures int
	cooldown    time.Duration
	logger      zerolog.Logger

	mu           sync.Mutex
	state        BreakerState
	failures     int
	lastTripTime time.Time
}

// NewCircuitVenue wraps inner with failure protection.
func NewCircuitVenue(inner Venue, maxFailures int, cooldown time.Duration, logger zerolog.Logger) *CircuitVenue {
	return &CircuitVenue{
		inner:       inner,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		state:       StateClosed,
		logger:      logger.With().Str("component", "circuit_venue").Logger(),
	}
}

// State returns the current breaker state, advancing open to half-open when
// the cooldown has elapsed.
func (c *CircuitVenue) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()
	return c.state
}

func (c *CircuitVenue) advanceLocked() {
	if c.state == StateOpen && time.Since(c.lastTripTime) >= c.cooldown {
		c.state = StateHalfOpen
		c.logger.Info().Msg("Breaker half-open, next order is a probe")
	}
}

// PlaceOrder forwards to the wrapped venue unless the breaker is open.
func (c *CircuitVenue) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	c.mu.Lock()
	c.advanceLocked()
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil, ErrBreakerOpen
	}
	c.mu.Unlock()

	fill, err := c.inner.PlaceOrder(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failures++
		if c.state == StateHalfOpen || c.failures >= c.maxFailures {
			c.trip()
		}
		return nil, err
	}

	if c.state == StateHalfOpen {
		c.logger.Info().Msg("Probe order succeeded, breaker closed")
	}
	c.state = StateClosed
	c.failures = 0
	return fill, nil
}

func (c *CircuitVenue) trip() {
	c.state = StateOpen
	c.lastTripTime = time.Now()
	c.logger.Warn().
		Int("failures", c.failures).
		Dur("cooldown", c.cooldown).
		Msg("Breaker tripped, orders halted")
}
