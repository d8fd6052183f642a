// Package execution defines the venue contract and the paper venue used in
// simulated mode. Any order failure means no position change; the caller
// retries on a later cycle rather than assuming partial state.
package execution

import (
	"context"
	"time"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// OrderRequest is a market or limit order. MarkPrice is the caller's current
// reference price; the paper venue fills against it.
type OrderRequest struct {
	Symbol     string
	Side       string
	Quantity   float64
	LimitPrice float64
	MarkPrice  float64
}

// Fill is a confirmed execution.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     string
	Price    float64
	Quantity float64
	Fee      float64
	Time     time.Time
}

// Venue accepts orders and returns confirmed fills or failures.
type Venue interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error)
}
