package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PaperVenue simulates fills against the caller's mark price. Buys fill
// slightly above the mark and sells slightly below to model slippage, and
// every fill is charged the taker fee.
type PaperVenue struct {
	slippagePct float64
	takerFeePct float64
	logger      zerolog.Logger
}

// NewPaperVenue builds a simulated venue. Percentages are fractions,
// e.g. 0.001 for 0.1%.
func NewPaperVenue(slippagePct, takerFeePct float64, logger zerolog.Logger) *PaperVenue {
	return &PaperVenue{
		slippagePct: slippagePct,
		takerFeePct: takerFeePct,
		logger:      logger.With().Str("component", "paper_venue").Logger(),
	}
}

// PlaceOrder fills immediately at the slippage-adjusted mark price.
func (v *PaperVenue) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %f for %s", req.Quantity, req.Symbol)
	}
	if req.MarkPrice <= 0 {
		return nil, fmt.Errorf("invalid mark price %f for %s", req.MarkPrice, req.Symbol)
	}

	price := req.MarkPrice
	switch req.Side {
	case SideBuy:
		price *= 1 + v.slippagePct
	case SideSell:
		price *= 1 - v.slippagePct
	default:
		return nil, fmt.Errorf("unknown order side %q", req.Side)
	}

	fill := &Fill{
		OrderID:  uuid.New().String(),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    price,
		Quantity: req.Quantity,
		Fee:      price * req.Quantity * v.takerFeePct,
		Time:     time.Now().UTC(),
	}

	v.logger.Debug().
		Str("symbol", fill.Symbol).
		Str("side", fill.Side).
		Float64("price", fill.Price).
		Float64("quantity", fill.Quantity).
		Float64("fee", fill.Fee).
		Msg("Paper fill")

	return fill, nil
}
