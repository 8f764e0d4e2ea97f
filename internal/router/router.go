// Package router sends taker orders to whichever venue, AMM pool or order
// book, offers the better execution.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyoptions/internal/amm"
	"github.com/alanyoungcy/polyoptions/internal/domain"
	"github.com/alanyoungcy/polyoptions/internal/orderbook"
)

// Execution is a routed fill together with the routing decision and the
// book orders it changed.
type Execution struct {
	Decision domain.VenueDecision   `json:"decision"`
	Result   domain.ExecutionResult `json:"result"`
	Updated  []domain.Order         `json:"-"`
}

// Router composes the AMM and the order book.
type Router struct {
	pools  *amm.Service
	book   *orderbook.Service
	logger *slog.Logger
}

// New creates a Router.
func New(pools *amm.Service, book *orderbook.Service, logger *slog.Logger) *Router {
	return &Router{
		pools:  pools,
		book:   book,
		logger: logger.With(slog.String("component", "router")),
	}
}

// Route returns the venue decision without executing.
func (r *Router) Route(ctx context.Context, contract domain.ContractID, isBuy bool, quantity int64, snap domain.MarketSnapshot) (domain.VenueDecision, error) {
	if quantity <= 0 {
		return domain.VenueDecision{}, fmt.Errorf("router: quantity %d: %w", quantity, domain.ErrInvalidAmount)
	}
	q, err := r.pools.Quote(ctx, contract, snap)
	if err != nil {
		return domain.VenueDecision{}, fmt.Errorf("router: quote: %w", err)
	}
	d, err := r.book.BestExecutionVenue(contract, isBuy, quantity, q)
	if err != nil {
		return domain.VenueDecision{}, fmt.Errorf("router: best venue: %w", err)
	}
	return d, nil
}

// Execute routes and fills a taker order for ownerID. If the book was
// chosen but its depth vanished before the fill, the order goes to the AMM.
func (r *Router) Execute(ctx context.Context, contract domain.ContractID, ownerID string, isBuy bool, quantity int64, snap domain.MarketSnapshot) (Execution, error) {
	d, err := r.Route(ctx, contract, isBuy, quantity, snap)
	if err != nil {
		return Execution{}, err
	}

	if d.Venue == domain.VenueOrderBook {
		res, updated, err := r.book.ExecuteMarketOrder(ctx, contract, ownerID, isBuy, quantity)
		switch {
		case err == nil:
			return Execution{Decision: d, Result: res, Updated: updated}, nil
		case errors.Is(err, domain.ErrInsufficientLiquidity):
			r.logger.WarnContext(ctx, "router: book depth gone, falling back to amm",
				slog.String("contract", contract.Key()),
				slog.Int64("quantity", quantity),
			)
			d.Venue = domain.VenueAMM
			d.Reason = "book depth consumed before fill"
		default:
			return Execution{}, fmt.Errorf("router: book execute: %w", err)
		}
	}

	res, err := r.ExecuteAMM(ctx, contract, isBuy, quantity, snap)
	if err != nil {
		return Execution{}, err
	}
	return Execution{Decision: d, Result: res}, nil
}

// ExecuteAMM fills directly against the pool.
func (r *Router) ExecuteAMM(ctx context.Context, contract domain.ContractID, isBuy bool, quantity int64, snap domain.MarketSnapshot) (domain.ExecutionResult, error) {
	trade, err := r.pools.ExecuteTrade(ctx, contract, isBuy, quantity, snap)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("router: amm execute: %w", err)
	}
	return domain.ExecutionResult{
		Venue:    domain.VenueAMM,
		Contract: contract,
		IsBuy:    isBuy,
		Quantity: quantity,
		AvgPrice: trade.Price,
		Fee:      trade.Fee,
		Trades:   []domain.Trade{trade},
	}, nil
}
