package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyoptions/internal/allocator"
	"github.com/alanyoungcy/polyoptions/internal/amm"
	"github.com/alanyoungcy/polyoptions/internal/domain"
	"github.com/alanyoungcy/polyoptions/internal/orderbook"
	"github.com/alanyoungcy/polyoptions/internal/pricing"
	"github.com/alanyoungcy/polyoptions/internal/router"
)

// VolatilitySource returns the annualised volatility for a market at a
// given horizon.
type VolatilitySource interface {
	Estimate(ctx context.Context, marketID string, horizonYears float64) float64
}

// TradingDeps groups the collaborators of a TradingService. Stores, caches
// and the bus are optional; a nil value disables that side effect.
type TradingDeps struct {
	Markets    *MarketService
	Volatility VolatilitySource
	Pools      *amm.Service
	Book       *orderbook.Service
	Router     *router.Router
	Allocator  *allocator.Allocator
	RiskFree   float64

	Trades    domain.TradeStore
	Orders    domain.OrderStore
	Liquidity domain.LiquidityEventStore
	Audit     domain.AuditStore
	Quotes    domain.QuoteCache
	Books     domain.BookCache
	Bus       domain.SignalBus
}

// QuoteView combines the theoretical model price with the live pool quote.
type QuoteView struct {
	Contract    domain.ContractID     `json:"contract"`
	Snapshot    domain.MarketSnapshot `json:"snapshot"`
	Volatility  float64               `json:"volatility"`
	Theoretical domain.PriceQuote     `json:"theoretical"`
	Pool        domain.PoolQuote      `json:"pool"`
}

// TradingService runs engine operations and fans their results out to
// persistence, caches and the signal bus. Side-effect failures are logged
// and never undo the in-memory engine state.
type TradingService struct {
	deps   TradingDeps
	now    func() time.Time
	logger *slog.Logger
}

// NewTradingService creates a TradingService.
func NewTradingService(deps TradingDeps, logger *slog.Logger) *TradingService {
	return &TradingService{
		deps:   deps,
		now:    time.Now,
		logger: logger.With(slog.String("component", "trading_service")),
	}
}

// Quote prices a contract with the model and the pool.
func (s *TradingService) Quote(ctx context.Context, contract domain.ContractID) (QuoteView, error) {
	if err := contract.Validate(); err != nil {
		return QuoteView{}, err
	}
	snap, err := s.deps.Markets.Snapshot(ctx, contract.MarketID)
	if err != nil {
		return QuoteView{}, err
	}

	t := contract.TimeToExpiry(s.now())
	vol := s.deps.Volatility.Estimate(ctx, contract.MarketID, t)
	theo := pricing.Price(pricing.Inputs{
		Spot:            snap.Probability,
		Strike:          contract.StrikeProb(),
		T:               t,
		Vol:             vol,
		Rate:            s.deps.RiskFree,
		Type:            contract.Type,
		LiquidityFactor: snap.LiquidityFactor(),
	})

	pq, err := s.deps.Pools.Quote(ctx, contract, snap)
	if err != nil {
		return QuoteView{}, fmt.Errorf("trading_service: pool quote: %w", err)
	}

	if s.deps.Quotes != nil {
		if err := s.deps.Quotes.SetQuote(ctx, pq); err != nil {
			s.warn(ctx, "cache quote failed", err, slog.String("contract", contract.Key()))
		}
	}
	s.publish(ctx, domain.ChannelQuotes, map[string]any{
		"event":    "quote",
		"contract": contract.Key(),
		"bid":      pq.Bid,
		"ask":      pq.Ask,
		"model":    theo.Model,
		"mid":      theo.Mid,
	})

	return QuoteView{
		Contract:    contract,
		Snapshot:    snap,
		Volatility:  vol,
		Theoretical: theo,
		Pool:        pq,
	}, nil
}

// PlaceOrder submits a limit order and persists everything it touched.
func (s *TradingService) PlaceOrder(ctx context.Context, contract domain.ContractID, ownerID string, side domain.OrderSide, price float64, quantity int64) (orderbook.Outcome, error) {
	out, err := s.deps.Book.PlaceOrder(ctx, contract, ownerID, side, price, quantity)
	if err != nil {
		return orderbook.Outcome{}, err
	}
	s.recordOrders(ctx, "order_placed", out.Updated)
	s.recordTrades(ctx, out.Trades)
	s.refreshBook(ctx, contract)
	return out, nil
}

// CancelOrder cancels a resting order owned by ownerID.
func (s *TradingService) CancelOrder(ctx context.Context, orderID, ownerID string) (domain.Order, error) {
	o, err := s.deps.Book.CancelOrder(ctx, orderID, ownerID)
	if err != nil {
		return domain.Order{}, err
	}
	s.recordOrders(ctx, "order_cancelled", []domain.Order{o})
	s.refreshBook(ctx, o.Contract)
	return o, nil
}

// UpdateOrder amends a resting order.
func (s *TradingService) UpdateOrder(ctx context.Context, orderID, ownerID string, a orderbook.Amendment) (orderbook.Outcome, error) {
	out, err := s.deps.Book.UpdateOrder(ctx, orderID, ownerID, a)
	if err != nil {
		return orderbook.Outcome{}, err
	}
	s.recordOrders(ctx, "order_updated", out.Updated)
	s.recordTrades(ctx, out.Trades)
	s.refreshBook(ctx, out.Order.Contract)
	return out, nil
}

// ExecuteMarketOrder sweeps the book for quantity.
func (s *TradingService) ExecuteMarketOrder(ctx context.Context, contract domain.ContractID, ownerID string, isBuy bool, quantity int64) (domain.ExecutionResult, error) {
	res, updated, err := s.deps.Book.ExecuteMarketOrder(ctx, contract, ownerID, isBuy, quantity)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	s.recordOrders(ctx, "market_order_filled", updated)
	s.recordTrades(ctx, res.Trades)
	s.refreshBook(ctx, contract)
	return res, nil
}

// ExecuteAMMTrade fills quantity directly against the contract's pool.
func (s *TradingService) ExecuteAMMTrade(ctx context.Context, contract domain.ContractID, isBuy bool, quantity int64) (domain.ExecutionResult, error) {
	snap, err := s.deps.Markets.Snapshot(ctx, contract.MarketID)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	res, err := s.deps.Router.ExecuteAMM(ctx, contract, isBuy, quantity, snap)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	s.recordTrades(ctx, res.Trades)
	s.publishPool(ctx, contract)
	return res, nil
}

// Route reports which venue would fill quantity best without trading.
func (s *TradingService) Route(ctx context.Context, contract domain.ContractID, isBuy bool, quantity int64) (domain.VenueDecision, error) {
	snap, err := s.deps.Markets.Snapshot(ctx, contract.MarketID)
	if err != nil {
		return domain.VenueDecision{}, err
	}
	return s.deps.Router.Route(ctx, contract, isBuy, quantity, snap)
}

// ExecuteBest routes and fills quantity on the better venue.
func (s *TradingService) ExecuteBest(ctx context.Context, contract domain.ContractID, ownerID string, isBuy bool, quantity int64) (router.Execution, error) {
	snap, err := s.deps.Markets.Snapshot(ctx, contract.MarketID)
	if err != nil {
		return router.Execution{}, err
	}
	exec, err := s.deps.Router.Execute(ctx, contract, ownerID, isBuy, quantity, snap)
	if err != nil {
		return router.Execution{}, err
	}
	s.recordOrders(ctx, "routed_order_filled", exec.Updated)
	s.recordTrades(ctx, exec.Result.Trades)
	if exec.Result.Venue == domain.VenueOrderBook {
		s.refreshBook(ctx, contract)
	} else {
		s.publishPool(ctx, contract)
	}
	return exec, nil
}

// BookState returns the aggregated book for contract.
func (s *TradingService) BookState(ctx context.Context, contract domain.ContractID) (domain.BookState, error) {
	return s.deps.Book.BookState(contract)
}

// GetOrder returns an order by id.
func (s *TradingService) GetOrder(orderID string) (domain.Order, error) {
	return s.deps.Book.GetOrder(orderID)
}

// OrdersByOwner lists every order placed by ownerID.
func (s *TradingService) OrdersByOwner(ownerID string) []domain.Order {
	return s.deps.Book.OrdersByOwner(ownerID)
}

// AddLiquidity deposits amount into the contract's pool for providerID.
func (s *TradingService) AddLiquidity(ctx context.Context, contract domain.ContractID, providerID string, amount decimal.Decimal) (domain.PoolStats, error) {
	stats, err := s.deps.Pools.AddLiquidity(ctx, contract, providerID, amount)
	if err != nil {
		return domain.PoolStats{}, err
	}
	s.recordLiquidity(ctx, domain.LiquidityEvent{
		Contract:       contract,
		ProviderID:     providerID,
		Type:           domain.LiquidityEventAdd,
		Amount:         amount,
		LiquidityAfter: stats.TotalLiquidity,
		PoolPrice:      stats.Price,
		Timestamp:      s.now().UTC(),
	})
	return stats, nil
}

// RemoveLiquidity withdraws amount from the contract's pool for providerID.
func (s *TradingService) RemoveLiquidity(ctx context.Context, contract domain.ContractID, providerID string, amount decimal.Decimal) (amm.Withdrawal, error) {
	w, err := s.deps.Pools.RemoveLiquidity(ctx, contract, providerID, amount)
	if err != nil {
		return amm.Withdrawal{}, err
	}
	s.recordWithdrawal(ctx, w)
	return w, nil
}

// PoolStats returns a copy of one pool's state.
func (s *TradingService) PoolStats(contract domain.ContractID) (domain.PoolStats, error) {
	return s.deps.Pools.PoolStats(contract)
}

// ListPools returns every pool's state.
func (s *TradingService) ListPools() []domain.PoolStats {
	return s.deps.Pools.ListPools()
}

// Allocate spreads amount across contracts' pools using strategy. Spot
// probabilities for the atm strategy come from the market service.
func (s *TradingService) Allocate(ctx context.Context, contributorID string, amount decimal.Decimal, contracts []domain.ContractID, strategy allocator.Strategy) (allocator.Allocation, error) {
	targets := make([]allocator.Target, len(contracts))
	for i, c := range contracts {
		targets[i] = allocator.Target{Contract: c, Spot: c.StrikeProb()}
	}
	if strategy == allocator.StrategyATM {
		ids := make([]string, 0, len(contracts))
		seen := make(map[string]bool)
		for _, c := range contracts {
			if !seen[c.MarketID] {
				seen[c.MarketID] = true
				ids = append(ids, c.MarketID)
			}
		}
		snaps, err := s.deps.Markets.Snapshots(ctx, ids)
		if err != nil {
			return allocator.Allocation{}, fmt.Errorf("trading_service: allocate: %w", err)
		}
		for i := range targets {
			targets[i].Spot = snaps[targets[i].Contract.MarketID].Probability
		}
	}

	alloc, err := s.deps.Allocator.Allocate(ctx, contributorID, amount, targets, strategy)
	if err != nil {
		return allocator.Allocation{}, err
	}
	now := s.now().UTC()
	funded := 0
	for _, leg := range alloc.Legs {
		if leg.Amount.Sign() == 0 {
			continue
		}
		funded++
		stats, err := s.deps.Pools.PoolStats(leg.Contract)
		if err != nil {
			continue
		}
		s.recordLiquidity(ctx, domain.LiquidityEvent{
			Contract:       leg.Contract,
			ProviderID:     contributorID,
			Type:           domain.LiquidityEventAdd,
			Amount:         leg.Amount,
			LiquidityAfter: stats.TotalLiquidity,
			PoolPrice:      stats.Price,
			Timestamp:      now,
		})
	}
	s.auditLog(ctx, "allocation_created", map[string]any{
		"contributor": contributorID,
		"strategy":    string(alloc.Strategy),
		"total":       alloc.Total.String(),
		"legs":        funded,
	})
	return alloc, nil
}

// Withdraw removes every allocation held by contributorID.
func (s *TradingService) Withdraw(ctx context.Context, contributorID string) (allocator.Withdrawal, error) {
	w, err := s.deps.Allocator.Withdraw(ctx, contributorID)
	for _, leg := range w.Legs {
		s.recordWithdrawal(ctx, leg)
	}
	if err != nil {
		return w, err
	}
	s.auditLog(ctx, "allocation_withdrawn", map[string]any{
		"contributor": contributorID,
		"total":       w.Total.String(),
	})
	return w, nil
}

// Allocations lists the legs currently held by contributorID.
func (s *TradingService) Allocations(contributorID string) []allocator.Leg {
	return s.deps.Allocator.Allocations(contributorID)
}

func (s *TradingService) recordTrades(ctx context.Context, trades []domain.Trade) {
	if len(trades) == 0 {
		return
	}
	if s.deps.Trades != nil {
		if err := s.deps.Trades.InsertBatch(ctx, trades); err != nil {
			s.warn(ctx, "insert trades failed", err, slog.Int("count", len(trades)))
		}
	}
	for _, t := range trades {
		evt := map[string]any{
			"event":     "trade_executed",
			"trade_id":  t.ID,
			"contract":  t.Contract.Key(),
			"venue":     string(t.Venue),
			"price":     t.Price,
			"quantity":  t.Quantity,
			"buy":       t.BuyOrderID,
			"sell":      t.SellOrderID,
			"timestamp": t.Timestamp.Format(time.RFC3339),
		}
		s.publish(ctx, domain.ChannelTrades, evt)
		if s.deps.Bus != nil {
			payload, _ := json.Marshal(evt)
			if err := s.deps.Bus.StreamAppend(ctx, domain.StreamTradeAudit, payload); err != nil {
				s.warn(ctx, "stream append failed", err, slog.String("trade_id", t.ID))
			}
		}
	}
	s.auditLog(ctx, "trades_executed", map[string]any{
		"count":    len(trades),
		"contract": trades[0].Contract.Key(),
		"venue":    string(trades[0].Venue),
	})
	s.logger.InfoContext(ctx, "trading_service: trades executed",
		slog.Int("count", len(trades)),
		slog.String("contract", trades[0].Contract.Key()),
	)
}

func (s *TradingService) recordOrders(ctx context.Context, event string, orders []domain.Order) {
	for _, o := range orders {
		if s.deps.Orders != nil {
			if err := s.deps.Orders.Upsert(ctx, o); err != nil {
				s.warn(ctx, "upsert order failed", err, slog.String("order_id", o.ID))
			}
		}
		s.publish(ctx, domain.ChannelOrders, map[string]any{
			"event":    event,
			"order_id": o.ID,
			"contract": o.Contract.Key(),
			"side":     string(o.Side),
			"price":    o.LimitPrice,
			"quantity": o.Quantity,
			"filled":   o.Filled,
			"status":   string(o.Status),
		})
	}
}

func (s *TradingService) refreshBook(ctx context.Context, contract domain.ContractID) {
	state, err := s.deps.Book.BookState(contract)
	if err != nil {
		return
	}
	if s.deps.Books != nil {
		if err := s.deps.Books.SetBook(ctx, state); err != nil {
			s.warn(ctx, "cache book failed", err, slog.String("contract", contract.Key()))
		}
	}
	evt := map[string]any{
		"event":    "book_updated",
		"contract": contract.Key(),
	}
	if state.HasBid {
		evt["best_bid"] = state.BestBid
	}
	if state.HasAsk {
		evt["best_ask"] = state.BestAsk
	}
	s.publish(ctx, domain.ChannelBook, evt)
}

func (s *TradingService) publishPool(ctx context.Context, contract domain.ContractID) {
	stats, err := s.deps.Pools.PoolStats(contract)
	if err != nil {
		return
	}
	s.publish(ctx, domain.ChannelPools, map[string]any{
		"event":     "pool_updated",
		"contract":  contract.Key(),
		"price":     stats.Price,
		"liquidity": stats.TotalLiquidity.String(),
	})
}

func (s *TradingService) recordWithdrawal(ctx context.Context, w amm.Withdrawal) {
	s.recordLiquidity(ctx, domain.LiquidityEvent{
		Contract:        w.Contract,
		ProviderID:      w.ProviderID,
		Type:            domain.LiquidityEventRemove,
		Amount:          w.Amount,
		LiquidityAfter:  w.Stats.TotalLiquidity,
		PoolPrice:       w.Stats.Price,
		ImpermanentLoss: w.ImpermanentLoss,
		Timestamp:       s.now().UTC(),
	})
}

func (s *TradingService) recordLiquidity(ctx context.Context, evt domain.LiquidityEvent) {
	if s.deps.Liquidity != nil {
		if err := s.deps.Liquidity.Insert(ctx, evt); err != nil {
			s.warn(ctx, "insert liquidity event failed", err, slog.String("provider", evt.ProviderID))
		}
	}
	s.publish(ctx, domain.ChannelPools, map[string]any{
		"event":           "liquidity_" + string(evt.Type),
		"contract":        evt.Contract.Key(),
		"provider":        evt.ProviderID,
		"amount":          evt.Amount.String(),
		"liquidity_after": evt.LiquidityAfter.String(),
	})
	s.auditLog(ctx, "liquidity_"+string(evt.Type), map[string]any{
		"contract": evt.Contract.Key(),
		"provider": evt.ProviderID,
		"amount":   evt.Amount.String(),
	})
}

func (s *TradingService) publish(ctx context.Context, channel string, evt map[string]any) {
	if s.deps.Bus == nil {
		return
	}
	payload, _ := json.Marshal(evt)
	if err := s.deps.Bus.Publish(ctx, channel, payload); err != nil {
		s.warn(ctx, "publish event failed", err, slog.String("channel", channel))
	}
}

func (s *TradingService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.warn(ctx, "audit log failed", err, slog.String("event", event))
	}
}

func (s *TradingService) warn(ctx context.Context, msg string, err error, attrs ...any) {
	args := append([]any{slog.String("error", err.Error())}, attrs...)
	s.logger.WarnContext(ctx, "trading_service: "+msg, args...)
}
