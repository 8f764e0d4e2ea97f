// Package amm implements per-contract automated market-maker pools that
// quote and fill binary options against pooled liquidity.
package amm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyoptions/internal/domain"
	"github.com/alanyoungcy/polyoptions/internal/pricing"
)

// Price bounds for AMM quotes and fills.
const (
	minPrice = 0.001
	maxPrice = 0.999
)

// Config holds pool parameters.
type Config struct {
	MinLiquidity     decimal.Decimal
	LPFee            decimal.Decimal
	ProtocolFee      decimal.Decimal
	BaseVolatility   float64
	RiskFreeRate     float64
	MaxImpact        float64
	ImpactMultiplier float64
	FallbackBand     float64
}

// DefaultConfig returns the standard pool parameters.
func DefaultConfig() Config {
	return Config{
		MinLiquidity:     decimal.NewFromInt(1000),
		LPFee:            decimal.RequireFromString("0.003"),
		ProtocolFee:      decimal.RequireFromString("0.001"),
		BaseVolatility:   0.5,
		RiskFreeRate:     0.05,
		MaxImpact:        0.15,
		ImpactMultiplier: 2,
		FallbackBand:     0.05,
	}
}

// Withdrawal is the result of removing liquidity.
type Withdrawal struct {
	Contract        domain.ContractID `json:"contract"`
	ProviderID      string            `json:"provider_id"`
	Amount          decimal.Decimal   `json:"amount"`
	Remaining       decimal.Decimal   `json:"remaining"`
	ImpermanentLoss float64           `json:"impermanent_loss"`
	Stats           domain.PoolStats  `json:"stats"`
}

// Service owns every contract's pool. Pools are created lazily on first
// reference and never removed.
type Service struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	pools map[string]*pool
}

// NewService creates an AMM Service.
func NewService(cfg Config, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "amm")),
		now:    time.Now,
		pools:  make(map[string]*pool),
	}
}

func (s *Service) pool(contract domain.ContractID) (*pool, error) {
	if err := contract.Validate(); err != nil {
		return nil, fmt.Errorf("amm: %w", err)
	}
	key := contract.Key()

	s.mu.RLock()
	p, ok := s.pools[key]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.pools[key]; ok {
		return p, nil
	}
	p = newPool(contract, s.cfg.MinLiquidity, s.now().UTC())
	s.pools[key] = p
	return p, nil
}

// Quote returns the pool's two-sided price for contract given the current
// market snapshot.
func (s *Service) Quote(ctx context.Context, contract domain.ContractID, snap domain.MarketSnapshot) (domain.PoolQuote, error) {
	if !snap.Valid() {
		return domain.PoolQuote{}, fmt.Errorf("amm: quote %s: %w", contract.Key(), domain.ErrStaleOrMissingMarketData)
	}
	p, err := s.pool(contract)
	if err != nil {
		return domain.PoolQuote{}, err
	}

	p.mu.Lock()
	q := s.quoteLocked(p, snap)
	if !p.priced && !q.Fallback {
		p.price = q.Mid
		p.priced = true
	}
	p.lastIV = q.ImpliedVol
	p.mu.Unlock()

	if q.Fallback {
		s.logger.WarnContext(ctx, "amm: quote fell back to last price",
			slog.String("contract", contract.Key()),
			slog.Float64("price", q.Mid),
		)
	}
	return q, nil
}

// quoteLocked computes the quote from the pool's current state. Caller
// holds p.mu.
func (s *Service) quoteLocked(p *pool, snap domain.MarketSnapshot) domain.PoolQuote {
	now := s.now().UTC()
	t := p.contract.TimeToExpiry(now)
	days := t * domain.DaysPerYear
	strike := p.contract.StrikeProb()
	lf := snap.LiquidityFactor()

	iv := ImpliedVolatility(s.cfg.BaseVolatility, snap.Probability, strike, days)
	theo := pricing.Price(pricing.Inputs{
		Spot:            snap.Probability,
		Strike:          strike,
		T:               t,
		Vol:             iv,
		Rate:            s.cfg.RiskFreeRate,
		Type:            p.contract.Type,
		LiquidityFactor: lf,
	})

	depth := DepthScore(p.total, p.buyVolume.Add(p.sellVolume), s.cfg.MinLiquidity, lf)
	spread := QuoteSpread(depth, days, theo.Mid)
	bid := clampPrice(theo.Mid - spread/2)
	ask := clampPrice(theo.Mid + spread/2)

	q := domain.PoolQuote{
		Contract:   p.contract,
		Bid:        bid,
		Ask:        ask,
		Mid:        theo.Mid,
		ImpliedVol: iv,
		Depth:      depth,
		Timestamp:  now,
	}
	if !finite(bid, ask, theo.Mid) || bid >= ask {
		return s.fallbackLocked(p, now)
	}
	return q
}

func (s *Service) fallbackLocked(p *pool, now time.Time) domain.PoolQuote {
	last := p.price
	if !finite(last) || last <= 0 || last >= 1 {
		last = initialPrice(p.contract)
	}
	return domain.PoolQuote{
		Contract:  p.contract,
		Bid:       clampPrice(last * (1 - s.cfg.FallbackBand)),
		Ask:       clampPrice(last * (1 + s.cfg.FallbackBand)),
		Mid:       last,
		Fallback:  true,
		Timestamp: now,
	}
}

// ExecuteTrade fills quantity against the pool. The quote, price impact,
// fee accrual, and price update happen under the pool lock.
func (s *Service) ExecuteTrade(ctx context.Context, contract domain.ContractID, isBuy bool, quantity int64, snap domain.MarketSnapshot) (domain.Trade, error) {
	if quantity <= 0 {
		return domain.Trade{}, fmt.Errorf("amm: execute trade: quantity %d: %w", quantity, domain.ErrInvalidAmount)
	}
	if !snap.Valid() {
		return domain.Trade{}, fmt.Errorf("amm: execute trade %s: %w", contract.Key(), domain.ErrStaleOrMissingMarketData)
	}
	p, err := s.pool(contract)
	if err != nil {
		return domain.Trade{}, err
	}

	p.mu.Lock()
	q := s.quoteLocked(p, snap)

	effective := decimal.Max(p.total, s.cfg.MinLiquidity)
	ratio, _ := decimal.NewFromInt(quantity).Div(effective).Float64()
	impact := math.Min(s.cfg.MaxImpact, ratio*s.cfg.ImpactMultiplier)

	var price float64
	if isBuy {
		price = clampPrice(q.Ask * (1 + impact))
	} else {
		price = clampPrice(q.Bid * (1 - impact))
	}

	qty := decimal.NewFromInt(quantity)
	notional := decimal.NewFromFloat(price).Mul(qty)
	lpFee := notional.Mul(s.cfg.LPFee)
	protocolFee := notional.Mul(s.cfg.ProtocolFee)

	// Move the pool price toward the post-trade mid, nudged in the trade's
	// direction and kept inside the quoted band.
	target := q.Mid
	if isBuy {
		target *= 1 + impact/2
		p.buyVolume = p.buyVolume.Add(qty)
	} else {
		target *= 1 - impact/2
		p.sellVolume = p.sellVolume.Add(qty)
	}
	p.price = math.Max(q.Bid, math.Min(q.Ask, target))
	p.priced = true
	p.lastIV = q.ImpliedVol
	p.feesLP = p.feesLP.Add(lpFee)
	p.feesProtocol = p.feesProtocol.Add(protocolFee)
	now := s.now().UTC()
	p.lastUpdate = now
	poolPrice := p.price
	p.mu.Unlock()

	taker := uuid.NewString()
	trade := domain.Trade{
		ID:        uuid.NewString(),
		Contract:  contract,
		Price:     price,
		Quantity:  quantity,
		Fee:       lpFee.Add(protocolFee),
		Venue:     domain.VenueAMM,
		Timestamp: now,
	}
	if isBuy {
		trade.BuyOrderID, trade.SellOrderID = taker, domain.AMMCounterparty
	} else {
		trade.BuyOrderID, trade.SellOrderID = domain.AMMCounterparty, taker
	}

	s.logger.InfoContext(ctx, "amm: trade executed",
		slog.String("contract", contract.Key()),
		slog.Bool("is_buy", isBuy),
		slog.Int64("quantity", quantity),
		slog.Float64("price", price),
		slog.Float64("impact", impact),
		slog.Float64("pool_price", poolPrice),
	)
	return trade, nil
}

// AddLiquidity credits amount to provider in contract's pool.
func (s *Service) AddLiquidity(ctx context.Context, contract domain.ContractID, providerID string, amount decimal.Decimal) (domain.PoolStats, error) {
	if amount.Sign() <= 0 {
		return domain.PoolStats{}, fmt.Errorf("amm: add liquidity: amount %s: %w", amount, domain.ErrInvalidAmount)
	}
	if providerID == "" {
		return domain.PoolStats{}, fmt.Errorf("amm: add liquidity: provider id required: %w", domain.ErrInvalidAmount)
	}
	p, err := s.pool(contract)
	if err != nil {
		return domain.PoolStats{}, err
	}

	p.mu.Lock()
	prev := p.providers[providerID]
	next := prev.Add(amount)
	prevW, _ := prev.Float64()
	addW, _ := amount.Float64()
	nextW, _ := next.Float64()
	p.entry[providerID] = (p.entry[providerID]*prevW + p.price*addW) / nextW
	p.providers[providerID] = next
	p.total = p.total.Add(amount)
	p.lastUpdate = s.now().UTC()
	stats := p.statsLocked()
	p.mu.Unlock()

	s.logger.InfoContext(ctx, "amm: liquidity added",
		slog.String("contract", contract.Key()),
		slog.String("provider_id", providerID),
		slog.String("amount", amount.String()),
		slog.String("total", stats.TotalLiquidity.String()),
	)
	return stats, nil
}

// RemoveLiquidity debits amount from provider. The request is rejected
// without changing the pool if it exceeds the provider's contribution.
func (s *Service) RemoveLiquidity(ctx context.Context, contract domain.ContractID, providerID string, amount decimal.Decimal) (Withdrawal, error) {
	if amount.Sign() <= 0 {
		return Withdrawal{}, fmt.Errorf("amm: remove liquidity: amount %s: %w", amount, domain.ErrInvalidAmount)
	}
	p, err := s.pool(contract)
	if err != nil {
		return Withdrawal{}, err
	}

	p.mu.Lock()
	balance, ok := p.providers[providerID]
	if !ok || balance.LessThan(amount) {
		p.mu.Unlock()
		return Withdrawal{}, fmt.Errorf("amm: remove liquidity: provider %q has %s, requested %s: %w",
			providerID, balance, amount, domain.ErrInsufficientLiquidity)
	}
	now := s.now().UTC()
	il := ImpermanentLoss(p.entry[providerID], p.price, p.contract.DaysToExpiry(now), p.lastIV, s.cfg.BaseVolatility)

	remaining := balance.Sub(amount)
	if remaining.IsZero() {
		delete(p.providers, providerID)
		delete(p.entry, providerID)
	} else {
		p.providers[providerID] = remaining
	}
	p.total = p.total.Sub(amount)
	p.lastUpdate = now
	stats := p.statsLocked()
	p.mu.Unlock()

	s.logger.InfoContext(ctx, "amm: liquidity removed",
		slog.String("contract", contract.Key()),
		slog.String("provider_id", providerID),
		slog.String("amount", amount.String()),
		slog.Float64("impermanent_loss", il),
	)
	return Withdrawal{
		Contract:        contract,
		ProviderID:      providerID,
		Amount:          amount,
		Remaining:       remaining,
		ImpermanentLoss: il,
		Stats:           stats,
	}, nil
}

// ImpermanentLoss returns the loss a provider who entered at entryPrice
// would realise at the pool's current price.
func (s *Service) ImpermanentLoss(contract domain.ContractID, entryPrice float64) (float64, error) {
	p, err := s.pool(contract)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	price, iv := p.price, p.lastIV
	p.mu.Unlock()
	return ImpermanentLoss(entryPrice, price, contract.DaysToExpiry(s.now()), iv, s.cfg.BaseVolatility), nil
}

// PoolStats returns a consistent copy of contract's pool.
func (s *Service) PoolStats(contract domain.ContractID) (domain.PoolStats, error) {
	p, err := s.pool(contract)
	if err != nil {
		return domain.PoolStats{}, err
	}
	return p.stats(), nil
}

// ProviderBalance returns provider's contribution to contract's pool.
func (s *Service) ProviderBalance(contract domain.ContractID, providerID string) (decimal.Decimal, error) {
	p, err := s.pool(contract)
	if err != nil {
		return decimal.Zero, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.providers[providerID], nil
}

// ListPools returns stats for every pool, ordered by contract key.
func (s *Service) ListPools() []domain.PoolStats {
	s.mu.RLock()
	pools := make([]*pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.mu.RUnlock()

	out := make([]domain.PoolStats, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Contract.Key() < out[j].Contract.Key() })
	return out
}

func clampPrice(v float64) float64 {
	return math.Max(minPrice, math.Min(maxPrice, v))
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
